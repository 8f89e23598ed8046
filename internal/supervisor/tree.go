package supervisor

import (
	"context"
	"errors"
	"os"
	"slices"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// ProcessTree is the process-table query the supervisor needs.
type ProcessTree interface {
	// Children returns the direct children of pid. A pid that no longer
	// exists has no children.
	Children(ctx context.Context, pid int) ([]int, error)
	// Parent returns the parent pid of pid.
	Parent(ctx context.Context, pid int) (int, error)
	// Alive reports whether pid exists and is not a zombie.
	Alive(ctx context.Context, pid int) bool
	// Kill forcibly terminates pid. A process that has already exited is
	// not an error.
	Kill(ctx context.Context, pid int) error
	// Groups maps each process group id to the pids in that group.
	Groups(ctx context.Context) (map[int][]int, error)
}

// SystemTree implements ProcessTree over the host process table.
type SystemTree struct{}

func (SystemTree) Children(ctx context.Context, pid int) ([]int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}
	kids, err := p.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) || errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]int, 0, len(kids))
	for _, k := range kids {
		out = append(out, int(k.Pid))
	}
	return out, nil
}

func (SystemTree) Parent(ctx context.Context, pid int) (int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, err
	}
	ppid, err := p.PpidWithContext(ctx)
	return int(ppid), err
}

func (SystemTree) Alive(ctx context.Context, pid int) bool {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		// Raced with exit.
		return false
	}
	return !slices.Contains(status, process.Zombie)
}

func (SystemTree) Kill(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	err = p.KillWithContext(ctx)
	if err == nil || errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (SystemTree) Groups(ctx context.Context) (map[int][]int, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, err
	}
	groups := make(map[int][]int)
	for _, pid := range pids {
		pgid, err := unix.Getpgid(int(pid))
		if err != nil {
			// Exited since the listing.
			continue
		}
		groups[pgid] = append(groups[pgid], int(pid))
	}
	return groups, nil
}
