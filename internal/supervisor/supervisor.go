// Package supervisor tears down every process spawned on behalf of a batch
// when the user interrupts the run.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultMaxPasses bounds the kill loop.
const DefaultMaxPasses = 50

// PIDSource exposes the process record of a batch.
type PIDSource interface {
	PIDs() []int
}

// Report describes one cleanup.
type Report struct {
	Passes    int
	Killed    int
	Failed    int
	Converged bool
}

// Supervisor owns interrupt handling for a run.
type Supervisor struct {
	pids      PIDSource
	tree      ProcessTree
	logger    *slog.Logger
	self      int
	group     int
	maxPasses int
	suppress  func()

	once   sync.Once
	report Report
}

// New creates a supervisor over the given process record.
func New(pids PIDSource, tree ProcessTree, logger *slog.Logger) *Supervisor {
	if tree == nil {
		tree = SystemTree{}
	}
	return &Supervisor{
		pids:      pids,
		tree:      tree,
		logger:    logger.With("component", "supervisor"),
		self:      os.Getpid(),
		group:     unix.Getpgrp(),
		maxPasses: DefaultMaxPasses,
		suppress:  func() { signal.Ignore(os.Interrupt, syscall.SIGTERM) },
	}
}

// Watch installs the interrupt handler. On SIGINT or SIGTERM it runs
// Interrupt and delivers the report on the returned channel. The stop
// function uninstalls the handler; it is safe to call after an interrupt.
func (s *Supervisor) Watch(cancel context.CancelFunc) (<-chan Report, func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	out := make(chan Report, 1)
	quit := make(chan struct{})

	go func() {
		var sig os.Signal
		select {
		case sig = <-sigCh:
		case <-quit:
			// A signal that raced with stop still counts.
			select {
			case sig = <-sigCh:
			default:
			}
		}
		if sig != nil {
			s.logger.Warn("received signal, terminating all worker processes", "signal", sig.String())
			out <- s.Interrupt(cancel)
		}
		close(out)
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			signal.Stop(sigCh)
			close(quit)
		})
	}
	return out, stop
}

// Interrupt suppresses further interrupts, cancels the run and kills every
// descendant of every registered worker process. Repeated calls return the
// first report.
func (s *Supervisor) Interrupt(cancel context.CancelFunc) Report {
	s.once.Do(func() {
		s.suppress()
		if cancel != nil {
			cancel()
		}
		s.report = s.Cleanup(context.Background())
	})
	return s.report
}

// Cleanup repeatedly walks the process trees rooted at the registered pids
// and kills what it finds, until a pass finds nothing alive. Every tool is
// started as the leader of its own process group, so members of a
// registered pid's group are reaped as well once the leader has exited and
// its background children were reparented away from us.
func (s *Supervisor) Cleanup(ctx context.Context) Report {
	var r Report
	for r.Passes < s.maxPasses {
		r.Passes++
		found := 0
		for _, root := range s.roots(ctx) {
			found += s.killTree(ctx, root, &r)
		}
		for _, pid := range s.orphans(ctx) {
			found += s.killTree(ctx, pid, &r)
		}
		if found == 0 {
			r.Converged = true
			break
		}
	}
	s.logger.Info("process cleanup finished", "passes", r.Passes, "killed", r.Killed, "converged", r.Converged)
	return r
}

// killTree kills root and everything below it, deepest first, and returns
// how many live processes it found.
func (s *Supervisor) killTree(ctx context.Context, root int, r *Report) int {
	found := 0
	targets := append([]int{root}, s.descendants(ctx, root)...)
	for i := len(targets) - 1; i >= 0; i-- {
		pid := targets[i]
		if !s.tree.Alive(ctx, pid) {
			continue
		}
		found++
		if err := s.tree.Kill(ctx, pid); err != nil {
			r.Failed++
			s.logger.Debug("kill failed", "pid", pid, "error", err)
			continue
		}
		r.Killed++
		s.logger.Debug("killed process", "pid", pid, "root", root)
	}
	return found
}

// roots returns the registered pids that are still our own children. A
// registered pid whose parent changed has exited and may have been reused.
func (s *Supervisor) roots(ctx context.Context) []int {
	var out []int
	for _, pid := range s.pids.PIDs() {
		ppid, err := s.tree.Parent(ctx, pid)
		if err != nil || ppid != s.self {
			continue
		}
		out = append(out, pid)
	}
	return out
}

// orphans returns the live members of the process groups led by registered
// pids. Our own group is never included.
func (s *Supervisor) orphans(ctx context.Context) []int {
	groups, err := s.tree.Groups(ctx)
	if err != nil {
		s.logger.Debug("list process groups failed", "error", err)
		return nil
	}
	var out []int
	seen := map[int]bool{}
	for _, pgid := range s.pids.PIDs() {
		if pgid == s.group || seen[pgid] {
			continue
		}
		seen[pgid] = true
		for _, pid := range groups[pgid] {
			if pid != s.self {
				out = append(out, pid)
			}
		}
	}
	return out
}

// descendants returns every process below root, parents before children.
func (s *Supervisor) descendants(ctx context.Context, root int) []int {
	var out []int
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		kids, err := s.tree.Children(ctx, pid)
		if err != nil {
			s.logger.Debug("list children failed", "pid", pid, "error", err)
			continue
		}
		for _, k := range kids {
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out
}
