package engine

import "sync"

// BatchState is the only state shared between the workers of a batch: the
// progress counter and the record of worker process ids. Both are guarded by
// the same mutex.
type BatchState struct {
	mu    sync.Mutex
	total int
	done  int
	pids  []int
}

// NewBatchState returns an empty batch state.
func NewBatchState() *BatchState {
	return &BatchState{}
}

// Begin resets the progress counter for a batch of total units. Registered
// process ids are kept.
func (b *BatchState) Begin(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.done = 0
}

// Complete records one more finished unit and returns the updated progress.
func (b *BatchState) Complete() (done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done++
	return b.done, b.total
}

// Progress returns the current progress.
func (b *BatchState) Progress() (done, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done, b.total
}

// RegisterPID appends pid to the process record. Entries are never removed;
// descendants of a finished process may still be running.
func (b *BatchState) RegisterPID(pid int) {
	if pid <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pids = append(b.pids, pid)
}

// PIDs returns the distinct registered process ids in registration order.
func (b *BatchState) PIDs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[int]bool, len(b.pids))
	out := make([]int, 0, len(b.pids))
	for _, pid := range b.pids {
		if !seen[pid] {
			seen[pid] = true
			out = append(out, pid)
		}
	}
	return out
}
