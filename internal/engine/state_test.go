package engine

import (
	"sync"
	"testing"
)

func TestBatchState_ConcurrentUpdates(t *testing.T) {
	b := NewBatchState()
	b.Begin(100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.RegisterPID(2000 + i%10)
			b.Complete()
		}(i)
	}
	wg.Wait()

	if done, total := b.Progress(); done != 100 || total != 100 {
		t.Errorf("Progress() = %d/%d, want 100/100", done, total)
	}
	if pids := b.PIDs(); len(pids) != 10 {
		t.Errorf("PIDs() = %v, want 10 distinct", pids)
	}
}

func TestBatchState_BeginKeepsPIDs(t *testing.T) {
	b := NewBatchState()
	b.RegisterPID(42)
	b.RegisterPID(0)
	b.Begin(3)
	b.Complete()
	b.Begin(5)
	if done, total := b.Progress(); done != 0 || total != 5 {
		t.Errorf("Progress() after Begin = %d/%d, want 0/5", done, total)
	}
	if pids := b.PIDs(); len(pids) != 1 || pids[0] != 42 {
		t.Errorf("PIDs() = %v, want [42]", pids)
	}
}
