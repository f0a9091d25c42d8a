package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPool_SubmitRunsTask(t *testing.T) {
	p := NewPool(DefaultConfig(2))
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	ctx := context.Background()
	err := p.Submit(ctx, func() { wg.Done() })
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task did not run within timeout")
	}
}

func TestPool_SubmitGlobalRunsTask(t *testing.T) {
	p := NewPool(DefaultConfig(3))
	defer p.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	if err := p.SubmitGlobal(context.Background(), func() { wg.Done() }); err != nil {
		t.Fatalf("SubmitGlobal returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task did not run within timeout")
	}
}

func TestPool_PanicInTaskDoesNotKillWorker(t *testing.T) {
	p := NewPool(DefaultConfig(1))
	defer p.Stop()

	if err := p.Submit(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	if err := p.Submit(context.Background(), func() { wg.Done() }); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker appears dead after panicking task")
	}
}

func TestPool_ManyTasksAllRun(t *testing.T) {
	p := NewPool(DefaultConfig(4))
	defer p.Stop()

	const n = 500
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		err := p.Submit(context.Background(), func() {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
		})
		if err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("only %d/%d tasks ran within timeout", count, n)
	}
	if count != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
}
