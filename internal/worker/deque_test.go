package worker

import (
	"sync"
	"testing"
)

func taskOf(n *int) *Task {
	t := Task(func() { *n++ })
	return &t
}

func TestDeque_PushPopLIFO(t *testing.T) {
	d := NewDeque(4)
	var a, b, c int
	d.PushBottom(taskOf(&a))
	d.PushBottom(taskOf(&b))
	d.PushBottom(taskOf(&c))

	if got := d.PopBottom(); got == nil {
		t.Fatalf("PopBottom returned nil")
	} else {
		(*got)()
	}
	if c != 1 {
		t.Fatalf("expected last-pushed task (c) to pop first")
	}
}

func TestDeque_StealTopFIFO(t *testing.T) {
	d := NewDeque(4)
	var a, b int
	d.PushBottom(taskOf(&a))
	d.PushBottom(taskOf(&b))

	stolen := d.StealTop()
	if stolen == nil {
		t.Fatalf("StealTop returned nil")
	}
	(*stolen)()
	if a != 1 {
		t.Fatalf("expected first-pushed task (a) to be stolen first")
	}
}

func TestDeque_EmptyReturnsNil(t *testing.T) {
	d := NewDeque(4)
	if d.PopBottom() != nil {
		t.Fatalf("PopBottom on empty deque should be nil")
	}
	if d.StealTop() != nil {
		t.Fatalf("StealTop on empty deque should be nil")
	}
}

func TestDeque_GrowsBeyondInitialCapacity(t *testing.T) {
	d := NewDeque(2)
	var counters [20]int
	for i := range counters {
		d.PushBottom(taskOf(&counters[i]))
	}
	if d.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", d.Len())
	}
	count := 0
	for {
		task := d.PopBottom()
		if task == nil {
			break
		}
		(*task)()
		count++
	}
	if count != 20 {
		t.Fatalf("popped %d tasks, want 20", count)
	}
}

func TestDeque_ConcurrentStealIsExclusive(t *testing.T) {
	d := NewDeque(64)
	const n = 1000
	var counters [n]int32
	for i := 0; i < n; i++ {
		idx := i
		task := Task(func() { counters[idx] = 1 })
		d.PushBottom(&task)
	}

	var wg sync.WaitGroup
	results := make(chan *Task, n)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				t := d.StealTop()
				if t == nil {
					return
				}
				results <- t
			}
		}()
	}

	var owner []*Task
	for {
		t := d.PopBottom()
		if t == nil {
			break
		}
		owner = append(owner, t)
	}
	wg.Wait()
	close(results)

	seen := make(map[*Task]bool)
	for _, tk := range owner {
		seen[tk] = true
	}
	for tk := range results {
		if seen[tk] {
			t.Fatalf("task delivered twice (owner and thief)")
		}
		seen[tk] = true
	}
	if len(seen) != n {
		t.Fatalf("total delivered tasks = %d, want %d", len(seen), n)
	}
}
