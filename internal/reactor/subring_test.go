package reactor

import (
	"sync"
	"testing"

	"github.com/ehrlich-b/ioruntime/internal/pending"
)

func TestSubRing_PushDrainPreservesAll(t *testing.T) {
	r := NewSubRing(8)
	for i := 0; i < 5; i++ {
		if !r.Push(Submission{ID: pending.NewOpId(uint32(i), 0)}) {
			t.Fatalf("Push(%d) failed unexpectedly", i)
		}
	}
	drained := r.DrainInto(nil)
	if len(drained) != 5 {
		t.Fatalf("DrainInto returned %d items, want 5", len(drained))
	}
	for i, s := range drained {
		if s.ID.Slot() != uint32(i) {
			t.Fatalf("drained[%d].ID.Slot() = %d, want %d", i, s.ID.Slot(), i)
		}
	}
}

func TestSubRing_FullReturnsFalse(t *testing.T) {
	r := NewSubRing(2)
	if !r.Push(Submission{}) {
		t.Fatalf("first Push failed")
	}
	if !r.Push(Submission{}) {
		t.Fatalf("second Push failed")
	}
	if r.Push(Submission{}) {
		t.Fatalf("Push on full ring should fail")
	}
}

func TestSubRing_ConcurrentProducers(t *testing.T) {
	r := NewSubRing(1024)
	const perProducer = 100
	const producers = 8

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !r.Push(Submission{ID: pending.NewOpId(uint32(p*perProducer+i), 0)}) {
				}
			}
		}(p)
	}
	wg.Wait()

	total := 0
	for {
		drained := r.DrainInto(nil)
		if len(drained) == 0 {
			break
		}
		total += len(drained)
	}
	if total != producers*perProducer {
		t.Fatalf("drained %d items, want %d", total, producers*perProducer)
	}
}
