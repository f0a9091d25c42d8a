// Package pending implements the runtime's pending-operation table: a
// slot+generation indexed registry mapping an in-flight OpId to the
// callback and opcode metadata needed to resolve it when its
// completion arrives. Grounded on the teacher's
// internal/queue/runner.go, which tracks per-tag state
// (TagState/tagMutexes) keyed by a small integer tag; this
// generalizes that fixed-size tag array into a growable slot table
// with generation counters so that a stale completion referencing a
// reused slot can be detected and dropped.
package pending

import (
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/ioruntime/internal/callback"
	"github.com/ehrlich-b/ioruntime/internal/opcode"
)

// OpId is the 64-bit handle returned to callers on submission and
// echoed back as CQE/epoll user data. The low 32 bits are the slot
// index, the high 32 bits are the slot's generation at the time this
// id was issued.
type OpId uint64

// NewOpId packs a slot index and generation into an OpId.
func NewOpId(slot uint32, generation uint32) OpId {
	return OpId(uint64(generation)<<32 | uint64(slot))
}

// Slot returns the slot index encoded in the id.
func (id OpId) Slot() uint32 { return uint32(id) }

// Generation returns the generation encoded in the id.
func (id OpId) Generation() uint32 { return uint32(id >> 32) }

// Op holds everything the reactor needs to resolve a completion: the
// opcode (for callback-shape dispatch), the user callback, and the
// buffer the operation was reading into or writing from, if any.
type Op struct {
	Opcode    opcode.Op
	Callback  callback.Func
	Buffer    []byte
	cancelled atomic.Bool
}

// Cancel marks the op as cancelled. The reactor backend still observes
// whatever the kernel/epoll reports, but dispatcher.Dispatch will report
// ECANCELED to the caller instead of the raw result.
func (o *Op) Cancel() { o.cancelled.Store(true) }

// Cancelled reports whether Cancel was called before completion.
func (o *Op) Cancelled() bool { return o.cancelled.Load() }

type slot struct {
	mu         sync.Mutex
	generation uint32
	occupied   bool
	op         *Op
}

// Table is a growable, generation-checked registry of in-flight
// operations. It is safe for concurrent use by multiple worker
// goroutines inserting and a single reactor goroutine resolving.
type Table struct {
	mu       sync.Mutex
	slots    []*slot
	freeList []uint32
}

// NewTable creates a table with the given initial capacity
// pre-allocated. Capacity grows by doubling as needed.
func NewTable(initialCapacity int) *Table {
	t := &Table{
		slots:    make([]*slot, initialCapacity),
		freeList: make([]uint32, 0, initialCapacity),
	}
	for i := range t.slots {
		t.slots[i] = &slot{}
		t.freeList = append(t.freeList, uint32(i))
	}
	return t
}

// Insert reserves a slot for op and returns the OpId the caller should
// use as submission user-data.
func (t *Table) Insert(op *Op) OpId {
	t.mu.Lock()
	if len(t.freeList) == 0 {
		t.grow()
	}
	n := len(t.freeList)
	idx := t.freeList[n-1]
	t.freeList = t.freeList[:n-1]
	t.mu.Unlock()

	s := t.slots[idx]
	s.mu.Lock()
	s.occupied = true
	s.op = op
	gen := s.generation
	s.mu.Unlock()

	return NewOpId(idx, gen)
}

// grow doubles the table's capacity. Callers must hold t.mu.
func (t *Table) grow() {
	old := len(t.slots)
	newCap := old * 2
	if newCap == 0 {
		newCap = 1
	}
	grown := make([]*slot, newCap)
	copy(grown, t.slots)
	for i := old; i < newCap; i++ {
		grown[i] = &slot{}
		t.freeList = append(t.freeList, uint32(i))
	}
	t.slots = grown
}

// Lookup returns the Op registered for id, or nil if the slot is
// unoccupied or the generation no longer matches (a stale/duplicate
// completion for a slot that has since been reused).
func (t *Table) Lookup(id OpId) *Op {
	t.mu.Lock()
	if int(id.Slot()) >= len(t.slots) {
		t.mu.Unlock()
		return nil
	}
	s := t.slots[id.Slot()]
	t.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.occupied || s.generation != id.Generation() {
		return nil
	}
	return s.op
}

// Release frees the slot for id, bumping its generation so any
// further completion referencing the old id is recognized as stale.
// Returns the Op that was registered, or nil if the id was already
// stale/released.
func (t *Table) Release(id OpId) *Op {
	t.mu.Lock()
	if int(id.Slot()) >= len(t.slots) {
		t.mu.Unlock()
		return nil
	}
	s := t.slots[id.Slot()]
	t.mu.Unlock()

	s.mu.Lock()
	if !s.occupied || s.generation != id.Generation() {
		s.mu.Unlock()
		return nil
	}
	op := s.op
	s.op = nil
	s.occupied = false
	s.generation++
	s.mu.Unlock()

	t.mu.Lock()
	t.freeList = append(t.freeList, id.Slot())
	t.mu.Unlock()

	return op
}

// Len returns the number of currently occupied slots. Intended for
// metrics/testing, not hot-path use.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.slots {
		s.mu.Lock()
		if s.occupied {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
