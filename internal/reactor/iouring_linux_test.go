//go:build linux

package reactor

import (
	"os"
	"testing"
	"time"
	"unsafe"

	"github.com/ehrlich-b/ioruntime/internal/pending"
)

func newIOUringBackendOrSkip(t *testing.T) *IOUringBackend {
	t.Helper()
	b, err := NewIOUringBackend(64)
	if err != nil {
		t.Skipf("io_uring unavailable in this environment: %v", err)
	}
	return b
}

func TestIOUringBackend_WriteCompletes(t *testing.T) {
	b := newIOUringBackendOrSkip(t)
	defer b.Close()

	rd, wr, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer rd.Close()
	defer wr.Close()

	payload := []byte("hello io_uring")
	id := pending.NewOpId(1, 0)
	sub := Submission{
		ID:     id,
		Fd:     int32(wr.Fd()),
		Off:    uint64(int64(-1)),
		Addr:   uintptr(unsafe.Pointer(&payload[0])),
		Len:    uint32(len(payload)),
		Opcode: opWrite,
	}
	if err := b.Submit([]Submission{sub}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completions, err := b.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(completions) != 1 || completions[0].ID != id {
		t.Fatalf("Wait() = %v, want one completion for id %v", completions, id)
	}
	if completions[0].Errno != 0 {
		t.Fatalf("completion Errno = %d, want 0", completions[0].Errno)
	}
	if int(completions[0].Res) != len(payload) {
		t.Fatalf("completion Res = %d, want %d", completions[0].Res, len(payload))
	}

	got := make([]byte, len(payload))
	if _, err := rd.Read(got); err != nil {
		t.Fatalf("reading back pipe: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("pipe contents = %q, want %q", got, payload)
	}
}

// Regression test for the Wait timeout bug: Wait used to ignore its
// argument entirely and block until a real completion arrived (or
// forever), which meant a reactor turn with only timer-wheel work
// pending could never return to re-check its deadline.
func TestIOUringBackend_WaitRespectsTimeout(t *testing.T) {
	b := newIOUringBackendOrSkip(t)
	defer b.Close()

	start := time.Now()
	completions, err := b.Wait(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(completions) != 0 {
		t.Fatalf("completions = %v, want none", completions)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Wait blocked for %v, want bounded near 200ms", elapsed)
	}
}
