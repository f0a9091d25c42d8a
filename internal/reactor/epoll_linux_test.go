//go:build linux

package reactor

import (
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/ioruntime/internal/pending"
)

func TestEpollBackend_RecvAfterReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	b, err := NewEpollBackend()
	if err != nil {
		t.Fatalf("NewEpollBackend: %v", err)
	}
	defer b.Close()

	buf := make([]byte, 16)
	id := pending.NewOpId(1, 0)
	sub := Submission{
		ID:     id,
		Fd:     int32(fds[0]),
		Addr:   uintptr(unsafe.Pointer(&buf[0])),
		Len:    uint32(len(buf)),
		Opcode: opRecv,
	}
	if err := b.Submit([]Submission{sub}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	payload := []byte("hello")
	if _, err := unix.Write(fds[1], payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	completions, err := b.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(completions) != 1 {
		t.Fatalf("Wait returned %d completions, want 1", len(completions))
	}
	c := completions[0]
	if c.ID != id {
		t.Fatalf("completion ID = %v, want %v", c.ID, id)
	}
	if c.Errno != 0 {
		t.Fatalf("completion Errno = %d, want 0", c.Errno)
	}
	if int(c.Res) != len(payload) {
		t.Fatalf("completion Res = %d, want %d", c.Res, len(payload))
	}
	if string(buf[:c.Res]) != "hello" {
		t.Fatalf("buf = %q, want %q", buf[:c.Res], payload)
	}
}

func TestEpollBackend_SynchronousOpCompletesWithoutReadiness(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	b, err := NewEpollBackend()
	if err != nil {
		t.Fatalf("NewEpollBackend: %v", err)
	}
	defer b.Close()

	id := pending.NewOpId(2, 0)
	sub := Submission{ID: id, Fd: int32(fds[0]), Opcode: opClose}
	if err := b.Submit([]Submission{sub}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completions, err := b.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(completions) != 1 || completions[0].ID != id {
		t.Fatalf("Wait() = %v, want one completion for id %v", completions, id)
	}
	if completions[0].Errno != 0 {
		t.Fatalf("completion Errno = %d, want 0", completions[0].Errno)
	}
}
