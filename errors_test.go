package ioruntime

import (
	"errors"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Submit", ErrCodeInvalidParameters, "invalid buffer length")

	if err.Op != "Submit" {
		t.Errorf("Op = %s, want Submit", err.Op)
	}
	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeInvalidParameters)
	}

	expected := "ioruntime: invalid buffer length (op=Submit)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("Start", ErrCodePermissionDenied, syscall.EPERM)
	if err.Errno != syscall.EPERM {
		t.Errorf("Errno = %v, want EPERM", err.Errno)
	}
	if err.Code != ErrCodePermissionDenied {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodePermissionDenied)
	}
}

func TestOpError(t *testing.T) {
	err := NewOpError("Read", 42, ErrCodeTimeout, "deadline exceeded")
	if err.OpID != 42 {
		t.Errorf("OpID = %d, want 42", err.OpID)
	}
	expected := "ioruntime: deadline exceeded (op=Read)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestWrapError_Syscall(t *testing.T) {
	err := WrapError("Write", syscall.ENOSPC)
	if err.Code != ErrCodeInsufficientMem {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodeInsufficientMem)
	}
	if !errors.Is(err, err) {
		t.Errorf("errors.Is(err, err) = false, want true")
	}
}

func TestWrapError_Nil(t *testing.T) {
	if WrapError("Anything", nil) != nil {
		t.Errorf("WrapError(op, nil) should return nil")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Bind", ErrCodeInvalidParameters, "bad address")
	if !IsCode(err, ErrCodeInvalidParameters) {
		t.Errorf("IsCode should match ErrCodeInvalidParameters")
	}
	if IsCode(err, ErrCodeTimeout) {
		t.Errorf("IsCode should not match ErrCodeTimeout")
	}
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("Connect", ErrCodeTimeout, syscall.ETIMEDOUT)
	if !IsErrno(err, syscall.ETIMEDOUT) {
		t.Errorf("IsErrno should match ETIMEDOUT")
	}
}
