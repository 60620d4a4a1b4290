package pmc

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrInitFailed is returned when the kernel performance monitoring
	// facility could not be initialized.
	ErrInitFailed = errors.New("facility initialization failed")
	// ErrUnknownEvent is returned when an event name is not recognised, or
	// the event is not supported by the current CPU.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrPermission is returned when the caller lacks the privilege for the
	// requested operation, typically allocating a system-scoped counter.
	ErrPermission = errors.New("permission denied")
	// ErrExhausted is returned when no hardware counter slots are free.
	ErrExhausted = errors.New("no counter slots available")
	// ErrInvalidState is returned when an operation is attempted in the
	// wrong counter lifecycle state, including any use after release.
	ErrInvalidState = errors.New("invalid counter state")
	// ErrUnavailable is returned on platforms where the kernel performance
	// monitoring facility does not exist or is not loaded.
	ErrUnavailable = errors.New("performance monitoring unavailable")
)

// KernelError carries a kernel error code that does not map to one of the
// sentinel errors above. The raw errno is preserved for diagnostics.
type KernelError struct {
	Op    string
	Errno syscall.Errno
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("pmc %s: kernel error: %v", e.Op, e.Errno)
}

func (e *KernelError) Unwrap() error { return e.Errno }

// mapOpenErrno translates failures of the facility open call.
func mapOpenErrno(errno syscall.Errno) error {
	switch errno {
	case syscall.ENOENT, syscall.ENOSYS:
		return fmt.Errorf("%w: %v", ErrUnavailable, errno)
	case syscall.EACCES, syscall.EPERM:
		return fmt.Errorf("open facility: %w", ErrPermission)
	default:
		return fmt.Errorf("%w: %v", ErrInitFailed, errno)
	}
}

// mapAllocateErrno translates failures of counter allocation.
func mapAllocateErrno(name string, errno syscall.Errno) error {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV:
		return fmt.Errorf("allocate %q: %w", name, ErrUnknownEvent)
	case syscall.EACCES, syscall.EPERM:
		return fmt.Errorf("allocate %q: %w", name, ErrPermission)
	case syscall.EMFILE, syscall.ENFILE, syscall.ENOSPC:
		return fmt.Errorf("allocate %q: %w", name, ErrExhausted)
	case syscall.ENOSYS:
		return fmt.Errorf("allocate %q: %w", name, ErrUnavailable)
	default:
		return &KernelError{Op: "allocate", Errno: errno}
	}
}

// mapCtlErrno translates failures of start/stop/read/release on an
// allocated counter.
func mapCtlErrno(op string, errno syscall.Errno) error {
	if errno == syscall.ENOSYS {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return &KernelError{Op: op, Errno: errno}
}
