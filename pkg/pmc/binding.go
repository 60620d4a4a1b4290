package pmc

import "syscall"

// Handle is the opaque identifier the kernel facility returns for an
// allocated counter slot.
type Handle int32

const invalidHandle Handle = -1

// binding is the low-level surface of the kernel facility. Each call
// returns 0 on success or the raw OS error code; translation into the
// package error model happens in the callers.
//
// The production implementation is selected per platform (binding_linux.go,
// binding_stub.go); tests substitute an in-memory fake.
type binding interface {
	// Open initializes the facility for the process.
	Open() syscall.Errno
	// Allocate requests a counter slot for the named event and scope. The
	// counter starts disabled.
	Allocate(name string, scope Scope) (Handle, syscall.Errno)
	// Start arms counting on the slot. Counting resumes from the current
	// accumulated value; there is no implicit reset.
	Start(h Handle) syscall.Errno
	// Stop disarms counting on the slot, freezing the accumulated value.
	Stop(h Handle) syscall.Errno
	// Read returns the current accumulated count.
	Read(h Handle) (uint64, syscall.Errno)
	// Release frees the slot. The handle is invalid afterwards.
	Release(h Handle) syscall.Errno
}
