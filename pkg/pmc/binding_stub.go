//go:build !linux

package pmc

import "syscall"

// stubBinding is used on platforms without the kernel performance
// monitoring facility. Every operation fails with ENOSYS, which the error
// model maps to ErrUnavailable, so calling code can branch on the error
// kind instead of build tags.
type stubBinding struct{}

func newBinding() binding { return stubBinding{} }

// Events returns the names of all events this platform's binding can
// resolve. There are none.
func Events() []string { return nil }

// Supported reports whether the host kernel supports performance
// monitoring.
func Supported() bool { return false }

func (stubBinding) Open() syscall.Errno { return syscall.ENOSYS }

func (stubBinding) Allocate(string, Scope) (Handle, syscall.Errno) {
	return invalidHandle, syscall.ENOSYS
}

func (stubBinding) Start(Handle) syscall.Errno          { return syscall.ENOSYS }
func (stubBinding) Stop(Handle) syscall.Errno           { return syscall.ENOSYS }
func (stubBinding) Read(Handle) (uint64, syscall.Errno) { return 0, syscall.ENOSYS }
func (stubBinding) Release(Handle) syscall.Errno        { return syscall.ENOSYS }
