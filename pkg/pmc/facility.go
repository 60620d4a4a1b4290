package pmc

import "sync"

// facility holds the process-wide state of the kernel performance
// monitoring interface: the binding in use and the cached outcome of the
// one-time open call.
type facility struct {
	binding binding

	once sync.Once
	err  error
}

// ensureReady performs the facility open exactly once and caches the
// outcome. Concurrent callers block on the Once until a result is
// available; a failure is replayed to every later caller without
// re-probing the kernel.
func (f *facility) ensureReady() error {
	f.once.Do(func() {
		if errno := f.binding.Open(); errno != 0 {
			f.err = mapOpenErrno(errno)
		}
	})
	return f.err
}

// defaultFacility backs the package-level API. The kernel-side control
// channel has process lifetime, so there is no teardown.
var defaultFacility = &facility{binding: newBinding()}

// EnsureReady initializes the kernel performance monitoring facility for
// this process. It is idempotent and safe for concurrent use: the
// underlying open call runs at most once per process and every caller
// observes the same outcome.
//
// Callers do not normally need EnsureReady; NewCounter calls it
// internally. It is useful for probing availability up front, for example
// to skip measurement on platforms where it returns ErrUnavailable.
func EnsureReady() error {
	return defaultFacility.ensureReady()
}
