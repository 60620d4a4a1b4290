// Package pmc provides a safe abstraction over hardware performance
// monitor counters (PMCs) exposed by the kernel.
//
// PMCs are CPU hardware registers that count micro-architecture events
// such as retired instructions, cache misses or branch mispredictions.
// A Counter wraps one allocated kernel counter slot: it is created for a
// named event and a measurement scope, started and stopped freely, read at
// any time before release, and released exactly once. Failing to release a
// counter can never leak the kernel slot; a finalizer performs the same
// release when the value becomes unreachable.
//
// The kernel facility is a single, process-wide resource. Its
// initialization happens lazily and at most once per process; on platforms
// without the facility every operation fails with ErrUnavailable rather
// than being compiled out.
package pmc

import (
	"fmt"
	"runtime"
)

// counterState tracks the counter lifecycle.
type counterState int

const (
	stateAllocated counterState = iota
	stateRunning
	stateStopped
	stateReleased
)

func (s counterState) String() string {
	switch s {
	case stateAllocated:
		return "allocated"
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	case stateReleased:
		return "released"
	default:
		return "invalid"
	}
}

// Counter represents one allocated hardware performance monitor counter.
//
// A Counter exclusively owns its kernel counter slot from allocation until
// Release. It is not safe for concurrent use; a caller sharing one counter
// across goroutines must provide its own synchronization.
type Counter struct {
	fac    *facility
	event  Event
	handle Handle
	state  counterState
}

// NewCounter allocates a counter for the named hardware event in the given
// scope. The facility is initialized on first use; callers never manage
// initialization themselves.
//
// The counter is created stopped with an accumulated value of zero. On
// failure no kernel resource is held.
func NewCounter(name string, scope Scope) (*Counter, error) {
	return newCounter(defaultFacility, Event{Name: name, Scope: scope})
}

func newCounter(f *facility, ev Event) (*Counter, error) {
	if !ev.valid() {
		return nil, fmt.Errorf("allocate %q: %w", ev.Name, ErrUnknownEvent)
	}

	if err := f.ensureReady(); err != nil {
		return nil, err
	}

	handle, errno := f.binding.Allocate(ev.Name, ev.Scope)
	if errno != 0 {
		return nil, mapAllocateErrno(ev.Name, errno)
	}

	c := &Counter{
		fac:    f,
		event:  ev,
		handle: handle,
		state:  stateAllocated,
	}

	// Backstop so an abandoned counter cannot leak its kernel slot.
	runtime.SetFinalizer(c, (*Counter).Release)
	return c, nil
}

// Event returns the descriptor this counter was allocated for.
func (c *Counter) Event() Event { return c.event }

// Running reports whether the counter is currently counting.
func (c *Counter) Running() bool { return c.state == stateRunning }

// Start arms the counter. Counting resumes from the current accumulated
// value: stopping and restarting does not reset the count.
//
// Starting a counter that is already running, or one that has been
// released, fails with ErrInvalidState.
func (c *Counter) Start() error {
	switch c.state {
	case stateAllocated, stateStopped:
	default:
		return fmt.Errorf("start %s counter: %w", c.state, ErrInvalidState)
	}

	if errno := c.fac.binding.Start(c.handle); errno != 0 {
		return mapCtlErrno("start", errno)
	}

	c.state = stateRunning
	return nil
}

// Stop disarms the counter, freezing the accumulated value. It can be
// restarted at any time. Stopping a counter that is not running fails with
// ErrInvalidState.
func (c *Counter) Stop() error {
	if c.state != stateRunning {
		return fmt.Errorf("stop %s counter: %w", c.state, ErrInvalidState)
	}

	if errno := c.fac.binding.Stop(c.handle); errno != 0 {
		return mapCtlErrno("stop", errno)
	}

	c.state = stateStopped
	return nil
}

// Read returns the current accumulated count. Reading never stops or
// resets the counter; while the counter is running the value is a live
// snapshot. Reading a released counter fails with ErrInvalidState.
func (c *Counter) Read() (uint64, error) {
	if c.state == stateReleased {
		return 0, fmt.Errorf("read %s counter: %w", c.state, ErrInvalidState)
	}

	value, errno := c.fac.binding.Read(c.handle)
	if errno != 0 {
		return 0, mapCtlErrno("read", errno)
	}
	return value, nil
}

// Release frees the kernel counter slot. A running counter is stopped
// first. Release is idempotent: releasing an already-released counter is a
// no-op and never reaches the kernel twice. After Release every other
// operation fails with ErrInvalidState.
func (c *Counter) Release() error {
	if c.state == stateReleased {
		return nil
	}

	if c.state == stateRunning {
		// Best effort; the slot is released either way.
		c.fac.binding.Stop(c.handle)
	}

	handle := c.handle
	c.state = stateReleased
	c.handle = invalidHandle
	runtime.SetFinalizer(c, nil)

	if errno := c.fac.binding.Release(handle); errno != 0 {
		return mapCtlErrno("release", errno)
	}
	return nil
}
