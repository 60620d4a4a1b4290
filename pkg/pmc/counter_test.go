package pmc

import (
	"errors"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBinding is an in-memory binding used to exercise the counter
// lifecycle without touching the kernel. Counts advance by one on every
// read of a running counter, simulating live accumulation.
type fakeBinding struct {
	mu sync.Mutex

	openErrno  syscall.Errno
	allocErrno syscall.Errno

	next    Handle
	counts  map[Handle]uint64
	running map[Handle]bool

	openCalls    int
	allocCalls   int
	startCalls   int
	stopCalls    int
	readCalls    int
	releaseCalls int
}

func newFakeBinding() *fakeBinding {
	return &fakeBinding{
		next:    1,
		counts:  make(map[Handle]uint64),
		running: make(map[Handle]bool),
	}
}

func (b *fakeBinding) Open() syscall.Errno {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openCalls++
	return b.openErrno
}

func (b *fakeBinding) Allocate(name string, scope Scope) (Handle, syscall.Errno) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocCalls++
	if b.allocErrno != 0 {
		return invalidHandle, b.allocErrno
	}
	h := b.next
	b.next++
	b.counts[h] = 0
	return h, 0
}

func (b *fakeBinding) Start(h Handle) syscall.Errno {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCalls++
	if _, ok := b.counts[h]; !ok {
		return syscall.EBADF
	}
	b.running[h] = true
	return 0
}

func (b *fakeBinding) Stop(h Handle) syscall.Errno {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls++
	if _, ok := b.counts[h]; !ok {
		return syscall.EBADF
	}
	b.running[h] = false
	return 0
}

func (b *fakeBinding) Read(h Handle) (uint64, syscall.Errno) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readCalls++
	if _, ok := b.counts[h]; !ok {
		return 0, syscall.EBADF
	}
	if b.running[h] {
		b.counts[h]++
	}
	return b.counts[h], 0
}

func (b *fakeBinding) Release(h Handle) syscall.Errno {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseCalls++
	if _, ok := b.counts[h]; !ok {
		return syscall.EBADF
	}
	delete(b.counts, h)
	delete(b.running, h)
	return 0
}

func (b *fakeBinding) calls() (start, stop, read, release int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startCalls, b.stopCalls, b.readCalls, b.releaseCalls
}

func newTestCounter(t *testing.T, fake *fakeBinding) *Counter {
	t.Helper()
	c, err := newCounter(&facility{binding: fake}, Event{Name: "instructions", Scope: ScopeProcess})
	require.NoError(t, err)
	return c
}

func TestCounterLifecycle(t *testing.T) {
	fake := newFakeBinding()
	c := newTestCounter(t, fake)

	require.Equal(t, Event{Name: "instructions", Scope: ScopeProcess}, c.Event())
	require.False(t, c.Running())

	require.NoError(t, c.Start())
	require.True(t, c.Running())

	// Live snapshot while running: successive reads never decrease.
	var last uint64
	for i := 0; i < 100; i++ {
		now, err := c.Read()
		require.NoError(t, err)
		require.GreaterOrEqual(t, now, last)
		last = now
	}

	require.NoError(t, c.Stop())
	require.False(t, c.Running())

	// Stopped counter is frozen.
	v1, err := c.Read()
	require.NoError(t, err)
	require.GreaterOrEqual(t, v1, last)
	v2, err := c.Read()
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	require.NoError(t, c.Release())

	_, err = c.Read()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCounterStartStopStateErrors(t *testing.T) {
	fake := newFakeBinding()
	c := newTestCounter(t, fake)

	// Stop before the first start.
	require.ErrorIs(t, c.Stop(), ErrInvalidState)

	require.NoError(t, c.Start())
	require.ErrorIs(t, c.Start(), ErrInvalidState)

	require.NoError(t, c.Stop())
	require.ErrorIs(t, c.Stop(), ErrInvalidState)

	// Restart from stopped is legal.
	require.NoError(t, c.Start())
	require.NoError(t, c.Release())
}

func TestCounterAccumulatesAcrossRestart(t *testing.T) {
	fake := newFakeBinding()
	c := newTestCounter(t, fake)

	require.NoError(t, c.Start())
	_, err := c.Read()
	require.NoError(t, err)
	require.NoError(t, c.Stop())

	before, err := c.Read()
	require.NoError(t, err)

	// Restarting resumes accumulation; there is no implicit reset.
	require.NoError(t, c.Start())
	after, err := c.Read()
	require.NoError(t, err)
	require.Greater(t, after, before)
}

func TestCounterReleaseIdempotent(t *testing.T) {
	fake := newFakeBinding()
	c := newTestCounter(t, fake)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())

	_, _, _, releases := fake.calls()
	require.Equal(t, 1, releases, "second release must not reach the kernel")
}

func TestCounterReleaseStopsRunning(t *testing.T) {
	fake := newFakeBinding()
	c := newTestCounter(t, fake)

	require.NoError(t, c.Start())
	require.NoError(t, c.Release())

	_, stops, _, releases := fake.calls()
	require.Equal(t, 1, stops)
	require.Equal(t, 1, releases)
}

func TestCounterNoKernelCallsAfterRelease(t *testing.T) {
	fake := newFakeBinding()
	c := newTestCounter(t, fake)
	require.NoError(t, c.Release())

	start0, stop0, read0, release0 := fake.calls()

	require.ErrorIs(t, c.Start(), ErrInvalidState)
	require.ErrorIs(t, c.Stop(), ErrInvalidState)
	_, err := c.Read()
	require.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, c.Release())

	start1, stop1, read1, release1 := fake.calls()
	require.Equal(t, start0, start1)
	require.Equal(t, stop0, stop1)
	require.Equal(t, read0, read1)
	require.Equal(t, release0, release1)
}

func TestCounterIndependence(t *testing.T) {
	fake := newFakeBinding()
	f := &facility{binding: fake}

	a, err := newCounter(f, Event{Name: "instructions", Scope: ScopeProcess})
	require.NoError(t, err)
	b, err := newCounter(f, Event{Name: "cache-misses", Scope: ScopeProcess})
	require.NoError(t, err)

	require.NoError(t, a.Start())
	for i := 0; i < 10; i++ {
		_, err := a.Read()
		require.NoError(t, err)
	}
	require.NoError(t, a.Stop())

	// b was never started; a's activity must not leak into it.
	vb, err := b.Read()
	require.NoError(t, err)
	require.Zero(t, vb)

	va, err := a.Read()
	require.NoError(t, err)
	require.NotZero(t, va)

	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
}

func TestNewCounterUnknownEvent(t *testing.T) {
	fake := newFakeBinding()
	fake.allocErrno = syscall.ENOENT
	f := &facility{binding: fake}

	_, err := newCounter(f, Event{Name: "wat", Scope: ScopeProcess})
	require.ErrorIs(t, err, ErrUnknownEvent)
	require.Equal(t, 1, fake.allocCalls)
}

func TestNewCounterMalformedName(t *testing.T) {
	fake := newFakeBinding()
	f := &facility{binding: fake}

	for _, name := range []string{"", "instru\x00ctions"} {
		_, err := newCounter(f, Event{Name: name, Scope: ScopeProcess})
		require.ErrorIs(t, err, ErrUnknownEvent)
	}

	// Malformed names never reach the facility or the allocation call.
	require.Zero(t, fake.openCalls)
	require.Zero(t, fake.allocCalls)
}

func TestNewCounterPermissionDenied(t *testing.T) {
	fake := newFakeBinding()
	fake.allocErrno = syscall.EACCES
	f := &facility{binding: fake}

	_, err := newCounter(f, Event{Name: "cpu-cycles", Scope: ScopeSystem})
	require.ErrorIs(t, err, ErrPermission)
}

func TestNewCounterExhausted(t *testing.T) {
	fake := newFakeBinding()
	fake.allocErrno = syscall.ENOSPC
	f := &facility{binding: fake}

	_, err := newCounter(f, Event{Name: "cpu-cycles", Scope: ScopeProcess})
	require.ErrorIs(t, err, ErrExhausted)
}

func TestNewCounterKernelError(t *testing.T) {
	fake := newFakeBinding()
	fake.allocErrno = syscall.EIO
	f := &facility{binding: fake}

	_, err := newCounter(f, Event{Name: "cpu-cycles", Scope: ScopeProcess})

	var kerr *KernelError
	require.True(t, errors.As(err, &kerr))
	require.Equal(t, syscall.EIO, kerr.Errno)
	require.ErrorIs(t, err, syscall.EIO)
}

func TestNewCounterFacilityNotReady(t *testing.T) {
	fake := newFakeBinding()
	fake.openErrno = syscall.ENOSYS
	f := &facility{binding: fake}

	_, err := newCounter(f, Event{Name: "cpu-cycles", Scope: ScopeProcess})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Zero(t, fake.allocCalls, "allocation must not run when the facility is not ready")
}
