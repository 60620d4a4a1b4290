//go:build linux

package pmc

import (
	"encoding/binary"
	"errors"
	"os"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// eventConfig is the kernel representation of a named event.
type eventConfig struct {
	typ    uint32
	config uint64
}

func cacheConfig(cache, op, result uint64) eventConfig {
	return eventConfig{
		typ:    unix.PERF_TYPE_HW_CACHE,
		config: cache | op<<8 | result<<16,
	}
}

// eventTable maps event names to their kernel configuration. Names follow
// the perf tool's spelling.
var eventTable = map[string]eventConfig{
	// Hardware events
	"cpu-cycles":              {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES},
	"instructions":            {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS},
	"cache-references":        {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES},
	"cache-misses":            {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES},
	"branches":                {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS},
	"branch-misses":           {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES},
	"bus-cycles":              {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BUS_CYCLES},
	"ref-cycles":              {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_REF_CPU_CYCLES},
	"stalled-cycles-frontend": {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND},
	"stalled-cycles-backend":  {unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND},

	// Software events
	"cpu-clock":        {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_CLOCK},
	"task-clock":       {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_TASK_CLOCK},
	"page-faults":      {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS},
	"context-switches": {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CONTEXT_SWITCHES},
	"cpu-migrations":   {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_CPU_MIGRATIONS},
	"minor-faults":     {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS_MIN},
	"major-faults":     {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ},
	"alignment-faults": {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_ALIGNMENT_FAULTS},
	"emulation-faults": {unix.PERF_TYPE_SOFTWARE, unix.PERF_COUNT_SW_EMULATION_FAULTS},

	// Hardware cache events
	"L1-dcache-loads":       cacheConfig(unix.PERF_COUNT_HW_CACHE_L1D, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS),
	"L1-dcache-load-misses": cacheConfig(unix.PERF_COUNT_HW_CACHE_L1D, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS),
	"LLC-loads":             cacheConfig(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS),
	"LLC-load-misses":       cacheConfig(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS),
	"dTLB-load-misses":      cacheConfig(unix.PERF_COUNT_HW_CACHE_DTLB, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS),
	"iTLB-load-misses":      cacheConfig(unix.PERF_COUNT_HW_CACHE_ITLB, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS),
}

// eventAliases are accepted alternate spellings.
var eventAliases = map[string]string{
	"cycles":              "cpu-cycles",
	"branch-instructions": "branches",
}

// Events returns the names of all events this platform's binding can
// resolve, in no particular order.
func Events() []string {
	names := make([]string, 0, len(eventTable)+len(eventAliases))
	for name := range eventTable {
		names = append(names, name)
	}
	for name := range eventAliases {
		names = append(names, name)
	}
	return names
}

// Supported reports whether the host kernel supports performance
// monitoring. The existence of the perf_event_paranoid sysctl is the
// official way to detect perf_event_open support.
func Supported() bool {
	_, err := os.Stat("/proc/sys/kernel/perf_event_paranoid")
	return err == nil
}

// perfBinding implements binding on top of perf_event_open.
//
// A handle names a slot in the registry. Process-scoped slots hold a
// single event fd for the calling process; system-scoped slots hold one fd
// per CPU, enabled and disabled together and summed on read.
type perfBinding struct {
	mu    sync.Mutex
	next  Handle
	slots map[Handle][]int
}

func newBinding() binding {
	return &perfBinding{
		next:  1,
		slots: make(map[Handle][]int),
	}
}

// errnoOf extracts the raw error code from an x/sys/unix call.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

func (b *perfBinding) Open() syscall.Errno {
	if !Supported() {
		return unix.ENOENT
	}
	return 0
}

func (b *perfBinding) Allocate(name string, scope Scope) (Handle, syscall.Errno) {
	if alias, ok := eventAliases[name]; ok {
		name = alias
	}
	cfg, ok := eventTable[name]
	if !ok {
		return invalidHandle, unix.ENOENT
	}

	attr := unix.PerfEventAttr{
		Type:   cfg.typ,
		Config: cfg.config,
		Bits:   unix.PerfBitDisabled,
	}

	var fds []int
	switch scope {
	case ScopeProcess:
		// Follow the calling thread on any CPU and inherit into tasks it
		// creates afterwards.
		attr.Bits |= unix.PerfBitInherit
		fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			return invalidHandle, errnoOf(err)
		}
		fds = []int{fd}

	case ScopeSystem:
		// One event per CPU; the kernel has no single all-CPU counter.
		for cpu := 0; cpu < runtime.NumCPU(); cpu++ {
			fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
			if err != nil {
				for _, opened := range fds {
					unix.Close(opened)
				}
				return invalidHandle, errnoOf(err)
			}
			fds = append(fds, fd)
		}

	default:
		return invalidHandle, unix.EINVAL
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.next
	b.next++
	b.slots[h] = fds
	return h, 0
}

func (b *perfBinding) lookup(h Handle) ([]int, syscall.Errno) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fds, ok := b.slots[h]
	if !ok {
		return nil, unix.EBADF
	}
	return fds, 0
}

func (b *perfBinding) Start(h Handle) syscall.Errno {
	fds, errno := b.lookup(h)
	if errno != 0 {
		return errno
	}
	for _, fd := range fds {
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			return errnoOf(err)
		}
	}
	return 0
}

func (b *perfBinding) Stop(h Handle) syscall.Errno {
	fds, errno := b.lookup(h)
	if errno != 0 {
		return errno
	}
	for _, fd := range fds {
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
			return errnoOf(err)
		}
	}
	return 0
}

func (b *perfBinding) Read(h Handle) (uint64, syscall.Errno) {
	fds, errno := b.lookup(h)
	if errno != 0 {
		return 0, errno
	}

	var total uint64
	var buf [8]byte
	for _, fd := range fds {
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			return 0, errnoOf(err)
		}
		if n != len(buf) {
			return 0, unix.EIO
		}
		total += binary.NativeEndian.Uint64(buf[:])
	}
	return total, 0
}

func (b *perfBinding) Release(h Handle) syscall.Errno {
	b.mu.Lock()
	fds, ok := b.slots[h]
	delete(b.slots, h)
	b.mu.Unlock()

	if !ok {
		return unix.EBADF
	}

	var firstErrno syscall.Errno
	for _, fd := range fds {
		if err := unix.Close(fd); err != nil && firstErrno == 0 {
			firstErrno = errnoOf(err)
		}
	}
	return firstErrno
}
