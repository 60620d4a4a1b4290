// Package window aggregates counter samples into a sliding window of
// fixed-length time slots, turning accumulated counts into per-slot
// deltas.
package window

import "fmt"

// Sample is one observation of an accumulated counter value.
type Sample struct {
	Event     string
	Value     uint64
	Timestamp uint64 // nanoseconds
}

// Slot holds the per-event count deltas observed within one time slot.
type Slot struct {
	Start  uint64 // nanoseconds, inclusive
	End    uint64 // nanoseconds, exclusive
	Deltas map[string]uint64
}

// Config holds the configuration parameters for a Window.
type Config struct {
	SlotLength uint64 // nanoseconds
	WindowSize uint   // number of consecutive slots kept before retiring
}

// Window maintains a sliding window of time slots and the last observed
// value per event, so that successive samples of a cumulative counter are
// recorded as deltas.
type Window struct {
	config Config
	slots  []*Slot
	last   map[string]uint64
	seen   map[string]bool
}

// New creates a Window with the given configuration.
func New(config Config) (*Window, error) {
	if config.SlotLength == 0 {
		return nil, fmt.Errorf("slot length must be greater than 0")
	}
	if config.WindowSize == 0 {
		return nil, fmt.Errorf("window size must be greater than 0")
	}

	return &Window{
		config: config,
		slots:  make([]*Slot, 0, config.WindowSize),
		last:   make(map[string]uint64),
		seen:   make(map[string]bool),
	}, nil
}

// slotStart returns the start time of the slot containing the timestamp.
func (w *Window) slotStart(timestamp uint64) uint64 {
	return (timestamp / w.config.SlotLength) * w.config.SlotLength
}

func (w *Window) newSlot(start uint64) *Slot {
	return &Slot{
		Start:  start,
		End:    start + w.config.SlotLength,
		Deltas: make(map[string]uint64),
	}
}

// advance extends the window so it covers the slot containing timestamp,
// returning slots that fell out of the window, oldest first.
func (w *Window) advance(timestamp uint64) []*Slot {
	target := w.slotStart(timestamp)

	if len(w.slots) == 0 {
		w.slots = append(w.slots, w.newSlot(target))
		return nil
	}

	var completed []*Slot
	for w.slots[len(w.slots)-1].Start < target {
		next := w.newSlot(w.slots[len(w.slots)-1].End)
		if uint(len(w.slots)) == w.config.WindowSize {
			completed = append(completed, w.slots[0])
			copy(w.slots, w.slots[1:])
			w.slots = w.slots[:len(w.slots)-1]
		}
		w.slots = append(w.slots, next)
	}
	return completed
}

// Add records a sample, returning any slots the window retired to make
// room. The first sample of an event establishes its baseline and
// contributes no delta. A sample whose value is below the previous one is
// treated as a counter reset and contributes its full value.
//
// Samples older than the oldest slot in the window are dropped.
func (w *Window) Add(s Sample) []*Slot {
	completed := w.advance(s.Timestamp)

	delta, first := w.delta(s)
	if first {
		return completed
	}

	for _, slot := range w.slots {
		if s.Timestamp >= slot.Start && s.Timestamp < slot.End {
			slot.Deltas[s.Event] += delta
			break
		}
	}
	return completed
}

func (w *Window) delta(s Sample) (delta uint64, first bool) {
	prev := w.last[s.Event]
	first = !w.seen[s.Event]
	w.seen[s.Event] = true
	w.last[s.Event] = s.Value

	if s.Value < prev {
		return s.Value, first
	}
	return s.Value - prev, first
}

// Flush retires and returns every slot still in the window, oldest first.
// Event baselines are kept, so sampling can continue afterwards.
func (w *Window) Flush() []*Slot {
	completed := w.slots
	w.slots = make([]*Slot, 0, w.config.WindowSize)
	return completed
}
