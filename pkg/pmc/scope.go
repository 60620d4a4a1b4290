package pmc

// Scope defines how an event is measured: for the calling process only, or
// across every process in the system.
type Scope int

const (
	// ScopeProcess counters track their event for the calling process.
	ScopeProcess Scope = iota
	// ScopeSystem counters track their event over all processes in the
	// system. Allocating one typically requires elevated privilege.
	ScopeSystem
)

func (s Scope) String() string {
	switch s {
	case ScopeProcess:
		return "process"
	case ScopeSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Event identifies a requestable hardware event: a name recognised by the
// kernel facility and the scope to measure it in. Events are plain values
// and may be copied and compared freely.
type Event struct {
	Name  string
	Scope Scope
}

// valid reports whether the event name can be passed to the binding layer.
// Empty names and names containing NUL bytes never reach allocation.
func (e Event) valid() bool {
	if e.Name == "" {
		return false
	}
	for i := 0; i < len(e.Name); i++ {
		if e.Name[i] == 0 {
			return false
		}
	}
	return e.Scope == ScopeProcess || e.Scope == ScopeSystem
}
