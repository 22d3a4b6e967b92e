package envoy

import (
	"time"
)

// EventKind identifies a bridge event.
type EventKind int

const (
	EventInitialized EventKind = iota + 1
	EventSubmitAccepted
	EventSubmitRejected
	EventRetrieved
	EventReleased
	EventReleaseViolation
	EventSent
	EventInternalFault
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventInitialized:
		return "initialized"
	case EventSubmitAccepted:
		return "submit_accepted"
	case EventSubmitRejected:
		return "submit_rejected"
	case EventRetrieved:
		return "retrieved"
	case EventReleased:
		return "released"
	case EventReleaseViolation:
		return "release_violation"
	case EventSent:
		return "sent"
	case EventInternalFault:
		return "internal_fault"
	default:
		return "unknown"
	}
}

// Event is a structured report handed to observers.
type Event struct {
	Kind       EventKind
	RegistryID string
	Time       time.Time
	MessageID  uint32
	Handle     Handle
	Size       int
	Status     Status
	Err        error
}

// Observer receives bridge events. Implementations must be safe for
// concurrent use and should not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Observers fans an event out to several observers.
type Observers []Observer

// Observe delivers e to every observer. A panicking observer is skipped; the
// bridge never depends on an event being observed.
func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs == nil {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			obs.Observe(e)
		}()
	}
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
