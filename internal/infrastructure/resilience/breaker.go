package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many trial requests in half-open state")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxRequests is the number of trial calls allowed (and required to
	// succeed) in half-open state
	MaxRequests uint32
	// Timeout is how long the breaker stays open
	Timeout time.Duration
	// ReadyToTrip decides, after each failure while closed, whether to open
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called on every transition, outside the breaker lock
	OnStateChange func(name string, from, to State)
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Counts holds the statistics of the current state
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	// generation changes on every transition so results of calls started in
	// an earlier state are discarded
	generation uint64
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any pending open→half-open timeout
func (b *Breaker) State() State {
	b.mu.Lock()
	state, notify := b.refresh()
	b.mu.Unlock()
	notify()
	return state
}

// Counts returns a copy of the counts for the current state
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn if the breaker admits it. A panic in fn is recorded as a failure
// and re-raised.
func (b *Breaker) Do(fn func() error) error {
	generation, err := b.admit()
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if r := recover(); r != nil {
			b.record(generation, false)
			panic(r)
		}
		b.record(generation, success)
	}()

	err = fn()
	success = err == nil
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	state, notify := b.refresh()
	defer notify()
	defer b.mu.Unlock()

	switch {
	case state == StateOpen:
		return b.generation, ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests:
		return b.generation, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.generation, nil
}

func (b *Breaker) record(generation uint64, success bool) {
	b.mu.Lock()
	notify := func() {}
	if generation == b.generation {
		if success {
			notify = b.onSuccess()
		} else {
			notify = b.onFailure()
		}
	}
	b.mu.Unlock()
	notify()
}

func (b *Breaker) onSuccess() func() {
	b.counts.TotalSuccesses++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0
	if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
		return b.transition(StateClosed)
	}
	return func() {}
}

func (b *Breaker) onFailure() func() {
	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.settings.ReadyToTrip(b.counts) {
			return b.transition(StateOpen)
		}
	case StateHalfOpen:
		return b.transition(StateOpen)
	}
	return func() {}
}

// refresh moves an expired open breaker to half-open. Caller holds mu.
func (b *Breaker) refresh() (State, func()) {
	if b.state == StateOpen && !b.settings.Now().Before(b.openedAt.Add(b.settings.Timeout)) {
		return StateHalfOpen, b.transition(StateHalfOpen)
	}
	return b.state, func() {}
}

// transition changes state and returns the callback to run after unlocking.
// Caller holds mu.
func (b *Breaker) transition(to State) func() {
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.generation++
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}

	if cb := b.settings.OnStateChange; cb != nil {
		name := b.name
		return func() { cb(name, from, to) }
	}
	return func() {}
}
