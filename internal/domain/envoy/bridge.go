package envoy

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Bridge is the boundary between an untrusted native caller and the managed
// side. All methods are safe for concurrent use and never block.
type Bridge struct {
	registry atomic.Pointer[Registry]

	depth     int
	allocator Allocator
	shield    *Shield
	observer  Observer
	now       func() time.Time

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	violations atomic.Uint64
	faults     atomic.Uint64
}

// New creates an uninitialized bridge.
func New(opts ...Option) *Bridge {
	o := options{
		depth: DefaultMaxQueueDepth,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.allocator == nil {
		o.allocator = NewHeapAllocator()
	}

	var observer Observer = nopObserver{}
	if len(o.observers) > 0 {
		observer = o.observers
	}

	return &Bridge{
		depth:     o.depth,
		allocator: o.allocator,
		shield:    NewShield(o.decoder),
		observer:  observer,
		now:       o.now,
	}
}

// Initialize creates the registry. Exactly one call succeeds; every other
// call, concurrent or later, returns ErrAlreadyInitialized.
func (b *Bridge) Initialize() error {
	if b.registry.Load() != nil {
		return ErrAlreadyInitialized
	}

	var reg *Registry
	err := Contain("initialize", func() error {
		var buildErr error
		reg, buildErr = newRegistry(b.depth, b.now())
		return buildErr
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	if !b.registry.CompareAndSwap(nil, reg) {
		return ErrAlreadyInitialized
	}

	b.emit(Event{Kind: EventInitialized, RegistryID: string(reg.ID), Size: b.depth})
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (b *Bridge) Initialized() bool {
	return b.registry.Load() != nil
}

// Registry returns the published registry, or nil before Initialize.
func (b *Bridge) Registry() *Registry {
	return b.registry.Load()
}

// Version returns the static build identifier.
func (b *Bridge) Version() string {
	return Version
}

// Submit accepts an envoy from the caller. payload is borrowed for the
// duration of the call only; nil means the caller passed no buffer.
//
// On success one inbound record and one acknowledgment are enqueued. Every
// rejection leaves both queues exactly as they were.
func (b *Bridge) Submit(id uint32, payload []byte) error {
	reg := b.registry.Load()
	if reg == nil {
		return b.reject(nil, id, ErrNotInitialized)
	}
	if payload == nil {
		return b.reject(reg, id, ErrNullPointer)
	}
	if id == 0 {
		return b.reject(reg, id, ErrInvalidID)
	}

	text, err := b.shield.Decode(payload)
	if err != nil {
		return b.reject(reg, id, fmt.Errorf("decode envoy %d: %w", id, err))
	}

	if err := reg.Incoming.Reserve(); err != nil {
		return b.reject(reg, id, fmt.Errorf("%s queue: %w", IncomingQueue, err))
	}
	if err := reg.Outgoing.Reserve(); err != nil {
		reg.Incoming.Rollback()
		return b.reject(reg, id, fmt.Errorf("%s queue: %w", OutgoingQueue, err))
	}

	now := b.now()
	reg.Incoming.Commit(Message{ID: id, Kind: KindInbound, Payload: text, EnqueuedAt: now})
	reg.Outgoing.Commit(Message{ID: id, Kind: KindAck, Payload: text, EnqueuedAt: now})

	b.accepted.Add(1)
	b.emit(Event{Kind: EventSubmitAccepted, RegistryID: string(reg.ID), MessageID: id, Size: len(text)})
	return nil
}

func (b *Bridge) reject(reg *Registry, id uint32, err error) error {
	b.rejected.Add(1)
	e := Event{Kind: EventSubmitRejected, MessageID: id, Status: StatusOf(err), Err: err}
	if reg != nil {
		e.RegistryID = string(reg.ID)
	}
	b.emit(e)
	return err
}

// Retrieve hands the oldest outbound record to the caller as a newly
// allocated buffer. ok is false when there is nothing to hand out, including
// before Initialize. The caller owns the buffer until it passes the handle to
// Release.
func (b *Bridge) Retrieve() (buf Buffer, ok bool) {
	reg := b.registry.Load()
	if reg == nil {
		return nil, false
	}
	msg, ok := reg.Outgoing.Pop()
	if !ok {
		return nil, false
	}

	err := Contain("allocate", func() error {
		var allocErr error
		buf, allocErr = b.allocator.Allocate(msg.Text())
		return allocErr
	})
	if err == nil && buf == nil {
		err = errors.New("allocator returned no buffer")
	}
	if err != nil {
		b.fault(reg, msg.ID, 0, fmt.Errorf("allocate buffer for envoy %d: %w", msg.ID, asFault(err)))
		return nil, false
	}

	loan := &Loan{Handle: buf.Handle(), Buffer: buf, MessageID: msg.ID, IssuedAt: b.now()}
	if !reg.Loans.Issue(loan) {
		// The address is already on loan; handing it out again would let one
		// release free memory the caller still holds through the other. buf is
		// not freed either, since it may be the memory the existing loan refers
		// to. The buffer leaks and the record is dropped.
		b.fault(reg, msg.ID, loan.Handle, fmt.Errorf("%w: allocator reused live handle %s", ErrInternalFault, loan.Handle))
		return nil, false
	}

	b.emit(Event{Kind: EventRetrieved, RegistryID: string(reg.ID), MessageID: msg.ID, Handle: loan.Handle, Size: buf.Len()})
	return buf, true
}

// Release frees a buffer previously returned by Retrieve. A zero handle is a
// no-op. A handle that is not on loan (never issued, or already released) is
// reported as a release violation and nothing is freed.
func (b *Bridge) Release(h Handle) error {
	if h == 0 {
		return nil
	}
	reg := b.registry.Load()
	if reg == nil {
		return ErrNotInitialized
	}

	loan, ok := reg.Loans.Redeem(h)
	if !ok {
		b.violations.Add(1)
		b.emit(Event{Kind: EventReleaseViolation, RegistryID: string(reg.ID), Handle: h, Err: ErrUnknownHandle})
		return fmt.Errorf("release %s: %w", h, ErrUnknownHandle)
	}

	err := Contain("free", func() error {
		b.allocator.Free(loan.Buffer)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("free buffer %s: %w", h, err)
		b.fault(reg, loan.MessageID, h, err)
		return err
	}

	b.emit(Event{Kind: EventReleased, RegistryID: string(reg.ID), MessageID: loan.MessageID, Handle: h})
	return nil
}

func (b *Bridge) fault(reg *Registry, msgID uint32, h Handle, err error) {
	b.faults.Add(1)
	b.emit(Event{
		Kind:       EventInternalFault,
		RegistryID: string(reg.ID),
		MessageID:  msgID,
		Handle:     h,
		Status:     StatusInternalFault,
		Err:        err,
	})
}

func (b *Bridge) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.observer.Observe(e)
}

func asFault(err error) error {
	if errors.Is(err, ErrInternalFault) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternalFault, err)
}

// Stats is a point-in-time snapshot of the bridge.
type Stats struct {
	Initialized bool       `json:"initialized"`
	RegistryID  string     `json:"registry_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	Incoming    QueueStats `json:"incoming"`
	Outgoing    QueueStats `json:"outgoing"`
	ActiveLoans int        `json:"active_loans"`
	Accepted    uint64     `json:"accepted"`
	Rejected    uint64     `json:"rejected"`
	Violations  uint64     `json:"release_violations"`
	Faults      uint64     `json:"internal_faults"`
}

// Stats returns the current counters and queue occupancy.
func (b *Bridge) Stats() Stats {
	s := Stats{
		Incoming:   QueueStats{Name: IncomingQueue, Capacity: b.depth},
		Outgoing:   QueueStats{Name: OutgoingQueue, Capacity: b.depth},
		Accepted:   b.accepted.Load(),
		Rejected:   b.rejected.Load(),
		Violations: b.violations.Load(),
		Faults:     b.faults.Load(),
	}
	reg := b.registry.Load()
	if reg == nil {
		return s
	}
	s.Initialized = true
	s.RegistryID = string(reg.ID)
	s.CreatedAt = reg.CreatedAt
	s.Incoming = reg.Incoming.Stats()
	s.Outgoing = reg.Outgoing.Stats()
	s.ActiveLoans = reg.Loans.Len()
	return s
}
