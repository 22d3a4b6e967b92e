package envoy

import (
	"time"
)

// DefaultMaxQueueDepth bounds each queue when no depth is configured.
const DefaultMaxQueueDepth = 1024

// Version identifies the bridge build. It is static and never freed.
const Version = "diplomacy 1.2.0"

type options struct {
	depth     int
	allocator Allocator
	decoder   Decoder
	observers Observers
	now       func() time.Time
}

// Option configures a Bridge.
type Option func(*options)

// WithMaxQueueDepth sets the per-queue bound. Values below 1 make Initialize
// fail with ErrInitFailed.
func WithMaxQueueDepth(depth int) Option {
	return func(o *options) {
		o.depth = depth
	}
}

// WithAllocator sets the allocator for retrieved buffers.
func WithAllocator(a Allocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

// WithDecoder replaces the payload decoder run inside the Shield.
func WithDecoder(d Decoder) Option {
	return func(o *options) {
		o.decoder = d
	}
}

// WithObserver adds an event observer. May be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
