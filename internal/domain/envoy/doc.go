// Package envoy implements the managed side of the diplomacy bridge.
//
// An untrusted native caller pushes envoys (id-tagged text notifications) into
// the process and pulls acknowledgments back out. The bridge keeps ownership,
// capacity and fault containment on the managed side.
//
// Components:
//   - Queue / BoundedQueue: lock-free MPMC FIFO with an approximate occupancy bound
//   - LoanTracker: outstanding caller-owned buffers, keyed by opaque Handle
//   - Shield: recover()-based containment around caller-memory decoding
//   - Registry: queue pair + loan set, published exactly once
//   - Bridge: the boundary entry points (Initialize, Submit, Retrieve, Release)
//
// Safety Properties:
//   - Bounded memory: both queues reject with ErrQueueFull at MaxQueueDepth
//   - No double free: only handles present in the LoanTracker are ever freed
//   - No crash on bad input: decoding panics surface as ErrInternalFault
//
// The Shield cannot contain hardware faults. A caller that passes a dangling
// or unterminated pointer across the C boundary still crashes the process.
//
// Example Usage:
//
//	b := envoy.New(envoy.WithMaxQueueDepth(1024))
//	if err := b.Initialize(); err != nil {
//	    return err
//	}
//	err := b.Submit(101, []byte("Hello"))
//	buf, ok := b.Retrieve() // "Ack: Hello"
//	if ok {
//	    defer b.Release(buf.Handle())
//	}
package envoy
