package envoy

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Handle is the opaque identity of a buffer on loan to the caller. It is
// derived from the buffer address but is never converted back into a pointer:
// only the LoanTracker decides whether a handle refers to a live buffer.
type Handle uintptr

// String formats the handle in hex for logs.
func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uintptr(h))
}

// Buffer is caller-owned text produced by an Allocator.
type Buffer interface {
	// Handle returns the value handed to the caller.
	Handle() Handle
	// Len returns the text length in bytes, excluding any terminator.
	Len() int
	// String copies the text back out. Only valid before Free.
	String() string
}

// Allocator produces buffers the caller may hold across calls. Free is only
// ever invoked once per buffer, by Bridge.Release.
type Allocator interface {
	Allocate(text string) (Buffer, error)
	Free(b Buffer)
}

// HeapAllocator allocates NUL-terminated buffers on the Go heap. The bridge
// keeps every buffer reachable through its loan record until release, so the
// address behind a handle stays valid for the whole loan.
type HeapAllocator struct {
	live atomic.Int64
}

// NewHeapAllocator creates a Go heap allocator.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{}
}

type heapBuffer struct {
	data  []byte
	freed atomic.Bool
}

func (b *heapBuffer) Handle() Handle {
	return Handle(uintptr(unsafe.Pointer(&b.data[0])))
}

func (b *heapBuffer) Len() int {
	return len(b.data) - 1
}

func (b *heapBuffer) String() string {
	return string(b.data[:len(b.data)-1])
}

// Allocate copies text into a fresh NUL-terminated buffer.
func (a *HeapAllocator) Allocate(text string) (Buffer, error) {
	data := make([]byte, len(text)+1)
	copy(data, text)
	a.live.Add(1)
	return &heapBuffer{data: data}, nil
}

// Free zeroes the buffer. A second Free of the same buffer panics, which the
// bridge never does.
func (a *HeapAllocator) Free(b Buffer) {
	hb, ok := b.(*heapBuffer)
	if !ok {
		panic(fmt.Sprintf("heap allocator: foreign buffer %T", b))
	}
	if !hb.freed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("heap allocator: double free of %s", hb.Handle()))
	}
	clear(hb.data)
	a.live.Add(-1)
}

// Live returns the number of allocated, not yet freed buffers.
func (a *HeapAllocator) Live() int {
	return int(a.live.Load())
}
