// Package securemem allocates caller-owned envoy buffers in locked memory.
//
// Buffers are memguard LockedBuffers: mlocked so they never reach swap,
// surrounded by guard pages, and wiped when the caller releases them. The
// bridge hands out the address of the first byte as the loan handle.
package securemem

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/awnumar/memguard"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

// MinMemlockBytes is the smallest RLIMIT_MEMLOCK under which the allocator is
// considered usable: a handful of single-page buffers.
const MinMemlockBytes = 64 * 1024

var ErrUnavailable = errors.New("locked memory unavailable")

// Allocator implements envoy.Allocator over memguard.
type Allocator struct {
	live atomic.Int64
}

// New returns a locked-memory allocator, or ErrUnavailable when the process
// memlock limit is too small to be useful.
func New() (*Allocator, error) {
	ok, limit := Available()
	if !ok {
		return nil, fmt.Errorf("%w: memlock limit %d bytes, need %d", ErrUnavailable, limit, MinMemlockBytes)
	}
	return &Allocator{}, nil
}

type lockedBuffer struct {
	buf *memguard.LockedBuffer
	n   int
}

func (b *lockedBuffer) Handle() envoy.Handle {
	return envoy.Handle(uintptr(unsafe.Pointer(&b.buf.Bytes()[0])))
}

func (b *lockedBuffer) Len() int {
	return b.n
}

func (b *lockedBuffer) String() string {
	return string(b.buf.Bytes()[:b.n])
}

// Allocate copies text plus a NUL terminator into a new locked buffer.
func (a *Allocator) Allocate(text string) (envoy.Buffer, error) {
	buf := memguard.NewBuffer(len(text) + 1)
	if buf == nil || !buf.IsAlive() {
		return nil, fmt.Errorf("allocate %d locked bytes: %w", len(text)+1, ErrUnavailable)
	}
	buf.Copy([]byte(text))
	buf.Freeze()

	a.live.Add(1)
	return &lockedBuffer{buf: buf, n: len(text)}, nil
}

// Free wipes and unmaps the buffer.
func (a *Allocator) Free(b envoy.Buffer) {
	lb, ok := b.(*lockedBuffer)
	if !ok {
		panic(fmt.Sprintf("securemem: foreign buffer %T", b))
	}
	lb.buf.Destroy()
	a.live.Add(-1)
}

// Live returns the number of buffers not yet freed.
func (a *Allocator) Live() int {
	return int(a.live.Load())
}

// Purge wipes every memguard buffer in the process. Call on shutdown.
func Purge() {
	memguard.Purge()
}
