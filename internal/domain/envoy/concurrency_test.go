package envoy

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentSubmitsWithinCapacityNeverFull(t *testing.T) {
	const callers, perCaller = 16, 50
	b, _ := newTestBridge(t, WithMaxQueueDepth(callers*perCaller))

	var (
		full atomic.Int64
		wg   sync.WaitGroup
	)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				id := uint32(c*perCaller + i + 1)
				if err := b.Submit(id, []byte(fmt.Sprintf("p%d", id))); err != nil {
					full.Add(1)
				}
			}
		}(c)
	}
	wg.Wait()

	assert.Zero(t, full.Load())
	stats := b.Stats()
	assert.Equal(t, callers*perCaller, stats.Incoming.Depth)
	assert.Equal(t, callers*perCaller, stats.Outgoing.Depth)
}

func TestConcurrentOverloadStaysBounded(t *testing.T) {
	const depth, callers, perCaller = 32, 16, 40
	b, _ := newTestBridge(t, WithMaxQueueDepth(depth))

	var (
		accepted atomic.Int64
		wg       sync.WaitGroup
	)
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				err := b.Submit(uint32(c*perCaller+i+1), []byte("x"))
				if err == nil {
					accepted.Add(1)
					continue
				}
				assert.ErrorIs(t, err, ErrQueueFull)
			}
		}(c)
	}
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, int64(depth), accepted.Load())
	assert.Equal(t, depth, stats.Incoming.Depth)
	assert.Equal(t, depth, stats.Outgoing.Depth)

	received := 0
	for {
		if _, ok := b.Receive(); !ok {
			break
		}
		received++
	}
	assert.Equal(t, depth, received, "every accepted submit left exactly one inbound record")
}

func TestConcurrentRetrieveRelease(t *testing.T) {
	const total = 2000
	alloc := NewHeapAllocator()
	b, rec := newTestBridge(t, WithMaxQueueDepth(total), WithAllocator(alloc))

	for i := 1; i <= total; i++ {
		require.NoError(t, b.Submit(uint32(i), []byte(fmt.Sprintf("m%d", i))))
	}

	var (
		retrieved atomic.Int64
		seen      sync.Map
		wg        sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				buf, ok := b.Retrieve()
				if !ok {
					return
				}
				retrieved.Add(1)
				_, dup := seen.LoadOrStore(buf.String(), struct{}{})
				assert.False(t, dup, "record %q delivered twice", buf.String())

				h := buf.Handle()
				assert.NoError(t, b.Release(h))
				// A racing double release must be caught, never freed twice.
				assert.ErrorIs(t, b.Release(h), ErrUnknownHandle)
				// Keep the freed buffer reachable so its address cannot be
				// reused by another worker's loan before the second release.
				runtime.KeepAlive(buf)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(total), retrieved.Load())
	assert.Equal(t, 0, alloc.Live())
	assert.Equal(t, 0, b.Registry().Loans.Len())
	assert.Equal(t, total, rec.count(EventReleaseViolation))
}

func TestConcurrentDoubleReleaseSameHandle(t *testing.T) {
	alloc := NewHeapAllocator()
	b, _ := newTestBridge(t, WithAllocator(alloc))
	require.NoError(t, b.Submit(1, []byte("x")))
	buf, ok := b.Retrieve()
	require.True(t, ok)

	var (
		freed atomic.Int32
		wg    sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Release(buf.Handle()) == nil {
				freed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), freed.Load())
	assert.Equal(t, 0, alloc.Live())
	assert.Equal(t, uint64(15), b.Stats().Violations)
}
