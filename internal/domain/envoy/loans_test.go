package envoy

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanTrackerIssueRedeem(t *testing.T) {
	tracker := NewLoanTracker()
	loan := &Loan{Handle: 0x1000, MessageID: 7, IssuedAt: time.Now()}

	require.True(t, tracker.Issue(loan))
	assert.False(t, tracker.Issue(loan), "same handle cannot be on loan twice")
	assert.True(t, tracker.Contains(0x1000))
	assert.Equal(t, 1, tracker.Len())

	got, ok := tracker.Redeem(0x1000)
	require.True(t, ok)
	assert.Same(t, loan, got)

	_, ok = tracker.Redeem(0x1000)
	assert.False(t, ok)
	assert.Equal(t, 0, tracker.Len())
	assert.False(t, tracker.Contains(0x1000))
}

func TestLoanTrackerConcurrentRedeemSucceedsOnce(t *testing.T) {
	tracker := NewLoanTracker()
	require.True(t, tracker.Issue(&Loan{Handle: 42}))

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tracker.Redeem(42); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, tracker.Len())
}

func TestLoanTrackerOutstandingOrder(t *testing.T) {
	tracker := NewLoanTracker()
	base := time.Now()
	tracker.Issue(&Loan{Handle: 3, IssuedAt: base.Add(2 * time.Second)})
	tracker.Issue(&Loan{Handle: 1, IssuedAt: base})
	tracker.Issue(&Loan{Handle: 2, IssuedAt: base.Add(time.Second)})

	out := tracker.Outstanding()
	require.Len(t, out, 3)
	assert.Equal(t, []Handle{1, 2, 3}, []Handle{out[0].Handle, out[1].Handle, out[2].Handle})
}

func TestHeapAllocator(t *testing.T) {
	alloc := NewHeapAllocator()

	buf, err := alloc.Allocate("Ack: Hello")
	require.NoError(t, err)
	assert.Equal(t, "Ack: Hello", buf.String())
	assert.Equal(t, 10, buf.Len())
	assert.NotZero(t, buf.Handle())
	assert.Equal(t, 1, alloc.Live())

	empty, err := alloc.Allocate("")
	require.NoError(t, err)
	assert.NotEqual(t, buf.Handle(), empty.Handle())

	alloc.Free(buf)
	alloc.Free(empty)
	assert.Equal(t, 0, alloc.Live())
	assert.Panics(t, func() { alloc.Free(buf) })
}
