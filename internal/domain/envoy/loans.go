package envoy

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Loan records a buffer currently owned by the caller.
type Loan struct {
	Handle    Handle
	Buffer    Buffer
	MessageID uint32
	IssuedAt  time.Time
}

// LoanTracker is the set of outstanding loans. Membership is the only
// authority for whether a handle may be freed.
type LoanTracker struct {
	loans  sync.Map // Handle -> *Loan
	active atomic.Int64
}

// NewLoanTracker creates an empty tracker.
func NewLoanTracker() *LoanTracker {
	return &LoanTracker{}
}

// Issue records a loan. It reports false if the handle is already on loan,
// which would mean the allocator returned a live address twice.
func (t *LoanTracker) Issue(loan *Loan) bool {
	if _, loaded := t.loans.LoadOrStore(loan.Handle, loan); loaded {
		return false
	}
	t.active.Add(1)
	return true
}

// Redeem atomically removes and returns the loan for h. Exactly one of any
// number of concurrent Redeem calls for the same handle succeeds.
func (t *LoanTracker) Redeem(h Handle) (*Loan, bool) {
	v, ok := t.loans.LoadAndDelete(h)
	if !ok {
		return nil, false
	}
	t.active.Add(-1)
	return v.(*Loan), true
}

// Contains reports whether h is currently on loan.
func (t *LoanTracker) Contains(h Handle) bool {
	_, ok := t.loans.Load(h)
	return ok
}

// Len returns the number of outstanding loans.
func (t *LoanTracker) Len() int {
	return int(t.active.Load())
}

// Outstanding returns the current loans, oldest first.
func (t *LoanTracker) Outstanding() []Loan {
	var out []Loan
	t.loans.Range(func(_, v any) bool {
		out = append(out, *v.(*Loan))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}
