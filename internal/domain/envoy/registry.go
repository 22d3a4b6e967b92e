package envoy

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/shared/id"
)

// Queue names used in events, logs and metrics.
const (
	IncomingQueue = "incoming"
	OutgoingQueue = "outgoing"
)

// Registry is the shared state of an initialized bridge. Every field is set
// before the registry is published and never reassigned afterwards.
type Registry struct {
	ID        id.RegistryID
	CreatedAt time.Time
	Incoming  *BoundedQueue[Message]
	Outgoing  *BoundedQueue[Message]
	Loans     *LoanTracker
}

func newRegistry(depth int, now time.Time) (*Registry, error) {
	if depth < 1 {
		return nil, fmt.Errorf("max queue depth must be positive, got %d", depth)
	}
	return &Registry{
		ID:        id.NewRegistryID(),
		CreatedAt: now,
		Incoming:  NewBoundedQueue[Message](IncomingQueue, depth),
		Outgoing:  NewBoundedQueue[Message](OutgoingQueue, depth),
		Loans:     NewLoanTracker(),
	}, nil
}
