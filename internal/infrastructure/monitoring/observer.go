package monitoring

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

// loanClock remembers when each handle was issued so releases can be timed.
type loanClock struct {
	issued sync.Map // envoy.Handle -> time.Time
}

func (c *loanClock) start(h envoy.Handle, at time.Time) {
	c.issued.Store(h, at)
}

func (c *loanClock) stop(h envoy.Handle, at time.Time) (time.Duration, bool) {
	v, ok := c.issued.LoadAndDelete(h)
	if !ok {
		return 0, false
	}
	return at.Sub(v.(time.Time)), true
}

// Observe implements envoy.Observer.
func (m *Metrics) Observe(e envoy.Event) {
	switch e.Kind {
	case envoy.EventInitialized:
		m.RegistryCreatedAt.Set(float64(e.Time.UnixNano()) / 1e9)

	case envoy.EventSubmitAccepted:
		m.Submits.WithLabelValues(envoy.StatusSuccess.String()).Inc()
		m.PayloadBytes.Observe(float64(e.Size))

	case envoy.EventSubmitRejected:
		m.Submits.WithLabelValues(e.Status.String()).Inc()

	case envoy.EventRetrieved:
		m.Retrievals.Inc()
		m.issued.start(e.Handle, e.Time)

	case envoy.EventReleased:
		m.Releases.WithLabelValues("ok").Inc()
		if held, ok := m.issued.stop(e.Handle, e.Time); ok {
			m.LoanHoldDuration.Observe(held.Seconds())
		}

	case envoy.EventReleaseViolation:
		m.Releases.WithLabelValues("violation").Inc()

	case envoy.EventSent:
		m.Sends.Inc()

	case envoy.EventInternalFault:
		m.InternalFaults.Inc()
	}
}
