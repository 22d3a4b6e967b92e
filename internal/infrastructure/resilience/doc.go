/*
Package resilience provides a circuit breaker for managed-side handlers.

# Overview

The dispatcher runs caller-submitted envoys through application handlers.
When a handler keeps failing, the breaker opens and inbound envoys are shed
instead of being fed into a broken handler; after Timeout a limited number of
trial calls decide whether to close again.

# States

  - Closed: calls pass through; consecutive failures are counted
  - Open: calls are rejected with ErrCircuitOpen until Timeout elapses
  - Half-Open: up to MaxRequests trial calls; one failure reopens

# Usage

	breaker := resilience.New("dispatch", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	err := breaker.Do(func() error { return handle(msg) })
*/
package resilience
