// Package circuitbreaker keeps one circuit breaker per routed service.
//
// Breakers are created lazily on first use and are backed by sony/gobreaker.
// A breaker opens after a run of consecutive failures, rejects calls while
// open, and lets a single probe through once the reset timeout has passed:
//
//   - CLOSED: calls pass through
//   - OPEN: calls are rejected with ErrOpen
//   - HALF-OPEN: one probe decides between CLOSED and OPEN
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second, logger)
//	err := registry.Execute("orchestrator", func() error {
//	    return forward()
//	})
//	if errors.Is(err, circuitbreaker.ErrOpen) {
//	    // rejected without calling forward
//	}
package circuitbreaker
