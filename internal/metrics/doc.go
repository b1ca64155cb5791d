// Package metrics collects per-service routing metrics.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Request counts per service and outcome
//   - Forward durations with percentiles (P50, P95, P99)
//   - Backend status code distribution
//   - Backend health and circuit breaker state
//
// The collector runs in a dedicated goroutine. Events are sent with
// non-blocking semantics so a full buffer drops events instead of slowing the
// request path. Every event feeds both an in-memory store, served as JSON on
// /stats, and a private Prometheus registry, served on /metrics.
//
// Example usage:
//
//	collector := metrics.NewCollector(1024, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseCompleted,
//		Service:    "orchestrator",
//		Outcome:    "ok",
//		Duration:   150 * time.Millisecond,
//		StatusCode: 200,
//	})
//
//	snapshot := collector.Snapshot("round-robin")
package metrics
