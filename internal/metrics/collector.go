package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventRequestReceived   EventType = "request_received"
	EventResponseCompleted EventType = "response_completed"
	EventHealthChanged     EventType = "health_changed"
	EventCircuitChanged    EventType = "circuit_changed"
)

// UnknownService labels requests whose service name did not resolve, keeping
// arbitrary caller input out of metric labels.
const UnknownService = "_unknown"

// MetricEvent is one observation sent to the collector.
type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Service    string
	Outcome    string
	Duration   time.Duration
	StatusCode int
	Healthy    bool
	// Circuit is the breaker state name for EventCircuitChanged.
	Circuit string
}

type Collector struct {
	eventCh    chan MetricEvent
	metrics    *Metrics
	prometheus *Prometheus
	logger     *slog.Logger
	done       chan struct{}
	once       sync.Once
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	if bufferSize < 1 {
		bufferSize = 1
	}

	return &Collector{
		eventCh:    make(chan MetricEvent, bufferSize),
		metrics:    NewMetrics(),
		prometheus: NewPrometheus(),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues an event without blocking. It is a no-op on a nil collector and
// drops the event when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.prometheus.dropped.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained its queue after shutdown.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer c.once.Do(func() { close(c.done) })

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests(event.Service)

	case EventResponseCompleted:
		c.metrics.RecordResponse(event.Service, event.Outcome, event.Duration, event.StatusCode)
		c.prometheus.observeResponse(event)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Service, event.Healthy)
		c.prometheus.setHealth(event.Service, event.Healthy)

	case EventCircuitChanged:
		c.metrics.UpdateCircuitState(event.Service, event.Circuit)
		c.prometheus.setCircuit(event.Service, event.Circuit)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}

// Prometheus returns the collector's private Prometheus registry wrapper.
func (c *Collector) Prometheus() *Prometheus {
	return c.prometheus
}
