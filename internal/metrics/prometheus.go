package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "router"

// Prometheus holds the router's metric vectors on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	healthy  *prometheus.GaugeVec
	circuit  *prometheus.GaugeVec
	dropped  prometheus.Counter
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routed requests by service, outcome and relayed status code.",
		}, []string{"service", "outcome", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time spent forwarding a request to its backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 if the last health probe of the service succeeded.",
		}, []string{"service"}),
		circuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state per service (0 closed, 1 half-open, 2 open).",
		}, []string{"service"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_dropped_total",
			Help:      "Metric events dropped because the collector buffer was full.",
		}),
	}

	p.registry.MustRegister(
		p.requests,
		p.duration,
		p.healthy,
		p.circuit,
		p.dropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return p
}

// Registry exposes the private registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) observeResponse(event MetricEvent) {
	code := ""
	if event.StatusCode != 0 {
		code = strconv.Itoa(event.StatusCode)
	}

	p.requests.WithLabelValues(event.Service, event.Outcome, code).Inc()
	p.duration.WithLabelValues(event.Service, event.Outcome).Observe(event.Duration.Seconds())
}

func (p *Prometheus) setHealth(service string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	p.healthy.WithLabelValues(service).Set(v)
}

func (p *Prometheus) setCircuit(service, state string) {
	v := 0.0
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	p.circuit.WithLabelValues(service).Set(v)
}
