package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angeloszaimis/service-router/internal/backend"
	"github.com/angeloszaimis/service-router/internal/circuitbreaker"
	"github.com/angeloszaimis/service-router/internal/metrics"
	"github.com/angeloszaimis/service-router/internal/proxy"
)

// StatusClientClosedRequest is logged when the caller disconnects before the
// backend answers. It is never written.
const StatusClientClosedRequest = 499

const (
	msgServiceNotFound    = "Service not found"
	msgServiceUnavailable = "Service unavailable"
)

const outcomeOK = "ok"

// Resolver looks up the backend registered under a logical service name.
type Resolver interface {
	Lookup(name string) (*backend.Backend, bool)
}

type RouteHandler struct {
	logger    *slog.Logger
	resolver  Resolver
	forwarder *proxy.Forwarder
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	compat    bool
}

// Option configures a RouteHandler.
type Option func(*RouteHandler)

// WithBreakers routes every forward through the per-service circuit breakers.
func WithBreakers(r *circuitbreaker.Registry) Option {
	return func(h *RouteHandler) {
		h.breakers = r
	}
}

// WithCollector emits a metrics event per routed request.
func WithCollector(c *metrics.Collector) Option {
	return func(h *RouteHandler) {
		h.collector = c
	}
}

// WithCompatErrors answers every backend failure with 500 instead of
// 502, 503 or 504.
func WithCompatErrors(compat bool) Option {
	return func(h *RouteHandler) {
		h.compat = compat
	}
}

func NewRouteHandler(logger *slog.Logger, resolver Resolver, forwarder *proxy.Forwarder, opts ...Option) *RouteHandler {
	h := &RouteHandler{
		logger:    logger,
		resolver:  resolver,
		forwarder: forwarder,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *RouteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name, rest := splitAPIPath(r.URL.EscapedPath())

	b, ok := h.resolver.Lookup(name)
	if !ok {
		err := proxy.NewForwardError(proxy.KindServiceNotFound, name, "", nil)
		status := h.respondError(w, err)
		h.finish(r, name, nil, status, time.Since(start), err)
		return
	}

	target := proxy.Target{
		Service: name,
		BaseURL: b.URL(),
		Path:    rest,
	}

	h.collector.Emit(metrics.MetricEvent{
		Type:    metrics.EventRequestReceived,
		Service: name,
	})

	b.BeginForward()
	defer func() {
		b.EndForward(time.Since(start))
	}()

	res, err := h.forward(w, r, target)

	status := res.StatusCode
	if err != nil && proxy.KindOf(err) != proxy.KindResponseAborted {
		status = h.respondError(w, err)
	}

	h.finish(r, name, b, status, time.Since(start), err)

	if proxy.KindOf(err) == proxy.KindResponseAborted {
		// truncated body: drop the connection
		panic(http.ErrAbortHandler)
	}
}

func (h *RouteHandler) forward(w http.ResponseWriter, r *http.Request, t proxy.Target) (proxy.Result, error) {
	if h.breakers == nil {
		return h.forwarder.Forward(w, r, t)
	}

	var (
		res        proxy.Result
		forwardErr error
	)

	err := h.breakers.Execute(t.Service, func() error {
		res, forwardErr = h.forwarder.Forward(w, r, t)
		// the caller leaving says nothing about the backend
		if proxy.KindOf(forwardErr) == proxy.KindClientCanceled {
			return nil
		}
		return forwardErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return res, proxy.NewForwardError(proxy.KindCircuitOpen, t.Service, t.URL(), err)
	}

	return res, forwardErr
}

// respondError writes the JSON error for err and returns the status the
// caller sees, or StatusClientClosedRequest when nothing was written.
func (h *RouteHandler) respondError(w http.ResponseWriter, err error) int {
	kind := proxy.KindOf(err)
	status := h.statusFor(kind)

	switch kind {
	case proxy.KindClientCanceled:
		return status
	case proxy.KindServiceNotFound:
		writeError(w, status, msgServiceNotFound)
	default:
		writeError(w, status, msgServiceUnavailable)
	}

	return status
}

func (h *RouteHandler) statusFor(kind proxy.Kind) int {
	switch kind {
	case proxy.KindServiceNotFound:
		return http.StatusNotFound
	case proxy.KindClientCanceled:
		return StatusClientClosedRequest
	}

	if h.compat {
		return http.StatusInternalServerError
	}

	switch kind {
	case proxy.KindBackendTimeout:
		return http.StatusGatewayTimeout
	case proxy.KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// finish writes the request's log line and metrics event.
func (h *RouteHandler) finish(r *http.Request, service string, b *backend.Backend, status int, elapsed time.Duration, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = proxy.KindOf(err).String()
	}

	attrs := []slog.Attr{
		slog.String("service", service),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
		slog.String("outcome", outcome),
	}
	if b != nil {
		attrs = append(attrs, slog.String("backend", b.URL().String()))
	}

	level := slog.LevelInfo
	switch proxy.KindOf(err) {
	case 0:
	case proxy.KindServiceNotFound, proxy.KindClientCanceled:
		level = slog.LevelWarn
	default:
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	h.logger.LogAttrs(r.Context(), level, "Routed request", attrs...)

	metricService := service
	if b == nil {
		metricService = metrics.UnknownService
	}

	event := metrics.MetricEvent{
		Type:     metrics.EventResponseCompleted,
		Service:  metricService,
		Outcome:  outcome,
		Duration: elapsed,
	}
	if err == nil {
		event.StatusCode = status
	}
	h.collector.Emit(event)
}

// splitAPIPath splits an escaped /api/{service}/{rest...} path into the
// decoded service name and the escaped rest, which always starts with "/".
// A service segment that does not decode to a plain name yields "", which
// no registry entry matches.
func splitAPIPath(escapedPath string) (service, rest string) {
	parts := strings.SplitN(escapedPath, "/", 4)
	if len(parts) < 3 {
		return "", "/"
	}

	service, err := url.PathUnescape(parts[2])
	if err != nil || strings.Contains(service, "/") {
		service = ""
	}

	return service, proxy.RestPath(escapedPath)
}
