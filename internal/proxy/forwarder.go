package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds a forward when no timeout is configured.
const DefaultTimeout = 30 * time.Second

const tracerName = "github.com/angeloszaimis/service-router/internal/proxy"

// Target is where a single request goes.
type Target struct {
	Service string
	BaseURL *url.URL
	// Path is the escaped remainder of the inbound path, e.g. "/widgets".
	Path string
}

// URL returns the outbound URL without query.
func (t Target) URL() string {
	u := *t.BaseURL
	u.Path, u.RawPath = joinPath(t.BaseURL, t.Path)
	return u.String()
}

// Result describes a relayed backend response.
type Result struct {
	StatusCode int
	Duration   time.Duration
}

// Forwarder relays requests to backends.
type Forwarder struct {
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
	prop      propagation.TextMapPropagator
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithTransport sets the round tripper used for outbound requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = rt
	}
}

// WithTimeout sets the per-forward time budget.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger that receives low-level proxy errors.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) {
		f.logger = l
	}
}

// WithTracerProvider sets the provider of forward spans. The global provider
// is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Forwarder) {
		f.tracer = tp.Tracer(tracerName)
	}
}

// WithPropagator sets the propagator that injects trace context into
// outbound headers. The global propagator is used otherwise.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(f *Forwarder) {
		f.prop = p
	}
}

// NewForwarder creates a Forwarder with a pooled transport and DefaultTimeout.
func NewForwarder(opts ...Option) *Forwarder {
	f := &Forwarder{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		prop:    otel.GetTextMapPropagator(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.transport == nil {
		f.transport = newTransport()
	}

	return f
}

// Timeout returns the per-forward time budget.
func (f *Forwarder) Timeout() time.Duration {
	return f.timeout
}

// Forward sends r to the target and streams the backend response to w.
//
// A nil error means a backend response was relayed, whatever its status. On a
// non-nil error nothing has been written to w, except for KindResponseAborted:
// the backend failed while its body was being streamed, the status and part
// of the body are already out, and the caller must abort the connection with
// panic(http.ErrAbortHandler) once it has recorded the request.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, t Target) (res Result, err error) {
	start := time.Now()
	parent := r.Context()

	ctx, cancel := context.WithTimeout(parent, f.timeout)
	defer cancel()

	target := t.URL()
	ctx, span := f.tracer.Start(ctx, "forward "+t.Service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("router.service", t.Service),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", target),
		),
	)
	defer span.End()

	var (
		status     int
		forwardErr error
	)

	// under a real server ReverseProxy panics with http.ErrAbortHandler when
	// the body copy fails
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p != http.ErrAbortHandler {
			panic(p)
		}

		res = Result{StatusCode: status, Duration: time.Since(start)}
		err = NewForwardError(KindResponseAborted, t.Service, target, http.ErrAbortHandler)
		span.SetStatus(codes.Error, KindResponseAborted.String())
	}()

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			rewrite(pr, t)
			f.prop.Inject(pr.Out.Context(), propagation.HeaderCarrier(pr.Out.Header))
		},
		Transport:     f.transport,
		FlushInterval: -1,
		ErrorLog:      slog.NewLogLogger(f.logger.Handler(), slog.LevelDebug),
		ModifyResponse: func(resp *http.Response) error {
			status = resp.StatusCode
			dropDuplicateCORS(w.Header(), resp.Header)
			return nil
		},
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			forwardErr = err
		},
	}

	rp.ServeHTTP(w, r.WithContext(ctx))

	res = Result{StatusCode: status, Duration: time.Since(start)}

	if forwardErr != nil {
		kind := classify(parent, ctx, forwardErr)
		span.RecordError(forwardErr)
		span.SetStatus(codes.Error, kind.String())
		return res, NewForwardError(kind, t.Service, target, forwardErr)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", status))
	return res, nil
}

func rewrite(pr *httputil.ProxyRequest, t Target) {
	out := pr.Out

	out.URL.Scheme = t.BaseURL.Scheme
	out.URL.Host = t.BaseURL.Host
	out.URL.Path, out.URL.RawPath = joinPath(t.BaseURL, t.Path)
	// RawQuery is already the inbound query.
	// empty Host makes the client use URL.Host
	out.Host = ""

	if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
		out.Header["X-Forwarded-For"] = prior
	}
	pr.SetXForwarded()
}

// dropDuplicateCORS removes backend CORS headers the router already set.
func dropDuplicateCORS(set http.Header, backend http.Header) {
	for key := range backend {
		if strings.HasPrefix(key, "Access-Control-") && set.Get(key) != "" {
			backend.Del(key)
		}
	}
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 32
	return t
}
