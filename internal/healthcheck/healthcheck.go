package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/service-router/internal/backend"
)

const defaultProbeTimeout = 5 * time.Second

// Source lists the backends to probe. It is read on every round so registry
// reloads are picked up.
type Source interface {
	Snapshot() []*backend.Backend
}

// ChangeFunc is called when a backend's health flips.
type ChangeFunc func(b *backend.Backend, healthy bool)

type Checker struct {
	source   Source
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
	onChange ChangeFunc
}

// Option configures a Checker.
type Option func(*Checker)

// WithClient replaces the HTTP client used for probes.
func WithClient(c *http.Client) Option {
	return func(hc *Checker) {
		hc.client = c
	}
}

// WithOnChange registers a callback for health transitions.
func WithOnChange(fn ChangeFunc) Option {
	return func(hc *Checker) {
		hc.onChange = fn
	}
}

func New(source Source, interval time.Duration, logger *slog.Logger, opts ...Option) *Checker {
	hc := &Checker{
		source:   source,
		interval: interval,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		logger:   logger,
	}

	for _, opt := range opts {
		opt(hc)
	}

	return hc
}

// Run probes all backends every interval until ctx is done.
func (hc *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.logger.Info("Health checks started", slog.Duration("interval", hc.interval))

	for {
		select {
		case <-ctx.Done():
			hc.logger.Info("Health checks stopped")
			return

		case <-ticker.C:
			hc.CheckAll(ctx)
		}
	}
}

// CheckAll probes every backend concurrently and waits for the round to end.
func (hc *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range hc.source.Snapshot() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hc.Check(ctx, b)
		}()
	}
	wg.Wait()
}

// Check probes one backend and updates its health. It returns the probe result.
func (hc *Checker) Check(ctx context.Context, b *backend.Backend) bool {
	healthy := hc.probe(ctx, b)
	if ctx.Err() != nil {
		return healthy
	}

	if !b.SetHealthy(healthy) {
		return healthy
	}

	if healthy {
		hc.logger.Info("Service is back up",
			slog.String("service", b.Name()),
			slog.String("backend", b.URL().String()))
	} else {
		hc.logger.Warn("Service is down",
			slog.String("service", b.Name()),
			slog.String("backend", b.URL().String()))
	}

	if hc.onChange != nil {
		hc.onChange(b, healthy)
	}

	return healthy
}

func (hc *Checker) probe(ctx context.Context, b *backend.Backend) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, HealthURL(b), nil)
	if err != nil {
		return false
	}

	res, err := hc.client.Do(req)
	if err != nil {
		hc.logger.Debug("Health probe failed",
			slog.String("service", b.Name()),
			slog.Any("error", err))
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	return res.StatusCode == http.StatusOK
}

// HealthURL returns the probe URL for b, "/health" under its base path.
func HealthURL(b *backend.Backend) string {
	u := *b.URL()
	u.Path = strings.TrimSuffix(u.Path, "/") + "/health"
	u.RawPath = ""
	return u.String()
}
