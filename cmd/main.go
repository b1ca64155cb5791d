package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/service-router/config"
	"github.com/angeloszaimis/service-router/internal/backend"
	"github.com/angeloszaimis/service-router/internal/circuitbreaker"
	"github.com/angeloszaimis/service-router/internal/handler"
	"github.com/angeloszaimis/service-router/internal/healthcheck"
	"github.com/angeloszaimis/service-router/internal/httpserver"
	"github.com/angeloszaimis/service-router/internal/metrics"
	"github.com/angeloszaimis/service-router/internal/proxy"
	"github.com/angeloszaimis/service-router/internal/registry"
	"github.com/angeloszaimis/service-router/internal/tracing"
	"github.com/angeloszaimis/service-router/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment, cfg.Server.ServiceName)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Router stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

// app holds the wired components of a running router.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	registry  *registry.Registry
	breakers  *circuitbreaker.Registry
	collector *metrics.Collector
	checker   *healthcheck.Checker
	route     *handler.RouteHandler
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	reg, err := registry.New(cfg.Services)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: reg}

	var opts []handler.Option

	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(cfg.Metrics.BufferSize, log)
		opts = append(opts, handler.WithCollector(a.collector))
	}

	if cfg.CircuitBreaker.Enabled {
		a.breakers = circuitbreaker.NewRegistry(
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.Timeout,
			log,
			circuitbreaker.WithStateCallback(func(service string, _, to circuitbreaker.State) {
				a.collector.Emit(metrics.MetricEvent{
					Type:    metrics.EventCircuitChanged,
					Service: service,
					Circuit: to.String(),
				})
			}),
		)
		opts = append(opts, handler.WithBreakers(a.breakers))
	}

	if cfg.HealthCheck.Enabled {
		a.checker = healthcheck.New(reg, cfg.HealthCheck.Interval, log,
			healthcheck.WithOnChange(func(b *backend.Backend, healthy bool) {
				a.collector.Emit(metrics.MetricEvent{
					Type:    metrics.EventHealthChanged,
					Service: b.Name(),
					Healthy: healthy,
				})
			}),
		)
	}

	opts = append(opts, handler.WithCompatErrors(cfg.Routing.ErrorMode == config.ErrorModeCompat))

	fwd := proxy.NewForwarder(
		proxy.WithTimeout(cfg.Routing.Timeout),
		proxy.WithLogger(log),
	)
	a.route = handler.NewRouteHandler(log, reg, fwd, opts...)

	return a, nil
}

// applyServices swaps in a new registry and drops breaker state for services
// that were removed or now point elsewhere.
func (a *app) applyServices(services map[string]string) {
	change, err := a.registry.Replace(services)
	if err != nil {
		a.log.Error("Rejected service registry update", slog.Any("err", err))
		return
	}
	if change.Empty() {
		return
	}

	if a.breakers != nil {
		a.breakers.Forget(change.Removed...)
		a.breakers.Forget(change.Updated...)
	}

	a.log.Info("Service registry updated",
		slog.Any("added", change.Added),
		slog.Any("removed", change.Removed),
		slog.Any("updated", change.Updated),
		slog.Int("services", a.registry.Len()))
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing.Endpoint, cfg.Server.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("Failed to flush traces", slog.Any("err", err))
		}
	}()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	if a.collector != nil {
		a.collector.Start(workCtx)
	}
	if a.checker != nil {
		go a.checker.Run(workCtx)
	}

	if cfg.Routing.WatchConfig {
		err := cfg.WatchServices(log, a.applyServices)
		switch {
		case errors.Is(err, config.ErrNoConfigFile):
			log.Warn("Config watch requested but no config file was loaded")
		case err != nil:
			return err
		}
	}

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(a), httpserver.Options{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Router listening",
		slog.String("addr", srv.Addr()),
		slog.Int("services", a.registry.Len()),
		slog.String("error_mode", cfg.Routing.ErrorMode),
		slog.Duration("timeout", cfg.Routing.Timeout))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			return err
		}
	}

	stopWork()
	if a.collector != nil {
		<-a.collector.Done()
	}

	return nil
}
