package config

import (
	"net"
	"net/url"
	"regexp"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/service-router/internal/registry"
)

var serviceNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ServiceName, validation.Required),
					validation.Field(&sc.ReadTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&sc.WriteTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&sc.IdleTimeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&sc.ShutdownTimeout, validation.Required, validation.Min(time.Millisecond)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Routing,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RoutingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RoutingConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Strategy, validation.Required),
					validation.Field(&rc.Timeout, validation.Required, validation.Min(time.Millisecond)),
					validation.Field(&rc.ErrorMode,
						validation.Required,
						validation.In(ErrorModePrecise, ErrorModeCompat),
					),
				)
			}),
		),
		validation.Field(&c.Services,
			validation.Required,
			validation.Length(1, 0),
			validation.By(validateServices),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.When(hc.Enabled, validation.Required, validation.Min(10*time.Millisecond)),
					),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.Threshold,
						validation.When(cb.Enabled, validation.Required, validation.Min(1)),
					),
					validation.Field(&cb.Timeout,
						validation.When(cb.Enabled, validation.Required, validation.Min(time.Millisecond)),
					),
				)
			}),
		),
		validation.Field(&c.CORS,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CORSConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CORSConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.AllowedOrigins, validation.Each(validation.Required)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize,
						validation.When(mc.Enabled, validation.Required, validation.Min(1)),
					),
				)
			}),
		),
		validation.Field(&c.Tracing,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TracingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TracingConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Endpoint, is.URL),
				)
			}),
		),
	)
	if err != nil {
		return err
	}

	if c.Server.WriteTimeout <= c.Routing.Timeout {
		return validation.Errors{
			"server": validation.Errors{
				"write_timeout": validation.NewError("validation_write_timeout",
					"must be greater than routing.timeout"),
			},
		}
	}

	return nil
}

func validateServices(value interface{}) error {
	services, ok := value.(map[string]string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a map of service names to URLs")
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := validation.Errors{}
	for _, name := range names {
		if !serviceNameRe.MatchString(name) {
			errs[name] = validation.NewError("validation_invalid_service_name",
				"service name must match "+serviceNameRe.String())
			continue
		}
		if err := validateServerURL(services[name]); err != nil {
			errs[name] = err
		}
	}

	return errs.Filter()
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}
	if err := is.Port.Validate(port); err != nil {
		return validation.NewError("validation_invalid_port", "invalid port")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "service URL cannot be empty")
	}

	parsedURL, err := url.Parse(registry.NormalizeBaseURL(serverURL))
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return validation.NewError("validation_url_query", "URL must not have a query or fragment")
	}

	return nil
}
