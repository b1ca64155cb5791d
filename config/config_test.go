package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/config"
)

const validConfig = `
server:
  address: ":9090"
  environment: "prod"
  service_name: "edge-router"
  write_timeout: "20s"

logging:
  level: "warn"

routing:
  strategy: "least-conn"
  timeout: "5s"
  error_mode: "compat"

services:
  orchestrator: "http://localhost:8080"
  billing: "https://billing.internal/v1"

health_check:
  enabled: true
  interval: "3s"
`

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tempDir)).To(Succeed())
		DeferCleanup(os.Chdir, wd)

		for _, key := range []string{
			"ROUTER_CONFIG", "ROUTER_SERVICES", "PORT", "SERVER_ADDRESS",
			"LOG_LEVEL", "LOGGING_LEVEL", "ROUTING_STRATEGY", "ROUTING_TIMEOUT",
			"ROUTING_ERROR_MODE", "TRACING_ENDPOINT",
		} {
			if prev, ok := os.LookupEnv(key); ok {
				DeferCleanup(os.Setenv, key, prev)
				Expect(os.Unsetenv(key)).To(Succeed())
			}
		}
	})

	Describe("Load", func() {
		Context("without a config file", func() {
			It("should use defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal(":8082"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Server.ServiceName).To(Equal("router"))
				Expect(cfg.Server.ReadTimeout).To(Equal(15 * time.Second))
				Expect(cfg.Server.WriteTimeout).To(Equal(45 * time.Second))
				Expect(cfg.Server.ShutdownTimeout).To(Equal(35 * time.Second))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
				Expect(cfg.Routing.Strategy).To(Equal("round-robin"))
				Expect(cfg.Routing.Timeout).To(Equal(30 * time.Second))
				Expect(cfg.Routing.ErrorMode).To(Equal(config.ErrorModePrecise))
				Expect(cfg.Services).To(Equal(config.DefaultServices()))
				Expect(cfg.HealthCheck.Enabled).To(BeFalse())
				Expect(cfg.CircuitBreaker.Enabled).To(BeFalse())
				Expect(cfg.CircuitBreaker.Threshold).To(Equal(5))
				Expect(cfg.CORS.AllowedOrigins).To(Equal([]string{"*"}))
				Expect(cfg.Security.Headers).To(BeTrue())
				Expect(cfg.Metrics.Enabled).To(BeTrue())
				Expect(cfg.Metrics.BufferSize).To(Equal(1024))
				Expect(cfg.Tracing.Endpoint).To(BeEmpty())
				Expect(cfg.ConfigFile()).To(BeEmpty())
			})

			It("should honour the conventional environment variables", func() {
				GinkgoT().Setenv("PORT", "3000")
				GinkgoT().Setenv("LOG_LEVEL", "debug")
				GinkgoT().Setenv("ROUTING_STRATEGY", "random")
				GinkgoT().Setenv("TRACING_ENDPOINT", "http://collector:4318")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":3000"))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
				Expect(cfg.Routing.Strategy).To(Equal("random"))
				Expect(cfg.Tracing.Endpoint).To(Equal("http://collector:4318"))
			})

			It("should prefer SERVER_ADDRESS over PORT", func() {
				GinkgoT().Setenv("PORT", "3000")
				GinkgoT().Setenv("SERVER_ADDRESS", "127.0.0.1:4000")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal("127.0.0.1:4000"))
			})

			It("should merge ROUTER_SERVICES over the defaults", func() {
				GinkgoT().Setenv("ROUTER_SERVICES", "orchestrator=http://localhost:9001, billing=http://localhost:9002")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Services).To(HaveKeyWithValue("orchestrator", "http://localhost:9001"))
				Expect(cfg.Services).To(HaveKeyWithValue("billing", "http://localhost:9002"))
				Expect(cfg.Services).To(HaveKeyWithValue("memory-service", "http://memory-service:8083"))
			})
		})

		Context("with a valid config file", func() {
			BeforeEach(func() {
				writeConfig(validConfig)
			})

			It("should load the file from the working directory", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.ConfigFile()).To(HaveSuffix("config.yaml"))
				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvProd))
				Expect(cfg.Server.ServiceName).To(Equal("edge-router"))
				Expect(cfg.Server.WriteTimeout).To(Equal(20 * time.Second))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelWarn))
				Expect(cfg.Routing.Strategy).To(Equal("least-conn"))
				Expect(cfg.Routing.Timeout).To(Equal(5 * time.Second))
				Expect(cfg.Routing.ErrorMode).To(Equal(config.ErrorModeCompat))
				Expect(cfg.HealthCheck.Enabled).To(BeTrue())
				Expect(cfg.HealthCheck.Interval).To(Equal(3 * time.Second))
			})

			It("should replace the default registry", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Services).To(Equal(map[string]string{
					"orchestrator": "http://localhost:8080",
					"billing":      "https://billing.internal/v1",
				}))
			})

			It("should let the environment override the file", func() {
				GinkgoT().Setenv("ROUTING_TIMEOUT", "2s")
				GinkgoT().Setenv("ROUTER_SERVICES", "billing=http://localhost:7000")

				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Routing.Timeout).To(Equal(2 * time.Second))
				Expect(cfg.Services).To(HaveKeyWithValue("billing", "http://localhost:7000"))
				Expect(cfg.Services).To(HaveKeyWithValue("orchestrator", "http://localhost:8080"))
			})
		})

		It("should read the file named by ROUTER_CONFIG", func() {
			other := filepath.Join(GinkgoT().TempDir(), "router.yaml")
			Expect(os.WriteFile(other, []byte("server:\n  service_name: \"named\"\n"), 0o644)).To(Succeed())
			GinkgoT().Setenv("ROUTER_CONFIG", other)

			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.ServiceName).To(Equal("named"))
			Expect(cfg.ConfigFile()).To(Equal(other))
		})

		DescribeTable("rejecting invalid configuration",
			func(content string) {
				writeConfig(content)
				cfg, err := config.Load()
				Expect(err).To(HaveOccurred())
				Expect(cfg).To(BeNil())
			},
			Entry("bad environment", "server:\n  environment: \"qa\"\n"),
			Entry("bad address", "server:\n  address: \"not-an-address\"\n"),
			Entry("bad log level", "logging:\n  level: \"verbose\"\n"),
			Entry("bad error mode", "routing:\n  error_mode: \"strict\"\n"),
			Entry("unparsable duration", "routing:\n  timeout: \"soon\"\n"),
			Entry("write timeout not above routing timeout", "server:\n  write_timeout: \"30s\"\n"),
			Entry("bad service name", "services:\n  Bad.Name: \"http://localhost:1\"\n"),
			Entry("service name with a leading dash", "services:\n  -svc: \"http://localhost:1\"\n"),
			Entry("relative service URL", "services:\n  svc: \"/just/a/path\"\n"),
			Entry("unsupported scheme", "services:\n  svc: \"ftp://files:21\"\n"),
			Entry("service URL with a query", "services:\n  svc: \"http://localhost:1/?a=b\"\n"),
			Entry("service URL with a fragment", "services:\n  svc: \"http://localhost:1/#top\"\n"),
			Entry("enabled breaker without threshold", "circuit_breaker:\n  enabled: true\n  threshold: 0\n"),
			Entry("enabled metrics without buffer", "metrics:\n  enabled: true\n  buffer_size: 0\n"),
			Entry("bad tracing endpoint", "tracing:\n  endpoint: \"not a url\"\n"),
			Entry("malformed yaml", "server: [\n"),
		)

		DescribeTable("accepting bare host:port services",
			func(content, name, raw string) {
				writeConfig(content)
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Services).To(HaveKeyWithValue(name, raw))
			},
			Entry("host and port", "services:\n  orchestrator: \"localhost:9001\"\n", "orchestrator", "localhost:9001"),
			Entry("ip and port", "services:\n  broker: \"10.0.0.7:8081\"\n", "broker", "10.0.0.7:8081"),
		)

		It("should accept a bare host:port from ROUTER_SERVICES", func() {
			GinkgoT().Setenv("ROUTER_SERVICES", "memory-service=memory:8083")
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Services).To(HaveKeyWithValue("memory-service", "memory:8083"))
		})

		It("should reject a malformed ROUTER_SERVICES entry", func() {
			GinkgoT().Setenv("ROUTER_SERVICES", "orchestrator")
			_, err := config.Load()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("WatchServices", func() {
		It("should fail without a config file", func() {
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.WatchServices(slog.New(slog.NewTextHandler(io.Discard, nil)), func(map[string]string) {})).
				To(MatchError(config.ErrNoConfigFile))
		})

		It("should report valid edits and skip invalid ones", func() {
			path := writeConfig(validConfig)
			cfg, err := config.Load()
			Expect(err).NotTo(HaveOccurred())

			var (
				mu      sync.Mutex
				updates []map[string]string
			)
			Expect(cfg.WatchServices(slog.New(slog.NewTextHandler(io.Discard, nil)), func(s map[string]string) {
				mu.Lock()
				defer mu.Unlock()
				updates = append(updates, s)
			})).To(Succeed())

			latest := func() map[string]string {
				mu.Lock()
				defer mu.Unlock()
				if len(updates) == 0 {
					return nil
				}
				return updates[len(updates)-1]
			}

			Expect(os.WriteFile(path, []byte("services:\n  Bad.Name: \"http://x\"\n"), 0o644)).To(Succeed())
			Consistently(latest, 300*time.Millisecond).Should(BeNil())

			Expect(os.WriteFile(path, []byte("services:\n  fresh: \"http://localhost:7777\"\n"), 0o644)).To(Succeed())
			Eventually(latest, 2*time.Second).Should(Equal(map[string]string{"fresh": "http://localhost:7777"}))
		})
	})
})
