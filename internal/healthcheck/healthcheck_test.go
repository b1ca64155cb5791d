package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/internal/backend"
	"github.com/angeloszaimis/service-router/internal/healthcheck"
)

type staticSource []*backend.Backend

func (s staticSource) Snapshot() []*backend.Backend { return s }

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}

var _ = Describe("Healthcheck", func() {
	var (
		status  atomic.Int32
		probes  atomic.Int32
		mock    *httptest.Server
		b       *backend.Backend
		log     *slog.Logger
		changes []bool
		mu      sync.Mutex
		checker *healthcheck.Checker
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		status.Store(http.StatusOK)
		probes.Store(0)
		changes = nil

		mock = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				probes.Add(1)
				w.WriteHeader(int(status.Load()))
				_, _ = w.Write([]byte("OK"))
			}
		}))

		b = backend.New("orchestrator", mustParseURL(mock.URL))
		checker = healthcheck.New(staticSource{b}, 50*time.Millisecond, log,
			healthcheck.WithOnChange(func(_ *backend.Backend, healthy bool) {
				mu.Lock()
				defer mu.Unlock()
				changes = append(changes, healthy)
			}))
	})

	AfterEach(func() {
		mock.Close()
	})

	recorded := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), changes...)
	}

	Describe("Check", func() {
		It("should keep a healthy backend healthy without reporting a change", func() {
			Expect(checker.Check(context.Background(), b)).To(BeTrue())
			Expect(b.IsHealthy()).To(BeTrue())
			Expect(recorded()).To(BeEmpty())
		})

		It("should mark a failing backend unhealthy and report it", func() {
			status.Store(http.StatusServiceUnavailable)
			Expect(checker.Check(context.Background(), b)).To(BeFalse())
			Expect(b.IsHealthy()).To(BeFalse())
			Expect(recorded()).To(Equal([]bool{false}))
		})

		It("should report recovery", func() {
			b.SetHealthy(false)
			Expect(checker.Check(context.Background(), b)).To(BeTrue())
			Expect(recorded()).To(Equal([]bool{true}))
		})

		It("should mark an unreachable backend unhealthy", func() {
			dead := backend.New("memory-service", mustParseURL("http://127.0.0.1:1"))
			Expect(checker.Check(context.Background(), dead)).To(BeFalse())
			Expect(dead.IsHealthy()).To(BeFalse())
		})
	})

	Describe("Run", func() {
		It("should probe periodically until the context is cancelled", func() {
			b.SetHealthy(false)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				checker.Run(ctx)
			}()

			Eventually(b.IsHealthy).Should(BeTrue())
			Eventually(probes.Load).Should(BeNumerically(">=", 2))

			cancel()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("HealthURL", func() {
		DescribeTable("joins /health under the base path",
			func(base, want string) {
				Expect(healthcheck.HealthURL(backend.New("svc", mustParseURL(base)))).To(Equal(want))
			},
			Entry("host only", "http://orchestrator:8080", "http://orchestrator:8080/health"),
			Entry("base path", "http://gateway/v1", "http://gateway/v1/health"),
			Entry("trailing slash", "http://gateway/v1/", "http://gateway/v1/health"),
		)
	})
})
