package middleware_test

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/internal/middleware"
	"github.com/angeloszaimis/service-router/pkg/logger"
)

var _ = Describe("Middleware", func() {
	Describe("Chain", func() {
		It("should apply middleware outermost first", func() {
			var order []string
			mark := func(name string) middleware.Middleware {
				return func(next http.Handler) http.Handler {
					return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						order = append(order, name)
						next.ServeHTTP(w, r)
					})
				}
			}

			h := middleware.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				order = append(order, "handler")
			}), mark("a"), nil, mark("b"))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(order).To(Equal([]string{"a", "b", "handler"}))
		})
	})

	Describe("RequestID", func() {
		var (
			seenHeader string
			seenCtx    string
			h          http.Handler
		)

		BeforeEach(func() {
			seenHeader, seenCtx = "", ""
			h = middleware.RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenHeader = r.Header.Get(middleware.HeaderRequestID)
				seenCtx = logger.RequestID(r.Context())
			}))
		})

		It("should generate a UUIDv7 when absent", func() {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			id := rec.Header().Get(middleware.HeaderRequestID)
			parsed, err := uuid.Parse(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed.Version()).To(Equal(uuid.Version(7)))
			Expect(seenHeader).To(Equal(id))
			Expect(seenCtx).To(Equal(id))
		})

		It("should reuse a sane inbound ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(middleware.HeaderRequestID, "  abc-123  ")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(rec.Header().Get(middleware.HeaderRequestID)).To(Equal("abc-123"))
			Expect(seenHeader).To(Equal("abc-123"))
			Expect(seenCtx).To(Equal("abc-123"))
		})

		It("should truncate long IDs", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(middleware.HeaderRequestID, strings.Repeat("x", 200))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(rec.Header().Get(middleware.HeaderRequestID)).To(HaveLen(128))
		})

		It("should use the given generator", func() {
			h := middleware.RequestID(func() string { return "fixed" })(http.NotFoundHandler())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(rec.Header().Get(middleware.HeaderRequestID)).To(Equal("fixed"))
		})
	})

	Describe("Recoverer", func() {
		var (
			buf *bytes.Buffer
			log *slog.Logger
		)

		BeforeEach(func() {
			buf = &bytes.Buffer{}
			log = slog.New(slog.NewJSONHandler(buf, nil))
		})

		It("should turn a panic into a 500 JSON error", func() {
			h := middleware.Recoverer(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic("boom")
			}))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(Equal(map[string]string{"error": "Internal server error"}))
			Expect(buf.String()).To(ContainSubstring("boom"))
		})

		It("should re-raise http.ErrAbortHandler", func() {
			h := middleware.Recoverer(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				panic(http.ErrAbortHandler)
			}))

			Expect(func() {
				h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			}).To(PanicWith(http.ErrAbortHandler))
		})

		It("should pass through when nothing panics", func() {
			h := middleware.Recoverer(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(buf.Len()).To(BeZero())
		})
	})

	Describe("SecurityHeaders", func() {
		It("should add the default headers", func() {
			h := middleware.SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("ok"))
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(rec.Header().Get("X-Content-Type-Options")).To(Equal("nosniff"))
			Expect(rec.Header().Get("X-Frame-Options")).To(Equal("SAMEORIGIN"))
			Expect(rec.Header().Get("Referrer-Policy")).To(Equal("no-referrer"))
			Expect(rec.Header().Get("X-XSS-Protection")).To(Equal("0"))
			Expect(rec.Header().Get("Strict-Transport-Security")).To(BeEmpty())
		})

		It("should keep headers set by the inner handler", func() {
			h := middleware.SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-Frame-Options", "DENY")
				w.WriteHeader(http.StatusOK)
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(rec.Header().Values("X-Frame-Options")).To(Equal([]string{"DENY"}))
		})

		It("should add HSTS on TLS requests", func() {
			h := middleware.SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.TLS = &tls.ConnectionState{}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(rec.Header().Get("Strict-Transport-Security")).To(ContainSubstring("max-age="))
		})

		It("should stay reachable through a response controller", func() {
			h := middleware.SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				Expect(http.NewResponseController(w).Flush()).To(Succeed())
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			Expect(rec.Flushed).To(BeTrue())
			Expect(rec.Header().Get("X-Content-Type-Options")).To(Equal("nosniff"))
		})
	})

	Describe("CORS", func() {
		var (
			called bool
			h      http.Handler
		)

		BeforeEach(func() {
			called = false
			h = middleware.CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
		})

		It("should answer preflight requests itself", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/orchestrator/x", nil)
			req.Header.Set("Origin", "http://app.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(called).To(BeFalse())
			Expect(rec.Code).To(BeNumerically("<", 300))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(rec.Header().Get("Access-Control-Allow-Methods")).To(Equal(http.MethodPost))
		})

		It("should add CORS headers to actual requests", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set("Origin", "http://app.example")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(called).To(BeTrue())
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should pass plain OPTIONS requests through", func() {
			req := httptest.NewRequest(http.MethodOptions, "/api/orchestrator/x", nil)
			h.ServeHTTP(httptest.NewRecorder(), req)
			Expect(called).To(BeTrue())
		})

		It("should restrict origins when configured", func() {
			h := middleware.CORS([]string{"http://allowed.example"})(http.NotFoundHandler())
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", "http://other.example")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})
	})
})
