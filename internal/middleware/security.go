package middleware

import (
	"net/http"
)

var defaultSecurityHeaders = [][2]string{
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "SAMEORIGIN"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

const hstsValue = "max-age=15552000; includeSubDomains"

// SecurityHeaders adds a fixed set of response security headers. Headers
// already present when the response is written, for example from a relayed
// backend response, are left alone.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&securityWriter{ResponseWriter: w, tls: r.TLS != nil}, r)
		})
	}
}

type securityWriter struct {
	http.ResponseWriter
	tls     bool
	applied bool
}

func (sw *securityWriter) apply() {
	if sw.applied {
		return
	}
	sw.applied = true

	h := sw.ResponseWriter.Header()
	for _, kv := range defaultSecurityHeaders {
		if h.Get(kv[0]) == "" {
			h.Set(kv[0], kv[1])
		}
	}
	if sw.tls && h.Get("Strict-Transport-Security") == "" {
		h.Set("Strict-Transport-Security", hstsValue)
	}
}

func (sw *securityWriter) WriteHeader(code int) {
	sw.apply()
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *securityWriter) Write(b []byte) (int, error) {
	sw.apply()
	return sw.ResponseWriter.Write(b)
}

func (sw *securityWriter) Flush() {
	sw.apply()
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *securityWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
