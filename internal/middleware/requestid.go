package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angeloszaimis/service-router/pkg/logger"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// IDGenerator returns a new request ID.
type IDGenerator func() string

// NewUUIDv7 generates a time-ordered UUID and falls back to a random one.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func normalizeRequestID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return ""
	}
	if len(v) > maxRequestIDLen {
		v = v[:maxRequestIDLen]
	}
	return v
}

// RequestID reuses a sane inbound X-Request-ID or generates one. The ID is
// echoed to the caller, forwarded to backends and stored in the context.
func RequestID(gen IDGenerator) Middleware {
	if gen == nil {
		gen = NewUUIDv7
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := normalizeRequestID(r.Header.Get(HeaderRequestID))
			if id == "" {
				id = gen()
			}

			r.Header.Set(HeaderRequestID, id)
			w.Header().Set(HeaderRequestID, id)

			next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
		})
	}
}
