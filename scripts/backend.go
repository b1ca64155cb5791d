//go:build ignore

// Backend is a stand-in for one of the routed services (orchestrator,
// context-broker, memory-service) used when running the router locally.
//
// Usage:
//
//	go run backend.go -name orchestrator -port 8080
//	go run backend.go -name memory-service -port 8083 -delay 2s -fail-rate 0.1
//
// Every path echoes the request as JSON. /health answers 200 and
// /status/{code} answers with that status.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Echo is the body returned for every routed request.
type Echo struct {
	ID        string              `json:"id"`
	Service   string              `json:"service"`
	Method    string              `json:"method"`
	Path      string              `json:"path"`
	Query     string              `json:"query,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
	Forwarded map[string][]string `json:"forwarded,omitempty"`
	Body      string              `json:"body,omitempty"`
}

func main() {
	name := flag.String("name", "orchestrator", "service name reported in responses")
	port := flag.Int("port", 8080, "port to listen on")
	delay := flag.Duration("delay", 0, "artificial latency added to every response")
	failRate := flag.Float64("fail-rate", 0, "fraction of requests answered with 500")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("service", *name))

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status code", http.StatusBadRequest)
			return
		}
		w.WriteHeader(code)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		if *delay > 0 {
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				log.Warn("caller went away", slog.String("path", r.URL.Path))
				return
			}
		}

		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, `{"error":"injected failure"}`, http.StatusInternalServerError)
			return
		}

		forwarded := make(map[string][]string)
		for k, v := range r.Header {
			if strings.HasPrefix(k, "X-Forwarded-") {
				forwarded[k] = v
			}
		}

		echo := Echo{
			ID:        uuid.NewString(),
			Service:   *name,
			Method:    r.Method,
			Path:      r.URL.EscapedPath(),
			Query:     r.URL.RawQuery,
			RequestID: r.Header.Get("X-Request-ID"),
			Forwarded: forwarded,
			Body:      string(body),
		}

		log.Info("request",
			slog.String("method", r.Method),
			slog.String("path", echo.Path),
			slog.String("request_id", echo.RequestID))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echo)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("starting backend", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
