//go:build ignore

// Loadtest drives concurrent traffic through the router and reports status
// codes and latency percentiles per routed service.
//
// Usage:
//
//	go run loadtest.go -router http://localhost:8082 -services orchestrator,memory-service -requests 2000
//	go run loadtest.go -services orchestrator,unknown -concurrency 50 -out summary.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type serviceStats struct {
	mu        sync.Mutex
	codes     map[int]int
	errors    int
	latencies []time.Duration
}

func (s *serviceStats) record(code int, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if err != nil {
		s.errors++
		return
	}
	s.codes[code]++
}

// Summary is the JSON report for one service.
type Summary struct {
	Requests    int            `json:"requests"`
	Errors      int            `json:"transport_errors"`
	StatusCodes map[string]int `json:"status_codes"`
	P50         float64        `json:"p50_ms"`
	P90         float64        `json:"p90_ms"`
	P99         float64        `json:"p99_ms"`
	Max         float64        `json:"max_ms"`
}

func (s *serviceStats) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Requests:    len(s.latencies),
		Errors:      s.errors,
		StatusCodes: make(map[string]int, len(s.codes)),
	}
	for code, n := range s.codes {
		sum.StatusCodes[fmt.Sprint(code)] = n
	}

	if len(s.latencies) == 0 {
		return sum
	}

	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	ms := func(p float64) float64 {
		d := sorted[int(float64(len(sorted)-1)*p)]
		return float64(d.Microseconds()) / 1000
	}
	sum.P50, sum.P90, sum.P99, sum.Max = ms(0.50), ms(0.90), ms(0.99), ms(1)
	return sum
}

func main() {
	router := flag.String("router", "http://localhost:8082", "router base URL")
	services := flag.String("services", "orchestrator,context-broker,memory-service", "comma separated service names")
	path := flag.String("path", "/load", "path requested under /api/{service}")
	method := flag.String("method", http.MethodPost, "HTTP method")
	body := flag.String("body", `{"probe":true}`, "request body")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	requests := flag.Int("requests", 1000, "total number of requests")
	timeout := flag.Duration("timeout", 35*time.Second, "client timeout")
	outJSON := flag.String("out", "", "write a JSON summary to this file")
	flag.Parse()

	names := strings.Split(*services, ",")
	stats := make(map[string]*serviceStats, len(names))
	for _, name := range names {
		stats[name] = &serviceStats{codes: make(map[int]int)}
	}

	client := &http.Client{Timeout: *timeout}
	jobs := make(chan int)
	var sent atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				name := names[idx%len(names)]
				url := fmt.Sprintf("%s/api/%s%s", *router, name, *path)

				req, err := http.NewRequest(*method, url, bytes.NewBufferString(*body))
				if err != nil {
					stats[name].record(0, 0, err)
					continue
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Request-ID", fmt.Sprintf("loadtest-%d", idx))

				began := time.Now()
				resp, err := client.Do(req)
				sent.Add(1)
				if err != nil {
					stats[name].record(0, time.Since(began), err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats[name].record(resp.StatusCode, time.Since(began), nil)
			}
		}()
	}

	for i := range *requests {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("Sent %d requests in %v (%.1f req/s)\n", sent.Load(), elapsed, float64(sent.Load())/elapsed.Seconds())

	report := make(map[string]Summary, len(names))
	sort.Strings(names)
	failed := false
	for _, name := range names {
		s := stats[name].summary()
		report[name] = s

		fmt.Printf("\n%s: requests=%d transport_errors=%d p50=%.1fms p90=%.1fms p99=%.1fms max=%.1fms\n",
			name, s.Requests, s.Errors, s.P50, s.P90, s.P99, s.Max)

		codes := make([]string, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Printf("  %s -> %d\n", code, s.StatusCodes[code])
			if code >= "500" {
				failed = true
			}
		}
		if s.Errors > 0 {
			failed = true
		}
	}

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failed {
		os.Exit(2)
	}
}
