package metrics

import (
	"sort"
	"sync"
	"time"
)

const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	outcomes      map[string]map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	circuitState  map[string]string
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Uptime        string                    `json:"uptime"`
	Services      map[string]ServiceMetrics `json:"services"`
	Strategy      string                    `json:"strategy"`
}

type ServiceMetrics struct {
	Requests    int64            `json:"requests"`
	Outcomes    map[string]int64 `json:"outcomes,omitempty"`
	Healthy     *bool            `json:"healthy,omitempty"`
	Circuit     string           `json:"circuit,omitempty"`
	AvgResponse time.Duration    `json:"avg_response_ns"`
	P50Response time.Duration    `json:"p50_response_ns"`
	P95Response time.Duration    `json:"p95_response_ns"`
	P99Response time.Duration    `json:"p99_response_ns"`
	StatusCodes map[int]int64    `json:"status_codes,omitempty"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		outcomes:      make(map[string]map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		circuitState:  make(map[string]string),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(service string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[service]++
}

// RecordResponse records a finished route. Relayed responses carry their
// status code; router failures carry 0 and only count towards the outcome.
func (m *Metrics) RecordResponse(service, outcome string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if outcome != "" {
		if m.outcomes[service] == nil {
			m.outcomes[service] = make(map[string]int64)
		}
		m.outcomes[service][outcome]++
	}

	m.responseTimes[service] = append(m.responseTimes[service], duration)
	if len(m.responseTimes[service]) > maxSamples {
		m.responseTimes[service] = m.responseTimes[service][1:]
	}

	if statusCode == 0 {
		return
	}
	if m.statusCodes[service] == nil {
		m.statusCodes[service] = make(map[int]int64)
	}
	m.statusCodes[service][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(service string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[service] = healthy
}

func (m *Metrics) UpdateCircuitState(service, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuitState[service] = state
}

func (m *Metrics) Snapshot(strategy string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime).Round(time.Second).String(),
		Services: make(map[string]ServiceMetrics),
		Strategy: strategy,
	}

	all := make(map[string]struct{})
	for service := range m.requests {
		all[service] = struct{}{}
	}
	for service := range m.responseTimes {
		all[service] = struct{}{}
	}
	for service := range m.healthStatus {
		all[service] = struct{}{}
	}
	for service := range m.circuitState {
		all[service] = struct{}{}
	}

	for service := range all {
		snap.TotalRequests += m.requests[service]

		sm := ServiceMetrics{
			Requests:    m.requests[service],
			Outcomes:    copyCounts(m.outcomes[service]),
			Circuit:     m.circuitState[service],
			StatusCodes: copyCounts(m.statusCodes[service]),
		}
		if healthy, ok := m.healthStatus[service]; ok {
			sm.Healthy = &healthy
		}

		durations := m.responseTimes[service]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			sm.AvgResponse = average(sorted)
			sm.P50Response = percentile(sorted, 0.50)
			sm.P95Response = percentile(sorted, 0.95)
			sm.P99Response = percentile(sorted, 0.99)
		}

		snap.Services[service] = sm
	}

	return snap
}

func copyCounts[K comparable](in map[K]int64) map[K]int64 {
	if in == nil {
		return nil
	}
	out := make(map[K]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
