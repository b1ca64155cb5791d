package handler

import (
	"net/http"
	"time"

	"github.com/angeloszaimis/service-router/internal/backend"
)

// TimestampFormat is ISO-8601 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
	Strategy  string `json:"strategy"`
}

// Health reports process liveness. service and strategy are static labels.
func Health(service, strategy string, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "healthy",
			Service:   service,
			Timestamp: now().UTC().Format(TimestampFormat),
			Strategy:  strategy,
		})
	}
}

// Lister lists the registered backends.
type Lister interface {
	Snapshot() []*backend.Backend
}

type ServiceInfo struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Healthy        bool   `json:"healthy"`
	ActiveForwards int    `json:"active_forwards"`
	// AvgForwardMS is the moving average of forward durations, 0 before the
	// first forward.
	AvgForwardMS float64 `json:"avg_forward_ms"`
}

type ServicesResponse struct {
	Services []ServiceInfo `json:"services"`
}

// Services lists the registry in name order.
func Services(lister Lister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot := lister.Snapshot()

		resp := ServicesResponse{Services: make([]ServiceInfo, 0, len(snapshot))}
		for _, b := range snapshot {
			resp.Services = append(resp.Services, ServiceInfo{
				Name:           b.Name(),
				URL:            b.URL().String(),
				Healthy:        b.IsHealthy(),
				ActiveForwards: b.ActiveForwards(),
				AvgForwardMS:   float64(b.EWMATime().Microseconds()) / 1000,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
