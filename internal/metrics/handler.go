package metrics

import (
	"encoding/json"
	"net/http"
)

// Handler serves the current snapshot as JSON. A "service" query parameter
// narrows the snapshot to that service and answers 404 if it has no data.
func (c *Collector) Handler(strategy string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := c.Snapshot(strategy)

		if name := r.URL.Query().Get("service"); name != "" {
			sm, ok := snap.Services[name]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "No metrics for service"})
				return
			}
			snap.Services = map[string]ServiceMetrics{name: sm}
			snap.TotalRequests = sm.Requests
		}

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
