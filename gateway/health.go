package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthBackendCounts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

type healthResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Backends      healthBackendCounts `json:"backends"`
	Models        int                 `json:"models"`
}

// HandleHealth implements GET /health: healthy iff every backend is
// healthy and at least one exists; degraded iff some are healthy;
// otherwise unhealthy (spec.md §6).
func (g *Gateway) HandleHealth(w http.ResponseWriter, r *http.Request) {
	counts := g.Registry.HealthCounts()

	status := "unhealthy"
	switch {
	case counts.Total > 0 && counts.Healthy == counts.Total:
		status = "healthy"
	case counts.Healthy > 0:
		status = "degraded"
	}

	resp := healthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(g.Config.StartTime).Seconds()),
		Backends: healthBackendCounts{
			Total:     counts.Total,
			Healthy:   counts.Healthy,
			Unhealthy: counts.Unhealthy,
		},
		Models: len(g.Registry.AggregatedModels()),
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusOK) // liveness surface, not a failure signal
	}
	_ = json.NewEncoder(w).Encode(resp)
}
