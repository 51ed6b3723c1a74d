package gateway

import (
	"encoding/json"
	"net/http"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelsResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// HandleModels implements GET /v1/models: an OpenAI-compatible list of
// models aggregated across healthy backends, deduplicated by id,
// alphabetical (spec.md §6).
func (g *Gateway) HandleModels(w http.ResponseWriter, r *http.Request) {
	summaries := g.Registry.AggregatedModels()
	resp := modelsResponse{Object: "list"}
	for _, m := range summaries {
		resp.Data = append(resp.Data, modelEntry{ID: m.ID, Object: "model", OwnedBy: m.Backend})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
