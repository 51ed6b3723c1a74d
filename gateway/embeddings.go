package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

type embeddingDatum struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingsUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type embeddingsResponse struct {
	Object string           `json:"object"`
	Data   []embeddingDatum `json:"data"`
	Model  string           `json:"model"`
	Usage  embeddingsUsage  `json:"usage"`
}

// HandleEmbeddings implements POST /v1/embeddings.
func (g *Gateway) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	model, inputs, err := parseEmbeddingsRequest(r)
	if err != nil {
		g.writeParseError(w, err)
		return
	}

	if g.Aliases != nil {
		model = g.Aliases(model)
	}

	estimatedTokens := uint32(0)
	for _, in := range inputs {
		estimatedTokens += uint32(len(in) / 4)
	}

	baseReq := routing.RequestRequirements{
		EstimatedTokens: estimatedTokens,
		Strictness:      strictnessFromHeaders(r, g.Config.DefaultStrictness),
	}
	g.applyTrafficPolicy(&baseReq, model)

	chain := g.modelChain(model)
	var lastIntent *routing.Intent
	sawKnownModel := false

	for chainIdx, candidateModel := range chain {
		if len(g.Registry.ForModel(candidateModel)) == 0 {
			continue
		}
		sawKnownModel = true

		attemptReq := baseReq
		attemptReq.Model = candidateModel

		excluded := make(map[string]bool)
		declaring := make(map[string]bool)
		for _, b := range g.Registry.ForModel(candidateModel) {
			declaring[b.ID] = true
		}
		for _, b := range g.Registry.Healthy() {
			if !declaring[b.ID] {
				excluded[b.ID] = true
			}
		}
		maxAttempts := g.Config.MaxRetries + 1
		if maxAttempts < 1 {
			maxAttempts = 1
		}

		for attempt := 0; attempt < maxAttempts; attempt++ {
			intent, err := g.route(attemptReq, excluded)
			if err != nil {
				writeError(w, CodeServiceUnavailable, err.Error(), nil)
				return
			}
			if chainIdx > 0 {
				intent.Annotations.FallbackUsed = true
				intent.Annotations.FallbackModel = candidateModel
				if d := intent.Annotations.Decision; d != nil && d.Kind == routing.DecisionSelect {
					d.RouteReason = routing.ReasonFallback
				}
			}
			lastIntent = intent

			if intent.Annotations.Decision == nil || intent.Annotations.Decision.Kind != routing.DecisionSelect {
				break
			}

			backend := intent.Annotations.Decision.Backend
			if g.dispatchEmbeddings(w, r, candidateModel, inputs, intent, backend) {
				return
			}
			excluded[backend.ID] = true
		}
	}

	if !sawKnownModel {
		writeError(w, CodeModelNotFound, "no backend serves model "+model, nil)
		return
	}
	if lastIntent != nil {
		writeRejection(w, lastIntent)
		return
	}
	writeError(w, CodeServiceUnavailable, "exhausted all retry candidates", nil)
}

func (g *Gateway) dispatchEmbeddings(w http.ResponseWriter, r *http.Request, model string, inputs []string, intent *routing.Intent, backend *registry.Backend) bool {
	_ = g.Registry.IncrementPending(backend.ID)
	defer g.Registry.DecrementPending(backend.ID)

	reqID := requestIDFromContext(r.Context())

	ag, ok := g.Agents(backend.ID)
	if !ok {
		g.logger.Warnf(backend.ID, reqID, "no agent registered for backend", nil)
		g.Quality.RecordOutcome(backend.ID, false, 0)
		return false
	}

	start := time.Now()
	vectors, err := ag.Embeddings(r.Context(), model, inputs)
	if err != nil {
		g.logger.Errorf(backend.ID, reqID, "embeddings dispatch failed", err, map[string]any{"model": model})
		g.Quality.RecordOutcome(backend.ID, false, 0)
		return false
	}
	latencyMs := float64(time.Since(start).Milliseconds())
	_ = g.Registry.UpdateLatencyEMA(backend.ID, latencyMs)
	g.Quality.RecordOutcome(backend.ID, true, uint32(latencyMs))

	resp := embeddingsResponse{Object: "list", Model: model}
	promptTokens := 0
	for i, v := range vectors {
		resp.Data = append(resp.Data, embeddingDatum{Object: "embedding", Embedding: v, Index: i})
	}
	for _, in := range inputs {
		promptTokens += len(in) / 4
	}
	resp.Usage = embeddingsUsage{PromptTokens: promptTokens, TotalTokens: promptTokens}

	costCents := routing.EstimateCostCents(intent.Requirements.EstimatedTokens, backend)
	writeDecisionHeaders(w, intent, costCents)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
	return true
}
