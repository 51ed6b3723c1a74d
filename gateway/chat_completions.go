package gateway

import (
	"net/http"
	"time"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

// HandleChatCompletions implements POST /v1/chat/completions.
func (g *Gateway) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatCompletionRequest(r)
	if err != nil {
		g.writeParseError(w, err)
		return
	}

	requirements := g.buildRequirements(r, req)

	chain := g.modelChain(requirements.Model)

	var lastIntent *routing.Intent
	sawKnownModel := false

	for chainIdx, model := range chain {
		caps, tier := declaredCapabilities(g.Registry, model)
		if tier == 0 {
			// No backend, healthy or not, has ever declared this
			// model: there is no capability floor to substitute
			// against, so this chain entry cannot be routed.
			continue
		}
		sawKnownModel = true

		attemptReq := requirements
		attemptReq.Model = model
		attemptReq.RequiredReasoning = caps.Reasoning
		attemptReq.RequiredCoding = caps.Coding
		attemptReq.RequiredContextWindow = caps.ContextWindow
		t := tier
		attemptReq.MinTier = &t
		req.Model = model

		excluded := make(map[string]bool)
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
				intent.Annotations.FallbackModel = model
				if d := intent.Annotations.Decision; d != nil && d.Kind == routing.DecisionSelect {
					d.RouteReason = routing.ReasonFallback
				}
			}
			lastIntent = intent

			if intent.Annotations.Decision == nil || intent.Annotations.Decision.Kind != routing.DecisionSelect {
				break
			}

			backend := intent.Annotations.Decision.Backend
			if g.dispatchChat(w, r, req, intent, backend) {
				return
			}
			excluded[backend.ID] = true
		}
	}

	if !sawKnownModel {
		writeError(w, CodeModelNotFound, "no backend serves model "+requirements.Model, nil)
		return
	}
	if lastIntent != nil {
		writeRejection(w, lastIntent)
		return
	}
	writeError(w, CodeServiceUnavailable, "exhausted all retry candidates", nil)
}

// modelChain returns the resolved model followed by its configured
// fallback chain (spec.md §4.6): when every backend serving the
// primary model is excluded by the pipeline or none ever declared it,
// the Gateway retries with requirements.model set to the next entry,
// marking annotations.fallback_used on the resulting Intent.
func (g *Gateway) modelChain(model string) []string {
	chain := []string{model}
	if g.Fallbacks == nil {
		return chain
	}
	return append(chain, g.Fallbacks(model)...)
}

// route runs the pipeline over the currently healthy backends. In
// Strict mode only backends declaring requirements.Model are
// candidates (exact match). In Flexible mode every healthy backend is
// a candidate, not just ones literally declaring requirements.Model,
// and the Tier reconciler narrows this down to backends that meet the
// requested model's declared capabilities (tier-equivalent
// substitution). Filtering to ForModel up front in Flexible mode would
// make substitution impossible, since the substitute backend by
// definition never declared the requested model.
func (g *Gateway) route(requirements routing.RequestRequirements, excluded map[string]bool) (*routing.Intent, error) {
	all := g.Registry.Healthy()
	var declaring map[string]bool
	if requirements.Strictness == routing.Strict {
		declaring = make(map[string]bool)
		for _, b := range g.Registry.ForModel(requirements.Model) {
			declaring[b.ID] = true
		}
	}
	candidates := make([]*registry.Backend, 0, len(all))
	for _, b := range all {
		if excluded[b.ID] || (declaring != nil && !declaring[b.ID]) {
			continue
		}
		candidates = append(candidates, b)
	}
	intent := routing.New(requirements, candidates)
	if err := g.Pipeline.Run(intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// dispatchChat increments pending, calls the backend, and on success
// writes the response (streaming or not), blocking until the response
// is fully written. It returns false when the error occurred before
// any bytes were received from the backend, signaling the caller may
// retry with the next candidate. Exactly one decrement_pending is
// guaranteed per call, regardless of outcome.
func (g *Gateway) dispatchChat(w http.ResponseWriter, r *http.Request, req agent.ChatRequest, intent *routing.Intent, backend *registry.Backend) bool {
	_ = g.Registry.IncrementPending(backend.ID)
	defer g.Registry.DecrementPending(backend.ID)

	if dispatchModel := resolveDispatchModel(backend, req.Model); dispatchModel != req.Model {
		req.Model = dispatchModel
		intent.Annotations.FallbackUsed = true
		intent.Annotations.FallbackModel = dispatchModel
	}

	reqID := requestIDFromContext(r.Context())

	ag, ok := g.Agents(backend.ID)
	if !ok {
		g.logger.Warnf(backend.ID, reqID, "no agent registered for backend", nil)
		g.Quality.RecordOutcome(backend.ID, false, 0)
		return false
	}

	start := time.Now()
	resp, stream, err := ag.ChatCompletion(r.Context(), req)
	if err != nil {
		g.logger.Errorf(backend.ID, reqID, "chat completion dispatch failed", err, map[string]any{"model": req.Model})
		g.Quality.RecordOutcome(backend.ID, false, 0)
		return false
	}

	costCents := routing.EstimateCostCents(intent.Requirements.EstimatedTokens, backend)

	if stream != nil {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		writeDecisionHeaders(w, intent, costCents)
		w.WriteHeader(http.StatusOK)
		g.streamChatCompletion(w, r, stream, backend.ID)
		return true
	}

	latencyMs := float64(time.Since(start).Milliseconds())
	_ = g.Registry.UpdateLatencyEMA(backend.ID, latencyMs)
	g.Quality.RecordOutcome(backend.ID, true, uint32(latencyMs))

	writeDecisionHeaders(w, intent, costCents)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.RawJSON)
	return true
}

func (g *Gateway) writeParseError(w http.ResponseWriter, err error) {
	if err == errPayloadTooLarge {
		writeError(w, CodePayloadTooLarge, err.Error(), nil)
		return
	}
	writeError(w, CodeInvalidRequest, err.Error(), nil)
}
