package gateway

import (
	"net/http"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

// declaredCapabilities looks up the capabilities of any backend
// currently declaring modelID, regardless of health — used as the
// substitution baseline for Flexible mode (spec.md §4.5 item 4: "the
// originally requested model's declared tier"). Returns the zero value
// if no backend declares the model, which imposes no requirement.
func declaredCapabilities(reg *registry.Registry, modelID string) (registry.Capabilities, int) {
	for _, b := range reg.All() {
		for _, m := range b.Models() {
			if m.ID == modelID {
				return b.Capabilities, b.Tier
			}
		}
	}
	return registry.Capabilities{}, 0
}

// resolveDispatchModel returns the model id to actually send to
// backend: requested if backend declares it verbatim, otherwise
// backend's own first declared model (the case a tier-equivalent
// substitution lands on a backend that never served the originally
// named model at all).
func resolveDispatchModel(backend *registry.Backend, requested string) string {
	for _, m := range backend.Models() {
		if m.ID == requested {
			return requested
		}
	}
	if models := backend.Models(); len(models) > 0 {
		return models[0].ID
	}
	return requested
}

// buildRequirements resolves aliases and constructs the RoutingIntent's
// RequestRequirements from a parsed chat request and headers.
func (g *Gateway) buildRequirements(r *http.Request, req agent.ChatRequest) routing.RequestRequirements {
	model := req.Model
	if g.Aliases != nil {
		model = g.Aliases(model)
	}

	caps, tier := declaredCapabilities(g.Registry, model)
	strictness := strictnessFromHeaders(r, g.Config.DefaultStrictness)

	reqs := routing.RequestRequirements{
		Model:                 model,
		EstimatedTokens:       estimateTokens(req),
		NeedsVision:           hasVisionContent(req),
		NeedsTools:            len(req.Tools) > 0,
		NeedsJSONMode:         req.JSONMode,
		PrefersStreaming:      req.Stream,
		RequiredReasoning:     caps.Reasoning,
		RequiredCoding:        caps.Coding,
		RequiredContextWindow: caps.ContextWindow,
		Strictness:            strictness,
	}
	if tier > 0 {
		t := tier
		reqs.MinTier = &t
	}
	g.applyTrafficPolicy(&reqs, model)
	return reqs
}

// applyTrafficPolicy overrides reqs with the most specific matching
// TrafficPolicy's fields, where set: an operator-declared policy always
// takes precedence over the declared-capability baseline, since it
// represents a deliberate per-model routing decision rather than an
// inferred one.
func (g *Gateway) applyTrafficPolicy(reqs *routing.RequestRequirements, model string) {
	policy, ok := config.Match(g.Policies, model)
	if !ok {
		return
	}
	if policy.PrivacyZone != nil {
		reqs.PrivacyZone = policy.PrivacyZone
	}
	if policy.MinReasoning > reqs.RequiredReasoning {
		reqs.RequiredReasoning = policy.MinReasoning
	}
	if policy.MinCoding > reqs.RequiredCoding {
		reqs.RequiredCoding = policy.MinCoding
	}
	if policy.MinContextWindow > reqs.RequiredContextWindow {
		reqs.RequiredContextWindow = policy.MinContextWindow
	}
	if policy.RequireVision {
		reqs.NeedsVision = true
	}
	if policy.RequireTools {
		reqs.NeedsTools = true
	}
	if policy.RequireJSONMode {
		reqs.NeedsJSONMode = true
	}
	if policy.BudgetLimit != nil {
		reqs.BudgetLimit = policy.BudgetLimit
	}
	if policy.Strictness != "" {
		reqs.Strictness = policy.Strictness
	}
}

func hasVisionContent(req agent.ChatRequest) bool {
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if p.Type == "image_url" {
				return true
			}
		}
	}
	return false
}
