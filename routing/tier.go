package routing

import (
	"fmt"

	"github.com/nexus-gateway/nexus/registry"
)

// TierReconciler removes candidates below the requested minimum tier or
// missing required capability flags. In Strict mode a configured
// min_tier is a hard floor. In Flexible mode min_tier is not itself
// enforced — a backend may substitute for an unavailable model as long
// as it meets or exceeds that model's declared tier on every scored
// dimension (reasoning, coding, context_window); this never permits a
// downgrade, since Meets only ever compares "at least as good".
type TierReconciler struct{}

func (r *TierReconciler) Name() string { return "TierReconciler" }

func (r *TierReconciler) ErrorPolicy() ErrorPolicy { return FailOpen }

func (r *TierReconciler) Reconcile(intent *Intent) error {
	required := requiredCapabilities(intent.Requirements)

	for _, b := range append([]*registry.Backend(nil), intent.Candidates...) {
		if intent.Requirements.Strictness == Strict && intent.Requirements.MinTier != nil && b.Tier < *intent.Requirements.MinTier {
			intent.Exclude(b.ID, r.Name(), fmt.Sprintf("tier %d below required minimum %d", b.Tier, *intent.Requirements.MinTier),
				"lower min_tier or add a higher-tier backend")
			continue
		}

		if b.Capabilities.Meets(required) {
			continue
		}

		missing := missingDimensions(b.Capabilities, required)
		intent.Annotations.TierShortfalls[b.ID] = missing
		intent.Exclude(b.ID, r.Name(), "missing required capabilities: "+joinDims(missing),
			"relax required capabilities or add a backend that declares them")
	}
	return nil
}

func requiredCapabilities(req RequestRequirements) registry.Capabilities {
	return registry.Capabilities{
		Vision:        req.NeedsVision,
		Tools:         req.NeedsTools,
		JSONMode:      req.NeedsJSONMode,
		ContextWindow: req.RequiredContextWindow,
		Reasoning:     req.RequiredReasoning,
		Coding:        req.RequiredCoding,
	}
}

func missingDimensions(have, required registry.Capabilities) []string {
	var missing []string
	if required.Vision && !have.Vision {
		missing = append(missing, "vision")
	}
	if required.Tools && !have.Tools {
		missing = append(missing, "tools")
	}
	if required.JSONMode && !have.JSONMode {
		missing = append(missing, "json_mode")
	}
	if have.ContextWindow < required.ContextWindow {
		missing = append(missing, "context_window")
	}
	if have.Reasoning < required.Reasoning {
		missing = append(missing, "reasoning")
	}
	if have.Coding < required.Coding {
		missing = append(missing, "coding")
	}
	return missing
}

func joinDims(dims []string) string {
	out := ""
	for i, d := range dims {
		if i > 0 {
			out += ", "
		}
		out += d
	}
	return out
}
