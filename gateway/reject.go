package gateway

import (
	"net/http"

	"github.com/nexus-gateway/nexus/routing"
)

// writeRejection writes the 503 service_unavailable body for a Reject
// decision, with a context object enumerating why every candidate was
// excluded (spec.md §6 error body shape).
func writeRejection(w http.ResponseWriter, intent *routing.Intent) {
	writeRejectionHeaders(w, intent)

	reasons := make([]string, 0, len(intent.Annotations.Excluded))
	for _, ex := range intent.Annotations.Excluded {
		reasons = append(reasons, ex.Reason)
	}

	// available_backends names every backend that was in the running at
	// all before the pipeline excluded it (spec.md §8 Scenario 6), not
	// intent.Candidates, which the Scheduler only ever rejects once it
	// has been narrowed to empty.
	available := make([]string, 0, len(intent.InitialCandidates))
	for _, b := range intent.InitialCandidates {
		available = append(available, b.ID)
	}

	ctx := map[string]any{
		"available_backends": available,
		"rejection_reasons":  reasons,
	}
	if intent.Requirements.MinTier != nil {
		ctx["required_tier"] = *intent.Requirements.MinTier
	}
	if intent.Annotations.PrivacyConstraint != nil {
		ctx["privacy_zone_required"] = string(*intent.Annotations.PrivacyConstraint)
	}

	writeError(w, CodeServiceUnavailable, "no backend available to serve this request", ctx)
}
