package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

// writeDecisionHeaders injects the transparent X-Nexus-* headers for a
// successful routing decision (spec.md §4.9). It never mutates the
// response body.
func writeDecisionHeaders(w http.ResponseWriter, intent *routing.Intent, costCents float64) {
	d := intent.Annotations.Decision
	if d == nil || d.Backend == nil {
		return
	}
	w.Header().Set("X-Nexus-Backend", d.Backend.ID)
	w.Header().Set("X-Nexus-Backend-Type", string(d.Backend.Type))
	w.Header().Set("X-Nexus-Route-Reason", string(d.RouteReason))
	if intent.Annotations.PrivacyConstraint != nil {
		w.Header().Set("X-Nexus-Privacy-Zone", string(*intent.Annotations.PrivacyConstraint))
	}
	if d.Backend.Type == registry.TypeCloud {
		w.Header().Set("X-Nexus-Cost-Estimated", fmt.Sprintf("%.4f", costCents))
	}
	if intent.Annotations.FallbackUsed {
		w.Header().Set("X-Nexus-Fallback-Model", intent.Annotations.FallbackModel)
	}
}

// writeRejectionHeaders injects the 503 rejection headers summarizing
// why every candidate was excluded.
func writeRejectionHeaders(w http.ResponseWriter, intent *routing.Intent) {
	tags := make([]string, 0, len(intent.Annotations.Excluded))
	for _, ex := range intent.Annotations.Excluded {
		tags = append(tags, ex.Reason)
	}
	w.Header().Set("X-Nexus-Rejection-Reasons", joinCSV(tags))
	details, _ := json.Marshal(intent.Annotations.Excluded)
	w.Header().Set("X-Nexus-Rejection-Details", string(details))
}

func joinCSV(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
