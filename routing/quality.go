package routing

import (
	"fmt"

	"github.com/nexus-gateway/nexus/quality"
	"github.com/nexus-gateway/nexus/registry"
)

// QualityStore is the subset of quality.Store the reconciler reads.
type QualityStore interface {
	Get(backendID string) quality.AgentQualityMetrics
}

// QualityReconciler excludes candidates whose recent error rate exceeds
// a threshold, but only once they have accumulated history — a
// backend with no history passes through unchanged ("innocent until
// proven guilty"). FailOpen.
type QualityReconciler struct {
	Store     QualityStore
	Threshold float32 // default 0.5
}

func (r *QualityReconciler) Name() string { return "QualityReconciler" }

func (r *QualityReconciler) ErrorPolicy() ErrorPolicy { return FailOpen }

func (r *QualityReconciler) Reconcile(intent *Intent) error {
	threshold := r.Threshold
	if threshold == 0 {
		threshold = 0.5
	}

	for _, b := range append([]*registry.Backend(nil), intent.Candidates...) {
		m := r.Store.Get(b.ID)
		hasHistory := m.RequestCount1h > 0 || m.LastFailureTs != nil
		if hasHistory && m.ErrorRate1h >= threshold {
			intent.Annotations.QualityExclusions = append(intent.Annotations.QualityExclusions, b.ID)
			intent.Exclude(b.ID, r.Name(),
				fmt.Sprintf("error_rate %.0f%% >= %.0f%%", m.ErrorRate1h*100, threshold*100),
				"wait for the backend to recover or route to a lower-error-rate backend")
		}
	}
	return nil
}
