package routing

import "github.com/nexus-gateway/nexus/registry"

// BudgetReconciler estimates request cost per candidate and excludes
// any whose cost exceeds a configured hard limit. It is FailOpen: an
// estimation failure is annotated, never an error.
type BudgetReconciler struct{}

func (r *BudgetReconciler) Name() string { return "BudgetReconciler" }

func (r *BudgetReconciler) ErrorPolicy() ErrorPolicy { return FailOpen }

func (r *BudgetReconciler) Reconcile(intent *Intent) error {
	limit := intent.Requirements.BudgetLimit
	intent.Annotations.Budget.Limit = limit

	// Annotate with the cheapest candidate's estimated cost so the
	// Gateway always has a representative figure to surface, even when
	// every candidate is ultimately excluded for other reasons.
	if len(intent.Candidates) > 0 {
		cheapest := EstimateCostCents(intent.Requirements.EstimatedTokens, intent.Candidates[0])
		for _, b := range intent.Candidates[1:] {
			if c := EstimateCostCents(intent.Requirements.EstimatedTokens, b); c < cheapest {
				cheapest = c
			}
		}
		intent.Annotations.Budget.EstimatedCostCents = cheapest
	}

	if limit == nil {
		return nil
	}

	remaining := *limit
	intent.Annotations.Budget.Remaining = &remaining

	for _, b := range append([]*registry.Backend(nil), intent.Candidates...) {
		cost := EstimateCostCents(intent.Requirements.EstimatedTokens, b)
		if cost > remaining {
			intent.Exclude(b.ID, r.Name(), "estimated cost exceeds budget limit",
				"raise budget_limit or route to a lower-cost / local backend")
		}
	}
	return nil
}
