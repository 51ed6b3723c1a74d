// Package routing implements the Reconciler Pipeline: the fixed,
// ordered sequence of independent reconcilers that narrow a request's
// candidate backend set and annotate a RoutingIntent, culminating in the
// Scheduler's selection.
package routing

import (
	"github.com/nexus-gateway/nexus/registry"
)

// Strictness controls whether the Tier/Capability reconciler permits
// tier-equivalent substitution.
type Strictness string

const (
	Strict   Strictness = "strict"
	Flexible Strictness = "flexible"
)

// RequestRequirements is the immutable request context derived from the
// parsed request body and headers. It lives only for the duration of
// one request.
type RequestRequirements struct {
	Model            string
	EstimatedTokens  uint32
	NeedsVision      bool
	NeedsTools       bool
	NeedsJSONMode    bool
	PrefersStreaming bool

	// Scored-dimension minimums, typically derived from the originally
	// requested (possibly unavailable) model's declared tier. Zero means
	// "no requirement" on that dimension.
	RequiredReasoning     int
	RequiredCoding        int
	RequiredContextWindow int

	// Policy overrides, nil when unset.
	PrivacyZone *registry.PrivacyZone
	MinTier     *int
	BudgetLimit *float64

	Strictness Strictness
}

// RouteReason tags why the Scheduler picked the backend it did.
type RouteReason string

const (
	ReasonCapabilityMatch  RouteReason = "capability-match"
	ReasonFallback         RouteReason = "fallback"
	ReasonLoadBalance      RouteReason = "load-balance"
	ReasonTierSubstitution RouteReason = "tier-substitution"
)

// Exclusion records one candidate's removal from the pipeline, with
// enough structure for the Gateway to build an actionable error.
type Exclusion struct {
	BackendID   string
	Reconciler  string
	Reason      string
	Remediation string
}

// BudgetStatus is the Budget reconciler's annotation of estimated cost
// against any configured limit.
type BudgetStatus struct {
	EstimatedCostCents float64
	Limit              *float64
	Remaining          *float64
}

// DecisionKind tags the two possible pipeline outcomes.
type DecisionKind string

const (
	DecisionSelect DecisionKind = "select"
	DecisionReject DecisionKind = "reject"
)

// Decision is the Scheduler's final output.
type Decision struct {
	Kind        DecisionKind
	Backend     *registry.Backend
	RouteReason RouteReason
}

// Annotations accumulates everything the pipeline learns about a
// request as reconcilers run.
type Annotations struct {
	PrivacyConstraint *registry.PrivacyZone
	Budget            BudgetStatus
	TierShortfalls    map[string][]string // backend id -> missing dimensions
	QualityExclusions []string            // backend ids
	FallbackUsed      bool
	FallbackModel     string
	Excluded          []Exclusion
	Decision          *Decision
}

// Intent is the per-request routing context: immutable requirements, a
// mutable candidate set reconcilers may only narrow, and the
// annotations they accumulate along the way. Created per request,
// discarded once the pipeline completes.
type Intent struct {
	Requirements Requirements
	Candidates   []*registry.Backend
	Annotations  Annotations

	// InitialCandidates is the candidate set as handed to New, before any
	// reconciler excludes from it. Exclude never mutates this — it is
	// the "who was in the running at all" set a 503 rejection reports
	// as available_backends, distinct from Candidates which narrows to
	// "who survived" (empty by the time the Scheduler rejects).
	InitialCandidates []*registry.Backend
}

// Requirements is an alias kept distinct from RequestRequirements so
// call sites read naturally (intent.Requirements.Model); both names
// refer to the same type.
type Requirements = RequestRequirements

// New creates an Intent from requirements and an initial candidate set.
// Reconcilers never reorder candidates, only remove them.
func New(req RequestRequirements, candidates []*registry.Backend) *Intent {
	initial := append([]*registry.Backend(nil), candidates...)
	return &Intent{
		Requirements:      req,
		Candidates:        append([]*registry.Backend(nil), candidates...),
		InitialCandidates: initial,
		Annotations: Annotations{
			TierShortfalls: make(map[string][]string),
		},
	}
}

// Exclude removes a backend from the candidate set and records why. A
// reconciler must use this rather than silently truncating Candidates.
func (i *Intent) Exclude(backendID, reconciler, reason, remediation string) {
	for idx, b := range i.Candidates {
		if b.ID == backendID {
			i.Candidates = append(i.Candidates[:idx], i.Candidates[idx+1:]...)
			break
		}
	}
	i.Annotations.Excluded = append(i.Annotations.Excluded, Exclusion{
		BackendID:   backendID,
		Reconciler:  reconciler,
		Reason:      reason,
		Remediation: remediation,
	})
}
