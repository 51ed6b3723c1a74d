package routing

import (
	"sync/atomic"

	"github.com/nexus-gateway/nexus/quality"
	"github.com/nexus-gateway/nexus/registry"
)

// Strategy selects which Scheduler implementation a SchedulerReconciler
// uses, configurable per spec §4.6.
type Strategy string

const (
	StrategySmart      Strategy = "smart"
	StrategyRoundRobin Strategy = "round_robin"
)

// SchedulerReconciler is the final pipeline stage: FailClosed, it
// converts an empty candidate set into a Reject decision with the full
// exclusion trace, or scores and picks a winner.
type SchedulerReconciler struct {
	Scorer     Scorer
	RoundRobin *RoundRobinScheduler // used when Strategy == StrategyRoundRobin
	Strategy   Strategy

	// Weights tunes the scoring formula, from config's
	// routing.scoring_weights block. The zero value (no weights
	// configured) falls back to DefaultWeights, since an all-zero
	// Weights would score every candidate an equal zero regardless of
	// priority, load, or latency.
	Weights Weights
	// TTFTThresholdMs is config's quality.ttft_penalty_threshold_ms.
	// Zero disables the penalty entirely, per
	// applyTTFTPenalty's contract — there is no separate "unset"
	// state to default away from.
	TTFTThresholdMs uint32
}

func (r *SchedulerReconciler) Name() string { return "SchedulerReconciler" }

func (r *SchedulerReconciler) ErrorPolicy() ErrorPolicy { return FailClosed }

func (r *SchedulerReconciler) Reconcile(intent *Intent) error {
	if len(intent.Candidates) == 0 {
		intent.Annotations.Decision = &Decision{Kind: DecisionReject}
		return nil
	}

	var chosen *registry.Backend
	if r.Strategy == StrategyRoundRobin && r.RoundRobin != nil {
		chosen = r.RoundRobin.Pick(intent.Candidates)
	} else {
		weights := r.Weights
		if weights == (Weights{}) {
			weights = DefaultWeights
		}
		chosen = pickSmart(intent, r.Scorer, weights, r.TTFTThresholdMs)
	}

	reason := routeReason(intent, chosen)
	intent.Annotations.Decision = &Decision{
		Kind:        DecisionSelect,
		Backend:     chosen,
		RouteReason: reason,
	}

	// A tier-equivalent substitution lands the request on a backend
	// that never declared the originally requested model, so the
	// Gateway must surface which model it actually got, the same way
	// it does for a config-driven fallback-chain hop.
	if reason == ReasonTierSubstitution && !intent.Annotations.FallbackUsed {
		intent.Annotations.FallbackUsed = true
		if models := chosen.Models(); len(models) > 0 {
			intent.Annotations.FallbackModel = models[0].ID
		}
	}
	return nil
}

func routeReason(intent *Intent, chosen *registry.Backend) RouteReason {
	if intent.Annotations.FallbackUsed {
		return ReasonFallback
	}
	declared := false
	for _, m := range chosen.Models() {
		if m.ID == intent.Requirements.Model {
			declared = true
			break
		}
	}
	if !declared && intent.Requirements.Model != "" {
		return ReasonTierSubstitution
	}
	if len(intent.Candidates) > 1 {
		return ReasonLoadBalance
	}
	return ReasonCapabilityMatch
}

// Scorer computes the scoring inputs the scheduler needs beyond what a
// Backend already exposes as atomics (priority, pending, latency come
// straight off the Backend; Scorer supplies quality metrics).
type Scorer interface {
	Get(backendID string) quality.AgentQualityMetrics
}

// Weights tunes the scoring formula's three additive terms, from
// config's routing.scoring_weights block.
type Weights struct {
	Priority uint32
	Load     uint32 // per pending request, subtracted
	Latency  uint32 // per ms of EMA, subtracted
}

// DefaultWeights match the relative magnitudes spec.md's scoring
// example implies: priority dominates, load and latency erode it.
var DefaultWeights = Weights{Priority: 1000, Load: 50, Latency: 1}

// DefaultTTFTPenaltyThresholdMs is the default
// quality.ttft_penalty_threshold_ms (0 disables the penalty).
const DefaultTTFTPenaltyThresholdMs = 3000

func pickSmart(intent *Intent, scorer Scorer, weights Weights, ttftThresholdMs uint32) *registry.Backend {
	var best *registry.Backend
	var bestScore uint32

	for _, b := range intent.Candidates {
		score := scoreCandidate(b, intent, scorer, weights, ttftThresholdMs)
		if best == nil || score > bestScore || (score == bestScore && b.ID < best.ID) {
			best = b
			bestScore = score
		}
	}
	return best
}

// scoreCandidate is the single scoring function shared by every
// scheduling strategy that needs a numeric score, so exhaustive and
// greedy selection can never disagree (spec.md §9).
//
// raw = priority_score + load_score + latency_score, all saturating
// u32 arithmetic. budget_adj then ttft_adj are applied in sequence,
// each a saturating transform of the previous value.
func scoreCandidate(b *registry.Backend, intent *Intent, scorer Scorer, w Weights, ttftThresholdMs uint32) uint32 {
	raw := priorityScore(b, w)
	raw = satSub(raw, loadScore(b, w))
	raw = satSub(raw, latencyScore(b, w))

	budgetAdj := applyBudgetWeight(raw, b, intent)

	var m quality.AgentQualityMetrics
	if scorer != nil {
		m = scorer.Get(b.ID)
	}
	ttftAdj := applyTTFTPenalty(budgetAdj, m.AvgTTFTMs, ttftThresholdMs)

	return ttftAdj
}

func priorityScore(b *registry.Backend, w Weights) uint32 {
	return satMul(uint32(b.Priority), w.Priority)
}

func loadScore(b *registry.Backend, w Weights) uint32 {
	return satMul(b.Pending(), w.Load)
}

func latencyScore(b *registry.Backend, w Weights) uint32 {
	ema := b.LatencyEMA()
	if ema < 0 {
		ema = 0
	}
	return satMul(uint32(ema), w.Latency)
}

// applyBudgetWeight makes cheaper candidates score higher: it
// subtracts a penalty proportional to estimated cost relative to any
// configured budget limit. With no limit configured, cost is annotated
// but no scoring adjustment is applied.
func applyBudgetWeight(raw uint32, b *registry.Backend, intent *Intent) uint32 {
	limit := intent.Requirements.BudgetLimit
	if limit == nil || *limit <= 0 {
		return raw
	}
	cost := EstimateCostCents(intent.Requirements.EstimatedTokens, b)
	ratio := cost / *limit
	if ratio > 1 {
		ratio = 1
	}
	if ratio < 0 {
		ratio = 0
	}
	penalty := uint32(float64(raw) * ratio)
	return satSub(raw, penalty)
}

// applyTTFTPenalty implements spec.md's monotonic linear penalty: at T
// == threshold the penalty is zero; at T >= 2*threshold the score is
// saturated to zero. threshold == 0 disables the penalty entirely.
func applyTTFTPenalty(score, avgTTFTMs, thresholdMs uint32) uint32 {
	if thresholdMs == 0 || avgTTFTMs <= thresholdMs {
		return score
	}
	over := avgTTFTMs - thresholdMs
	ratio := float64(over) / float64(thresholdMs)
	if ratio > 1 {
		ratio = 1
	}
	penalty := uint32(float64(score) * ratio)
	return satSub(score, penalty)
}

func satSub(a, b uint32) uint32 {
	if b > a {
		return 0
	}
	return a - b
}

func satMul(a, b uint32) uint32 {
	if a == 0 || b == 0 {
		return 0
	}
	result := uint64(a) * uint64(b)
	if result > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(result)
}

// RoundRobinScheduler maintains a monotonically increasing counter and
// picks candidates[counter mod len(candidates)], deterministic rotation
// over whatever candidate set survives the pipeline for a given
// request.
type RoundRobinScheduler struct {
	counter atomic.Uint64
}

// Pick returns the next candidate in rotation. Candidates is assumed
// sorted (the Registry always returns backends sorted by id), so the
// rotation is stable across calls with the same surviving set.
func (s *RoundRobinScheduler) Pick(candidates []*registry.Backend) *registry.Backend {
	idx := s.counter.Add(1) - 1
	return candidates[idx%uint64(len(candidates))]
}
