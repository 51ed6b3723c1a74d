// Package config loads the YAML configuration file that describes a
// Nexus deployment's backend fleet, routing policy, quality thresholds,
// and traffic policies, and converts it into an immutable Snapshot the
// rest of the core consumes. See spec.md §6 "configuration surface
// (consumed shape only)".
package config

import (
	"time"

	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

// BackendSnapshot is one backend descriptor as the core consumes it:
// everything registry.NewBackend and an agent adapter constructor need,
// already resolved (secret ARNs fetched, env vars expanded).
type BackendSnapshot struct {
	ID                string
	URL               string
	Type              registry.BackendType
	AdapterKind       string // "openai", "anthropic", "azure", "gemini", "bedrock"
	PrivacyZone       registry.PrivacyZone
	Tier              int
	Priority          int
	Capabilities      registry.Capabilities
	PerTokenRateCents float64

	// APIKey is the resolved credential: either the inline value or the
	// value fetched from the secret named by api_key_secret_arn.
	APIKey string

	// Params carries adapter-specific fields that don't generalize across
	// every backend kind (azure's deployment_name/api_version, bedrock's
	// region, gemini's api_version), mirroring the teacher's
	// provider-config-as-map pattern for the same reason: a fixed struct
	// would need one field per adapter that most adapters never use.
	Params map[string]string
}

// ScoringWeights mirrors routing.Weights as the config surface names it.
type ScoringWeights struct {
	Priority uint32
	Load     uint32
	Latency  uint32
}

// RoutingSnapshot is the routing block of the configuration surface.
type RoutingSnapshot struct {
	Strategy              routing.Strategy
	MaxRetries            int
	Aliases               map[string]string
	Fallbacks             map[string][]string
	ScoringWeights        ScoringWeights
	TTFTPenaltyThresholdMs uint32
}

// QualitySnapshot is the quality block of the configuration surface, per
// spec.md §6 line 229 defaults.
type QualitySnapshot struct {
	ErrorRateThreshold     float32
	TTFTPenaltyThresholdMs uint32
	MetricsIntervalSeconds int
}

// TrafficPolicy maps a glob pattern over the requested model name to a
// set of requirement overrides, per spec.md's TrafficPolicy glossary
// entry. Precedence among matching policies is by Specificity: exact >
// prefix > wildcard.
type TrafficPolicy struct {
	Pattern               string
	PrivacyZone           *registry.PrivacyZone
	MinReasoning          int
	MinCoding             int
	MinContextWindow      int
	RequireVision         bool
	RequireTools          bool
	RequireJSONMode       bool
	BudgetLimit           *float64
	Strictness            routing.Strictness
}

// ServerSnapshot holds the HTTP-surface tunables that spec.md's
// "configuration surface (consumed shape only)" leaves implicit but
// every deployment still needs: where to listen and what a request with
// no explicit override should default to.
type ServerSnapshot struct {
	ListenAddr        string
	DefaultStrictness routing.Strictness
	DefaultZone       registry.PrivacyZone
	HealthInterval    time.Duration
	HealthFailN       int
	HealthOKN         int
}

// Snapshot is the complete, immutable configuration surface built once
// at startup. Hot-reload is a Non-goal of the core (spec.md §1): a
// caller wanting it rebuilds a Snapshot with Load and atomically swaps
// a shared *Snapshot reference, which is what the Watcher extension
// point in watcher.go documents.
type Snapshot struct {
	Backends        []BackendSnapshot
	Routing         RoutingSnapshot
	Quality         QualitySnapshot
	TrafficPolicies []TrafficPolicy
	Server          ServerSnapshot
}
