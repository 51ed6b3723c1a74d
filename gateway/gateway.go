// Package gateway implements the HTTP ingress: request validation,
// RequestRequirements construction, pipeline invocation, non-streaming
// and streaming proxying, retry/fallback, and the OpenAI-compatible
// wire surface (/v1/chat/completions, /v1/embeddings, /v1/models,
// /health, /v1/stats, /metrics).
package gateway

import (
	"net/http"
	"time"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/logging"
	"github.com/nexus-gateway/nexus/quality"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

// AgentLookup resolves the live Agent handle for a backend id. One
// Agent is constructed per configured backend at startup and never
// changes identity, so a simple map lookup suffices.
type AgentLookup func(backendID string) (agent.Agent, bool)

// AliasResolver maps a client-requested model name to its canonical
// name, per config's routing.aliases block. Unknown names pass through
// unchanged.
type AliasResolver func(model string) string

// FallbackLookup returns the ordered fallback chain configured for a
// model, per config's routing.fallbacks block.
type FallbackLookup func(model string) []string

// Config bundles the Gateway's tunables, sourced from the config
// snapshot at startup.
type Config struct {
	DefaultStrictness routing.Strictness
	DefaultZone       registry.PrivacyZone
	MaxRetries        int
	StartTime         time.Time
}

// Gateway owns every dependency a request handler needs: the shared
// Registry and Quality Store, the reconciler pipeline, agent lookup,
// and alias/fallback resolution. One Gateway is constructed in
// cmd/nexus and its handlers are registered on the router; no package
// state lives outside this struct.
type Gateway struct {
	Registry  *registry.Registry
	Quality   *quality.Store
	Pipeline  *routing.Pipeline
	Agents    AgentLookup
	Aliases   AliasResolver
	Fallbacks FallbackLookup
	Config    Config
	// Policies are matched against the request's resolved model, most
	// specific pattern wins, and override the declared-capability
	// baseline wherever the matched policy sets a field (config's
	// TrafficPolicy glossary entry). Nil/empty means no overrides ever
	// apply.
	Policies []config.TrafficPolicy
	logger   *logging.Logger
}

// New constructs a Gateway. Pipeline, Registry, and Quality must already
// be wired by the caller (cmd/nexus).
func New(reg *registry.Registry, q *quality.Store, pipeline *routing.Pipeline, agents AgentLookup, aliases AliasResolver, fallbacks FallbackLookup, cfg Config) *Gateway {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now()
	}
	return &Gateway{
		Registry:  reg,
		Quality:   q,
		Pipeline:  pipeline,
		Agents:    agents,
		Aliases:   aliases,
		Fallbacks: fallbacks,
		Config:    cfg,
		logger:    logging.New("gateway"),
	}
}

func strictnessFromHeaders(r *http.Request, def routing.Strictness) routing.Strictness {
	if r.Header.Get("X-Nexus-Flexible") == "true" {
		return routing.Flexible
	}
	if r.Header.Get("X-Nexus-Strict") == "true" {
		return routing.Strict
	}
	return def
}
