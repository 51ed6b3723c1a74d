package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
	"gopkg.in/yaml.v3"
)

// File is the root YAML shape Nexus reads from disk. Field names follow
// the config surface named in spec.md §6; nested structs are kept
// distinct from Snapshot's because the file format carries optional
// shorthand (inline api_key vs. api_key_secret_arn) and unresolved
// strings that Load() resolves away.
type File struct {
	Backends        []backendFile     `yaml:"backends"`
	Routing         routingFile       `yaml:"routing"`
	Quality         qualityFile       `yaml:"quality"`
	TrafficPolicies []trafficPolicyFile `yaml:"traffic_policies"`
	Server          serverFile        `yaml:"server"`
}

type capabilitiesFile struct {
	Vision        bool `yaml:"vision"`
	Tools         bool `yaml:"tools"`
	JSONMode      bool `yaml:"json_mode"`
	Embeddings    bool `yaml:"embeddings"`
	ContextWindow int  `yaml:"context_window"`
	Reasoning     int  `yaml:"reasoning"`
	Coding        int  `yaml:"coding"`
}

type backendFile struct {
	ID                string            `yaml:"id"`
	URL               string            `yaml:"url"`
	Type              string            `yaml:"type"` // "local" or "cloud"
	Adapter           string            `yaml:"adapter"` // "openai", "anthropic", "azure", "gemini", "bedrock"
	PrivacyZone       string            `yaml:"privacy_zone"`
	Tier              int               `yaml:"tier"`
	Priority          int               `yaml:"priority"`
	Capabilities      capabilitiesFile  `yaml:"capabilities"`
	PerTokenRateCents float64           `yaml:"per_token_rate_cents"`
	APIKey            string            `yaml:"api_key,omitempty"`
	APIKeySecretARN   string            `yaml:"api_key_secret_arn,omitempty"`
	Params            map[string]string `yaml:"params,omitempty"`
}

type scoringWeightsFile struct {
	Priority uint32 `yaml:"priority"`
	Load     uint32 `yaml:"load"`
	Latency  uint32 `yaml:"latency"`
}

type routingFile struct {
	Strategy               string              `yaml:"strategy"`
	MaxRetries             int                 `yaml:"max_retries"`
	Aliases                map[string]string   `yaml:"aliases"`
	Fallbacks              map[string][]string `yaml:"fallbacks"`
	ScoringWeights         *scoringWeightsFile `yaml:"scoring_weights"`
	TTFTPenaltyThresholdMs *uint32             `yaml:"ttft_penalty_threshold_ms"`
}

type qualityFile struct {
	ErrorRateThreshold     *float32 `yaml:"error_rate_threshold"`
	TTFTPenaltyThresholdMs *uint32  `yaml:"ttft_penalty_threshold_ms"`
	MetricsIntervalSeconds int      `yaml:"metrics_interval_seconds"`
}

type trafficPolicyFile struct {
	Pattern          string   `yaml:"pattern"`
	PrivacyZone      string   `yaml:"privacy_zone,omitempty"`
	MinReasoning     int      `yaml:"min_reasoning,omitempty"`
	MinCoding        int      `yaml:"min_coding,omitempty"`
	MinContextWindow int      `yaml:"min_context_window,omitempty"`
	RequireVision    bool     `yaml:"require_vision,omitempty"`
	RequireTools     bool     `yaml:"require_tools,omitempty"`
	RequireJSONMode  bool     `yaml:"require_json_mode,omitempty"`
	BudgetLimit      *float64 `yaml:"budget_limit,omitempty"`
	Strictness       string   `yaml:"strictness,omitempty"`
}

type serverFile struct {
	ListenAddr        string `yaml:"listen_addr"`
	DefaultStrictness string `yaml:"default_strictness"`
	DefaultZone       string `yaml:"default_privacy_zone"`
	HealthIntervalMs  int    `yaml:"health_interval_ms"`
	HealthFailN       int    `yaml:"health_fail_threshold"`
	HealthOKN         int    `yaml:"health_ok_threshold"`
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default} or
// $VAR_NAME, the same shorthand the teacher's own runtime config
// examples document.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnv expands environment variable references in raw YAML bytes
// before parsing, so secrets and endpoints never need to be hardcoded
// in the checked-in file. Undefined variables with no default expand to
// the empty string; validation is expected to catch any field that
// needed a real value.
func expandEnv(data []byte) []byte {
	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		var name string
		switch {
		case strings.HasPrefix(match, "${"):
			name = match[2 : len(match)-1]
		default:
			name = match[1:]
		}

		def := ""
		if idx := strings.Index(name, ":-"); idx != -1 {
			def = name[idx+2:]
			name = name[:idx]
		}

		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	})
	return []byte(expanded)
}

// LoadError wraps a failure reading or parsing the config file with the
// path that failed, following the teacher's tagged-error-struct idiom.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("config: failed to load %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Load reads path, expands environment variables, parses YAML,
// resolves any secret ARNs via secretsManager (may be nil if no backend
// uses one), validates the result, and returns the immutable Snapshot
// the rest of the core consumes.
func Load(ctx context.Context, path string, secretsManager SecretsManager) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var f File
	if err := yaml.Unmarshal(expandEnv(raw), &f); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if err := resolveSecrets(ctx, &f, secretsManager); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if err := validate(&f); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	return buildSnapshot(&f), nil
}

func buildSnapshot(f *File) *Snapshot {
	backends := make([]BackendSnapshot, 0, len(f.Backends))
	for _, b := range f.Backends {
		backends = append(backends, BackendSnapshot{
			ID:          b.ID,
			URL:         b.URL,
			Type:        registry.BackendType(b.Type),
			AdapterKind: b.Adapter,
			PrivacyZone: registry.PrivacyZone(b.PrivacyZone),
			Tier:        b.Tier,
			Priority:    b.Priority,
			Capabilities: registry.Capabilities{
				Vision:        b.Capabilities.Vision,
				Tools:         b.Capabilities.Tools,
				JSONMode:      b.Capabilities.JSONMode,
				Embeddings:    b.Capabilities.Embeddings,
				ContextWindow: b.Capabilities.ContextWindow,
				Reasoning:     b.Capabilities.Reasoning,
				Coding:        b.Capabilities.Coding,
			},
			PerTokenRateCents: b.PerTokenRateCents,
			APIKey:            b.APIKey,
			Params:            b.Params,
		})
	}

	weights := ScoringWeights{Priority: 1000, Load: 50, Latency: 1}
	if f.Routing.ScoringWeights != nil {
		weights = ScoringWeights{
			Priority: f.Routing.ScoringWeights.Priority,
			Load:     f.Routing.ScoringWeights.Load,
			Latency:  f.Routing.ScoringWeights.Latency,
		}
	}

	maxRetries := f.Routing.MaxRetries
	strategy := routing.Strategy(f.Routing.Strategy)
	if strategy == "" {
		strategy = routing.StrategySmart
	}

	ttftThreshold := uint32(routing.DefaultTTFTPenaltyThresholdMs)
	if f.Routing.TTFTPenaltyThresholdMs != nil {
		ttftThreshold = *f.Routing.TTFTPenaltyThresholdMs
	}

	errorRateThreshold := float32(0.5)
	if f.Quality.ErrorRateThreshold != nil {
		errorRateThreshold = *f.Quality.ErrorRateThreshold
	}
	qualityTTFT := ttftThreshold
	if f.Quality.TTFTPenaltyThresholdMs != nil {
		qualityTTFT = *f.Quality.TTFTPenaltyThresholdMs
	}
	metricsInterval := f.Quality.MetricsIntervalSeconds
	if metricsInterval == 0 {
		metricsInterval = 30
	}

	policies := make([]TrafficPolicy, 0, len(f.TrafficPolicies))
	for _, p := range f.TrafficPolicies {
		tp := TrafficPolicy{
			Pattern:          p.Pattern,
			MinReasoning:     p.MinReasoning,
			MinCoding:        p.MinCoding,
			MinContextWindow: p.MinContextWindow,
			RequireVision:    p.RequireVision,
			RequireTools:     p.RequireTools,
			RequireJSONMode:  p.RequireJSONMode,
			BudgetLimit:      p.BudgetLimit,
		}
		if p.PrivacyZone != "" {
			zone := registry.PrivacyZone(p.PrivacyZone)
			tp.PrivacyZone = &zone
		}
		if p.Strictness != "" {
			tp.Strictness = routing.Strictness(p.Strictness)
		}
		policies = append(policies, tp)
	}

	defaultStrictness := routing.Strictness(f.Server.DefaultStrictness)
	if defaultStrictness == "" {
		defaultStrictness = routing.Strict
	}
	defaultZone := registry.PrivacyZone(f.Server.DefaultZone)
	if defaultZone == "" {
		defaultZone = registry.ZoneOpen
	}
	listenAddr := f.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	healthInterval := time.Duration(f.Server.HealthIntervalMs) * time.Millisecond
	if healthInterval == 0 {
		healthInterval = 5 * time.Second
	}
	healthFailN := f.Server.HealthFailN
	if healthFailN == 0 {
		healthFailN = 2
	}
	healthOKN := f.Server.HealthOKN
	if healthOKN == 0 {
		healthOKN = 2
	}

	return &Snapshot{
		Backends: backends,
		Routing: RoutingSnapshot{
			Strategy:               strategy,
			MaxRetries:             maxRetries,
			Aliases:                f.Routing.Aliases,
			Fallbacks:              f.Routing.Fallbacks,
			ScoringWeights:         weights,
			TTFTPenaltyThresholdMs: ttftThreshold,
		},
		Quality: QualitySnapshot{
			ErrorRateThreshold:     errorRateThreshold,
			TTFTPenaltyThresholdMs: qualityTTFT,
			MetricsIntervalSeconds: metricsInterval,
		},
		TrafficPolicies: policies,
		Server: ServerSnapshot{
			ListenAddr:        listenAddr,
			DefaultStrictness: defaultStrictness,
			DefaultZone:       defaultZone,
			HealthInterval:    healthInterval,
			HealthFailN:       healthFailN,
			HealthOKN:         healthOKN,
		},
	}
}
