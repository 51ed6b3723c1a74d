package config

import "fmt"

// ValidationError reports a single structural problem in a loaded
// config file, named by the field path that failed.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Msg) }

var validAdapterKinds = map[string]bool{
	"openai": true, "anthropic": true, "azure": true, "gemini": true, "bedrock": true,
}

var validPrivacyZones = map[string]bool{"restricted": true, "open": true}

var validStrategies = map[string]bool{"smart": true, "round_robin": true, "": true}

var validStrictness = map[string]bool{"strict": true, "flexible": true, "": true}

// validate checks structural invariants the YAML unmarshaller itself
// can't enforce: required fields, known enum values, and no duplicate
// backend ids, the same division of labor as the teacher's
// ValidateAgentConfig (YAML shape validated separately from semantic
// shape).
func validate(f *File) error {
	if len(f.Backends) == 0 {
		return &ValidationError{Field: "backends", Msg: "at least one backend is required"}
	}

	seen := make(map[string]bool, len(f.Backends))
	for i, b := range f.Backends {
		if b.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("backends[%d].id", i), Msg: "required"}
		}
		if seen[b.ID] {
			return &ValidationError{Field: "backends", Msg: fmt.Sprintf("duplicate backend id %q", b.ID)}
		}
		seen[b.ID] = true

		if b.URL == "" {
			return &ValidationError{Field: fmt.Sprintf("backends[%s].url", b.ID), Msg: "required"}
		}
		if !validAdapterKinds[b.Adapter] {
			return &ValidationError{Field: fmt.Sprintf("backends[%s].adapter", b.ID), Msg: fmt.Sprintf("unknown adapter %q", b.Adapter)}
		}
		if !validPrivacyZones[b.PrivacyZone] {
			return &ValidationError{Field: fmt.Sprintf("backends[%s].privacy_zone", b.ID), Msg: fmt.Sprintf("must be 'restricted' or 'open', got %q", b.PrivacyZone)}
		}
		if b.APIKey != "" && b.APIKeySecretARN != "" {
			return &ValidationError{Field: fmt.Sprintf("backends[%s]", b.ID), Msg: "api_key and api_key_secret_arn are mutually exclusive"}
		}
	}

	if !validStrategies[f.Routing.Strategy] {
		return &ValidationError{Field: "routing.strategy", Msg: fmt.Sprintf("unknown strategy %q", f.Routing.Strategy)}
	}
	if f.Routing.MaxRetries < 0 {
		return &ValidationError{Field: "routing.max_retries", Msg: "cannot be negative"}
	}
	for model, chain := range f.Routing.Fallbacks {
		if len(chain) == 0 {
			return &ValidationError{Field: fmt.Sprintf("routing.fallbacks[%s]", model), Msg: "fallback chain must not be empty"}
		}
	}

	if f.Quality.ErrorRateThreshold != nil && (*f.Quality.ErrorRateThreshold < 0 || *f.Quality.ErrorRateThreshold > 1) {
		return &ValidationError{Field: "quality.error_rate_threshold", Msg: "must be between 0 and 1"}
	}
	if f.Quality.MetricsIntervalSeconds < 0 {
		return &ValidationError{Field: "quality.metrics_interval_seconds", Msg: "cannot be negative"}
	}

	for i, p := range f.TrafficPolicies {
		if p.Pattern == "" {
			return &ValidationError{Field: fmt.Sprintf("traffic_policies[%d].pattern", i), Msg: "required"}
		}
		if p.PrivacyZone != "" && !validPrivacyZones[p.PrivacyZone] {
			return &ValidationError{Field: fmt.Sprintf("traffic_policies[%d].privacy_zone", i), Msg: fmt.Sprintf("must be 'restricted' or 'open', got %q", p.PrivacyZone)}
		}
		if !validStrictness[p.Strictness] {
			return &ValidationError{Field: fmt.Sprintf("traffic_policies[%d].strictness", i), Msg: fmt.Sprintf("must be 'strict' or 'flexible', got %q", p.Strictness)}
		}
	}

	if f.Server.DefaultStrictness != "" && !validStrictness[f.Server.DefaultStrictness] {
		return &ValidationError{Field: "server.default_strictness", Msg: fmt.Sprintf("must be 'strict' or 'flexible', got %q", f.Server.DefaultStrictness)}
	}
	if f.Server.DefaultZone != "" && !validPrivacyZones[f.Server.DefaultZone] {
		return &ValidationError{Field: "server.default_privacy_zone", Msg: fmt.Sprintf("must be 'restricted' or 'open', got %q", f.Server.DefaultZone)}
	}

	return nil
}
