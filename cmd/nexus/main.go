// Package main is the entry point for the Nexus gateway service.
//
// Usage:
//
//	./nexus -config /etc/nexus/nexus.yaml
//
// Environment Variables:
//
//	NEXUS_CONFIG - path to the YAML config file (default: nexus.yaml)
//	NEXUS_DATABASE_URL - PostgreSQL DSN for the Quality Store's
//	  persistence sink (optional; quality history is in-memory only
//	  without it)
//	NEXUS_USE_SECRETS_MANAGER - "true" to resolve api_key_secret_arn
//	  fields via AWS Secrets Manager
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/agent/anthropic"
	"github.com/nexus-gateway/nexus/agent/azure"
	"github.com/nexus-gateway/nexus/agent/bedrock"
	"github.com/nexus-gateway/nexus/agent/gemini"
	"github.com/nexus-gateway/nexus/agent/openaicompat"
	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/gateway"
	"github.com/nexus-gateway/nexus/health"
	"github.com/nexus-gateway/nexus/logging"
	"github.com/nexus-gateway/nexus/quality"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
)

var logger = logging.New("main")

func main() {
	configPath := flag.String("config", envOr("NEXUS_CONFIG", "nexus.yaml"), "path to the YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		logger.Errorf("", "", "fatal startup error", err, nil)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// run wires every package together: it owns the Registry, Quality
// Store, and config snapshot for the lifetime of the process (spec
// §9's "no free static state" — everything reachable from here, never
// a package-level singleton) and returns once the HTTP server stops.
func run(ctx context.Context, configPath string) error {
	secretsManager, err := newSecretsManager(ctx)
	if err != nil {
		return fmt.Errorf("secrets manager: %w", err)
	}

	snap, err := config.Load(ctx, configPath, secretsManager)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	reg := registry.New()
	agents := make(map[string]agent.Agent, len(snap.Backends))

	for _, b := range snap.Backends {
		a, err := buildAgent(ctx, b)
		if err != nil {
			return fmt.Errorf("backend %q: %w", b.ID, err)
		}
		agents[b.ID] = a

		backend := registry.NewBackend(b.ID, b.URL, b.Type, b.PrivacyZone, b.Tier, b.Priority, b.Capabilities, b.PerTokenRateCents)
		if err := reg.Register(backend); err != nil {
			return fmt.Errorf("registering backend %q: %w", b.ID, err)
		}
	}

	agentLookup := func(backendID string) (agent.Agent, bool) {
		a, ok := agents[backendID]
		return a, ok
	}

	sink, err := newQualitySink()
	if err != nil {
		return fmt.Errorf("quality sink: %w", err)
	}
	qualityStore := quality.New(sink)

	pipeline := buildPipeline(snap, qualityStore)

	checker := health.New(reg, agentLookup,
		health.WithInterval(snap.Server.HealthInterval),
		health.WithThresholds(snap.Server.HealthFailN, snap.Server.HealthOKN),
	)
	go checker.Run(ctx)

	go runQualityRecompute(ctx, qualityStore, snap.Quality.MetricsIntervalSeconds)

	aliasResolver := func(model string) string {
		if canonical, ok := snap.Routing.Aliases[model]; ok {
			return canonical
		}
		return model
	}
	fallbackLookup := func(model string) []string {
		return snap.Routing.Fallbacks[model]
	}

	gw := gateway.New(reg, qualityStore, pipeline, agentLookup, aliasResolver, fallbackLookup, gateway.Config{
		DefaultStrictness: snap.Server.DefaultStrictness,
		DefaultZone:       snap.Server.DefaultZone,
		MaxRetries:        snap.Routing.MaxRetries,
		StartTime:         time.Now(),
	})
	gw.Policies = snap.TrafficPolicies

	srv := &http.Server{
		Addr:    snap.Server.ListenAddr,
		Handler: gw.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("", "", "listening", map[string]any{"addr": snap.Server.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPipeline assembles the fixed five-stage Reconciler Pipeline in
// the order spec.md §4.5 mandates: Privacy, Budget, Tier/Capability,
// Quality, Scheduler.
func buildPipeline(snap *config.Snapshot, store *quality.Store) *routing.Pipeline {
	scheduler := &routing.SchedulerReconciler{
		Scorer:   store,
		Strategy: routing.Strategy(snap.Routing.Strategy),
		Weights: routing.Weights{
			Priority: snap.Routing.ScoringWeights.Priority,
			Load:     snap.Routing.ScoringWeights.Load,
			Latency:  snap.Routing.ScoringWeights.Latency,
		},
		TTFTThresholdMs: snap.Quality.TTFTPenaltyThresholdMs,
	}
	if scheduler.Strategy == routing.StrategyRoundRobin {
		scheduler.RoundRobin = &routing.RoundRobinScheduler{}
	}

	return routing.NewPipeline(
		&routing.PrivacyReconciler{DefaultZone: snap.Server.DefaultZone},
		&routing.BudgetReconciler{},
		&routing.TierReconciler{},
		&routing.QualityReconciler{Store: store, Threshold: snap.Quality.ErrorRateThreshold},
		scheduler,
	)
}

func runQualityRecompute(ctx context.Context, store *quality.Store, intervalSeconds int) {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.RecomputeAll()
		}
	}
}

func newSecretsManager(ctx context.Context) (config.SecretsManager, error) {
	if os.Getenv("NEXUS_USE_SECRETS_MANAGER") != "true" {
		return nil, nil
	}
	return config.NewAWSSecretsManager(ctx)
}

func newQualitySink() (quality.Sink, error) {
	dsn := os.Getenv("NEXUS_DATABASE_URL")
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening quality database: %w", err)
	}
	return quality.NewPostgresSink(db), nil
}

// buildAgent constructs the agent.Agent for one configured backend,
// dispatching on its declared adapter kind. Each adapter's Config
// carries the backend's static Profile so health probes and capability
// lookups never need a second round-trip to the registry.
func buildAgent(ctx context.Context, b config.BackendSnapshot) (agent.Agent, error) {
	profile := registry.Profile{PrivacyZone: b.PrivacyZone, Capabilities: b.Capabilities, Tier: b.Tier}

	switch b.AdapterKind {
	case "openai":
		return openaicompat.New(openaicompat.Config{
			BaseURL: b.URL,
			APIKey:  b.APIKey,
			Profile: profile,
		}), nil

	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:     b.APIKey,
			BaseURL:    b.URL,
			APIVersion: b.Params["api_version"],
			Profile:    profile,
		}), nil

	case "azure":
		return azure.New(azure.Config{
			Endpoint:       b.URL,
			APIKey:         b.APIKey,
			DeploymentName: b.Params["deployment_name"],
			APIVersion:     b.Params["api_version"],
			Profile:        profile,
		}), nil

	case "gemini":
		return gemini.New(gemini.Config{
			APIKey:     b.APIKey,
			BaseURL:    b.URL,
			APIVersion: b.Params["api_version"],
			Profile:    profile,
		}), nil

	case "bedrock":
		client, region, err := buildBedrockClient(ctx, b)
		if err != nil {
			return nil, err
		}
		return bedrock.New(bedrock.Config{Client: client, Region: region, Profile: profile}), nil

	default:
		return nil, fmt.Errorf("unknown adapter kind %q", b.AdapterKind)
	}
}

// buildBedrockClient loads AWS credentials for a Bedrock-backed
// backend. Params may name an explicit access key pair (params.
// access_key_id / params.secret_access_key) for an account distinct
// from the process's ambient credentials, which is the only case that
// needs aws-sdk-go-v2/credentials directly rather than the default
// chain awsconfig.LoadDefaultConfig already walks.
func buildBedrockClient(ctx context.Context, b config.BackendSnapshot) (bedrock.Client, string, error) {
	region := b.Params["region"]
	if region == "" {
		return nil, "", fmt.Errorf("bedrock backend %q: params.region is required", b.ID)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey := b.Params["access_key_id"]; accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(accessKey, b.Params["secret_access_key"])))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("loading AWS credentials for bedrock backend %q: %w", b.ID, err)
	}
	return bedrockruntime.NewFromConfig(cfg), region, nil
}
