package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
backends:
  - id: local-1
    url: http://localhost:11434/v1
    type: local
    adapter: openai
    privacy_zone: restricted
    tier: 2
    priority: 10
    capabilities:
      context_window: 8192
      reasoning: 5
      coding: 5
routing:
  fallbacks:
    gpt-4: [local-1]
quality:
  error_rate_threshold: 0.5
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, minimalYAML)

	snap, err := Load(context.Background(), path, nil)
	require.NoError(t, err)

	require.Len(t, snap.Backends, 1)
	assert.Equal(t, "local-1", snap.Backends[0].ID)
	assert.EqualValues(t, 1000, snap.Routing.ScoringWeights.Priority)
	assert.Equal(t, "smart", string(snap.Routing.Strategy))
	assert.EqualValues(t, 3000, snap.Routing.TTFTPenaltyThresholdMs)
	assert.Equal(t, 30, snap.Quality.MetricsIntervalSeconds)
	assert.Equal(t, []string{"local-1"}, snap.Routing.Fallbacks["gpt-4"])
	assert.Equal(t, "strict", string(snap.Server.DefaultStrictness))
	assert.Equal(t, ":8080", snap.Server.ListenAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), "/nonexistent/nexus.yaml", nil)
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestLoadRejectsUnknownAdapter(t *testing.T) {
	path := writeTemp(t, `
backends:
  - id: x
    url: http://x
    type: local
    adapter: made-up
    privacy_zone: open
`)
	_, err := Load(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "made-up")
}

func TestLoadRejectsDuplicateBackendIDs(t *testing.T) {
	path := writeTemp(t, `
backends:
  - id: dup
    url: http://a
    type: local
    adapter: openai
    privacy_zone: open
  - id: dup
    url: http://b
    type: local
    adapter: openai
    privacy_zone: open
`)
	_, err := Load(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate backend id")
}

func TestExpandEnvSupportsDefaults(t *testing.T) {
	os.Setenv("NEXUS_TEST_VAR", "resolved")
	defer os.Unsetenv("NEXUS_TEST_VAR")

	out := expandEnv([]byte("key: ${NEXUS_TEST_VAR}\nother: ${NEXUS_TEST_MISSING:-fallback}\n"))
	assert.Contains(t, string(out), "key: resolved")
	assert.Contains(t, string(out), "other: fallback")
}

func TestExpandEnvUndefinedNoDefaultIsEmpty(t *testing.T) {
	out := expandEnv([]byte("key: ${NEXUS_TEST_TOTALLY_UNSET}"))
	assert.Equal(t, "key: ", string(out))
}

type fakeSecretsManager struct {
	secrets map[string]map[string]string
}

func (f *fakeSecretsManager) GetSecret(_ context.Context, arn string) (map[string]string, error) {
	return f.secrets[arn], nil
}

func TestLoadResolvesSecretARN(t *testing.T) {
	path := writeTemp(t, `
backends:
  - id: cloud-1
    url: https://api.openai.com/v1
    type: cloud
    adapter: openai
    privacy_zone: open
    api_key_secret_arn: arn:aws:secretsmanager:us-east-1:123:secret:nexus/openai
`)
	sm := &fakeSecretsManager{secrets: map[string]map[string]string{
		"arn:aws:secretsmanager:us-east-1:123:secret:nexus/openai": {"api_key": "sk-resolved"},
	}}

	snap, err := Load(context.Background(), path, sm)
	require.NoError(t, err)
	require.Len(t, snap.Backends, 1)
	assert.Equal(t, "sk-resolved", snap.Backends[0].APIKey)
}

func TestLoadSecretARNWithoutManagerFails(t *testing.T) {
	path := writeTemp(t, `
backends:
  - id: cloud-1
    url: https://api.openai.com/v1
    type: cloud
    adapter: openai
    privacy_zone: open
    api_key_secret_arn: arn:aws:secretsmanager:us-east-1:123:secret:nexus/openai
`)
	_, err := Load(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SecretsManager was configured")
}

func TestTrafficPolicyMatchSpecificity(t *testing.T) {
	policies := []TrafficPolicy{
		{Pattern: "*", MinReasoning: 1},
		{Pattern: "gpt-*", MinReasoning: 3},
		{Pattern: "gpt-4-turbo", MinReasoning: 5},
	}

	exact, ok := Match(policies, "gpt-4-turbo")
	require.True(t, ok)
	assert.Equal(t, 5, exact.MinReasoning)

	prefix, ok := Match(policies, "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 3, prefix.MinReasoning)

	wildcard, ok := Match(policies, "llama3")
	require.True(t, ok)
	assert.Equal(t, 1, wildcard.MinReasoning)
}

func TestTrafficPolicyMatchNoneFound(t *testing.T) {
	_, ok := Match([]TrafficPolicy{{Pattern: "claude-*"}}, "gpt-4")
	assert.False(t, ok)
}
