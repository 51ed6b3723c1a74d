package gateway

import (
	"net/http"
	"testing"

	"github.com/nexus-gateway/nexus/config"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A TrafficPolicy naming a stricter privacy zone than the deployment
// default forces exclusion of an otherwise-eligible open-zone backend.
func TestTrafficPolicyOverridesPrivacyZone(t *testing.T) {
	cloud := registry.NewBackend("cloud-1", "http://cloud-1", registry.TypeCloud, registry.ZoneOpen, 1, 1,
		registry.Capabilities{}, 1.0)
	cloudAgent := &fakeAgent{models: []registry.Model{{ID: "sensitive-model"}}}

	g := newTestGateway(t, []testFleet{{backend: cloud, agent: cloudAgent, healthy: true}},
		Config{DefaultZone: registry.ZoneOpen, DefaultStrictness: routing.Strict})

	restricted := registry.ZoneRestricted
	g.Policies = []config.TrafficPolicy{
		{Pattern: "sensitive-*", PrivacyZone: &restricted},
	}

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("sensitive-model"), nil)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Header().Get("X-Nexus-Rejection-Reasons"), "privacy_zone_mismatch")
}

// The more specific exact-match policy wins over a wildcard, and an
// unmatched model is unaffected by any configured policy.
func TestTrafficPolicyMostSpecificWins(t *testing.T) {
	restricted := registry.ZoneRestricted
	open := registry.ZoneOpen
	policies := []config.TrafficPolicy{
		{Pattern: "*", PrivacyZone: &open},
		{Pattern: "exact-model", PrivacyZone: &restricted},
	}

	matched, ok := config.Match(policies, "exact-model")
	require.True(t, ok)
	assert.Equal(t, registry.ZoneRestricted, *matched.PrivacyZone)

	matched, ok = config.Match(policies, "other-model")
	require.True(t, ok)
	assert.Equal(t, registry.ZoneOpen, *matched.PrivacyZone)
}
