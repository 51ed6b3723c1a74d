package gateway

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property P1: IncrementPending/DecrementPending always net to zero
// once a request completes, even when the backend's dispatch itself
// fails.
func TestPendingCountNetsZeroOnDispatchFailure(t *testing.T) {
	backend := registry.NewBackend("flaky", "http://flaky", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	a := &fakeAgent{chatErr: errors.New("boom"), models: []registry.Model{{ID: "llama3"}}}

	g := newTestGateway(t, []testFleet{{backend: backend, agent: a, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("llama3"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	b, err := g.Registry.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), b.Pending())
}

// Same property on the success path: pending must still return to zero
// after a clean dispatch.
func TestPendingCountNetsZeroOnSuccess(t *testing.T) {
	backend := registry.NewBackend("clean", "http://clean", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	a := &fakeAgent{
		models:   []registry.Model{{ID: "llama3"}},
		chatResp: &agent.ChatResponse{RawJSON: []byte(`{"id":"1"}`)},
	}

	g := newTestGateway(t, []testFleet{{backend: backend, agent: a, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("llama3"), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	b, err := g.Registry.Get("clean")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), b.Pending())
}
