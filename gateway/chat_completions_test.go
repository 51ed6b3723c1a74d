package gateway

import (
	"net/http"
	"testing"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1 (spec.md §8): a Strict request for a model only a
// restricted-zone backend declares is routed there and only there.
func TestLocalOnlyStrictRouting(t *testing.T) {
	local := registry.NewBackend("local-1", "http://local-1", registry.TypeLocal, registry.ZoneRestricted, 2, 10,
		registry.Capabilities{ContextWindow: 8192, Reasoning: 5, Coding: 5}, 0)
	localAgent := &fakeAgent{
		chatResp: &agent.ChatResponse{RawJSON: []byte(`{"id":"1"}`)},
		models:   []registry.Model{{ID: "llama3", ContextLength: 8192}},
	}

	g := newTestGateway(t, []testFleet{{backend: local, agent: localAgent, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("llama3"), nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "local-1", rr.Header().Get("X-Nexus-Backend"))
	assert.Equal(t, string(registry.TypeLocal), rr.Header().Get("X-Nexus-Backend-Type"))
}

// Scenario 2: a backend marked Unhealthy must never receive traffic,
// even though it still declares the requested model.
func TestDegradedBackendExcludedFromRouting(t *testing.T) {
	degraded := registry.NewBackend("degraded-1", "http://degraded-1", registry.TypeCloud, registry.ZoneOpen, 3, 10,
		registry.Capabilities{ContextWindow: 128000, Reasoning: 8, Coding: 8}, 1.0)
	degradedAgent := &fakeAgent{
		chatResp: &agent.ChatResponse{RawJSON: []byte(`{"id":"1"}`)},
		models:   []registry.Model{{ID: "gpt-4", ContextLength: 128000}},
	}

	g := newTestGateway(t, []testFleet{{backend: degraded, agent: degradedAgent, healthy: false}},
		Config{DefaultZone: registry.ZoneOpen, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("gpt-4"), nil)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "service_unavailable")
}

// Scenario 3: a Flexible request for an unavailable model lands on a
// backend that never declared it, via tier-equivalent substitution,
// and the response surfaces X-Nexus-Fallback-Model / tier-substitution.
func TestTierEquivalentSubstitution(t *testing.T) {
	declarer := registry.NewBackend("declarer", "http://declarer", registry.TypeCloud, registry.ZoneOpen, 5, 10,
		registry.Capabilities{ContextWindow: 128000, Reasoning: 8, Coding: 8}, 2.0)
	declarerAgent := &fakeAgent{models: []registry.Model{{ID: "gpt-4", ContextLength: 128000}}}

	substitute := registry.NewBackend("substitute", "http://substitute", registry.TypeCloud, registry.ZoneOpen, 6, 10,
		registry.Capabilities{ContextWindow: 200000, Reasoning: 9, Coding: 9}, 2.0)
	substituteAgent := &fakeAgent{
		chatResp: &agent.ChatResponse{RawJSON: []byte(`{"id":"1"}`)},
		models:   []registry.Model{{ID: "substitute-model-v2", ContextLength: 200000}},
	}

	g := newTestGateway(t, []testFleet{
		{backend: declarer, agent: declarerAgent, healthy: false}, // only declares gpt-4; unhealthy
		{backend: substitute, agent: substituteAgent, healthy: true},
	}, Config{DefaultZone: registry.ZoneOpen, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("gpt-4"),
		map[string]string{"X-Nexus-Flexible": "true"})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "substitute", rr.Header().Get("X-Nexus-Backend"))
	assert.Equal(t, "substitute-model-v2", rr.Header().Get("X-Nexus-Fallback-Model"))
	assert.Equal(t, string(routing.ReasonTierSubstitution), rr.Header().Get("X-Nexus-Route-Reason"))
}

// Scenario 4: a successful streaming request proxies SSE chunks
// verbatim and terminates with a [DONE] frame.
func TestStreamingSuccessProxiesChunksAndDone(t *testing.T) {
	backend := registry.NewBackend("stream-1", "http://stream-1", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	stream := &fakeChatStream{chunks: []agent.ChatChunk{
		{RawJSON: []byte(`{"choices":[{"delta":{"content":"Hel"}}]}`)},
		{RawJSON: []byte(`{"choices":[{"delta":{"content":"lo"}}]}`)},
		{Done: true},
	}}
	streamAgent := &fakeAgent{chatStream: stream, models: []registry.Model{{ID: "llama3"}}}

	g := newTestGateway(t, []testFleet{{backend: backend, agent: streamAgent, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":true}`
	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", body, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "Hel")
	assert.Contains(t, rr.Body.String(), "lo")
	assert.Contains(t, rr.Body.String(), "[DONE]")
	assert.True(t, stream.closed, "stream must be closed once exhausted")
}

// Scenario 5: a mid-stream backend crash (Recv error before [DONE])
// still terminates the client's SSE connection with a synthetic error
// frame plus [DONE], never hanging the response open.
func TestMidStreamBackendCrashEmitsErrorAndDone(t *testing.T) {
	backend := registry.NewBackend("stream-2", "http://stream-2", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	stream := &crashingStream{failAfter: 1, err: errUpstream}
	streamAgent := &fakeAgent{chatStream: stream, models: []registry.Model{{ID: "llama3"}}}

	g := newTestGateway(t, []testFleet{{backend: backend, agent: streamAgent, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	body := `{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":true}`
	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", body, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bad_gateway")
	assert.Contains(t, rr.Body.String(), "[DONE]")
}

type crashingStream struct {
	failAfter int
	emitted   int
	err       error
}

func (s *crashingStream) Recv() (agent.ChatChunk, error) {
	if s.emitted < s.failAfter {
		s.emitted++
		return agent.ChatChunk{RawJSON: []byte(`{"choices":[{"delta":{"content":"ok"}}]}`)}, nil
	}
	return agent.ChatChunk{}, s.err
}

func (s *crashingStream) Close() error { return nil }

// Scenario 6: every candidate rejected (here, by a privacy mismatch)
// produces a 503 with the full exclusion trace rather than a
// model_not_found 404, since the model is known.
func TestHardRejectOnPrivacyMismatch(t *testing.T) {
	cloudOnly := registry.NewBackend("cloud-only", "http://cloud-only", registry.TypeCloud, registry.ZoneOpen, 1, 1,
		registry.Capabilities{}, 1.0)
	cloudAgent := &fakeAgent{models: []registry.Model{{ID: "gpt-4"}}}

	g := newTestGateway(t, []testFleet{{backend: cloudOnly, agent: cloudAgent, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("gpt-4"), nil)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Header().Get("X-Nexus-Rejection-Reasons"), "privacy_zone_mismatch")
	assert.Contains(t, rr.Body.String(), `"available_backends":["cloud-only"]`)
}

// Boundary: zero backends ever declare the requested model at all ->
// model_not_found (404), distinct from the 503 a known-but-rejected
// model produces above.
func TestUnknownModelReturns404(t *testing.T) {
	backend := registry.NewBackend("a", "http://a", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	a := &fakeAgent{models: []registry.Model{{ID: "llama3"}}}

	g := newTestGateway(t, []testFleet{{backend: backend, agent: a, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("totally-unknown-model"), nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "model_not_found")
}

// A config-driven fallback chain retries the next model when the
// primary is rejected, independent of tier substitution.
func TestFallbackChainRoutesToConfiguredAlternate(t *testing.T) {
	primary := registry.NewBackend("primary", "http://primary", registry.TypeCloud, registry.ZoneOpen, 1, 1,
		registry.Capabilities{}, 1.0)
	primaryAgent := &fakeAgent{models: []registry.Model{{ID: "gpt-4"}}} // unhealthy below

	fallback := registry.NewBackend("fallback", "http://fallback", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	fallbackAgent := &fakeAgent{
		chatResp: &agent.ChatResponse{RawJSON: []byte(`{"id":"1"}`)},
		models:   []registry.Model{{ID: "llama3"}},
	}

	g := newTestGateway(t, []testFleet{
		{backend: primary, agent: primaryAgent, healthy: false},
		{backend: fallback, agent: fallbackAgent, healthy: true},
	}, Config{DefaultZone: registry.ZoneOpen, DefaultStrictness: routing.Strict})
	g.Fallbacks = func(model string) []string {
		if model == "gpt-4" {
			return []string{"llama3"}
		}
		return nil
	}

	rr := doRequest(g, http.MethodPost, "/v1/chat/completions", chatCompletionBody("gpt-4"), nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "fallback", rr.Header().Get("X-Nexus-Backend"))
	assert.Equal(t, string(routing.ReasonFallback), rr.Header().Get("X-Nexus-Route-Reason"))
	assert.Equal(t, "llama3", rr.Header().Get("X-Nexus-Fallback-Model"))
}
