package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/nexus-gateway/nexus/registry"
	"github.com/nexus-gateway/nexus/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedGateway(t *testing.T) (*Gateway, *fakeAgent) {
	backend := registry.NewBackend("embed-1", "http://embed-1", registry.TypeLocal, registry.ZoneRestricted, 1, 1,
		registry.Capabilities{}, 0)
	a := &fakeAgent{models: []registry.Model{{ID: "embed-model"}}}
	g := newTestGateway(t, []testFleet{{backend: backend, agent: a, healthy: true}},
		Config{DefaultZone: registry.ZoneRestricted, DefaultStrictness: routing.Strict})
	return g, a
}

// Boundary: an empty input array is a client error (400), not a
// payload-too-large error.
func TestEmbeddingsEmptyInputReturns400(t *testing.T) {
	g, _ := embedGateway(t)

	rr := doRequest(g, http.MethodPost, "/v1/embeddings", `{"model":"embed-model","input":[]}`, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid_request")
}

// Boundary: exceeding maxEmbeddingBatch is a 400 invalid_request_error
// (a body-shape rule), distinct from the 413 payload_too_large reserved
// for the raw 10 MiB transport cap.
func TestEmbeddingsBatchOverLimitReturns400(t *testing.T) {
	g, _ := embedGateway(t)

	inputs := make([]string, maxEmbeddingBatch+1)
	for i := range inputs {
		inputs[i] = "x"
	}
	body, err := json.Marshal(map[string]any{"model": "embed-model", "input": inputs})
	require.NoError(t, err)

	rr := doRequest(g, http.MethodPost, "/v1/embeddings", string(body), nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid_request")
}

// Property P8: N inputs produce exactly N embedding vectors, correctly
// indexed in request order.
func TestEmbeddingsBatchIdentity(t *testing.T) {
	g, a := embedGateway(t)
	a.embedResp = [][]float32{{1, 2}, {3, 4}, {5, 6}}

	body := `{"model":"embed-model","input":["a","b","c"]}`
	rr := doRequest(g, http.MethodPost, "/v1/embeddings", body, nil)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp embeddingsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)
	for i, d := range resp.Data {
		assert.Equal(t, i, d.Index)
	}
	assert.Equal(t, []float32{1, 2}, resp.Data[0].Embedding)
	assert.Equal(t, []float32{5, 6}, resp.Data[2].Embedding)
}

// A single string input (rather than an array) is normalized to a
// one-element batch.
func TestEmbeddingsSingleStringInput(t *testing.T) {
	g, a := embedGateway(t)
	a.embedResp = [][]float32{{9, 9}}

	rr := doRequest(g, http.MethodPost, "/v1/embeddings", `{"model":"embed-model","input":"hello"}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `"index":0`))
}

func TestEmbeddingsUnknownModelReturns404(t *testing.T) {
	g, _ := embedGateway(t)

	rr := doRequest(g, http.MethodPost, "/v1/embeddings", `{"model":"nonexistent","input":"hi"}`, nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
}
