package gemini

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletionNonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-2.0-flash:generateContent")
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1}}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "secret", BaseURL: srv.URL})
	resp, stream, err := p.ChatCompletion(t.Context(), agent.ChatRequest{Model: "gemini-2.0-flash", Messages: []agent.Message{{Role: "user", Text: "hello"}}})

	require.NoError(t, err)
	assert.Nil(t, stream)
	assert.Contains(t, string(resp.RawJSON), "hi")
}

func TestEmbeddingsUnsupportedWithoutCapability(t *testing.T) {
	p := New(Config{APIKey: "k"})
	_, err := p.Embeddings(t.Context(), "embedding-001", []string{"a"})
	assert.ErrorIs(t, err, agent.ErrUnsupported)
}
