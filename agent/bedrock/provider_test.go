package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/nexus-gateway/nexus/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectModelFamily(t *testing.T) {
	assert.Equal(t, "anthropic", detectModelFamily("anthropic.claude-3-5-sonnet-20240620-v1:0"))
	assert.Equal(t, "anthropic", detectModelFamily("eu.anthropic.claude-sonnet-4-5-20250929-v1:0"))
	assert.Equal(t, "amazon", detectModelFamily("amazon.titan-text-express-v1"))
	assert.Equal(t, "", detectModelFamily("unknown.model-v1"))
}

type fakeClient struct {
	invokeFn func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func (f *fakeClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return f.invokeFn(ctx, params, optFns...)
}

func (f *fakeClient) InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	panic("not used in this test")
}

func TestChatCompletionAnthropicFamily(t *testing.T) {
	client := &fakeClient{
		invokeFn: func(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
			assert.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", *params.ModelId)
			return &bedrockruntime.InvokeModelOutput{
				Body: []byte(`{"content":[{"text":"hi"}],"usage":{"input_tokens":5,"output_tokens":2}}`),
			}, nil
		},
	}
	p := New(Config{Client: client})
	resp, stream, err := p.ChatCompletion(t.Context(), agent.ChatRequest{
		Model:    "anthropic.claude-3-5-sonnet-20240620-v1:0",
		Messages: []agent.Message{{Role: "user", Text: "hello"}},
	})

	require.NoError(t, err)
	assert.Nil(t, stream)
	assert.Contains(t, string(resp.RawJSON), "hi")
}

func TestChatCompletionUnsupportedFamily(t *testing.T) {
	p := New(Config{Client: &fakeClient{}})
	_, _, err := p.ChatCompletion(t.Context(), agent.ChatRequest{Model: "cohere.command-text-v14"})
	require.Error(t, err)
}

func TestEmbeddingsUnsupported(t *testing.T) {
	p := New(Config{Client: &fakeClient{}})
	_, err := p.Embeddings(t.Context(), "m", []string{"a"})
	assert.ErrorIs(t, err, agent.ErrUnsupported)
}
