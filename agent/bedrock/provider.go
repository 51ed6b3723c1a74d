// Package bedrock implements the agent.Agent interface for AWS Bedrock,
// shaping the InvokeModel request body per model family (Anthropic,
// Amazon Titan, Meta Llama, Mistral) the way the Bedrock API requires,
// and authenticating via AWS Signature V4 through the SDK's own
// credential chain rather than a bearer token.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrockTypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/registry"
)

// Client is the subset of *bedrockruntime.Client this package calls,
// letting tests inject a fake without touching AWS.
type Client interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// Config configures a Provider.
type Config struct {
	Client  Client
	Region  string
	Profile registry.Profile
}

// Provider speaks the Bedrock InvokeModel wire format.
type Provider struct {
	client  Client
	region  string
	profile registry.Profile
}

// New constructs a Provider from an already-configured Bedrock client.
func New(cfg Config) *Provider {
	return &Provider{client: cfg.Client, region: cfg.Region, profile: cfg.Profile}
}

// inferenceProfilePrefixes are the known AWS Bedrock inference profile
// regional prefixes, as in eu.anthropic.claude-...
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

var supportedFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// detectModelFamily extracts the model-family segment from a Bedrock
// model id, accounting for the optional regional inference-profile
// prefix.
func detectModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}
	for _, prefix := range inferenceProfilePrefixes {
		if segments[0] == prefix && len(segments) > 1 {
			return validateFamily(segments[1])
		}
	}
	return validateFamily(segments[0])
}

func validateFamily(family string) string {
	for _, f := range supportedFamilies {
		if f == family {
			return family
		}
	}
	return ""
}

func buildRequestBody(req agent.ChatRequest) ([]byte, error) {
	family := detectModelFamily(req.Model)

	var prompt string
	var system string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Text
			continue
		}
		prompt = m.Text
	}

	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	switch family {
	case "anthropic":
		body := map[string]any{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages":          []map[string]string{{"role": "user", "content": prompt}},
		}
		if system != "" {
			body["system"] = system
		}
		return json.Marshal(body)
	case "amazon":
		return json.Marshal(map[string]any{
			"inputText": prompt,
			"textGenerationConfig": map[string]any{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          0.9,
			},
		})
	case "meta":
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_gen_len": maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		})
	case "mistral":
		return json.Marshal(map[string]any{
			"prompt":      prompt,
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		})
	default:
		return nil, fmt.Errorf("bedrock: unsupported model family for %q", req.Model)
	}
}

func parseResponseBody(modelID string, body []byte) (content string, promptTokens, completionTokens int, err error) {
	switch detectModelFamily(modelID) {
	case "anthropic":
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err = json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("bedrock: decode anthropic response: %w", err)
		}
		if len(resp.Content) > 0 {
			content = resp.Content[0].Text
		}
		return content, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil
	case "amazon":
		var resp struct {
			Results []struct {
				OutputText string `json:"outputText"`
				TokenCount int    `json:"tokenCount"`
			} `json:"results"`
			InputTextTokenCount int `json:"inputTextTokenCount"`
		}
		if err = json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("bedrock: decode amazon response: %w", err)
		}
		outputTokens := 0
		if len(resp.Results) > 0 {
			content = resp.Results[0].OutputText
			outputTokens = resp.Results[0].TokenCount
		}
		return content, resp.InputTextTokenCount, outputTokens, nil
	case "meta":
		var resp struct {
			Generation       string `json:"generation"`
			PromptTokenCount int    `json:"prompt_token_count"`
			GenTokenCount    int    `json:"generation_token_count"`
		}
		if err = json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("bedrock: decode meta response: %w", err)
		}
		return resp.Generation, resp.PromptTokenCount, resp.GenTokenCount, nil
	case "mistral":
		var resp struct {
			Outputs []struct {
				Text string `json:"text"`
			} `json:"outputs"`
		}
		if err = json.Unmarshal(body, &resp); err != nil {
			return "", 0, 0, fmt.Errorf("bedrock: decode mistral response: %w", err)
		}
		if len(resp.Outputs) > 0 {
			content = resp.Outputs[0].Text
		}
		return content, 0, 0, nil
	default:
		return "", 0, 0, fmt.Errorf("bedrock: unsupported model family for %q", modelID)
	}
}

// ChatCompletion invokes the model and normalizes the family-specific
// response into an OpenAI-shaped chat completion.
func (p *Provider) ChatCompletion(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, agent.ChatStream, error) {
	body, err := buildRequestBody(req)
	if err != nil {
		return nil, nil, err
	}

	if req.Stream {
		out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(req.Model),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("bedrock: invoke model stream: %w", err)
		}
		return nil, &respStream{modelID: req.Model, stream: out.GetStream()}, nil
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bedrock: invoke model: %w", err)
	}

	content, promptTokens, completionTokens, err := parseResponseBody(req.Model, out.Body)
	if err != nil {
		return nil, nil, err
	}

	normalized := map[string]any{
		"id":      "chatcmpl-bedrock",
		"object":  "chat.completion",
		"model":   req.Model,
		"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]string{"role": "assistant", "content": content}}},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("bedrock: marshal normalized response: %w", err)
	}
	return &agent.ChatResponse{RawJSON: data}, nil, nil
}

// respStream normalizes Bedrock's event-stream chunks (one JSON blob per
// model family, same shapes as the non-streaming response) into OpenAI
// chunk deltas.
type respStream struct {
	modelID string
	stream  *bedrockruntime.InvokeModelWithResponseStreamEventStream
}

func (s *respStream) Recv() (agent.ChatChunk, error) {
	event, ok := <-s.stream.Events()
	if !ok {
		if err := s.stream.Err(); err != nil {
			return agent.ChatChunk{}, err
		}
		return agent.ChatChunk{Done: true}, nil
	}

	chunkEvent, ok := event.(*bedrockTypes.ResponseStreamMemberChunk)
	if !ok {
		return s.Recv()
	}

	content, _, _, err := parseResponseBody(s.modelID, chunkEvent.Value.Bytes)
	if err != nil {
		return agent.ChatChunk{}, err
	}
	chunk := map[string]any{
		"id":      "chatcmpl-bedrock",
		"object":  "chat.completion.chunk",
		"model":   s.modelID,
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": content}}},
	}
	raw, err := json.Marshal(chunk)
	if err != nil {
		return agent.ChatChunk{}, err
	}
	return agent.ChatChunk{RawJSON: raw}, nil
}

func (s *respStream) Close() error {
	return s.stream.Close()
}

// Embeddings is not wired for Bedrock; Titan embeddings use a different
// InvokeModel body shape this adapter does not yet build.
func (p *Provider) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	return nil, agent.ErrUnsupported
}

// ListModels returns agent.ErrUnsupported: Bedrock model availability
// is an account/region entitlement, not something queried per request,
// and this adapter carries no static catalog either.
func (p *Provider) ListModels(ctx context.Context) ([]registry.Model, error) {
	return nil, agent.ErrUnsupported
}

// HealthProbe invokes the fixed model id returned by defaultProbeModel
// (Claude 3.5 Haiku on Bedrock) with a minimal one-token prompt.
func (p *Provider) HealthProbe(ctx context.Context) agent.HealthResult {
	start := time.Now()
	_, _, err := p.ChatCompletion(ctx, agent.ChatRequest{
		Model:     defaultProbeModel(p.profile),
		Messages:  []agent.Message{{Role: "user", Text: "ping"}},
		MaxTokens: intPtr(1),
	})
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return agent.HealthResult{OK: false, Latency: latency, Err: err}
	}
	return agent.HealthResult{OK: true, Latency: latency}
}

func defaultProbeModel(p registry.Profile) string {
	return "anthropic.claude-3-5-haiku-20241022-v1:0"
}

func intPtr(v int) *int { return &v }

// Profile returns the static profile configured for this backend.
func (p *Provider) Profile() registry.Profile {
	return p.profile
}
