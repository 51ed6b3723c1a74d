// Package anthropic implements the agent.Agent interface for Anthropic's
// Messages API, translating Nexus's normalized chat request into the
// Claude wire format and translating Claude's SSE events back into
// OpenAI-shaped chunks the Gateway already knows how to re-emit.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/registry"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

// HTTPClient enables test doubles without a live server.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Provider.
type Config struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	Profile    registry.Profile
}

// Provider speaks the Anthropic Messages API.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	client     HTTPClient
	profile    registry.Profile
}

// New constructs a Provider from cfg.
func New(cfg Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		client:     &http.Client{Timeout: timeout},
		profile:    cfg.Profile,
	}
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.apiVersion)
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

func buildRequest(req agent.ChatRequest) anthropicRequest {
	out := anthropicRequest{Model: req.Model, Stream: req.Stream, Temperature: req.Temperature}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	out.MaxTokens = maxTokens

	for _, m := range req.Messages {
		if m.Role == "system" {
			out.System = m.Text
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: m.Role, Content: m.Text})
	}
	return out
}

// ChatCompletion dispatches to /v1/messages.
func (p *Provider) ChatCompletion(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, agent.ChatStream, error) {
	apiReq := buildRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic: new request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic: dispatch: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(resp.Body)
		return nil, nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	if !req.Stream {
		defer func() { _ = resp.Body.Close() }()
		var parsed struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			Model      string `json:"model"`
			StopReason string `json:"stop_reason"`
			Usage      struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, nil, fmt.Errorf("anthropic: decode response: %w", err)
		}
		var text strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		out := openAIChatCompletion(req.Model, text.String(), parsed.StopReason, parsed.Usage.InputTokens, parsed.Usage.OutputTokens)
		data, err := json.Marshal(out)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: marshal normalized response: %w", err)
		}
		return &agent.ChatResponse{RawJSON: data}, nil, nil
	}

	return nil, &sseStream{model: req.Model, body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// UpstreamError carries a non-2xx Anthropic response verbatim.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("anthropic: upstream returned %d: %s", e.StatusCode, string(e.Body))
}

func openAIChatCompletion(model, content, stopReason string, inputTokens, outputTokens int) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-anthropic",
		"object":  "chat.completion",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "finish_reason": mapStopReason(stopReason), "message": map[string]string{"role": "assistant", "content": content}}},
		"usage": map[string]int{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	if reason == "max_tokens" {
		return "length"
	}
	return "stop"
}

// sseStream decodes Anthropic's content_block_delta events into OpenAI
// chunk shapes, so downstream clients see one SSE contract regardless of
// backend.
type sseStream struct {
	model   string
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (s *sseStream) Recv() (agent.ChatChunk, error) {
	if s.done {
		return agent.ChatChunk{}, io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			chunk := map[string]any{
				"id":      "chatcmpl-anthropic",
				"object":  "chat.completion.chunk",
				"model":   s.model,
				"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": ev.Delta.Text}}},
			}
			raw, err := json.Marshal(chunk)
			if err != nil {
				return agent.ChatChunk{}, err
			}
			return agent.ChatChunk{RawJSON: raw}, nil
		case "message_stop":
			s.done = true
			return agent.ChatChunk{Done: true}, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return agent.ChatChunk{}, err
	}
	s.done = true
	return agent.ChatChunk{}, io.EOF
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// Embeddings is not part of the Anthropic Messages API.
func (p *Provider) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	return nil, agent.ErrUnsupported
}

// ListModels returns agent.ErrUnsupported: Anthropic has no
// models-list endpoint analogous to OpenAI's, and this adapter carries
// no static catalog either.
func (p *Provider) ListModels(ctx context.Context) ([]registry.Model, error) {
	return nil, agent.ErrUnsupported
}

// HealthProbe issues a minimal messages request and treats anything
// short of a transport failure or 5xx as healthy.
func (p *Provider) HealthProbe(ctx context.Context) agent.HealthResult {
	start := time.Now()
	body, _ := json.Marshal(anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return agent.HealthResult{OK: false, Err: err}
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return agent.HealthResult{OK: false, Err: err}
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	latency := float64(time.Since(start).Microseconds()) / 1000
	if resp.StatusCode >= http.StatusInternalServerError {
		return agent.HealthResult{OK: false, Latency: latency, Err: fmt.Errorf("anthropic: probe status %d", resp.StatusCode)}
	}
	return agent.HealthResult{OK: true, Latency: latency}
}

// Profile returns the static profile configured for this backend.
func (p *Provider) Profile() registry.Profile {
	return p.profile
}
