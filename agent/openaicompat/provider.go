// Package openaicompat implements the agent.Agent interface for any
// backend that speaks the OpenAI chat-completions wire format
// verbatim: local inference servers (Ollama, vLLM, llama.cpp server)
// and OpenAI's own cloud API.
package openaicompat

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

// HTTPClient is an interface for HTTP client operations, enabling tests
// to inject a fake transport without a live server.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Provider.
type Config struct {
	BaseURL string        // e.g. http://localhost:11434/v1 or https://api.openai.com/v1
	APIKey  string        // empty for local backends that don't require auth
	Timeout time.Duration // default 120s
	Profile registry.Profile
}

// Provider speaks the OpenAI chat-completions and embeddings wire
// format directly.
type Provider struct {
	baseURL string
	apiKey  string
	client  HTTPClient
	profile registry.Profile
}

// New constructs a Provider from cfg.
func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		profile: cfg.Profile,
	}
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// ChatCompletion translates the request into the OpenAI wire shape and
// either returns a full response or a live SSE stream.
func (p *Provider) ChatCompletion(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, agent.ChatStream, error) {
	body, err := buildChatBody(req)
	if err != nil {
		return nil, nil, fmt.Errorf("openaicompat: build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("openaicompat: new request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("openaicompat: dispatch: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(resp.Body)
		return nil, nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	if !req.Stream {
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("openaicompat: read response: %w", err)
		}
		return &agent.ChatResponse{RawJSON: data}, nil, nil
	}

	return nil, &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// UpstreamError carries a non-2xx response verbatim so the Gateway can
// shape its own error body without re-deriving backend semantics.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("openaicompat: upstream returned %d: %s", e.StatusCode, string(e.Body))
}

func buildChatBody(req agent.ChatRequest) ([]byte, error) {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]any{"role": m.Role}
		if len(m.Parts) > 0 {
			parts := make([]map[string]any, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Type {
				case "image_url":
					parts = append(parts, map[string]any{
						"type":      "image_url",
						"image_url": map[string]string{"url": part.ImageURL},
					})
				default:
					parts = append(parts, map[string]any{"type": "text", "text": part.Text})
				}
			}
			msg["content"] = parts
		} else {
			msg["content"] = m.Text
		}
		messages = append(messages, msg)
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
		"stream":   req.Stream,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if len(req.Tools) > 0 {
		tools := make([]json.RawMessage, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, json.RawMessage(t.RawJSON))
		}
		body["tools"] = tools
	}
	return json.Marshal(body)
}

// sseStream reads "data: ...\n\n"-framed chunks, terminating on the
// literal "[DONE]" sentinel per the OpenAI streaming contract.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
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
		if data == "[DONE]" {
			s.done = true
			return agent.ChatChunk{Done: true}, nil
		}
		if data == "" {
			continue
		}
		return agent.ChatChunk{RawJSON: []byte(data)}, nil
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

// Embeddings calls the OpenAI embeddings endpoint.
func (p *Provider) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if !p.profile.Capabilities.Embeddings {
		return nil, agent.ErrUnsupported
	}

	body, err := json.Marshal(map[string]any{"model": model, "input": inputs})
	if err != nil {
		return nil, fmt.Errorf("openaicompat: build embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: new request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: dispatch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("openaicompat: decode embeddings: %w", err)
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// ListModels queries the backend's /models endpoint.
func (p *Provider) ListModels(ctx context.Context) ([]registry.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: new request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: dispatch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("openaicompat: decode models: %w", err)
	}

	out := make([]registry.Model, len(parsed.Data))
	for i, m := range parsed.Data {
		out[i] = registry.Model{
			ID:            m.ID,
			Name:          m.ID,
			ContextLength: p.profile.Capabilities.ContextWindow,
			Vision:        p.profile.Capabilities.Vision,
			Tools:         p.profile.Capabilities.Tools,
			JSONMode:      p.profile.Capabilities.JSONMode,
		}
	}
	return out, nil
}

// HealthProbe issues a lightweight GET against /models and measures
// latency; backends without that endpoint should front one with a
// cheap static response.
func (p *Provider) HealthProbe(ctx context.Context) agent.HealthResult {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
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
		return agent.HealthResult{OK: false, Latency: latency, Err: fmt.Errorf("openaicompat: probe status %d", resp.StatusCode)}
	}
	return agent.HealthResult{OK: true, Latency: latency}
}

// Profile returns the static profile configured for this backend.
func (p *Provider) Profile() registry.Profile {
	return p.profile
}
