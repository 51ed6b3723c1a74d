// Package azure implements the agent.Agent interface for Azure OpenAI
// Service deployments. The wire format is the OpenAI chat-completions
// shape, but the URL is keyed by deployment name and api-version rather
// than by model, and authentication uses the api-key header.
package azure

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

const defaultAPIVersion = "2024-08-01-preview"

// HTTPClient enables test doubles without a live server.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Provider.
type Config struct {
	Endpoint       string // https://myresource.openai.azure.com
	APIKey         string
	DeploymentName string
	APIVersion     string
	Timeout        time.Duration
	Profile        registry.Profile
}

// Provider speaks the Azure OpenAI chat-completions wire format.
type Provider struct {
	endpoint       string
	apiKey         string
	deploymentName string
	apiVersion     string
	client         HTTPClient
	profile        registry.Profile
}

// New constructs a Provider from cfg.
func New(cfg Config) *Provider {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:         cfg.APIKey,
		deploymentName: cfg.DeploymentName,
		apiVersion:     apiVersion,
		client:         &http.Client{Timeout: timeout},
		profile:        cfg.Profile,
	}
}

func (p *Provider) url(path string) string {
	return fmt.Sprintf("%s/openai/deployments/%s/%s?api-version=%s", p.endpoint, p.deploymentName, path, p.apiVersion)
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.apiKey)
}

func buildChatBody(req agent.ChatRequest) ([]byte, error) {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Text})
	}
	body := map[string]any{"messages": messages, "stream": req.Stream}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return json.Marshal(body)
}

// ChatCompletion dispatches to the deployment's chat/completions route.
func (p *Provider) ChatCompletion(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, agent.ChatStream, error) {
	body, err := buildChatBody(req)
	if err != nil {
		return nil, nil, fmt.Errorf("azure: build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url("chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("azure: new request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("azure: dispatch: %w", err)
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
			return nil, nil, fmt.Errorf("azure: read response: %w", err)
		}
		return &agent.ChatResponse{RawJSON: data}, nil, nil
	}

	return nil, &sseStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// UpstreamError carries a non-2xx Azure response verbatim.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("azure: upstream returned %d: %s", e.StatusCode, string(e.Body))
}

// sseStream reads Azure's OpenAI-shaped SSE frames, identical in shape
// to openaicompat's since Azure OpenAI mirrors the upstream API.
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

// Embeddings calls the deployment's embeddings route.
func (p *Provider) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if !p.profile.Capabilities.Embeddings {
		return nil, agent.ErrUnsupported
	}

	body, err := json.Marshal(map[string]any{"input": inputs})
	if err != nil {
		return nil, fmt.Errorf("azure: build embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url("embeddings"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure: new request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure: dispatch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read response: %w", err)
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
		return nil, fmt.Errorf("azure: decode embeddings: %w", err)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// ListModels returns agent.ErrUnsupported: Azure OpenAI deployments
// are 1:1 with a model, not a catalog, and this adapter carries no
// static catalog either.
func (p *Provider) ListModels(ctx context.Context) ([]registry.Model, error) {
	return nil, agent.ErrUnsupported
}

// HealthProbe issues a minimal chat completion and treats anything short
// of a transport failure or 5xx as healthy.
func (p *Provider) HealthProbe(ctx context.Context) agent.HealthResult {
	start := time.Now()
	body, _ := buildChatBody(agent.ChatRequest{Messages: []agent.Message{{Role: "user", Text: "ping"}}})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url("chat/completions"), bytes.NewReader(body))
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
		return agent.HealthResult{OK: false, Latency: latency, Err: fmt.Errorf("azure: probe status %d", resp.StatusCode)}
	}
	return agent.HealthResult{OK: true, Latency: latency}
}

// Profile returns the static profile configured for this deployment.
func (p *Provider) Profile() registry.Profile {
	return p.profile
}
