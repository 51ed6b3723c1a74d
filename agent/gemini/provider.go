// Package gemini implements the agent.Agent interface for Google's
// Gemini generateContent/streamGenerateContent API, which differs from
// the OpenAI shape both in request structure (content "parts" instead
// of message "content") and in how API keys travel (query parameter,
// not a header).
package gemini

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
	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultAPIVersion = "v1beta"
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

// Provider speaks the Gemini generateContent wire format.
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

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
}

func buildRequest(req agent.ChatRequest) geminiRequest {
	var out geminiRequest
	for _, m := range req.Messages {
		if m.Role == "system" {
			out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Text}}}
			continue
		}
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Text}}})
	}
	return out
}

func (p *Provider) methodURL(model, method string) string {
	return fmt.Sprintf("%s/%s/models/%s:%s?key=%s", p.baseURL, p.apiVersion, model, method, p.apiKey)
}

// ChatCompletion dispatches to generateContent or streamGenerateContent.
func (p *Provider) ChatCompletion(ctx context.Context, req agent.ChatRequest) (*agent.ChatResponse, agent.ChatStream, error) {
	apiReq := buildRequest(req)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	method := "generateContent"
	if req.Stream {
		method = "streamGenerateContent"
	}
	url := p.methodURL(req.Model, method)
	if req.Stream {
		url += "&alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: dispatch: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(resp.Body)
		return nil, nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
	}

	if !req.Stream {
		defer func() { _ = resp.Body.Close() }()
		var parsed struct {
			Candidates []struct {
				Content geminiContent `json:"content"`
			} `json:"candidates"`
			UsageMetadata struct {
				PromptTokenCount     int `json:"promptTokenCount"`
				CandidatesTokenCount int `json:"candidatesTokenCount"`
			} `json:"usageMetadata"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, nil, fmt.Errorf("gemini: decode response: %w", err)
		}
		var text strings.Builder
		if len(parsed.Candidates) > 0 {
			for _, part := range parsed.Candidates[0].Content.Parts {
				text.WriteString(part.Text)
			}
		}
		out := map[string]any{
			"id":      "chatcmpl-gemini",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "finish_reason": "stop", "message": map[string]string{"role": "assistant", "content": text.String()}}},
			"usage": map[string]int{
				"prompt_tokens":     parsed.UsageMetadata.PromptTokenCount,
				"completion_tokens": parsed.UsageMetadata.CandidatesTokenCount,
				"total_tokens":      parsed.UsageMetadata.PromptTokenCount + parsed.UsageMetadata.CandidatesTokenCount,
			},
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini: marshal normalized response: %w", err)
		}
		return &agent.ChatResponse{RawJSON: data}, nil, nil
	}

	return nil, &sseStream{model: req.Model, body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// UpstreamError carries a non-2xx Gemini response verbatim.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini: upstream returned %d: %s", e.StatusCode, string(e.Body))
}

type sseStream struct {
	model   string
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

type geminiStreamEvent struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
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
		var ev geminiStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if len(ev.Candidates) == 0 {
			continue
		}
		cand := ev.Candidates[0]
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			text.WriteString(part.Text)
		}
		chunk := map[string]any{
			"id":      "chatcmpl-gemini",
			"object":  "chat.completion.chunk",
			"model":   s.model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": text.String()}}},
		}
		raw, err := json.Marshal(chunk)
		if err != nil {
			return agent.ChatChunk{}, err
		}
		if cand.FinishReason != "" {
			s.done = true
		}
		return agent.ChatChunk{RawJSON: raw}, nil
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

// Embeddings calls Gemini's embedContent endpoint.
func (p *Provider) Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if !p.profile.Capabilities.Embeddings {
		return nil, agent.ErrUnsupported
	}

	out := make([][]float32, 0, len(inputs))
	for _, input := range inputs {
		body, err := json.Marshal(map[string]any{
			"content": geminiContent{Parts: []geminiPart{{Text: input}}},
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: build embeddings request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.methodURL(model, "embedContent"), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gemini: new request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("gemini: dispatch: %w", err)
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("gemini: read response: %w", err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data}
		}

		var parsed struct {
			Embedding struct {
				Values []float32 `json:"values"`
			} `json:"embedding"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("gemini: decode embeddings: %w", err)
		}
		out = append(out, parsed.Embedding.Values)
	}
	return out, nil
}

// ListModels returns agent.ErrUnsupported: Gemini model availability
// is region/project-scoped and not queried per request, and this
// adapter carries no static catalog either.
func (p *Provider) ListModels(ctx context.Context) ([]registry.Model, error) {
	return nil, agent.ErrUnsupported
}

// HealthProbe issues a minimal generateContent call.
func (p *Provider) HealthProbe(ctx context.Context) agent.HealthResult {
	start := time.Now()
	body, _ := json.Marshal(geminiRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: "ping"}}}}})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.methodURL("gemini-2.0-flash", "generateContent"), bytes.NewReader(body))
	if err != nil {
		return agent.HealthResult{OK: false, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return agent.HealthResult{OK: false, Err: err}
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	latency := float64(time.Since(start).Microseconds()) / 1000
	if resp.StatusCode >= http.StatusInternalServerError {
		return agent.HealthResult{OK: false, Latency: latency, Err: fmt.Errorf("gemini: probe status %d", resp.StatusCode)}
	}
	return agent.HealthResult{OK: true, Latency: latency}
}

// Profile returns the static profile configured for this backend.
func (p *Provider) Profile() registry.Profile {
	return p.profile
}
