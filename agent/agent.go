// Package agent defines the capability-bearing handle Nexus speaks to
// every backend through, plus the concrete adapters for each backend
// protocol (openaicompat, anthropic, azure, gemini, bedrock).
//
// One Agent is created per Backend and its lifetime is bound to that
// Backend's registration; the routing pipeline and gateway never talk to
// a backend's wire protocol directly, only through this interface.
package agent

import (
	"context"
	"errors"
	"io"

	"github.com/nexus-gateway/nexus/registry"
)

// ErrUnsupported is returned by Agent methods a given backend protocol
// cannot perform, e.g. Embeddings on a chat-only adapter.
var ErrUnsupported = errors.New("agent: operation unsupported by this backend")

// ChatRequest is the parsed, backend-agnostic shape of an incoming
// chat-completion request. Agents translate it into their own wire
// format.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Stream      bool
	Tools       []Tool
	JSONMode    bool
	Temperature *float64
	MaxTokens   *int
	RawHeaders  map[string]string
}

// Message is one chat turn. Content is either a plain string (Text
// non-empty, Parts empty) or a multimodal list of parts.
type Message struct {
	Role    string
	Text    string
	Parts   []ContentPart
	ToolID  string
}

// ContentPart is one piece of multimodal message content.
type ContentPart struct {
	Type     string // "text" or "image_url"
	Text     string
	ImageURL string
}

// Tool is an OpenAI-shaped function tool declaration, passed through
// largely unmodified to backends that support tool calling.
type Tool struct {
	Type     string
	Name     string
	RawJSON  []byte
}

// ChatChunk is one streamed piece of a chat completion response,
// normalized across backend wire formats to the OpenAI SSE chunk shape
// the Gateway re-emits to the client.
type ChatChunk struct {
	RawJSON []byte // body of one SSE "data:" line, pre-framed
	Done    bool
}

// ChatResponse is a complete, non-streamed chat completion result.
type ChatResponse struct {
	RawJSON []byte
}

// ChatStream is returned by Agent.ChatCompletion when the request is
// streaming. Recv returns io.EOF once the backend's stream is
// exhausted, after which Close should still be called to release the
// underlying connection.
type ChatStream interface {
	Recv() (ChatChunk, error)
	Close() error
}

// HealthResult is the outcome of one health_probe call.
type HealthResult struct {
	OK      bool
	Latency float64 // milliseconds
	Err     error
}

// Agent is the capability-bearing handle for one backend. Every method
// must be safe for concurrent use; a single Agent instance serves every
// request routed to its Backend.
type Agent interface {
	// ChatCompletion dispatches a chat request. If req.Stream is true the
	// returned ChatStream must be read to completion (or closed); resp is
	// nil in that case. If req.Stream is false, stream is nil and resp
	// holds the full response.
	ChatCompletion(ctx context.Context, req ChatRequest) (resp *ChatResponse, stream ChatStream, err error)

	// Embeddings returns one embedding vector per input string. Adapters
	// that cannot embed return ErrUnsupported.
	Embeddings(ctx context.Context, model string, inputs []string) ([][]float32, error)

	// ListModels returns the models currently being served, as reported by
	// the backend itself (a static catalog for cloud backends, a live
	// query for local ones).
	ListModels(ctx context.Context) ([]registry.Model, error)

	// HealthProbe performs a lightweight liveness check.
	HealthProbe(ctx context.Context) HealthResult

	// Profile returns the agent's static privacy/capability/tier profile.
	Profile() registry.Profile
}

// drainAndClose releases an *http.Response body by draining it to
// io.Discard and closing it. It is unexported, so the adapter
// subpackages cannot call it, and nothing in this package calls it.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
