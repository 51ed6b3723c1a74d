package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nexus-gateway/nexus/agent"
)

// maxBodyBytes is the hard request body cap (spec.md §5 resource
// bounds).
const maxBodyBytes = 10 << 20 // 10 MiB

// maxEmbeddingBatch is the hard cap on embeddings input array size.
const maxEmbeddingBatch = 2048

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type wireResponseFormat struct {
	Type string `json:"type"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

type chatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []wireMessage       `json:"messages"`
	Stream         bool                `json:"stream"`
	Temperature    *float64            `json:"temperature"`
	MaxTokens      *int                `json:"max_tokens"`
	ResponseFormat *wireResponseFormat `json:"response_format"`
	Tools          []wireTool          `json:"tools"`
}

type embeddingsRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// errPayloadTooLarge is returned by decodeJSONBody when the body
// exceeds maxBodyBytes. This is the only validation failure that maps
// to payload_too_large/413 — it's the raw transport cap, not a
// body-shape rule.
var errPayloadTooLarge = errors.New("request body exceeds the 10 MiB limit")

// errBatchTooLarge is a body-shape validation error (too many embedding
// inputs in one request), distinct from errPayloadTooLarge: it maps to
// invalid_request_error/400, per spec.md's worked example ("embeddings
// batch of 2049 -> 400").
var errBatchTooLarge = fmt.Errorf("input array exceeds the %d-item batch limit", maxEmbeddingBatch)

func decodeJSONBody(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if err.Error() == "http: request body too large" {
			return errPayloadTooLarge
		}
		return err
	}
	return nil
}

// parseChatCompletionRequest validates and converts the wire JSON body
// into the backend-agnostic agent.ChatRequest.
func parseChatCompletionRequest(r *http.Request) (agent.ChatRequest, error) {
	var wire chatCompletionRequest
	if err := decodeJSONBody(r, &wire); err != nil {
		return agent.ChatRequest{}, err
	}
	if len(wire.Messages) == 0 {
		return agent.ChatRequest{}, errors.New("messages must not be empty")
	}
	if wire.Model == "" {
		return agent.ChatRequest{}, errors.New("model is required")
	}

	messages := make([]agent.Message, 0, len(wire.Messages))
	for _, wm := range wire.Messages {
		msg := agent.Message{Role: wm.Role}
		var asString string
		if json.Unmarshal(wm.Content, &asString) == nil {
			msg.Text = asString
		} else {
			var parts []wireContentPart
			if err := json.Unmarshal(wm.Content, &parts); err != nil {
				return agent.ChatRequest{}, fmt.Errorf("message content must be a string or content-part array: %w", err)
			}
			for _, p := range parts {
				msg.Parts = append(msg.Parts, agent.ContentPart{
					Type:     p.Type,
					Text:     p.Text,
					ImageURL: p.ImageURL.URL,
				})
			}
		}
		messages = append(messages, msg)
	}

	req := agent.ChatRequest{
		Model:       wire.Model,
		Messages:    messages,
		Stream:      wire.Stream,
		Temperature: wire.Temperature,
		MaxTokens:   wire.MaxTokens,
	}
	if wire.ResponseFormat != nil && wire.ResponseFormat.Type == "json_object" {
		req.JSONMode = true
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, agent.Tool{Type: t.Type, RawJSON: t.Function})
	}
	return req, nil
}

// parseEmbeddingsRequest validates and normalizes the embeddings input
// field, which the OpenAI API accepts as either a single string or an
// array of strings.
func parseEmbeddingsRequest(r *http.Request) (model string, inputs []string, err error) {
	var wire embeddingsRequest
	if err := decodeJSONBody(r, &wire); err != nil {
		return "", nil, err
	}
	if wire.Model == "" {
		return "", nil, errors.New("model is required")
	}

	var asString string
	if json.Unmarshal(wire.Input, &asString) == nil {
		if asString == "" {
			return "", nil, errors.New("input must not be empty")
		}
		return wire.Model, []string{asString}, nil
	}

	var asArray []string
	if err := json.Unmarshal(wire.Input, &asArray); err != nil {
		return "", nil, errors.New("input must be a string or an array of strings")
	}
	if len(asArray) == 0 {
		return "", nil, errors.New("input must not be empty")
	}
	if len(asArray) > maxEmbeddingBatch {
		return "", nil, errBatchTooLarge
	}
	return wire.Model, asArray, nil
}

// estimateTokens is the core's deliberately approximate token
// estimator, used only to rank candidates and annotate estimated cost
// — never for billing precision.
func estimateTokens(req agent.ChatRequest) uint32 {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Text)
		for _, p := range m.Parts {
			total += len(p.Text)
		}
	}
	return uint32(total / 4)
}
