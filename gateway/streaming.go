package gateway

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexus-gateway/nexus/agent"
)

// streamChatCompletion proxies an Agent's ChatStream to the client as
// SSE, per spec.md §4.8: each data: line is forwarded verbatim as soon
// as it is complete, TTFT is recorded on the first non-empty payload,
// and a synthetic error + [DONE] frame is emitted if the upstream
// stream fails before its own [DONE].
//
// The caller must have already written response headers (status 200,
// Content-Type: text/event-stream) before invoking this.
func (g *Gateway) streamChatCompletion(w http.ResponseWriter, r *http.Request, stream agent.ChatStream, backendID string) {
	flusher, _ := w.(http.Flusher)
	start := time.Now()
	var ttftMs uint32
	ttftRecorded := false
	success := false

	defer func() {
		_ = stream.Close()
		g.Quality.RecordOutcome(backendID, success, ttftMs)
	}()

	for {
		select {
		case <-r.Context().Done():
			// client disconnected; Close (deferred above) cancels the
			// upstream request.
			return
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				success = true
				writeSSEDone(w, flusher)
				return
			}
			writeSSELine(w, flusher, fmt.Sprintf(`{"error":{"message":%q,"type":"bad_gateway","code":"bad_gateway"}}`, err.Error()))
			writeSSEDone(w, flusher)
			return
		}

		if chunk.Done {
			success = true
			writeSSEDone(w, flusher)
			return
		}

		if len(chunk.RawJSON) > 0 && !ttftRecorded {
			ttftRecorded = true
			ttftMs = uint32(time.Since(start).Milliseconds())
		}
		writeSSELine(w, flusher, string(chunk.RawJSON))
	}
}

func writeSSELine(w http.ResponseWriter, flusher http.Flusher, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
