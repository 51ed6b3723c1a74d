package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const ctxKeyRequestID contextKey = "nexus_request_id"

// requestIDMiddleware stamps every request with a correlation id,
// reusing one the caller already supplied rather than minting a new
// one, and echoes it back so client-side logs can be joined with ours.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Nexus-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Nexus-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIDFromContext returns the correlation id stamped by
// requestIDMiddleware, or "" if none is present (e.g. in tests that
// call handlers directly without the router).
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
