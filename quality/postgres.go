package quality

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSink persists recorded outcomes to Postgres for offline
// analysis and longer retention than the in-memory 24h ring. It is
// optional: the Store's routing decisions never depend on it, and a
// failed write only affects historical reporting. The Store calls
// WriteOutcome synchronously inside RecordOutcome, so a slow database
// delays each RecordOutcome call by up to the 2-second write timeout.
type PostgresSink struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresSink wraps an already-open *sql.DB. Callers typically open
// it with sql.Open("postgres", dsn) and pass it in here.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db, timeout: 2 * time.Second}
}

// WriteOutcome inserts one outcome row. Errors are returned for the
// caller to log; they are never surfaced to the request path.
func (s *PostgresSink) WriteOutcome(backendID string, o RequestOutcome) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	const query = `
		INSERT INTO nexus_request_outcomes (backend_id, occurred_at, success, ttft_ms)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, backendID, o.Timestamp, o.Success, o.TTFTMs); err != nil {
		return fmt.Errorf("quality: write outcome: %w", err)
	}
	return nil
}
