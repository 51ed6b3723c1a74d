// Package quality implements the rolling-window Quality Store: per-backend
// request outcome history and the aggregated metrics the Quality
// reconciler reads when narrowing candidates.
package quality

import (
	"sync"
	"time"

	"github.com/nexus-gateway/nexus/logging"
)

// window is how long an outcome is retained before it is pruned from the
// ring, per spec §4.2.
const window = 24 * time.Hour

// RequestOutcome is one recorded result of routing a request to a
// backend.
type RequestOutcome struct {
	Timestamp time.Time
	Success   bool
	TTFTMs    uint32
}

// AgentQualityMetrics is the cached, computed summary of a backend's
// recent outcome history. DefaultMetrics, not the zero value, is the
// "innocent until proven guilty" default used for any backend with no
// history: error_rate 0, success_rate 1, zero counts, no last failure
// (the zero value has success_rate 0).
type AgentQualityMetrics struct {
	ErrorRate1h    float32
	AvgTTFTMs      uint32
	SuccessRate24h float32
	LastFailureTs  *time.Time
	RequestCount1h uint32
}

// DefaultMetrics is returned by Get for any backend id with no recorded
// history.
func DefaultMetrics() AgentQualityMetrics {
	return AgentQualityMetrics{ErrorRate1h: 0, SuccessRate24h: 1, RequestCount1h: 0}
}

// ring is a per-backend append-only buffer of outcomes, pruned from the
// front on recompute. Appends are O(1); the owning Store guards each
// ring with its own mutex so writes to different backends never
// contend.
type ring struct {
	mu       sync.Mutex
	outcomes []RequestOutcome
}

func (r *ring) append(o RequestOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

// pruneAndSnapshot drops entries older than window from the front and
// returns a snapshot copy of what remains, all under one lock
// acquisition.
func (r *ring) pruneAndSnapshot(now time.Time) []RequestOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-window)
	firstKept := 0
	for firstKept < len(r.outcomes) && r.outcomes[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		r.outcomes = r.outcomes[firstKept:]
	}
	out := make([]RequestOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Store is the Quality Store: per-backend outcome rings plus a cache of
// computed metrics. record_outcome never blocks on recompute; metrics
// are refreshed only by RecomputeAll, normally driven by a periodic
// background task.
type Store struct {
	ringsMu sync.RWMutex
	rings   map[string]*ring

	metricsMu sync.RWMutex
	metrics   map[string]AgentQualityMetrics

	logger *logging.Logger
	sink   Sink
}

// Sink optionally persists outcomes out-of-process (see postgres.go).
// RecordOutcome calls the sink synchronously on the caller's goroutine,
// so a slow sink delays RecordOutcome by as long as the write takes.
// Failures are logged and dropped, since the Store's in-memory rings
// remain the source of truth for routing decisions.
type Sink interface {
	WriteOutcome(backendID string, o RequestOutcome) error
}

// New creates an empty Quality Store. sink may be nil.
func New(sink Sink) *Store {
	return &Store{
		rings:   make(map[string]*ring),
		metrics: make(map[string]AgentQualityMetrics),
		logger:  logging.New("quality"),
		sink:    sink,
	}
}

func (s *Store) ringFor(backendID string) *ring {
	s.ringsMu.RLock()
	r, ok := s.rings[backendID]
	s.ringsMu.RUnlock()
	if ok {
		return r
	}

	s.ringsMu.Lock()
	defer s.ringsMu.Unlock()
	if r, ok = s.rings[backendID]; ok {
		return r
	}
	r = &ring{}
	s.rings[backendID] = r
	return r
}

// RecordOutcome appends an outcome to a backend's ring with the current
// timestamp. The append is O(1) and never waits on recomputation; a
// configured sink is written synchronously before RecordOutcome returns.
func (s *Store) RecordOutcome(backendID string, success bool, ttftMs uint32) {
	o := RequestOutcome{Timestamp: time.Now(), Success: success, TTFTMs: ttftMs}
	s.ringFor(backendID).append(o)

	if s.sink != nil {
		if err := s.sink.WriteOutcome(backendID, o); err != nil {
			s.logger.Warnf(backendID, "", "quality sink write failed", map[string]any{"error": err.Error()})
		}
	}
}

// Get returns the cached metrics for a backend, or DefaultMetrics if the
// backend has no recorded history.
func (s *Store) Get(backendID string) AgentQualityMetrics {
	s.metricsMu.RLock()
	defer s.metricsMu.RUnlock()
	if m, ok := s.metrics[backendID]; ok {
		return m
	}
	return DefaultMetrics()
}

// RecomputeAll prunes every backend's ring of entries older than 24h and
// recomputes its 1h/24h aggregates in a single pass, publishing the
// result to the metrics cache. Intended to run from a periodic
// background task (default interval 30s).
func (s *Store) RecomputeAll() {
	now := time.Now()

	s.ringsMu.RLock()
	ids := make([]string, 0, len(s.rings))
	rs := make([]*ring, 0, len(s.rings))
	for id, r := range s.rings {
		ids = append(ids, id)
		rs = append(rs, r)
	}
	s.ringsMu.RUnlock()

	for i, id := range ids {
		outcomes := rs[i].pruneAndSnapshot(now)
		m := computeMetrics(now, outcomes)

		s.metricsMu.Lock()
		s.metrics[id] = m
		s.metricsMu.Unlock()
	}
}

func computeMetrics(now time.Time, outcomes []RequestOutcome) AgentQualityMetrics {
	if len(outcomes) == 0 {
		return DefaultMetrics()
	}

	hourAgo := now.Add(-time.Hour)

	var (
		count1h, fail1h, count24h, success24h int
		ttftSum1h                             uint64
		ttftCount1h                           int
		lastFailure                           *time.Time
	)

	for i := range outcomes {
		o := &outcomes[i]
		count24h++
		if o.Success {
			success24h++
		} else {
			t := o.Timestamp
			if lastFailure == nil || t.After(*lastFailure) {
				lastFailure = &t
			}
		}

		if o.Timestamp.After(hourAgo) {
			count1h++
			if !o.Success {
				fail1h++
			} else {
				ttftSum1h += uint64(o.TTFTMs)
				ttftCount1h++
			}
		}
	}

	m := AgentQualityMetrics{
		RequestCount1h: uint32(count1h),
		LastFailureTs:  lastFailure,
	}

	if count1h == 0 {
		m.ErrorRate1h = 0
	} else {
		m.ErrorRate1h = float32(fail1h) / float32(count1h)
	}

	if count24h == 0 {
		m.SuccessRate24h = 1
	} else {
		m.SuccessRate24h = float32(success24h) / float32(count24h)
	}

	if ttftCount1h == 0 {
		m.AvgTTFTMs = 0
	} else {
		m.AvgTTFTMs = uint32(ttftSum1h / uint64(ttftCount1h))
	}

	return m
}
