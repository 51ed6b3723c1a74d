package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nexus-gateway/nexus/logging"
)

// EventKind identifies the kind of change event emitted by the registry.
type EventKind string

const (
	// EventStatusChanged fires whenever a backend's health status changes.
	EventStatusChanged EventKind = "status_changed"
	// EventModelsChanged fires whenever a backend's model list is replaced.
	EventModelsChanged EventKind = "models_changed"
	// EventBackendRemoved fires once a draining backend is fully removed.
	EventBackendRemoved EventKind = "backend_removed"
)

// Event describes a single registry change, consumed by subscribers such
// as the dashboard and the Quality Store's reconciliation loop.
type Event struct {
	Kind      EventKind
	BackendID string
	Status    Status
}

// Registry is the thread-safe, in-memory catalog of backends. Many
// concurrent readers are expected (every routed request reads candidate
// sets); structural writes (register/remove/model replacement) are rare
// and protected by a single RWMutex, while the hot per-request counters
// live as atomics on the Backend itself so they never contend with the
// structural lock.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend

	subMu sync.Mutex
	subs  []chan Event

	logger *logging.Logger
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		backends: make(map[string]*Backend),
		logger:   logging.New("registry"),
	}
}

// ErrDuplicateBackend is returned by Register when the id already exists.
type ErrDuplicateBackend struct{ ID string }

func (e *ErrDuplicateBackend) Error() string {
	return fmt.Sprintf("registry: backend %q already registered", e.ID)
}

// ErrBackendNotFound is returned when an operation targets an unknown id.
type ErrBackendNotFound struct{ ID string }

func (e *ErrBackendNotFound) Error() string {
	return fmt.Sprintf("registry: backend %q not found", e.ID)
}

// Register inserts a new backend. It fails if a backend with the same id
// is already registered.
func (r *Registry) Register(b *Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.ID]; exists {
		return &ErrDuplicateBackend{ID: b.ID}
	}
	r.backends[b.ID] = b
	r.logger.Infof(b.ID, "", "backend registered", map[string]any{"url": b.URL, "type": string(b.Type)})
	return nil
}

// Remove marks a backend Draining; callers should stop routing new
// requests to it and call Prune once its pending count reaches zero.
func (r *Registry) Remove(id string) error {
	r.mu.RLock()
	b, ok := r.backends[id]
	r.mu.RUnlock()
	if !ok {
		return &ErrBackendNotFound{ID: id}
	}
	b.setStatus(StatusDraining)
	r.logger.Infof(id, "", "backend marked draining", nil)
	r.emit(Event{Kind: EventStatusChanged, BackendID: id, Status: StatusDraining})
	return nil
}

// Prune removes any Draining backend whose pending count has reached
// zero. It should be called periodically (e.g. from the same loop that
// drives the Health Checker).
func (r *Registry) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, b := range r.backends {
		if b.Status() == StatusDraining && b.Pending() == 0 {
			delete(r.backends, id)
			r.logger.Infof(id, "", "backend removed", nil)
			r.emit(Event{Kind: EventBackendRemoved, BackendID: id})
		}
	}
}

// Get returns the backend with the given id, or ErrBackendNotFound.
func (r *Registry) Get(id string) (*Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, &ErrBackendNotFound{ID: id}
	}
	return b, nil
}

// All returns a snapshot of every registered backend, sorted by id. The
// returned handles are shared, not copies: their interior atomics remain
// live.
func (r *Registry) All() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Healthy returns every backend currently in StatusHealthy, sorted by id.
func (r *Registry) Healthy() []*Backend {
	all := r.All()
	out := make([]*Backend, 0, len(all))
	for _, b := range all {
		if b.Status() == StatusHealthy {
			out = append(out, b)
		}
	}
	return out
}

// ForModel returns every non-Draining backend that currently serves the
// named model, sorted by id.
func (r *Registry) ForModel(modelID string) []*Backend {
	all := r.All()
	out := make([]*Backend, 0)
	for _, b := range all {
		if b.Status() == StatusDraining {
			continue
		}
		for _, m := range b.Models() {
			if m.ID == modelID {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// IncrementPending atomically increments a backend's in-flight request
// count. Must be paired with exactly one DecrementPending call.
func (r *Registry) IncrementPending(id string) error {
	b, err := r.Get(id)
	if err != nil {
		return err
	}
	b.incrementPending()
	return nil
}

// DecrementPending atomically decrements a backend's in-flight request
// count. It saturates at zero and logs rather than panicking if called
// more often than IncrementPending for the same backend.
func (r *Registry) DecrementPending(id string) error {
	b, err := r.Get(id)
	if err != nil {
		return err
	}
	before := b.Pending()
	b.decrementPending()
	if before == 0 {
		r.logger.Warnf(id, "", "decrement_pending called with pending already at 0", nil)
	}
	return nil
}

// UpdateLatencyEMA folds a new latency sample (in milliseconds) into a
// backend's running EMA.
func (r *Registry) UpdateLatencyEMA(id string, sampleMs float64) error {
	b, err := r.Get(id)
	if err != nil {
		return err
	}
	b.updateLatencyEMA(sampleMs)
	return nil
}

// UpdateStatus sets a backend's health status and emits a change event if
// the status actually changed. Called only by the Health Checker.
func (r *Registry) UpdateStatus(id string, status Status) error {
	b, err := r.Get(id)
	if err != nil {
		return err
	}
	if b.Status() == status {
		return nil
	}
	b.setStatus(status)
	r.logger.Infof(id, "", "status changed", map[string]any{"status": string(status)})
	r.emit(Event{Kind: EventStatusChanged, BackendID: id, Status: status})
	return nil
}

// ReplaceModels replaces a backend's model list wholesale and emits a
// change event if the set of model ids actually changed. Called only by
// the Health Checker.
func (r *Registry) ReplaceModels(id string, models []Model) error {
	b, err := r.Get(id)
	if err != nil {
		return err
	}
	if !modelsEqual(b.Models(), models) {
		b.replaceModels(models)
		r.logger.Infof(id, "", "model list changed", map[string]any{"count": len(models)})
		r.emit(Event{Kind: EventModelsChanged, BackendID: id})
	}
	return nil
}

func modelsEqual(a, b []Model) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, m := range a {
		seen[m.ID] = true
	}
	for _, m := range b {
		if !seen[m.ID] {
			return false
		}
	}
	return true
}

// Subscribe returns a channel that receives every future registry Event.
// The channel is buffered; slow subscribers may miss events rather than
// block the registry's writers.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) emit(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			// subscriber is behind; drop rather than block
		}
	}
}

// ModelSummary is one entry in an aggregated model listing.
type ModelSummary struct {
	ID      string
	Backend string
}

// AggregatedModels returns every model served by any healthy backend,
// deduplicated by model id and sorted alphabetically (spec P6 / §6
// GET /v1/models).
func (r *Registry) AggregatedModels() []ModelSummary {
	seen := make(map[string]string)
	for _, b := range r.Healthy() {
		for _, m := range b.Models() {
			if _, ok := seen[m.ID]; !ok {
				seen[m.ID] = b.ID
			}
		}
	}
	out := make([]ModelSummary, 0, len(seen))
	for id, backend := range seen {
		out = append(out, ModelSummary{ID: id, Backend: backend})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts summarizes backend health for the /health endpoint.
type Counts struct {
	Total     int
	Healthy   int
	Unhealthy int
}

// HealthCounts returns the current backend health counts.
func (r *Registry) HealthCounts() Counts {
	all := r.All()
	c := Counts{Total: len(all)}
	for _, b := range all {
		switch b.Status() {
		case StatusHealthy:
			c.Healthy++
		case StatusUnhealthy:
			c.Unhealthy++
		}
	}
	return c
}
