package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(id string, zone PrivacyZone) *Backend {
	return NewBackend(id, "http://"+id+".local", TypeLocal, zone, 1, 10, Capabilities{ContextWindow: 8192}, 0)
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	b := newTestBackend("a", ZoneRestricted)
	require.NoError(t, r.Register(b))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = r.Get("missing")
	assert.ErrorAs(t, err, &[]*ErrBackendNotFound{}[0])
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestBackend("a", ZoneOpen)))
	err := r.Register(newTestBackend("a", ZoneOpen))
	assert.ErrorAs(t, err, &[]*ErrDuplicateBackend{}[0])
}

func TestAllSortedByID(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestBackend("zebra", ZoneOpen)))
	require.NoError(t, r.Register(newTestBackend("alpha", ZoneOpen)))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].ID)
	assert.Equal(t, "zebra", all[1].ID)
}

func TestHealthyFiltersStatus(t *testing.T) {
	r := New()
	a := newTestBackend("a", ZoneOpen)
	b := newTestBackend("b", ZoneOpen)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.UpdateStatus("a", StatusHealthy))

	healthy := r.Healthy()
	require.Len(t, healthy, 1)
	assert.Equal(t, "a", healthy[0].ID)
}

func TestRemoveThenPrune(t *testing.T) {
	r := New()
	b := newTestBackend("a", ZoneOpen)
	require.NoError(t, r.Register(b))
	require.NoError(t, r.IncrementPending("a"))

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, StatusDraining, b.Status())

	r.Prune()
	_, err := r.Get("a")
	require.Error(t, err, "pending request should keep the backend from being pruned")

	require.NoError(t, r.DecrementPending("a"))
	r.Prune()
	_, err = r.Get("a")
	assert.Error(t, err, "backend should be pruned once pending reaches zero")
}

func TestForModelExcludesDraining(t *testing.T) {
	r := New()
	b := newTestBackend("a", ZoneOpen)
	require.NoError(t, r.Register(b))
	require.NoError(t, r.ReplaceModels("a", []Model{{ID: "gpt-x"}}))

	models := r.ForModel("gpt-x")
	require.Len(t, models, 1)

	require.NoError(t, r.Remove("a"))
	assert.Empty(t, r.ForModel("gpt-x"))
}

func TestDecrementPendingSaturatesAtZero(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestBackend("a", ZoneOpen)))

	require.NoError(t, r.DecrementPending("a"))
	b, _ := r.Get("a")
	assert.Equal(t, uint32(0), b.Pending())
}

func TestUpdateStatusEmitsEventOnlyOnChange(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestBackend("a", ZoneOpen)))
	events := r.Subscribe()

	require.NoError(t, r.UpdateStatus("a", StatusHealthy))
	require.NoError(t, r.UpdateStatus("a", StatusHealthy))

	ev := <-events
	assert.Equal(t, EventStatusChanged, ev.Kind)
	assert.Equal(t, StatusHealthy, ev.Status)
	select {
	case <-events:
		t.Fatal("no second event should be emitted for a no-op status update")
	default:
	}
}

func TestAggregatedModelsDedupedAndSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestBackend("a", ZoneOpen)))
	require.NoError(t, r.Register(newTestBackend("b", ZoneOpen)))
	require.NoError(t, r.UpdateStatus("a", StatusHealthy))
	require.NoError(t, r.UpdateStatus("b", StatusHealthy))
	require.NoError(t, r.ReplaceModels("a", []Model{{ID: "zeta"}, {ID: "shared"}}))
	require.NoError(t, r.ReplaceModels("b", []Model{{ID: "shared"}, {ID: "alpha"}}))

	models := r.AggregatedModels()
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"alpha", "shared", "zeta"}, ids)
}

func TestHealthCounts(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(newTestBackend("a", ZoneOpen)))
	require.NoError(t, r.Register(newTestBackend("b", ZoneOpen)))
	require.NoError(t, r.UpdateStatus("a", StatusHealthy))
	require.NoError(t, r.UpdateStatus("b", StatusUnhealthy))

	c := r.HealthCounts()
	assert.Equal(t, 2, c.Total)
	assert.Equal(t, 1, c.Healthy)
	assert.Equal(t, 1, c.Unhealthy)
}
