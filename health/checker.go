// Package health drives the per-backend state machine in spec §4.3: a
// periodic probe loop that walks every registered backend, calls its
// Agent's health_probe and list_models, and folds the result into
// Unknown/Healthy/Unhealthy/Draining transitions gated by consecutive
// pass/fail thresholds.
package health

import (
	"context"
	"time"

	"github.com/nexus-gateway/nexus/agent"
	"github.com/nexus-gateway/nexus/logging"
	"github.com/nexus-gateway/nexus/registry"
)

// Defaults per spec §4.3.
const (
	DefaultInterval      = 5 * time.Second
	DefaultFailThreshold = 2
	DefaultOKThreshold   = 2
)

// AgentLookup resolves the Agent bound to a backend id. The Checker
// takes this as a function rather than a concrete map so it can be
// wired against however the caller assembles its fleet.
type AgentLookup func(backendID string) (agent.Agent, bool)

// Checker owns the consecutive pass/fail counters that drive each
// backend's state machine and the ticker that walks the fleet.
type Checker struct {
	reg      *registry.Registry
	lookup   AgentLookup
	interval time.Duration
	failN    int
	okN      int
	logger   *logging.Logger

	counters map[string]*counter
}

type counter struct {
	consecutiveFail int
	consecutiveOK   int
}

// Option configures a Checker.
type Option func(*Checker)

// WithInterval overrides the default 5s probe interval.
func WithInterval(d time.Duration) Option {
	return func(c *Checker) { c.interval = d }
}

// WithThresholds overrides the default N_fail/N_ok thresholds.
func WithThresholds(failN, okN int) Option {
	return func(c *Checker) { c.failN, c.okN = failN, okN }
}

// New constructs a Checker for reg, resolving each backend's Agent via
// lookup.
func New(reg *registry.Registry, lookup AgentLookup, opts ...Option) *Checker {
	c := &Checker{
		reg:      reg,
		lookup:   lookup,
		interval: DefaultInterval,
		failN:    DefaultFailThreshold,
		okN:      DefaultOKThreshold,
		logger:   logging.New("health"),
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run drives the probe loop until ctx is cancelled. It is meant to be
// launched as a single long-running background task, not one goroutine
// per backend.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

func (c *Checker) probeAll(ctx context.Context) {
	for _, b := range c.reg.All() {
		c.probeOne(ctx, b)
	}
	c.reg.Prune()
}

func (c *Checker) counterFor(id string) *counter {
	cnt, ok := c.counters[id]
	if !ok {
		cnt = &counter{}
		c.counters[id] = cnt
	}
	return cnt
}

func (c *Checker) probeOne(ctx context.Context, b *registry.Backend) {
	if b.Status() == registry.StatusDraining {
		return
	}

	a, ok := c.lookup(b.ID)
	if !ok {
		return
	}

	result := a.HealthProbe(ctx)
	cnt := c.counterFor(b.ID)
	next := transition(b.Status(), result.OK, cnt, c.failN, c.okN)

	if err := c.reg.UpdateStatus(b.ID, next); err != nil {
		c.logger.Warnf(b.ID, "", "failed to update status", map[string]any{"error": err.Error()})
	}

	if next != registry.StatusHealthy {
		return
	}

	models, err := a.ListModels(ctx)
	if err != nil {
		// A healthy backend that cannot currently list models keeps its
		// existing model set; listing is best-effort.
		return
	}
	if err := c.reg.ReplaceModels(b.ID, models); err != nil {
		c.logger.Warnf(b.ID, "", "failed to replace models", map[string]any{"error": err.Error()})
	}
}

// transition implements the state table in spec §4.3. Draining is
// sticky: once a backend is draining, any probe outcome leaves it
// draining (Registry.Prune, which deletes a Draining backend once its
// pending count reaches zero, is the only way out, and that is the
// Registry's job, not this function's).
func transition(current registry.Status, probeOK bool, cnt *counter, failN, okN int) registry.Status {
	if current == registry.StatusDraining {
		return registry.StatusDraining
	}

	if probeOK {
		cnt.consecutiveOK++
		cnt.consecutiveFail = 0
	} else {
		cnt.consecutiveFail++
		cnt.consecutiveOK = 0
	}

	switch current {
	case registry.StatusUnknown:
		if probeOK {
			return registry.StatusHealthy
		}
		return registry.StatusUnhealthy

	case registry.StatusHealthy:
		if !probeOK && cnt.consecutiveFail >= failN {
			return registry.StatusUnhealthy
		}
		return registry.StatusHealthy

	case registry.StatusUnhealthy:
		if probeOK && cnt.consecutiveOK >= okN {
			return registry.StatusHealthy
		}
		return registry.StatusUnhealthy

	default:
		return current
	}
}
