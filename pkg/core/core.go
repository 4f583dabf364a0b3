// Package core wires the healing components together: the sweep loop
// that drives identity resolution, selection, evaluation and
// scheduling, plus the long-lived goroutines (runtime event listener,
// external monitor poller, event-bus dispatch) that run alongside it.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/evaluator"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/identity"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
	"github.com/nullwarden/warden/pkg/probe"
	"github.com/nullwarden/warden/pkg/quarantine"
	"github.com/nullwarden/warden/pkg/runtime"
	"github.com/nullwarden/warden/pkg/scheduler"
	"github.com/nullwarden/warden/pkg/selection"
	"github.com/nullwarden/warden/pkg/store"
	"github.com/nullwarden/warden/pkg/watcher"
)

// Runtime is the full surface core needs from the container runtime:
// listing/inspecting containers, probing them, restarting them and
// streaming lifecycle events.
type Runtime interface {
	probe.Runtime
	watcher.EventSource
	List(ctx context.Context, all bool) ([]*runtime.Container, error)
	scheduler.Restarter
}

// Core owns the store, runtime adapter, event bus and the components
// that make up one sweep cycle. It is constructed once at startup and
// is the single collaborator the admin HTTP layer depends on.
type Core struct {
	Store store.Store
	Bus   *events.Broker

	rt         Runtime
	external   evaluator.ExternalSource
	evaluator  *evaluator.Evaluator
	scheduler  *scheduler.Scheduler
	quarantine *quarantine.Manager
	watcher    *watcher.Watcher

	mu sync.Mutex // serializes concurrent sweeps; a sweep never overlaps itself
}

// New builds a Core. external may be nil when the external monitor
// integration is not configured.
func New(st store.Store, rt Runtime, external evaluator.ExternalSource) *Core {
	bus := events.NewBroker()
	eval := evaluator.New(rt, external)
	sched := scheduler.New(st, rt, bus)
	qm := quarantine.New(st, eval, sched, bus)
	w := watcher.New(rt, st, bus)

	return &Core{
		Store:      st,
		Bus:        bus,
		rt:         rt,
		external:   external,
		evaluator:  eval,
		scheduler:  sched,
		quarantine: qm,
		watcher:    w,
	}
}

// ExternalStatus reports the cached external-monitor status for
// stableID, per the admin API's "external status (if mapped)" field.
// Returns ok=false when no external monitor is configured or the
// stable_id has no mapping yet.
func (c *Core) ExternalStatus(stableID string) (evaluator.ExternalStatus, bool) {
	if c.external == nil {
		return evaluator.ExternalUnknown, false
	}
	return c.external.Status(stableID)
}

// Run starts the event bus and blocks, running one sweep per configured
// interval, until ctx is canceled. The runtime event listener is started
// as a separate goroutine sharing ctx's lifetime.
func (c *Core) Run(ctx context.Context) {
	c.Bus.Start()
	defer c.Bus.Stop()

	go c.watcher.Run(ctx)

	logger := log.WithComponent("core")
	logger.Info().Msg("healing core started")

	interval := time.Duration(c.Store.GetConfig().Monitor.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			c.sweep(ctx)

			next := time.Duration(c.Store.GetConfig().Monitor.IntervalSeconds) * time.Second
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-ctx.Done():
			logger.Info().Msg("healing core stopped")
			return
		}
	}
}

// sweep runs one full pass over every container the runtime reports:
// resolve identity (C3), decide eligibility (C4) and, only for
// containers that pass selection, either re-evaluate a quarantined
// container for auto-release (C7) or evaluate+schedule it (C5/C6). An
// excluded-or-unselected container is skipped before the quarantine
// check ever runs, so quarantine release never applies to a container
// the operator has excluded. A per-container failure is logged and
// never aborts the sweep.
func (c *Core) sweep(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger := log.WithComponent("core")
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepsTotal.Inc()
	}()

	containers, err := c.rt.List(ctx, true)
	if err != nil {
		logger.Error().Err(err).Msg("sweep: failed to list containers")
		return
	}

	doc := c.Store.GetConfig()
	monitored := 0

	for _, container := range containers {
		stableID := identity.Resolve(container)

		if !selection.IsMonitored(doc, stableID, container) {
			continue
		}
		monitored++

		if c.Store.IsQuarantined(stableID) {
			if err := c.quarantine.Reconsider(ctx, doc, stableID, container, c.Store); err != nil {
				logger.Error().Err(err).Str("stable_id", stableID).Msg("failed to reconsider quarantined container")
			}
			continue
		}

		needsRestart, reason := c.evaluator.Evaluate(ctx, doc, stableID, container, c.Store)
		if !needsRestart {
			continue
		}

		if err := c.scheduler.Handle(ctx, stableID, container.Name, container.ID, reason); err != nil {
			logger.Warn().Err(err).Str("stable_id", stableID).Msg("scheduler failed to act on unhealthy container")
		}
	}

	metrics.ContainersMonitored.Set(float64(monitored))
	metrics.ContainersQuarantined.Set(float64(len(c.Store.ListQuarantined())))
}

// RestartNow issues an immediate, manually triggered restart for
// stableID, bypassing cooldown and backoff. Used by the admin API's
// manual restart endpoint.
func (c *Core) RestartNow(ctx context.Context, stableID string) error {
	containers, err := c.rt.List(ctx, true)
	if err != nil {
		return fmt.Errorf("core: list containers: %w", err)
	}
	for _, container := range containers {
		if identity.Resolve(container) != stableID {
			continue
		}
		return c.rt.Restart(ctx, container.ID, 10*time.Second)
	}
	return fmt.Errorf("core: no running container found for stable_id %q", stableID)
}

// UpdateConfig applies mutate to the configuration document, validating
// and persisting it.
func (c *Core) UpdateConfig(mutate func(*config.Document) error) error {
	return c.Store.UpdateConfig(mutate)
}
