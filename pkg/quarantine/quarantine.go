// Package quarantine implements automatic quarantine release (C7): a
// quarantined container is re-evaluated on each sweep and released once
// it reports healthy again.
package quarantine

import (
	"context"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/evaluator"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
	"github.com/nullwarden/warden/pkg/runtime"
	"github.com/nullwarden/warden/pkg/store"
)

// Resetter clears a scheduler's in-memory backoff state for a stable_id.
// Implemented by *scheduler.Scheduler; declared narrowly here to avoid an
// import cycle between pkg/scheduler and pkg/quarantine.
type Resetter interface {
	Reset(stableID string)
}

// Manager releases quarantined containers once they evaluate healthy.
type Manager struct {
	store     store.Store
	evaluator *evaluator.Evaluator
	scheduler Resetter
	bus       *events.Broker
}

// New builds a Manager.
func New(st store.Store, eval *evaluator.Evaluator, sched Resetter, bus *events.Broker) *Manager {
	return &Manager{store: st, evaluator: eval, scheduler: sched, bus: bus}
}

// Reconsider runs the evaluator against a quarantined container and, if
// it reports healthy, releases the quarantine: the quarantine set is
// cleared, the restart counter resets, and the scheduler's backoff state
// is reset so the next unhealthy episode starts from scratch.
func (m *Manager) Reconsider(ctx context.Context, doc *config.Document, stableID string, c *runtime.Container, probes evaluator.CustomProbes) error {
	if c.State != runtime.StateRunning {
		return nil
	}

	needsRestart, _ := m.evaluator.Evaluate(ctx, doc, stableID, c, probes)
	if needsRestart {
		return nil
	}

	if err := m.store.Unquarantine(stableID); err != nil {
		return err
	}
	if err := m.store.ClearRestarts(stableID); err != nil {
		log.WithStableID(stableID).Error().Err(err).Msg("failed to clear restart counter on auto-release")
	}
	m.scheduler.Reset(stableID)
	metrics.AutoUnquarantinesTotal.Inc()
	metrics.ContainersQuarantined.Dec()

	msg := "auto-released: container reports healthy"
	m.bus.Publish(&events.Event{
		StableID:      stableID,
		ContainerName: c.Name,
		Kind:          events.KindAutoUnquarantine,
		Status:        events.StatusEnabled,
		Message:       msg,
	})
	if err := m.store.AddEvent(&events.Event{
		StableID:      stableID,
		ContainerName: c.Name,
		Kind:          events.KindAutoUnquarantine,
		Status:        events.StatusEnabled,
		Message:       msg,
	}); err != nil {
		log.WithStableID(stableID).Error().Err(err).Msg("failed to persist auto-unquarantine event")
	}
	return nil
}
