// Package watcher listens for container start events (C8) and
// auto-enrolls matching containers into the selected set without
// waiting for the next sweep.
package watcher

import (
	"context"
	"time"

	dockerevents "github.com/docker/docker/api/types/events"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/identity"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
	"github.com/nullwarden/warden/pkg/runtime"
	"github.com/nullwarden/warden/pkg/store"
)

// EventSource is the subset of runtime.Adapter the watcher needs to
// consume and resolve container lifecycle events, plus list the
// containers already running at startup for the initial sweep.
type EventSource interface {
	Events(ctx context.Context, filter map[string]string) (<-chan dockerevents.Message, <-chan error)
	Inspect(ctx context.Context, id string) (*runtime.Container, error)
	List(ctx context.Context, all bool) ([]*runtime.Container, error)
}

// reconnectDelay is how long the watcher waits before resubscribing
// after the event stream breaks.
const reconnectDelay = 10 * time.Second

// Watcher reacts to container start events, enrolling containers that
// carry the configured enrollment label but aren't yet selected or
// excluded.
type Watcher struct {
	rt    EventSource
	store store.Store
	bus   *events.Broker
}

// New builds a Watcher.
func New(rt EventSource, st store.Store, bus *events.Broker) *Watcher {
	return &Watcher{rt: rt, store: st, bus: bus}
}

// Run performs a one-shot initial sweep over already-running containers,
// then consumes the container "start" event stream until ctx is
// canceled, reconnecting after reconnectDelay whenever the stream ends
// or errors.
func (w *Watcher) Run(ctx context.Context) {
	logger := log.WithComponent("watcher")
	w.initialSweep(ctx)
	filter := map[string]string{"type": "container", "event": "start"}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgCh, errCh := w.rt.Events(ctx, filter)
		logger.Debug().Msg("subscribed to container start events")

	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					break drain
				}
				w.handle(ctx, msg)
			case err, ok := <-errCh:
				if ok && err != nil {
					logger.Warn().Err(err).Msg("event stream error, reconnecting")
				}
				break drain
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// initialSweep reconciles containers that were already running before
// the watcher started: without it, a container enrolled via label before
// wardend's process started would wait for its next start event (which
// may never come) before being picked up.
func (w *Watcher) initialSweep(ctx context.Context) {
	logger := log.WithComponent("watcher")
	containers, err := w.rt.List(ctx, false)
	if err != nil {
		logger.Warn().Err(err).Msg("initial sweep: failed to list running containers")
		return
	}
	for _, c := range containers {
		w.enroll(c)
	}
}

func (w *Watcher) handle(ctx context.Context, msg dockerevents.Message) {
	if msg.Actor.ID == "" {
		return
	}

	c, err := w.rt.Inspect(ctx, msg.Actor.ID)
	if err != nil {
		log.WithComponent("watcher").Warn().Err(err).Str("container_id", msg.Actor.ID).Msg("could not inspect container after start event")
		return
	}
	w.enroll(c)
}

// enroll applies the auto-enrollment decision (C8) to a single container:
// it must carry the enrollment label and not already be selected or
// excluded. Shared by the start-event handler and the startup sweep.
func (w *Watcher) enroll(c *runtime.Container) {
	logger := log.WithComponent("watcher")

	doc := w.store.GetConfig()
	if c.Labels[doc.Monitor.EnrollmentLabelKey] != doc.Monitor.EnrollmentLabelValue {
		return
	}

	stableID := identity.Resolve(c)
	ids := append([]string{stableID, c.Name, c.ID}, identity.LegacyAliases(c)...)

	if anySelected(doc.Selection.Selected, ids) {
		logger.Debug().Str("stable_id", stableID).Msg("already monitored")
		return
	}
	if anySelected(doc.Selection.Excluded, ids) {
		logger.Info().Str("stable_id", stableID).Msg("has enrollment label but is excluded, skipping")
		return
	}

	if err := w.store.UpdateConfig(func(d *config.Document) error {
		d.Selection.Selected[stableID] = true
		return nil
	}); err != nil {
		logger.Error().Err(err).Str("stable_id", stableID).Msg("failed to auto-enroll container")
		return
	}

	metrics.AutoEnrollmentsTotal.Inc()
	logger.Info().Str("stable_id", stableID).Str("container_name", c.Name).
		Msg("auto-monitoring enabled: enrollment label detected")

	msg := "automatically added to monitoring due to enrollment label"
	w.bus.Publish(&events.Event{
		StableID:      stableID,
		ContainerName: c.Name,
		Kind:          events.KindAutoMonitor,
		Status:        events.StatusEnabled,
		Message:       msg,
	})
	if err := w.store.AddEvent(&events.Event{
		StableID:      stableID,
		ContainerName: c.Name,
		Kind:          events.KindAutoMonitor,
		Status:        events.StatusEnabled,
		Message:       msg,
	}); err != nil {
		logger.Error().Err(err).Msg("failed to persist auto-monitor event")
	}
}

func anySelected(set map[string]bool, ids []string) bool {
	for _, id := range ids {
		if id != "" && set[id] {
			return true
		}
	}
	return false
}
