// Package scheduler implements the restart scheduler (C6): cooldown,
// exponential backoff and max-restarts-to-quarantine enforcement, with
// an at-most-one-restart-in-flight guarantee per stable_id.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
	"github.com/nullwarden/warden/pkg/store"
)

// Restarter is the subset of runtime.Adapter the scheduler needs to
// issue a restart.
type Restarter interface {
	Restart(ctx context.Context, id string, timeout time.Duration) error
}

// restartState tracks the scheduler's per-stable_id backoff progress.
// It lives only in memory; RestartCounts in the config document is the
// durable counter used for the max_restarts decision (Q1/Q2: a running
// total that is never windowed or garbage-collected).
type restartState struct {
	lastRestartAt      time.Time
	nextBackoffSeconds float64
}

// Scheduler enforces cooldown, backoff and quarantine policy before
// issuing a restart for an unhealthy container.
type Scheduler struct {
	store store.Store
	rt    Restarter
	bus   *events.Broker

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	states map[string]*restartState
}

// New builds a Scheduler backed by st for persisted state, rt to issue
// restarts, and bus to publish restart/quarantine events.
func New(st store.Store, rt Restarter, bus *events.Broker) *Scheduler {
	return &Scheduler{
		store:  st,
		rt:     rt,
		bus:    bus,
		locks:  make(map[string]*sync.Mutex),
		states: make(map[string]*restartState),
	}
}

// lockFor returns the per-stable_id mutex, creating it if necessary.
// Holding this lock for the duration of Handle is what guarantees
// at-most-one-restart-in-flight per stable_id (I4), even when two sweep
// cycles overlap or a sweep and an event-driven check race.
func (s *Scheduler) lockFor(stableID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[stableID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[stableID] = l
	}
	return l
}

// stateFor returns the per-stable_id backoff state, creating it if
// necessary. A newly created state's nextBackoffSeconds is seeded to
// doc.Restart.Backoff.InitialSeconds so the very first restart for a
// stable_id also waits out the initial backoff delay, matching the
// source's default-to-initial-delay behavior for a container with no
// prior restart history.
func (s *Scheduler) stateFor(stableID string, doc *config.Document) *restartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stableID]
	if !ok {
		st = &restartState{}
		if doc.Restart.Backoff.Enabled {
			st.nextBackoffSeconds = doc.Restart.Backoff.InitialSeconds
		}
		s.states[stableID] = st
	}
	return st
}

// Handle evaluates and, if warranted, executes a restart for a container
// the evaluator has flagged as unhealthy. name and containerID identify
// the runtime object to restart; reason is the evaluator's diagnosis,
// carried through into the emitted event's message.
func (s *Scheduler) Handle(ctx context.Context, stableID, containerName, containerID, reason string) error {
	lock := s.lockFor(stableID)
	lock.Lock()
	defer lock.Unlock()

	doc := s.store.GetConfig()

	if doc.Maintenance.Enabled {
		log.WithStableID(stableID).Debug().Msg("skipping restart: maintenance mode active")
		return nil
	}

	if s.store.IsQuarantined(stableID) {
		log.WithStableID(stableID).Debug().Msg("skipping restart: quarantined")
		return nil
	}

	state := s.stateFor(stableID, doc)

	cooldown := time.Duration(doc.Restart.CooldownSeconds) * time.Second
	if !state.lastRestartAt.IsZero() && time.Since(state.lastRestartAt) < cooldown {
		log.WithStableID(stableID).Debug().
			Dur("remaining", cooldown-time.Since(state.lastRestartAt)).
			Msg("skipping restart: in cooldown")
		return nil
	}

	count := s.store.GetRestartCount(stableID)
	if count >= doc.Restart.MaxRestarts {
		return s.quarantine(stableID, containerName, count)
	}

	if doc.Restart.Backoff.Enabled && state.nextBackoffSeconds > 0 {
		select {
		case <-time.After(time.Duration(state.nextBackoffSeconds * float64(time.Second))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	restartErr := s.rt.Restart(ctx, containerID, 10*time.Second)
	state.lastRestartAt = time.Now()

	// A successful restart resets the backoff to its initial delay; a
	// failed one multiplies it.
	if doc.Restart.Backoff.Enabled {
		if restartErr == nil || state.nextBackoffSeconds <= 0 {
			state.nextBackoffSeconds = doc.Restart.Backoff.InitialSeconds
		} else {
			state.nextBackoffSeconds *= doc.Restart.Backoff.Multiplier
		}
	}

	newCount, countErr := s.store.RecordRestart(stableID)
	if countErr != nil {
		log.WithStableID(stableID).Error().Err(countErr).Msg("failed to persist restart counter")
	}

	status := events.StatusSuccess
	msg := fmt.Sprintf("restarted (%s)", reason)
	if restartErr != nil {
		status = events.StatusFailure
		msg = fmt.Sprintf("restart failed (%s): %v", reason, restartErr)
		metrics.RestartsTotal.WithLabelValues(string(status)).Inc()
	} else {
		metrics.RestartsTotal.WithLabelValues(string(status)).Inc()
	}

	s.bus.Publish(&events.Event{
		StableID:      stableID,
		ContainerName: containerName,
		Kind:          events.KindRestart,
		RestartCount:  newCount,
		Status:        status,
		Message:       msg,
	})
	if err := s.store.AddEvent(&events.Event{
		StableID:      stableID,
		ContainerName: containerName,
		Kind:          events.KindRestart,
		RestartCount:  newCount,
		Status:        status,
		Message:       msg,
	}); err != nil {
		log.WithStableID(stableID).Error().Err(err).Msg("failed to persist restart event")
	}

	if restartErr != nil {
		return fmt.Errorf("scheduler: restart %s: %w", stableID, restartErr)
	}
	if newCount >= doc.Restart.MaxRestarts {
		return s.quarantine(stableID, containerName, newCount)
	}
	return nil
}

// quarantine marks stableID as quarantined and publishes the quarantine
// event. It does not reset the container's backoff state: quarantine
// release is handled by pkg/quarantine, which re-runs the evaluator and
// clears this scheduler's state on success.
func (s *Scheduler) quarantine(stableID, containerName string, count int) error {
	if err := s.store.Quarantine(stableID); err != nil {
		return fmt.Errorf("scheduler: quarantine %s: %w", stableID, err)
	}
	metrics.QuarantinesTotal.Inc()

	msg := fmt.Sprintf("quarantined after %d restarts", count)
	s.bus.Publish(&events.Event{
		StableID:      stableID,
		ContainerName: containerName,
		Kind:          events.KindQuarantine,
		RestartCount:  count,
		Status:        events.StatusQuarantined,
		Message:       msg,
	})
	if err := s.store.AddEvent(&events.Event{
		StableID:      stableID,
		ContainerName: containerName,
		Kind:          events.KindQuarantine,
		RestartCount:  count,
		Status:        events.StatusQuarantined,
		Message:       msg,
	}); err != nil {
		log.WithStableID(stableID).Error().Err(err).Msg("failed to persist quarantine event")
	}
	return nil
}

// Reset clears in-memory backoff/cooldown state for stableID. Called by
// pkg/quarantine after a successful auto-release so the next restart, if
// any, starts from the initial backoff rather than wherever it left off
// before quarantine.
func (s *Scheduler) Reset(stableID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stableID)
}
