package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
)

const (
	configFile      = "config.json"
	eventsFile      = "events.json"
	quarantineFile  = "quarantine.json"
	maintenanceFile = "maintenance.json"
)

// quarantineDoc and eventsDoc are the on-disk shapes for the files that
// are split out of the main configuration document.
type quarantineDoc struct {
	StableIDs []string `json:"stable_ids"`
}

type eventsDoc struct {
	Events []*events.Event `json:"events"`
}

// JSONStore is a single-writer, many-reader state store backed by plain
// JSON files written with a write-temp-then-rename pattern. It is the
// sole owner of configuration mutation; every other component only reads
// through the narrow Store interface.
type JSONStore struct {
	mu  sync.Mutex
	dir string

	doc         *config.Document
	quarantined map[string]bool
	eventLog    []*events.Event
}

// Open loads or initializes a store rooted at dataDir. If dataDir is not
// writable, it falls back to "./data" and logs a warning, matching the
// fallback behavior operators rely on when the configured volume isn't
// mounted yet.
func Open(dataDir string) (*JSONStore, error) {
	dir, err := ensureWritableDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("store: no writable data directory: %w", err)
	}

	s := &JSONStore{
		dir:         dir,
		doc:         config.Default(),
		quarantined: map[string]bool{},
	}

	if _, err := readJSON(filepath.Join(dir, configFile), s.doc); err != nil {
		return nil, err
	}
	if err := s.doc.Validate(); err != nil {
		return nil, fmt.Errorf("store: persisted config invalid: %w", err)
	}

	var qd quarantineDoc
	if _, err := readJSON(filepath.Join(dir, quarantineFile), &qd); err != nil {
		return nil, err
	}
	for _, id := range qd.StableIDs {
		s.quarantined[id] = true
	}

	if _, err := readJSON(filepath.Join(dir, maintenanceFile), &s.doc.Maintenance); err != nil {
		return nil, err
	}

	var ed eventsDoc
	if _, err := readJSON(filepath.Join(dir, eventsFile), &ed); err != nil {
		return nil, err
	}
	s.eventLog = ed.Events

	return s, nil
}

func ensureWritableDir(dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = "/data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err == nil {
		if probeWritable(dataDir) {
			return dataDir, nil
		}
	}

	fallback := "./data"
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return "", fmt.Errorf("fallback directory %s: %w", fallback, err)
	}
	if !probeWritable(fallback) {
		return "", fmt.Errorf("neither %s nor fallback %s are writable", dataDir, fallback)
	}
	log.Logger.Warn().Str("configured_dir", dataDir).Str("fallback_dir", fallback).
		Msg("data directory not writable, falling back")
	return fallback, nil
}

func probeWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func (s *JSONStore) persistConfigLocked() error {
	if err := writeJSONAtomic(filepath.Join(s.dir, configFile), s.doc); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues(configFile).Inc()
		return err
	}
	return nil
}

func (s *JSONStore) persistQuarantineLocked() error {
	ids := make([]string, 0, len(s.quarantined))
	for id := range s.quarantined {
		ids = append(ids, id)
	}
	if err := writeJSONAtomic(filepath.Join(s.dir, quarantineFile), quarantineDoc{StableIDs: ids}); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues(quarantineFile).Inc()
		return err
	}
	return nil
}

func (s *JSONStore) persistMaintenanceLocked() error {
	if err := writeJSONAtomic(filepath.Join(s.dir, maintenanceFile), s.doc.Maintenance); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues(maintenanceFile).Inc()
		return err
	}
	return nil
}

func (s *JSONStore) persistEventsLocked() error {
	if err := writeJSONAtomic(filepath.Join(s.dir, eventsFile), eventsDoc{Events: s.eventLog}); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues(eventsFile).Inc()
		return err
	}
	return nil
}

// GetConfig returns a deep copy of the current configuration document.
func (s *JSONStore) GetConfig() *config.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// UpdateConfig applies mutate to a clone of the document, validates it,
// and only on success swaps it in and persists it. A validation or
// persistence failure leaves the in-memory state untouched.
func (s *JSONStore) UpdateConfig(mutate func(*config.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.doc.Clone()
	if err := mutate(candidate); err != nil {
		return fmt.Errorf("store: mutate config: %w", err)
	}
	if err := candidate.Validate(); err != nil {
		return fmt.Errorf("store: invalid config after mutation: %w", err)
	}

	prev := s.doc
	s.doc = candidate
	if err := s.persistConfigLocked(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

// AddEvent appends to the capped event log (I5).
func (s *JSONStore) AddEvent(e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventLog = append(s.eventLog, e)
	max := s.doc.MaxLogEntries
	if max > 0 && len(s.eventLog) > max {
		s.eventLog = s.eventLog[len(s.eventLog)-max:]
	}
	return s.persistEventsLocked()
}

// GetEvents returns the most recent n events (or all of them if n <= 0).
func (s *JSONStore) GetEvents(n int) []*events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.eventLog) {
		n = len(s.eventLog)
	}
	out := make([]*events.Event, n)
	copy(out, s.eventLog[len(s.eventLog)-n:])
	return out
}

// ClearEvents empties the event log.
func (s *JSONStore) ClearEvents() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventLog = nil
	return s.persistEventsLocked()
}

// RecordRestart increments and returns the total restart counter for
// stableID. The counter is a running total (see the design notes on the
// chosen total-count variant), never a sliding window.
func (s *JSONStore) RecordRestart(stableID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.doc.Clone()
	candidate.Selection.RestartCounts[stableID]++
	count := candidate.Selection.RestartCounts[stableID]

	prev := s.doc
	s.doc = candidate
	if err := s.persistConfigLocked(); err != nil {
		s.doc = prev
		return 0, err
	}
	return count, nil
}

// GetRestartCount returns the current total restart counter for stableID.
func (s *JSONStore) GetRestartCount(stableID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Selection.RestartCounts[stableID]
}

// ClearRestarts resets the counter for stableID to zero.
func (s *JSONStore) ClearRestarts(stableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.doc.Clone()
	delete(candidate.Selection.RestartCounts, stableID)

	prev := s.doc
	s.doc = candidate
	if err := s.persistConfigLocked(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

// Quarantine adds stableID to the quarantine set. Idempotent (I2).
func (s *JSONStore) Quarantine(stableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quarantined[stableID] {
		return nil
	}
	s.quarantined[stableID] = true
	if err := s.persistQuarantineLocked(); err != nil {
		delete(s.quarantined, stableID)
		return err
	}
	metrics.ContainersQuarantined.Set(float64(len(s.quarantined)))
	return nil
}

// Unquarantine removes stableID from the quarantine set. Idempotent.
func (s *JSONStore) Unquarantine(stableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.quarantined[stableID] {
		return nil
	}
	delete(s.quarantined, stableID)
	if err := s.persistQuarantineLocked(); err != nil {
		s.quarantined[stableID] = true
		return err
	}
	metrics.ContainersQuarantined.Set(float64(len(s.quarantined)))
	return nil
}

// IsQuarantined reports whether stableID is currently quarantined.
func (s *JSONStore) IsQuarantined(stableID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantined[stableID]
}

// ListQuarantined returns all currently quarantined stable ids.
func (s *JSONStore) ListQuarantined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.quarantined))
	for id := range s.quarantined {
		out = append(out, id)
	}
	return out
}

// GetCustomProbe returns the operator-defined probe for stableID, if any.
func (s *JSONStore) GetCustomProbe(stableID string) (config.Probe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doc.CustomProbes[stableID]
	return p, ok
}

// SetCustomProbe validates and stores a custom probe for stableID.
func (s *JSONStore) SetCustomProbe(stableID string, probe config.Probe) error {
	return s.UpdateConfig(func(d *config.Document) error {
		if err := probe.Validate(); err != nil {
			return err
		}
		d.CustomProbes[stableID] = probe
		return nil
	})
}

// DeleteCustomProbe removes the custom probe for stableID, if present.
func (s *JSONStore) DeleteCustomProbe(stableID string) error {
	return s.UpdateConfig(func(d *config.Document) error {
		delete(d.CustomProbes, stableID)
		return nil
	})
}

// SetMaintenance flips maintenance mode, recording the transition time.
func (s *JSONStore) SetMaintenance(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.doc.Maintenance
	s.doc.Maintenance.Enabled = enabled
	if enabled {
		now := time.Now().UTC()
		s.doc.Maintenance.StartedAt = &now
	} else {
		s.doc.Maintenance.StartedAt = nil
	}
	if err := s.persistMaintenanceLocked(); err != nil {
		s.doc.Maintenance = prev
		return err
	}
	return nil
}

// GetMaintenance returns the current maintenance state.
func (s *JSONStore) GetMaintenance() config.MaintenanceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Maintenance
}

// Close is a no-op for the JSON file store; every mutation is already
// durable on return.
func (s *JSONStore) Close() error {
	return nil
}
