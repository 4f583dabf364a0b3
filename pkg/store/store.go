// Package store implements the single-writer, atomic-persistence state
// store (events, quarantine set, restart counters, maintenance flag and
// configuration) that the rest of the daemon treats as its source of
// truth.
package store

import (
	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
)

// Store is the narrow, idempotent interface the core and its components
// use to read and mutate persisted state. Implementations own the single
// authoritative in-memory Document and its on-disk representation.
type Store interface {
	GetConfig() *config.Document
	UpdateConfig(mutate func(*config.Document) error) error

	AddEvent(e *events.Event) error
	GetEvents(n int) []*events.Event
	ClearEvents() error

	RecordRestart(stableID string) (int, error)
	GetRestartCount(stableID string) int
	ClearRestarts(stableID string) error

	Quarantine(stableID string) error
	Unquarantine(stableID string) error
	IsQuarantined(stableID string) bool
	ListQuarantined() []string

	GetCustomProbe(stableID string) (config.Probe, bool)
	SetCustomProbe(stableID string, probe config.Probe) error
	DeleteCustomProbe(stableID string) error

	SetMaintenance(enabled bool) error
	GetMaintenance() config.MaintenanceConfig

	Close() error
}
