// Package config defines the persisted configuration document that
// drives container selection, restart policy, probes and the external
// monitor integration.
package config

import (
	"errors"
	"fmt"
	"time"
)

// RestartMode selects which signals the health evaluator treats as
// restart triggers.
type RestartMode string

const (
	RestartModeOnFailure RestartMode = "on-failure"
	RestartModeHealth    RestartMode = "health"
	RestartModeBoth      RestartMode = "both"
)

// ProbeKind discriminates the Probe union.
type ProbeKind string

const (
	ProbeKindHTTP   ProbeKind = "http"
	ProbeKindTCP    ProbeKind = "tcp"
	ProbeKindExec   ProbeKind = "exec"
	ProbeKindNative ProbeKind = "native"
)

// Probe is a discriminated union describing a custom health check.
// Only the fields relevant to Kind are meaningful; Validate enforces
// that the required fields for the chosen kind are present.
type Probe struct {
	Kind            ProbeKind     `json:"kind"`
	Timeout         time.Duration `json:"timeout"`
	Retries         int           `json:"retries"`
	Endpoint        string        `json:"endpoint,omitempty"`
	ExpectedStatus  int           `json:"expected_status,omitempty"`
	Port            int           `json:"port,omitempty"`
	Argv            []string      `json:"argv,omitempty"`
}

// Validate checks that a Probe carries the fields its kind requires.
func (p Probe) Validate() error {
	if p.Timeout <= 0 {
		return errors.New("config: probe timeout must be positive")
	}
	switch p.Kind {
	case ProbeKindHTTP:
		if p.Endpoint == "" {
			return errors.New("config: http probe requires endpoint")
		}
		if p.ExpectedStatus == 0 {
			p.ExpectedStatus = 200
		}
	case ProbeKindTCP:
		if p.Port <= 0 {
			return errors.New("config: tcp probe requires a positive port")
		}
	case ProbeKindExec:
		if len(p.Argv) == 0 {
			return errors.New("config: exec probe requires argv")
		}
	case ProbeKindNative:
		// no extra fields
	default:
		return fmt.Errorf("config: unknown probe kind %q", p.Kind)
	}
	return nil
}

// Backoff controls the sleep inserted before each restart attempt.
type Backoff struct {
	Enabled        bool    `json:"enabled"`
	InitialSeconds float64 `json:"initial_seconds"`
	Multiplier     float64 `json:"multiplier"`
}

// MonitorConfig controls the sweep cadence and runtime-event auto-enrollment.
type MonitorConfig struct {
	IntervalSeconds     int    `json:"interval_seconds"`
	EnrollmentLabelKey   string `json:"enrollment_label_key"`
	EnrollmentLabelValue string `json:"enrollment_label_value"`
	IncludeAll           bool   `json:"include_all"`
}

// RestartConfig controls the scheduler's restart policy.
type RestartConfig struct {
	Mode               RestartMode `json:"mode"`
	CooldownSeconds    int         `json:"cooldown_seconds"`
	MaxRestarts        int         `json:"max_restarts"`
	WindowSeconds       int        `json:"window_seconds"`
	Backoff             Backoff    `json:"backoff"`
	RespectManualStop    bool      `json:"respect_manual_stop"`
}

// SelectionConfig holds the per-stable_id opt-in/opt-out sets and the
// locally tracked restart counters.
type SelectionConfig struct {
	Selected      map[string]bool `json:"selected"`
	Excluded      map[string]bool `json:"excluded"`
	RestartCounts map[string]int  `json:"restart_counts"`
}

// FilterConfig holds glob and label filters. They apply to every container
// that is neither explicitly selected nor excluded, after the IncludeAll /
// enrollment-label check.
type FilterConfig struct {
	WhitelistNames  []string `json:"whitelist_names"`
	BlacklistNames  []string `json:"blacklist_names"`
	WhitelistLabels []string `json:"whitelist_labels"` // "key=value"
	BlacklistLabels []string `json:"blacklist_labels"`
}

// MonitorMapping binds a stable_id to a friendly name on the external monitor.
type MonitorMapping struct {
	StableID     string `json:"stable_id"`
	ExternalName string `json:"external_name"`
	AutoMapped   bool   `json:"auto_mapped"`
}

// ExternalMonitorConfig controls the secondary, uptime-monitor-driven signal.
type ExternalMonitorConfig struct {
	Enabled           bool             `json:"enabled"`
	URL               string           `json:"url"`
	Username          string           `json:"username,omitempty"`
	Password          string           `json:"password,omitempty"`
	AutoRestartOnDown bool             `json:"auto_restart_on_down"`
	Mappings          []MonitorMapping `json:"mappings"`
}

// MaintenanceConfig tracks whether automated restarts are globally suspended.
type MaintenanceConfig struct {
	Enabled   bool       `json:"enabled"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Document is the single persisted configuration object. Every mutation
// happens through the store, which persists the whole document (or, for
// the separated per-domain files, the relevant slice of it) atomically.
type Document struct {
	Monitor         MonitorConfig             `json:"monitor"`
	Restart         RestartConfig             `json:"restart"`
	Selection       SelectionConfig           `json:"selection"`
	Filters         FilterConfig              `json:"filters"`
	CustomProbes    map[string]Probe          `json:"custom_probes"`
	ExternalMonitor ExternalMonitorConfig     `json:"external_monitor"`
	Maintenance     MaintenanceConfig         `json:"maintenance"`
	MaxLogEntries   int                       `json:"max_log_entries"`
}

// Default returns a new Document seeded with the operator defaults.
func Default() *Document {
	return &Document{
		Monitor: MonitorConfig{
			IntervalSeconds:      10,
			EnrollmentLabelKey:   "autoheal",
			EnrollmentLabelValue: "true",
			IncludeAll:           false,
		},
		Restart: RestartConfig{
			Mode:              RestartModeOnFailure,
			CooldownSeconds:   60,
			MaxRestarts:       3,
			WindowSeconds:     3600,
			RespectManualStop: true,
			Backoff: Backoff{
				Enabled:        true,
				InitialSeconds: 5,
				Multiplier:     2.0,
			},
		},
		Selection: SelectionConfig{
			Selected:      map[string]bool{},
			Excluded:      map[string]bool{},
			RestartCounts: map[string]int{},
		},
		Filters:      FilterConfig{},
		CustomProbes: map[string]Probe{},
		ExternalMonitor: ExternalMonitorConfig{
			Mappings: []MonitorMapping{},
		},
		MaxLogEntries: 500,
	}
}

// Clone returns a deep copy so callers cannot mutate the store's
// authoritative document through a returned reference.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := *d

	cp.Selection.Selected = cloneBoolSet(d.Selection.Selected)
	cp.Selection.Excluded = cloneBoolSet(d.Selection.Excluded)
	cp.Selection.RestartCounts = make(map[string]int, len(d.Selection.RestartCounts))
	for k, v := range d.Selection.RestartCounts {
		cp.Selection.RestartCounts[k] = v
	}

	cp.Filters.WhitelistNames = append([]string(nil), d.Filters.WhitelistNames...)
	cp.Filters.BlacklistNames = append([]string(nil), d.Filters.BlacklistNames...)
	cp.Filters.WhitelistLabels = append([]string(nil), d.Filters.WhitelistLabels...)
	cp.Filters.BlacklistLabels = append([]string(nil), d.Filters.BlacklistLabels...)

	cp.CustomProbes = make(map[string]Probe, len(d.CustomProbes))
	for k, v := range d.CustomProbes {
		cp.CustomProbes[k] = v
	}

	cp.ExternalMonitor.Mappings = append([]MonitorMapping(nil), d.ExternalMonitor.Mappings...)

	if d.Maintenance.StartedAt != nil {
		t := *d.Maintenance.StartedAt
		cp.Maintenance.StartedAt = &t
	}

	return &cp
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate rejects structurally invalid documents before they are
// accepted as the new authoritative state.
func (d *Document) Validate() error {
	if d.Monitor.IntervalSeconds < 1 {
		return errors.New("config: monitor.interval_seconds must be >= 1")
	}
	switch d.Restart.Mode {
	case RestartModeOnFailure, RestartModeHealth, RestartModeBoth:
	default:
		return fmt.Errorf("config: restart.mode %q is invalid", d.Restart.Mode)
	}
	if d.Restart.CooldownSeconds < 0 {
		return errors.New("config: restart.cooldown_seconds must be >= 0")
	}
	if d.Restart.MaxRestarts < 1 {
		return errors.New("config: restart.max_restarts must be >= 1")
	}
	if d.Restart.WindowSeconds < 1 {
		return errors.New("config: restart.window_seconds must be >= 1")
	}
	if d.Restart.Backoff.Multiplier < 1.0 {
		return errors.New("config: restart.backoff.multiplier must be >= 1.0")
	}
	for id, probe := range d.CustomProbes {
		if err := probe.Validate(); err != nil {
			return fmt.Errorf("config: custom probe for %q: %w", id, err)
		}
	}
	if d.MaxLogEntries < 1 {
		return errors.New("config: max_log_entries must be >= 1")
	}
	return nil
}
