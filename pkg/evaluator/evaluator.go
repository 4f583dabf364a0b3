// Package evaluator implements the health evaluator (C5): given an
// inspected container and the current configuration, decide whether it
// needs a restart and why.
package evaluator

import (
	"context"
	"fmt"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/probe"
	"github.com/nullwarden/warden/pkg/runtime"
)

// ExternalStatus is the signal surfaced by the external monitor poller
// for one stable_id.
type ExternalStatus int

const (
	ExternalUnknown ExternalStatus = iota
	ExternalDown
	ExternalUp
	ExternalPending
	ExternalMaintenance
)

// ExternalSource reports the cached external-monitor status for a
// stable_id. Implemented by pkg/uptimemonitor.
type ExternalSource interface {
	Status(stableID string) (ExternalStatus, bool)
}

// CustomProbes resolves a stable_id/name/runtime-id to an operator-defined
// probe. Implemented by pkg/store.
type CustomProbes interface {
	GetCustomProbe(key string) (config.Probe, bool)
}

// Evaluator produces (needs_restart, reason) for a container, per C5.
type Evaluator struct {
	runtime  probe.Runtime
	external ExternalSource
}

// New builds an Evaluator. external may be nil if the external monitor
// integration is not configured.
func New(rt probe.Runtime, external ExternalSource) *Evaluator {
	return &Evaluator{runtime: rt, external: external}
}

// Evaluate runs the C5 algorithm against c using the document's restart
// mode and the custom probe (if any) resolved via probes, keyed first by
// stable_id, then container name, then runtime id for back-compat.
func (e *Evaluator) Evaluate(ctx context.Context, doc *config.Document, stableID string, c *runtime.Container, probes CustomProbes) (needsRestart bool, reason string) {
	if c.State == runtime.StateStarting {
		return false, "starting"
	}

	switch c.State {
	case runtime.StateExited, runtime.StateStopped, runtime.StateDead:
		if doc.Restart.Mode == config.RestartModeOnFailure || doc.Restart.Mode == config.RestartModeBoth {
			if c.ExitCode == 0 && doc.Restart.RespectManualStop {
				return false, "manual stop"
			}
			return true, fmt.Sprintf("exit:%d", c.ExitCode)
		}
	}

	if doc.Restart.Mode == config.RestartModeHealth || doc.Restart.Mode == config.RestartModeBoth {
		if p, ok := resolveCustomProbe(probes, stableID, c); ok {
			result := probe.Run(ctx, e.runtime, c, p)
			if !result.Healthy {
				return true, fmt.Sprintf("custom:%s", p.Kind)
			}
		} else if c.Health != nil && c.Health.Status == runtime.NativeUnhealthy {
			return true, "native:unhealthy"
		}
	}

	if e.external != nil && doc.ExternalMonitor.Enabled && doc.ExternalMonitor.AutoRestartOnDown {
		if status, mapped := e.external.Status(stableID); mapped && status == ExternalDown {
			return true, "external:down"
		}
	}

	return false, ""
}

// resolveCustomProbe looks up a probe by stable_id, then container name,
// then runtime id, matching the source's back-compat lookup order (Q3).
func resolveCustomProbe(probes CustomProbes, stableID string, c *runtime.Container) (config.Probe, bool) {
	if probes == nil {
		return config.Probe{}, false
	}
	for _, key := range []string{stableID, c.Name, c.ID} {
		if key == "" {
			continue
		}
		if p, ok := probes.GetCustomProbe(key); ok {
			return p, true
		}
	}
	return config.Probe{}, false
}
