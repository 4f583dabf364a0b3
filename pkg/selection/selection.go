// Package selection implements the eligibility decision (C4): whether a
// given container should be monitored for healing under the current
// configuration.
package selection

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/runtime"
)

// identifiers returns every back-compat key a container might be
// selected/excluded under: its stable_id, runtime id, short id, name,
// and (if present) its compose service name.
func identifiers(stableID string, c *runtime.Container) []string {
	ids := []string{stableID, c.ID, c.ShortID, c.Name}
	if svc := c.Labels["com.docker.compose.service"]; svc != "" {
		ids = append(ids, svc)
	}
	return ids
}

func anyIn(set map[string]bool, ids []string) bool {
	for _, id := range ids {
		if id != "" && set[id] {
			return true
		}
	}
	return false
}

// IsMonitored decides, in the order specified by the selection filter,
// whether c (with derived stable_id) is eligible for healing.
func IsMonitored(doc *config.Document, stableID string, c *runtime.Container) bool {
	ids := identifiers(stableID, c)

	if anyIn(doc.Selection.Excluded, ids) {
		return false
	}
	if anyIn(doc.Selection.Selected, ids) {
		return true
	}

	if !doc.Monitor.IncludeAll {
		if c.Labels[doc.Monitor.EnrollmentLabelKey] != doc.Monitor.EnrollmentLabelValue {
			return false
		}
	}

	for _, pattern := range doc.Filters.BlacklistNames {
		if globMatch(pattern, c.Name) {
			return false
		}
	}
	if len(doc.Filters.WhitelistNames) > 0 && !anyGlobMatch(doc.Filters.WhitelistNames, c.Name) {
		return false
	}

	for _, filter := range doc.Filters.BlacklistLabels {
		if labelMatches(filter, c.Labels) {
			return false
		}
	}
	if len(doc.Filters.WhitelistLabels) > 0 && !anyLabelMatch(doc.Filters.WhitelistLabels, c.Labels) {
		return false
	}

	return true
}

func globMatch(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

func anyGlobMatch(patterns []string, name string) bool {
	for _, p := range patterns {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

// labelMatches checks a "key=value" filter against a container's labels.
func labelMatches(filter string, labels map[string]string) bool {
	key, value, ok := strings.Cut(filter, "=")
	if !ok {
		return false
	}
	return labels[key] == value
}

func anyLabelMatch(filters []string, labels map[string]string) bool {
	for _, f := range filters {
		if labelMatches(f, labels) {
			return true
		}
	}
	return false
}
