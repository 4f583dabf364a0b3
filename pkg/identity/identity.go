// Package identity derives a container's stable identifier, the
// canonical key used everywhere a container must be recognized across
// re-creation.
package identity

import (
	"fmt"

	"github.com/nullwarden/warden/pkg/runtime"
)

const (
	labelExplicitID   = "monitoring.id"
	labelComposeProj  = "com.docker.compose.project"
	labelComposeSvc   = "com.docker.compose.service"
)

// Resolve derives the stable_id for an inspected container. It is a pure
// function: two inspections of the same unchanged container yield the
// same stable_id.
//
// Priority: an explicit monitoring.id label, then compose project+service,
// then the container name.
func Resolve(c *runtime.Container) string {
	if id, ok := c.Labels[labelExplicitID]; ok && id != "" {
		return id
	}
	if project, ok := c.Labels[labelComposeProj]; ok && project != "" {
		if service, ok := c.Labels[labelComposeSvc]; ok && service != "" {
			return fmt.Sprintf("%s_%s", project, service)
		}
	}
	return c.Name
}

// LegacyAliases returns the set of identifiers a container used to be
// looked up by before stable_id canonicalization — its runtime id, short
// id and name. The watcher uses them to recognize a container already
// selected or excluded under one of these keys. Keys recorded under an
// alias are not migrated to the stable_id.
func LegacyAliases(c *runtime.Container) []string {
	aliases := []string{c.ID, c.Name}
	if c.ShortID != "" {
		aliases = append(aliases, c.ShortID)
	}
	return aliases
}
