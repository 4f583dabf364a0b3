package runtime

import "time"

// State is the normalized lifecycle state of a container, independent of
// the runtime's own vocabulary.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateExited     State = "exited"
	StateStopped    State = "stopped"
	StateDead       State = "dead"
	StateRestarting State = "restarting"
	StatePaused     State = "paused"
)

// NativeHealthStatus is the runtime's own HEALTHCHECK verdict.
type NativeHealthStatus string

const (
	NativeHealthy   NativeHealthStatus = "healthy"
	NativeUnhealthy NativeHealthStatus = "unhealthy"
	NativeStarting  NativeHealthStatus = "starting"
)

// NativeHealth mirrors the runtime's built-in health check block, when
// the container defines one.
type NativeHealth struct {
	Status        NativeHealthStatus
	FailingStreak int
}

// Container is the runtime-agnostic view of one inspected container.
type Container struct {
	ID           string // runtime-assigned, opaque
	ShortID      string
	Name         string
	Image        string
	State        State
	ExitCode     int
	Labels       map[string]string
	Health       *NativeHealth // nil if no HEALTHCHECK is defined
	RestartCount int
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Networks     map[string]string // network name -> IP address
}

// PrimaryAddress returns an address suitable for probing the container
// from the host, or "" if the container has no network attachment.
func (c *Container) PrimaryAddress() string {
	for _, ip := range c.Networks {
		if ip != "" {
			return ip
		}
	}
	return ""
}
