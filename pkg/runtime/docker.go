// Package runtime abstracts the container runtime: listing, inspecting,
// restarting and probing containers from the host's perspective (C1).
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nullwarden/warden/pkg/log"
)

// Adapter wraps the Docker Engine API client with the narrow surface the
// healing core needs.
type Adapter struct {
	cli *client.Client
}

// New connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_CERT_PATH, ...), negotiating the API
// version with the daemon.
func New() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to docker daemon: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// Close releases the underlying client connection.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// Ping checks connectivity to the daemon so the sweep can detect and
// reconnect on transient network loss.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.cli.Ping(ctx)
	return err
}

// List returns every container known to the runtime. When all is false,
// only running containers are returned.
func (a *Adapter) List(ctx context.Context, all bool) ([]*Container, error) {
	summaries, err := a.cli.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("runtime: list containers: %w", err)
	}

	out := make([]*Container, 0, len(summaries))
	for _, s := range summaries {
		c, err := a.Inspect(ctx, s.ID)
		if err != nil {
			log.WithComponent("runtime").Warn().Err(err).Str("container_id", s.ID).
				Msg("failed to inspect container during list, skipping")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Inspect refreshes and returns the current state of one container.
func (a *Adapter) Inspect(ctx context.Context, id string) (*Container, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("runtime: inspect %s: %w", id, err)
	}
	return fromInspect(info), nil
}

func fromInspect(info dockertypes.ContainerJSON) *Container {
	c := &Container{
		ID:     info.ID,
		Name:   strings.TrimPrefix(info.Name, "/"),
		Labels: map[string]string{},
		Networks: map[string]string{},
	}
	if len(info.ID) >= 12 {
		c.ShortID = info.ID[:12]
	} else {
		c.ShortID = info.ID
	}
	if info.Config != nil {
		c.Image = info.Config.Image
		for k, v := range info.Config.Labels {
			c.Labels[k] = v
		}
	}
	if info.State != nil {
		c.State = normalizeState(info.State)
		c.ExitCode = info.State.ExitCode
		if info.State.Health != nil {
			c.Health = &NativeHealth{
				Status:        NativeHealthStatus(info.State.Health.Status),
				FailingStreak: info.State.Health.FailingStreak,
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, info.State.StartedAt); err == nil {
			c.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil {
			c.FinishedAt = t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		c.CreatedAt = t
	}
	if info.RestartCount > 0 {
		c.RestartCount = info.RestartCount
	}
	if info.NetworkSettings != nil {
		for name, net := range info.NetworkSettings.Networks {
			if net != nil && net.IPAddress != "" {
				c.Networks[name] = net.IPAddress
			}
		}
	}
	return c
}

func normalizeState(s *dockertypes.ContainerState) State {
	switch {
	case s.Restarting:
		return StateRestarting
	case s.Paused:
		return StatePaused
	case s.Running:
		if s.Health != nil && s.Health.Status == "starting" {
			return StateStarting
		}
		return StateRunning
	case s.Dead:
		return StateDead
	case s.Status == "exited":
		return StateExited
	default:
		return StateStopped
	}
}

// Restart restarts the container, giving it timeout to stop gracefully
// before the runtime force-kills it.
func (a *Adapter) Restart(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if err := a.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("runtime: restart %s: %w", id, err)
	}
	return nil
}

// Exec runs argv inside the container and returns its exit code and
// combined stdout+stderr.
func (a *Adapter) Exec(ctx context.Context, id string, argv []string) (int, string, error) {
	created, err := a.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, "", fmt.Errorf("runtime: exec create on %s: %w", id, err)
	}

	attach, err := a.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, "", fmt.Errorf("runtime: exec attach on %s: %w", id, err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, attach.Reader); err != nil && err != io.EOF {
		return -1, buf.String(), fmt.Errorf("runtime: exec read on %s: %w", id, err)
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, buf.String(), fmt.Errorf("runtime: exec inspect on %s: %w", id, err)
	}
	return inspect.ExitCode, buf.String(), nil
}

// Events returns a channel of container lifecycle events matching
// filter (e.g. {"type": "container", "event": "start"}). The returned
// channel is closed when ctx is canceled or the stream ends.
func (a *Adapter) Events(ctx context.Context, filter map[string]string) (<-chan events.Message, <-chan error) {
	args := filters.NewArgs()
	for k, v := range filter {
		args.Add(k, v)
	}
	return a.cli.Events(ctx, events.ListOptions{Filters: args})
}

// resolveEndpoint substitutes a loopback host in endpoint with addr so
// operators can write "localhost"-relative probe endpoints.
func resolveEndpoint(endpoint, addr string) string {
	endpoint = strings.ReplaceAll(endpoint, "localhost", addr)
	endpoint = strings.ReplaceAll(endpoint, "127.0.0.1", addr)
	return endpoint
}

// ErrUnreachable is returned by the probe helpers when a container has no
// discoverable network address; the evaluator treats this as "no signal"
// rather than a failure.
var ErrUnreachable = fmt.Errorf("runtime: container has no discoverable network address")

// ProbeHTTP performs an HTTP GET against the container's primary address,
// substituting loopback hosts in endpoint, and reports whether the
// response status matches expectedStatus.
func (a *Adapter) ProbeHTTP(ctx context.Context, c *Container, endpoint string, expectedStatus int, timeout time.Duration) (bool, error) {
	addr := c.PrimaryAddress()
	if addr == "" {
		return false, ErrUnreachable
	}
	resolved := resolveEndpoint(endpoint, addr)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, resolved, nil)
	if err != nil {
		return false, fmt.Errorf("runtime: build probe request: %w", err)
	}
	httpClient := &http.Client{Timeout: timeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("runtime: http probe: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode == expectedStatus, nil
}

// ProbeTCP dials the container's primary address on port.
func (a *Adapter) ProbeTCP(ctx context.Context, c *Container, port int, timeout time.Duration) (bool, error) {
	addr := c.PrimaryAddress()
	if addr == "" {
		return false, ErrUnreachable
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := net.Dialer{}
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return false, nil
	}
	defer conn.Close()
	return true, nil
}

// ProbeExec runs argv inside the container and reports success as a
// zero exit code.
func (a *Adapter) ProbeExec(ctx context.Context, c *Container, argv []string, timeout time.Duration) (bool, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, _, err := a.Exec(execCtx, c.ID, argv)
	if err != nil {
		return false, err
	}
	return code == 0, nil
}
