// Package probe dispatches a configured custom health check (C5's
// "execute it (kind dispatch)" step) against a container, using the
// runtime adapter's HTTP/TCP/exec probe helpers.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/metrics"
	"github.com/nullwarden/warden/pkg/runtime"
)

// Result is the outcome of one probe execution.
type Result struct {
	Healthy  bool
	Message  string
	Duration time.Duration
}

// Runtime is the subset of runtime.Adapter a probe needs to execute.
type Runtime interface {
	ProbeHTTP(ctx context.Context, c *runtime.Container, endpoint string, expectedStatus int, timeout time.Duration) (bool, error)
	ProbeTCP(ctx context.Context, c *runtime.Container, port int, timeout time.Duration) (bool, error)
	ProbeExec(ctx context.Context, c *runtime.Container, argv []string, timeout time.Duration) (bool, error)
}

// Run executes p against c using rt. A transport error or timeout for a
// non-native probe counts as unhealthy, matching the evaluator's
// "probe exception or timeout counts as failure" rule. runtime.ErrUnreachable
// (no address to probe) is "no signal" and is reported as healthy, like a
// native probe without health data. An http probe with no ExpectedStatus
// expects 200.
func Run(ctx context.Context, rt Runtime, c *runtime.Container, p config.Probe) Result {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.ProbeDuration, string(p.Kind))
	}()

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	expectedStatus := p.ExpectedStatus
	if expectedStatus == 0 {
		expectedStatus = 200
	}

	var healthy bool
	var err error

	switch p.Kind {
	case config.ProbeKindHTTP:
		healthy, err = rt.ProbeHTTP(ctx, c, p.Endpoint, expectedStatus, timeout)
	case config.ProbeKindTCP:
		healthy, err = rt.ProbeTCP(ctx, c, p.Port, timeout)
	case config.ProbeKindExec:
		healthy, err = rt.ProbeExec(ctx, c, p.Argv, timeout)
	case config.ProbeKindNative:
		return nativeResult(c)
	default:
		return Result{Healthy: false, Message: fmt.Sprintf("unknown probe kind %q", p.Kind)}
	}

	if errors.Is(err, runtime.ErrUnreachable) {
		return Result{Healthy: true, Message: "no signal: " + err.Error(), Duration: timer.Duration()}
	}
	if err != nil {
		return Result{Healthy: false, Message: err.Error(), Duration: timer.Duration()}
	}
	msg := "ok"
	if !healthy {
		msg = fmt.Sprintf("%s probe failed", p.Kind)
	}
	return Result{Healthy: healthy, Message: msg, Duration: timer.Duration()}
}

// nativeResult reports the runtime's own HEALTHCHECK verdict. A container
// without a native health block is treated as healthy: "no signal".
func nativeResult(c *runtime.Container) Result {
	if c.Health == nil {
		return Result{Healthy: true, Message: "no native health check defined"}
	}
	return Result{
		Healthy: c.Health.Status != runtime.NativeUnhealthy,
		Message: string(c.Health.Status),
	}
}
