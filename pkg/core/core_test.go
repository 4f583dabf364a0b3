package core

import (
	"context"
	"sync"
	"testing"
	"time"

	dockerevents "github.com/docker/docker/api/types/events"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/runtime"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	mu         sync.Mutex
	containers []*runtime.Container
	restarts   []string
}

func (f *fakeRuntime) List(ctx context.Context, all bool) ([]*runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*runtime.Container(nil), f.containers...), nil
}

func (f *fakeRuntime) Restart(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, id)
	return nil
}

func (f *fakeRuntime) ProbeHTTP(ctx context.Context, c *runtime.Container, endpoint string, expectedStatus int, timeout time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) ProbeTCP(ctx context.Context, c *runtime.Container, port int, timeout time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) ProbeExec(ctx context.Context, c *runtime.Container, argv []string, timeout time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) Events(ctx context.Context, filter map[string]string) (<-chan dockerevents.Message, <-chan error) {
	msgCh := make(chan dockerevents.Message)
	errCh := make(chan error)
	go func() {
		<-ctx.Done()
		close(msgCh)
		close(errCh)
	}()
	return msgCh, errCh
}
func (f *fakeRuntime) Inspect(ctx context.Context, id string) (*runtime.Container, error) {
	return &runtime.Container{ID: id}, nil
}

type memStore struct {
	mu            sync.Mutex
	doc           *config.Document
	quarantined   map[string]bool
	restartCounts map[string]int
	events        []*events.Event
}

func newMemStore() *memStore {
	return &memStore{
		doc:           config.Default(),
		quarantined:   map[string]bool{},
		restartCounts: map[string]int{},
	}
}

func (s *memStore) GetConfig() *config.Document { return s.doc.Clone() }
func (s *memStore) UpdateConfig(mutate func(*config.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mutate(s.doc)
}
func (s *memStore) AddEvent(e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}
func (s *memStore) GetEvents(n int) []*events.Event { return s.events }
func (s *memStore) ClearEvents() error               { s.events = nil; return nil }
func (s *memStore) RecordRestart(stableID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartCounts[stableID]++
	return s.restartCounts[stableID], nil
}
func (s *memStore) GetRestartCount(stableID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCounts[stableID]
}
func (s *memStore) ClearRestarts(stableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.restartCounts, stableID)
	return nil
}
func (s *memStore) Quarantine(stableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quarantined[stableID] = true
	return nil
}
func (s *memStore) Unquarantine(stableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quarantined, stableID)
	return nil
}
func (s *memStore) IsQuarantined(stableID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quarantined[stableID]
}
func (s *memStore) ListQuarantined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.quarantined))
	for id := range s.quarantined {
		out = append(out, id)
	}
	return out
}
func (s *memStore) GetCustomProbe(stableID string) (config.Probe, bool) { return config.Probe{}, false }
func (s *memStore) SetCustomProbe(stableID string, probe config.Probe) error { return nil }
func (s *memStore) DeleteCustomProbe(stableID string) error                 { return nil }
func (s *memStore) SetMaintenance(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Maintenance.Enabled = enabled
	return nil
}
func (s *memStore) GetMaintenance() config.MaintenanceConfig { return s.doc.Maintenance }
func (s *memStore) Close() error                             { return nil }

func TestSweep_RestartsExitedSelectedContainer(t *testing.T) {
	st := newMemStore()
	st.doc.Restart.Mode = config.RestartModeOnFailure
	st.doc.Restart.CooldownSeconds = 0
	st.doc.Restart.Backoff.Enabled = false
	st.doc.Selection.Selected["web"] = true

	rt := &fakeRuntime{containers: []*runtime.Container{
		{ID: "abc", Name: "web", State: runtime.StateExited, ExitCode: 1},
	}}

	c := New(st, rt, nil)
	c.Bus.Start()
	defer c.Bus.Stop()

	c.sweep(context.Background())

	require.Len(t, rt.restarts, 1)
	require.Equal(t, "abc", rt.restarts[0])
	require.Equal(t, 1, st.GetRestartCount("web"))
}

func TestSweep_SkipsUnselectedContainer(t *testing.T) {
	st := newMemStore()
	rt := &fakeRuntime{containers: []*runtime.Container{
		{ID: "abc", Name: "web", State: runtime.StateExited, ExitCode: 1},
	}}

	c := New(st, rt, nil)
	c.Bus.Start()
	defer c.Bus.Stop()

	c.sweep(context.Background())
	require.Empty(t, rt.restarts)
}

func TestSweep_ReconsidersQuarantinedContainers(t *testing.T) {
	st := newMemStore()
	st.doc.Selection.Selected["web"] = true
	st.quarantined["web"] = true

	rt := &fakeRuntime{containers: []*runtime.Container{
		{ID: "abc", Name: "web", State: runtime.StateRunning},
	}}

	c := New(st, rt, nil)
	c.Bus.Start()
	defer c.Bus.Stop()

	c.sweep(context.Background())
	require.False(t, st.IsQuarantined("web"), "expected running, healthy, monitored container to be released")
}

func TestSweep_NeverReconsidersExcludedQuarantinedContainer(t *testing.T) {
	st := newMemStore()
	st.doc.Selection.Excluded["web"] = true
	st.quarantined["web"] = true

	rt := &fakeRuntime{containers: []*runtime.Container{
		{ID: "abc", Name: "web", State: runtime.StateRunning},
	}}

	c := New(st, rt, nil)
	c.Bus.Start()
	defer c.Bus.Stop()

	c.sweep(context.Background())
	require.True(t, st.IsQuarantined("web"), "an excluded container must never be auto-released from quarantine")
}

func TestRestartNow_RestartsMatchingStableID(t *testing.T) {
	st := newMemStore()
	rt := &fakeRuntime{containers: []*runtime.Container{
		{ID: "abc", Name: "web", State: runtime.StateRunning},
	}}

	c := New(st, rt, nil)
	require.NoError(t, c.RestartNow(context.Background(), "web"))
	require.Equal(t, []string{"abc"}, rt.restarts)
}

func TestRestartNow_ErrorsWhenStableIDNotFound(t *testing.T) {
	st := newMemStore()
	rt := &fakeRuntime{}
	c := New(st, rt, nil)
	require.Error(t, c.RestartNow(context.Background(), "missing"))
}
