package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/events"
)

type fakeRestarter struct {
	mu       sync.Mutex
	calls    int
	inFlight int
	maxSeen  int
	err      error
}

func (f *fakeRestarter) Restart(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return f.err
}

type fakeStore struct {
	mu           sync.Mutex
	doc          *config.Document
	quarantined  map[string]bool
	restartCount map[string]int
	events       []*events.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		doc:          config.Default(),
		quarantined:  map[string]bool{},
		restartCount: map[string]int{},
	}
}

func (f *fakeStore) GetConfig() *config.Document { return f.doc.Clone() }
func (f *fakeStore) UpdateConfig(mutate func(*config.Document) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mutate(f.doc)
}
func (f *fakeStore) AddEvent(e *events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}
func (f *fakeStore) GetEvents(n int) []*events.Event { return nil }
func (f *fakeStore) ClearEvents() error              { return nil }
func (f *fakeStore) RecordRestart(stableID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCount[stableID]++
	return f.restartCount[stableID], nil
}
func (f *fakeStore) GetRestartCount(stableID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restartCount[stableID]
}
func (f *fakeStore) ClearRestarts(stableID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.restartCount, stableID)
	return nil
}
func (f *fakeStore) Quarantine(stableID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quarantined[stableID] = true
	return nil
}
func (f *fakeStore) Unquarantine(stableID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.quarantined, stableID)
	return nil
}
func (f *fakeStore) IsQuarantined(stableID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quarantined[stableID]
}
func (f *fakeStore) ListQuarantined() []string { return nil }
func (f *fakeStore) GetCustomProbe(stableID string) (config.Probe, bool) {
	return config.Probe{}, false
}
func (f *fakeStore) SetCustomProbe(stableID string, probe config.Probe) error { return nil }
func (f *fakeStore) DeleteCustomProbe(stableID string) error                 { return nil }
func (f *fakeStore) SetMaintenance(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.Maintenance.Enabled = enabled
	return nil
}
func (f *fakeStore) GetMaintenance() config.MaintenanceConfig { return f.doc.Maintenance }
func (f *fakeStore) Close() error                             { return nil }

func TestHandle_RestartsAndRecordsCount(t *testing.T) {
	st := newFakeStore()
	st.doc.Restart.Backoff.Enabled = false
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)
	if err := s.Handle(context.Background(), "web", "web-1", "abc", "exit:1"); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if rt.calls != 1 {
		t.Fatalf("expected 1 restart call, got %d", rt.calls)
	}
	if st.GetRestartCount("web") != 1 {
		t.Fatalf("expected restart count 1, got %d", st.GetRestartCount("web"))
	}
}

func TestHandle_CooldownSkipsSecondRestart(t *testing.T) {
	st := newFakeStore()
	st.doc.Restart.CooldownSeconds = 3600
	st.doc.Restart.Backoff.Enabled = false
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
	if rt.calls != 1 {
		t.Fatalf("expected cooldown to suppress second restart, got %d calls", rt.calls)
	}
}

func TestHandle_MaxRestartsTriggersQuarantine(t *testing.T) {
	st := newFakeStore()
	st.doc.Restart.MaxRestarts = 2
	st.doc.Restart.CooldownSeconds = 0
	st.doc.Restart.Backoff.Enabled = false
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")

	if !st.IsQuarantined("web") {
		t.Fatal("expected web to be quarantined after exceeding max_restarts")
	}
	if rt.calls != 2 {
		t.Fatalf("expected exactly 2 restart attempts before quarantine, got %d", rt.calls)
	}
}

func TestHandle_QuarantinedContainerNeverRestarts(t *testing.T) {
	st := newFakeStore()
	st.quarantined["web"] = true
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
	if rt.calls != 0 {
		t.Fatalf("expected no restart for quarantined container, got %d calls", rt.calls)
	}
}

func TestHandle_MaintenanceModeSuppressesRestart(t *testing.T) {
	st := newFakeStore()
	st.doc.Maintenance.Enabled = true
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)
	_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
	if rt.calls != 0 {
		t.Fatalf("expected no restart during maintenance, got %d calls", rt.calls)
	}
}

func TestHandle_SameStableIDNeverOverlaps(t *testing.T) {
	st := newFakeStore()
	st.doc.Restart.CooldownSeconds = 0
	st.doc.Restart.MaxRestarts = 1000
	st.doc.Restart.Backoff.Enabled = false
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Handle(context.Background(), "web", "web-1", "abc", "exit:1")
		}()
	}
	wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.maxSeen > 1 {
		t.Fatalf("expected at most one restart in flight for the same stable_id, saw %d concurrently", rt.maxSeen)
	}
}

func TestReset_ClearsBackoffState(t *testing.T) {
	st := newFakeStore()
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)
	state := s.stateFor("web", st.doc)
	state.nextBackoffSeconds = 40
	s.Reset("web")
	if s.stateFor("web", st.doc).nextBackoffSeconds != st.doc.Restart.Backoff.InitialSeconds {
		t.Fatal("expected Reset to clear backoff state back to the initial seed")
	}
}

func TestHandle_FirstRestartWaitsOutInitialBackoff(t *testing.T) {
	st := newFakeStore()
	st.doc.Restart.CooldownSeconds = 0
	st.doc.Restart.Backoff.Enabled = true
	st.doc.Restart.Backoff.InitialSeconds = 0.05
	st.doc.Restart.Backoff.Multiplier = 2.0
	rt := &fakeRestarter{}
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	s := New(st, rt, bus)

	start := time.Now()
	if err := s.Handle(context.Background(), "web", "web-1", "abc", "exit:1"); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected the first restart to wait out the initial backoff delay (~50ms), only waited %v", elapsed)
	}
}
