package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nullwarden/warden/pkg/events"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recordingSink) Send(ctx context.Context, e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestWebhookSink_PostsEventJSON(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	err := sink.Send(context.Background(), &events.Event{StableID: "web", Kind: events.KindRestart})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	select {
	case ct := <-received:
		if ct != "application/json" {
			t.Errorf("expected application/json content type, got %q", ct)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestWebhookSink_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Send(context.Background(), &events.Event{}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestDispatcher_ForwardsPublishedEvents(t *testing.T) {
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	sink := &recordingSink{}
	d := NewDispatcher(bus, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	time.Sleep(20 * time.Millisecond)
	bus.Publish(&events.Event{StableID: "web", Kind: events.KindRestart})

	deadline := time.After(time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("dispatcher did not forward the event in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
}

func TestDispatcher_NoSinksIsNoOp(t *testing.T) {
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	d := NewDispatcher(bus)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Run(ctx) // should return immediately, not hang
}
