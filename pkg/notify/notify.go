// Package notify delivers events published on the event bus to external
// sinks. It is ambient infrastructure: the healing control loop works
// identically whether or not a sink is configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nullwarden/warden/pkg/events"
	"github.com/nullwarden/warden/pkg/log"
)

// Sink delivers a single event to an external destination.
type Sink interface {
	Send(ctx context.Context, e *events.Event) error
}

// WebhookSink POSTs each event as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink builds a WebhookSink posting to url with a 10s timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts e's JSON encoding to the webhook URL.
func (w *WebhookSink) Send(ctx context.Context, e *events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post to %s: %w", w.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: %s returned status %d", w.url, resp.StatusCode)
	}
	return nil
}

// Dispatcher subscribes to the event bus and forwards every event to a
// set of sinks, best-effort: a sink failure is logged and never blocks
// or drops the event for other sinks.
type Dispatcher struct {
	bus   *events.Broker
	sinks []Sink
}

// NewDispatcher builds a Dispatcher forwarding to sinks.
func NewDispatcher(bus *events.Broker, sinks ...Sink) *Dispatcher {
	return &Dispatcher{bus: bus, sinks: sinks}
}

// Run subscribes to the bus and forwards events to every sink until ctx
// is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.sinks) == 0 {
		return
	}
	sub := d.bus.Subscribe()
	defer d.bus.Unsubscribe(sub)

	logger := log.WithComponent("notify")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			for _, sink := range d.sinks {
				sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := sink.Send(sendCtx, e); err != nil {
					logger.Warn().Err(err).Str("stable_id", e.StableID).Msg("notification delivery failed")
				}
				cancel()
			}
		}
	}
}
