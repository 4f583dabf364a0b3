// Package uptimemonitor implements the external monitor poller (C9): a
// best-effort secondary signal source that fetches monitor statuses from
// an external uptime service and exposes a stable_id → status lookup.
package uptimemonitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/evaluator"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/metrics"
)

// statusLine matches a Prometheus-style exposition line such as
// monitor_status{monitor_name="API",monitor_id="3"} 0
var statusLine = regexp.MustCompile(`^monitor_status\{([^}]*)\}\s+(\d+)`)

var nameAttr = regexp.MustCompile(`monitor_name="([^"]*)"`)

// Poller fetches monitor statuses on the configured interval and caches
// them by stable_id so the evaluator's lookup never blocks on network I/O.
type Poller struct {
	store configSource

	mu         sync.RWMutex
	byName     map[string]evaluator.ExternalStatus // friendly name -> status
	byStableID map[string]evaluator.ExternalStatus // stable_id -> status, resolved via mappings
	client     *http.Client
}

// configSource is the subset of store.Store the poller needs: read the
// current external-monitor config and mapping list.
type configSource interface {
	GetConfig() *config.Document
}

// New builds a Poller. client may be nil, in which case a default HTTP
// client with a 10s timeout is used.
func New(st configSource, client *http.Client) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Poller{
		store:      st,
		byName:     make(map[string]evaluator.ExternalStatus),
		byStableID: make(map[string]evaluator.ExternalStatus),
		client:     client,
	}
}

// Status implements evaluator.ExternalSource.
func (p *Poller) Status(stableID string) (evaluator.ExternalStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.byStableID[stableID]
	return s, ok
}

// Run polls on the sweep interval until ctx is canceled. A fetch failure
// is logged and counted; the cache is left untouched so a transient
// outage never synthesizes a false "down" signal.
func (p *Poller) Run(ctx context.Context) {
	logger := log.WithComponent("uptimemonitor")

	for {
		doc := p.store.GetConfig()
		if !doc.ExternalMonitor.Enabled {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(doc.Monitor.IntervalSeconds) * time.Second):
				continue
			}
		}

		if err := p.poll(ctx, doc); err != nil {
			metrics.ExternalMonitorFetchFailures.Inc()
			logger.Warn().Err(err).Msg("failed to fetch external monitor status")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(doc.Monitor.IntervalSeconds) * time.Second):
		}
	}
}

// poll fetches the exposition text once, parses it, and rebuilds both
// caches plus the stable_id mapping.
func (p *Poller) poll(ctx context.Context, doc *config.Document) error {
	byName, err := p.fetch(ctx, doc.ExternalMonitor)
	if err != nil {
		return err
	}

	byStableID := make(map[string]evaluator.ExternalStatus, len(doc.ExternalMonitor.Mappings))
	for _, m := range doc.ExternalMonitor.Mappings {
		if status, ok := byName[m.ExternalName]; ok {
			byStableID[m.StableID] = status
		}
	}

	p.mu.Lock()
	p.byName = byName
	p.byStableID = byStableID
	p.mu.Unlock()
	return nil
}

func (p *Poller) fetch(ctx context.Context, cfg config.ExternalMonitorConfig) (map[string]evaluator.ExternalStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("uptimemonitor: build request: %w", err)
	}
	if cfg.Username != "" || cfg.Password != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uptimemonitor: fetch %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("uptimemonitor: %s returned status %d", cfg.URL, resp.StatusCode)
	}

	return parseExposition(resp.Body)
}

// parseExposition scans Prometheus-style exposition text for
// monitor_status{monitor_name="NAME",...} VALUE lines, where VALUE is
// 0=down, 1=up, 2=pending, 3=maintenance.
func parseExposition(r io.Reader) (map[string]evaluator.ExternalStatus, error) {
	out := make(map[string]evaluator.ExternalStatus)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := statusLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		nameMatch := nameAttr.FindStringSubmatch(m[1])
		if nameMatch == nil {
			continue
		}
		value, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		out[nameMatch[1]] = statusFromValue(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("uptimemonitor: scan exposition: %w", err)
	}
	return out, nil
}

func statusFromValue(v int) evaluator.ExternalStatus {
	switch v {
	case 0:
		return evaluator.ExternalDown
	case 1:
		return evaluator.ExternalUp
	case 2:
		return evaluator.ExternalPending
	case 3:
		return evaluator.ExternalMaintenance
	default:
		return evaluator.ExternalUnknown
	}
}

// AutoMapUnmapped returns mapping candidates for container names that
// case-insensitively match a cached friendly name but have no mapping
// yet. The candidates are returned, not persisted.
func (p *Poller) AutoMapUnmapped(containerNames []string, existing []config.MonitorMapping) []config.MonitorMapping {
	mapped := make(map[string]bool, len(existing))
	for _, m := range existing {
		mapped[m.StableID] = true
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var candidates []config.MonitorMapping
	for _, name := range containerNames {
		if mapped[name] {
			continue
		}
		for friendly := range p.byName {
			if strings.EqualFold(friendly, name) {
				candidates = append(candidates, config.MonitorMapping{
					StableID:     name,
					ExternalName: friendly,
					AutoMapped:   true,
				})
				break
			}
		}
	}
	return candidates
}
