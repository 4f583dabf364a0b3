// Package metrics registers wardend's Prometheus collectors: sweep and
// probe durations, restart/quarantine/enrollment counters, and the
// gauges Handler exposes at /api/v1/metrics via promhttp.
package metrics
