// Package runtime talks to the Docker Engine API: listing and inspecting
// containers, restarting them, dispatching HTTP/TCP/exec probes, and
// streaming lifecycle events for the watcher.
package runtime
