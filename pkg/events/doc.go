// Package events implements a bounded, in-memory pub/sub broker that
// fans out restart, quarantine, auto-unquarantine and auto-enrollment
// events to every subscriber (the notify package's webhook dispatcher).
// The persisted event log is not a subscriber: components record events
// in it through store.AddEvent. A slow subscriber drops events
// rather than blocking the publisher; drops are counted, never silent.
package events
