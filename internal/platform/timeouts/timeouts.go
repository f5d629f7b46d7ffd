// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// Introspect caps the wait time for one identity introspection call.
const Introspect = 3 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// BroadcastWrite bounds a single outbound WebSocket write so one stalled
// subscriber cannot hold up fan-out to the rest.
const BroadcastWrite = 5 * time.Second
