// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// HTTPRead limits how long an HTTP server waits for a full request.
const HTTPRead = 10 * time.Second

// HTTPWriteHeadroom is added on top of the configured maximum randomness
// poll wait to form the server write timeout. The cycle trigger holds its
// response for the full poll, so the write timeout must scale with it.
const HTTPWriteHeadroom = time.Minute

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
