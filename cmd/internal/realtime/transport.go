package realtime

import (
	v1 "parley/contracts/realtime/v1"
)

// Transport is a live, bidirectional push channel to one client connection.
//
// The registry only ever talks to connections through this interface, so a
// transport can be a websocket session, a test double, or anything else that
// can queue envelopes. Implementations must be safe for concurrent use.
type Transport interface {
	// ConnID identifies this connection. It changes on every reconnect.
	ConnID() string
	// UserID is the identity the connection was authenticated as.
	UserID() string
	// Push enqueues env without blocking. It reports false when the
	// transport is closed or its queue is full.
	Push(env v1.Envelope) bool
	// Alive reports whether the transport can still deliver.
	Alive() bool
	// Close tears the transport down. It is idempotent.
	Close(reason string)
}

// Close reasons reported by the hub.
const (
	CloseReasonSuperseded       = "superseded"
	CloseReasonTransportClosed  = "transport_closed"
	CloseReasonInactive         = "inactive"
	CloseReasonIdentityMismatch = "identity_mismatch"
	CloseReasonShutdown         = "shutdown"
)
