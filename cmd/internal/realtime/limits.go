package realtime

import "time"

// Transport limits.
const (
	// Max bytes per websocket frame read. Signaling payloads (SDP offers) are the largest frames.
	maxFrameBytes = 256 << 10

	// Max length of a user id accepted from any inbound payload.
	maxUserIDChars = 64
)

const (
	// Protocol-level ping cadence. This is independent of the application heartbeat.
	pingInterval = 25 * time.Second
	pingTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

// TypingTTL is how long a typing intent stays visible without a refresh.
const TypingTTL = 10 * time.Second
