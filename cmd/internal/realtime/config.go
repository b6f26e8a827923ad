package realtime

import "time"

// Config holds presence timing. Zero fields fall back to DefaultConfig.
type Config struct {
	// HeartbeatInterval is advertised to clients in the connected envelope.
	HeartbeatInterval time.Duration

	// ReaperInterval drives the full sweep (liveness, identity and inactivity).
	ReaperInterval time.Duration
	// VerifyInterval drives the cheaper sweep (liveness and identity only).
	VerifyInterval time.Duration
	// InactivityTimeout is how long a user may go without a touch before the reaper evicts them.
	InactivityTimeout time.Duration

	// Debounce delays per trigger.
	ConnectDelay    time.Duration
	RequestDelay    time.Duration
	DisconnectDelay time.Duration
	SweepDelay      time.Duration
	VerifyDelay     time.Duration

	// MirrorTouchInterval throttles MarkOnline writes per user.
	MirrorTouchInterval time.Duration

	SideEffectQueue   int
	SideEffectTimeout time.Duration
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,

		ReaperInterval:    60 * time.Second,
		VerifyInterval:    15 * time.Second,
		InactivityTimeout: 120 * time.Second,

		ConnectDelay:    200 * time.Millisecond,
		RequestDelay:    100 * time.Millisecond,
		DisconnectDelay: 300 * time.Millisecond,
		SweepDelay:      1000 * time.Millisecond,
		VerifyDelay:     2000 * time.Millisecond,

		MirrorTouchInterval: 10 * time.Second,

		SideEffectQueue:   1024,
		SideEffectTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	durs := []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&c.HeartbeatInterval, d.HeartbeatInterval},
		{&c.ReaperInterval, d.ReaperInterval},
		{&c.VerifyInterval, d.VerifyInterval},
		{&c.InactivityTimeout, d.InactivityTimeout},
		{&c.ConnectDelay, d.ConnectDelay},
		{&c.RequestDelay, d.RequestDelay},
		{&c.DisconnectDelay, d.DisconnectDelay},
		{&c.SweepDelay, d.SweepDelay},
		{&c.VerifyDelay, d.VerifyDelay},
		{&c.MirrorTouchInterval, d.MirrorTouchInterval},
		{&c.SideEffectTimeout, d.SideEffectTimeout},
	}
	for _, f := range durs {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	if c.SideEffectQueue <= 0 {
		c.SideEffectQueue = d.SideEffectQueue
	}
	return c
}
