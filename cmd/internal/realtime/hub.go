// Package realtime holds the presence core (session registry, activity tracking,
// debounced online-set broadcasts, liveness sweeps) and its WebSocket transport.
package realtime

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	v1 "parley/contracts/realtime/v1"
)

// Hub owns the connection registry, the activity tracker and the presence
// broadcaster for this process.
//
// All state is confined to a single loop goroutine. Public methods post a
// closure onto the loop and wait for it, so every registry mutation is
// serialized without locks. Mirror writes and announcements leave the loop
// through a sidecar queue and never block it.
type Hub struct {
	log        *slog.Logger
	cfg        Config
	now        func() time.Time
	metrics    Metrics
	mirror     PresenceMirror
	announcers []Announcer
	side       *sidecar

	ops     chan func()
	quit    chan struct{}
	stopped chan struct{}

	stopOnce  sync.Once
	startOnce sync.Once

	mu           sync.Mutex
	cancelSweeps context.CancelFunc
	sweeps       sync.WaitGroup

	// Loop-owned.
	reg           *registry
	act           *activityTracker
	deb           *debouncer
	lastAnnounced []string
	mirrorTouched map[string]time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the wall clock used for activity bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithMirror enables durable presence writes.
func WithMirror(m PresenceMirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// WithAnnouncers registers observers of changed online sets.
func WithAnnouncers(a ...Announcer) Option {
	return func(h *Hub) {
		for _, x := range a {
			if x != nil {
				h.announcers = append(h.announcers, x)
			}
		}
	}
}

// NewHub constructs a Hub and starts its loop. Sweeps start with Start.
func NewHub(log *slog.Logger, cfg Config, opts ...Option) *Hub {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	h := &Hub{
		log:           log,
		cfg:           cfg.withDefaults(),
		now:           time.Now,
		metrics:       NopMetrics{},
		ops:           make(chan func()),
		quit:          make(chan struct{}),
		stopped:       make(chan struct{}),
		reg:           newRegistry(),
		act:           newActivityTracker(),
		lastAnnounced: []string{},
		mirrorTouched: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.deb = &debouncer{post: h.post}
	h.side = newSidecar(log, h.metrics, h.cfg.SideEffectQueue, h.cfg.SideEffectTimeout)

	go h.loop()
	return h
}

// Config returns the effective configuration.
func (h *Hub) Config() Config { return h.cfg }

func (h *Hub) loop() {
	defer close(h.stopped)
	for {
		select {
		case op := <-h.ops:
			op()
		case <-h.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it. It reports false once the hub has stopped.
// fn must not call back into exported Hub methods.
func (h *Hub) do(fn func()) bool {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case h.ops <- op:
	case <-h.stopped:
		return false
	}
	<-done
	return true
}

// post queues fn on the loop without waiting for it to run.
func (h *Hub) post(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.stopped:
	}
}

// ---- registry ----

// Register installs t as the session for t.UserID(). An existing session for
// the same user is closed first. It reports false only when the hub is stopped.
func (h *Hub) Register(t Transport) bool {
	if t == nil {
		return false
	}
	userID := t.UserID()

	return h.do(func() {
		now := h.now()

		prev, replaced := h.reg.put(Session{UserID: userID, Transport: t, ConnectedAt: now})
		if replaced && prev.Transport != t {
			prev.Transport.Close(CloseReasonSuperseded)
			h.metrics.SessionSuperseded()
			h.log.Info("presence.session.superseded",
				"user_id", userID,
				"old_conn_id", prev.Transport.ConnID(),
				"new_conn_id", t.ConnID(),
			)
		}
		h.metrics.SessionOpened()

		h.act.touch(userID, now)
		h.mirrorOnline(userID, now, true)

		// The new session learns the current set right away; peers learn it on the debounced broadcast.
		h.pushOnlineUsers(t, now)
		h.deb.schedule(h.cfg.ConnectDelay, func() { h.announce("connect") })

		h.log.Info("presence.session.registered", "user_id", userID, "conn_id", t.ConnID())
	})
}

// Unregister removes the session for userID only if t is still the registered transport.
// A stale handle (already superseded or evicted) is a no-op and reports false.
func (h *Hub) Unregister(userID string, t Transport) bool {
	removed := false
	h.do(func() {
		if !h.reg.removeIf(userID, t) {
			connID := ""
			if t != nil {
				connID = t.ConnID()
			}
			h.log.Debug("presence.unregister.stale", "user_id", userID, "conn_id", connID)
			return
		}
		removed = true

		h.mirrorOffline(userID, h.now())
		h.metrics.SessionRemoved(RemovedDisconnect)
		h.deb.schedule(h.cfg.DisconnectDelay, func() { h.announce("disconnect") })

		h.log.Info("presence.session.unregistered", "user_id", userID, "conn_id", t.ConnID())
	})
	return removed
}

// Lookup returns the registered transport for userID.
func (h *Hub) Lookup(userID string) (Transport, bool) {
	var (
		t  Transport
		ok bool
	)
	h.do(func() {
		var s Session
		s, ok = h.reg.get(userID)
		t = s.Transport
	})
	return t, ok
}

// Snapshot returns the current online set, sorted.
func (h *Hub) Snapshot() []string {
	out := []string{}
	h.do(func() { out = h.reg.snapshot() })
	return out
}

// ClearAll closes every session and empties the registry. Activity records
// are left for the reaper. It cancels any pending broadcast and announces the
// resulting empty set immediately, since it runs at shutdown when no later
// timer would fire.
func (h *Hub) ClearAll() {
	h.do(func() {
		h.deb.cancel()

		now := h.now()
		for _, s := range h.reg.all() {
			s.Transport.Close(CloseReasonShutdown)
			h.mirrorOffline(s.UserID, now)
			h.metrics.SessionRemoved(RemovedShutdown)
		}
		h.reg.clear()
		h.mirrorTouched = make(map[string]time.Time)

		h.announce("clear")
	})
}

// ---- activity ----

// Touch records activity for userID.
func (h *Hub) Touch(userID string) {
	h.do(func() {
		now := h.now()
		h.act.touch(userID, now)
		h.mirrorOnline(userID, now, false)
	})
}

// LastSeen returns the last recorded activity for userID.
func (h *Hub) LastSeen(userID string) (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)
	h.do(func() { t, ok = h.act.lastSeen(userID) })
	return t.UTC(), ok
}

// IsStale reports whether userID has no activity within timeout. Unknown users are stale.
func (h *Hub) IsStale(userID string, timeout time.Duration) bool {
	stale := true
	h.do(func() { stale = h.act.isStale(userID, timeout, h.now()) })
	return stale
}

// Forget drops the activity record for userID and marks them offline in the mirror.
func (h *Hub) Forget(userID string) {
	h.do(func() {
		h.act.forget(userID)
		h.mirrorOffline(userID, h.now())
	})
}

// ---- broadcaster ----

// ScheduleBroadcast replaces any pending broadcast with one firing after delay.
func (h *Hub) ScheduleBroadcast(delay time.Duration) {
	h.do(func() {
		h.deb.schedule(delay, func() { h.announce("manual") })
	})
}

// RequestOnlineUsers answers t with the current set and schedules a broadcast.
func (h *Hub) RequestOnlineUsers(t Transport) {
	h.do(func() {
		now := h.now()
		h.act.touch(t.UserID(), now)
		h.pushOnlineUsers(t, now)
		h.deb.schedule(h.cfg.RequestDelay, func() { h.announce("request") })
	})
}

func (h *Hub) pushOnlineUsers(t Transport, now time.Time) {
	env, err := newEnvelope(v1.TypeGetOnlineUsers, h.reg.snapshot(), now)
	if err != nil {
		h.log.Error("presence.envelope.fail", "err", err)
		return
	}
	_ = t.Push(env)
}

// announce pushes the online set to every session when it differs from the last one announced.
func (h *Hub) announce(trigger string) {
	set := h.reg.snapshot()
	h.metrics.OnlineUsers(len(set))

	if sameSet(set, h.lastAnnounced) {
		h.metrics.BroadcastSuppressed()
		h.log.Debug("presence.broadcast.unchanged", "trigger", trigger, "online", len(set))
		return
	}
	h.lastAnnounced = set

	env, err := newEnvelope(v1.TypeGetOnlineUsers, set, h.now())
	if err != nil {
		h.log.Error("presence.envelope.fail", "err", err)
		return
	}

	// Push failures are dead transports; the reaper collects them.
	sent := 0
	for _, s := range h.reg.all() {
		if s.Transport.Push(env) {
			sent++
		}
	}
	h.metrics.BroadcastSent(sent)
	h.log.Info("presence.broadcast", "trigger", trigger, "online", len(set), "sent", sent)

	for _, a := range h.announcers {
		a := a
		cp := append([]string(nil), set...)
		h.side.submit("announce", func(ctx context.Context) error {
			return a.Announce(ctx, cp)
		})
	}
}

// ---- delivery ----

// DeliverIfOnline pushes event to targetUserID's live session. It reports false
// when the target has no session or the push was refused. It never errors:
// an unreachable target is an expected outcome.
func (h *Hub) DeliverIfOnline(targetUserID, event string, payload any) bool {
	env, err := newEnvelope(event, payload, h.now())
	if err != nil {
		h.log.Error("presence.deliver.encode", "event", event, "err", err)
		h.metrics.Delivery(event, false)
		return false
	}

	delivered := false
	h.do(func() {
		s, ok := h.reg.get(targetUserID)
		if !ok {
			return
		}
		delivered = s.Transport.Push(env)
	})

	h.metrics.Delivery(event, delivered)
	return delivered
}

// ---- mirror ----

func (h *Hub) mirrorOnline(userID string, now time.Time, force bool) {
	if h.mirror == nil {
		return
	}
	if last, ok := h.mirrorTouched[userID]; ok && !force && now.Sub(last) < h.cfg.MirrorTouchInterval {
		return
	}
	h.mirrorTouched[userID] = now
	h.side.submit("mirror.online", func(ctx context.Context) error {
		return h.mirror.MarkOnline(ctx, userID, now.UTC())
	})
}

func (h *Hub) mirrorOffline(userID string, now time.Time) {
	delete(h.mirrorTouched, userID)
	if h.mirror == nil {
		return
	}
	h.side.submit("mirror.offline", func(ctx context.Context) error {
		return h.mirror.MarkOffline(ctx, userID, now.UTC())
	})
}

// ---- lifecycle ----

// Start launches the reaper and verification sweeps. It is a no-op after the first call.
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)

		h.mu.Lock()
		h.cancelSweeps = cancel
		h.mu.Unlock()

		h.sweeps.Add(2)
		go h.sweepLoop(ctx, h.cfg.ReaperInterval, true)
		go h.sweepLoop(ctx, h.cfg.VerifyInterval, false)

		h.log.Info("presence.start",
			"reaper_interval", h.cfg.ReaperInterval.String(),
			"verify_interval", h.cfg.VerifyInterval.String(),
			"inactivity_timeout", h.cfg.InactivityTimeout.String(),
		)
	})
}

// Shutdown stops the sweeps, clears all sessions, stops the loop and drains pending side effects.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	cancel := h.cancelSweeps
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.sweeps.Wait()

	h.ClearAll()

	h.stopOnce.Do(func() { close(h.quit) })
	select {
	case <-h.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}

	return h.side.stop(ctx)
}
