package realtime

import (
	"context"
	"time"
)

// Eviction describes one session removed by a sweep.
type Eviction struct {
	UserID string
	ConnID string
	Reason string
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Evicted []Eviction
	// Collected counts orphan activity records dropped by a full sweep.
	Collected int
}

// Sweep runs one reaper pass. A full pass also evicts inactive users and
// collects stale activity records that have no session. When anything was
// evicted, exactly one debounced broadcast is scheduled.
func (h *Hub) Sweep(full bool) SweepResult {
	var res SweepResult
	h.do(func() { res = h.sweep(full) })
	return res
}

func (h *Hub) sweep(full bool) SweepResult {
	now := h.now()
	var res SweepResult

	for _, s := range h.reg.all() {
		var reason, closeReason string
		switch {
		case !s.Transport.Alive():
			reason, closeReason = RemovedTransportClosed, CloseReasonTransportClosed
		case s.Transport.UserID() != s.UserID:
			reason, closeReason = RemovedIdentityMismatch, CloseReasonIdentityMismatch
		case full && h.act.isStale(s.UserID, h.cfg.InactivityTimeout, now):
			reason, closeReason = RemovedInactive, CloseReasonInactive
		default:
			continue
		}

		h.reg.removeIf(s.UserID, s.Transport)
		s.Transport.Close(closeReason)
		h.mirrorOffline(s.UserID, now)
		h.metrics.SessionRemoved(reason)

		res.Evicted = append(res.Evicted, Eviction{UserID: s.UserID, ConnID: s.Transport.ConnID(), Reason: reason})
		h.log.Info("presence.reaper.evict", "user_id", s.UserID, "conn_id", s.Transport.ConnID(), "reason", reason, "full", full)
	}

	if full {
		for _, id := range h.act.users() {
			if _, online := h.reg.get(id); online {
				continue
			}
			if h.act.isStale(id, h.cfg.InactivityTimeout, now) {
				h.act.forget(id)
				delete(h.mirrorTouched, id)
				res.Collected++
			}
		}
	}

	if len(res.Evicted) > 0 {
		if full {
			h.deb.schedule(h.cfg.SweepDelay, func() { h.announce("reaper") })
		} else {
			h.deb.schedule(h.cfg.VerifyDelay, func() { h.announce("verify") })
		}
	}
	return res
}

func (h *Hub) sweepLoop(ctx context.Context, every time.Duration, full bool) {
	defer h.sweeps.Done()

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res := h.Sweep(full)
			if len(res.Evicted) > 0 || res.Collected > 0 {
				h.log.Info("presence.reaper.sweep", "full", full, "evicted", len(res.Evicted), "collected", res.Collected)
			}
		}
	}
}
