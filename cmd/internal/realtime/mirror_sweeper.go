package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MirrorSweeper marks mirror rows offline once they go unrefreshed for Timeout.
// It is the storage-side counterpart of the in-process reaper and runs on its
// own schedule.
type MirrorSweeper struct {
	mirror PresenceMirror
	log    *slog.Logger
	now    func() time.Time

	Timeout  time.Duration
	Interval time.Duration
}

// NewMirrorSweeper returns a sweeper with the default 30s timeout and 10s interval.
func NewMirrorSweeper(mirror PresenceMirror, log *slog.Logger) *MirrorSweeper {
	return &MirrorSweeper{
		mirror:   mirror,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		Timeout:  30 * time.Second,
		Interval: 10 * time.Second,
	}
}

// RunOnce expires stale rows. It is idempotent.
func (s *MirrorSweeper) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	cutoff := s.now().Add(-s.Timeout)

	n, err := s.mirror.ExpireStale(ctx, cutoff)
	if err != nil {
		s.log.Error("presence.mirror.sweep.fail", "err", err, "timeout", s.Timeout.String())
		return 0, fmt.Errorf("expire stale presence: %w", err)
	}

	if n > 0 {
		s.log.Info("presence.mirror.sweep",
			"expired", n,
			"timeout", s.Timeout.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return n, nil
}

// Run sweeps every Interval until ctx is done.
func (s *MirrorSweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
