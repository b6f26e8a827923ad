package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PresenceMirror is the durable copy of presence used by other processes and by
// the polling fallback when this process holds no sessions. It has its own
// staleness timeout, independent of the in-process inactivity timeout.
type PresenceMirror interface {
	MarkOnline(ctx context.Context, userID string, at time.Time) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	// Online lists users marked online whose last_seen is after freshAfter.
	Online(ctx context.Context, freshAfter time.Time) ([]string, error)
	// ExpireStale marks offline every online row last seen before the cutoff.
	ExpireStale(ctx context.Context, before time.Time) (int64, error)
}

// Announcer observes every changed online set the hub broadcasts.
type Announcer interface {
	Announce(ctx context.Context, online []string) error
}

// AnnouncerFunc adapts a function to Announcer.
type AnnouncerFunc func(ctx context.Context, online []string) error

func (f AnnouncerFunc) Announce(ctx context.Context, online []string) error { return f(ctx, online) }

type mirrorRow struct {
	online   bool
	lastSeen time.Time
}

// MemoryMirror is an in-process PresenceMirror for dev and tests.
type MemoryMirror struct {
	mu   sync.Mutex
	rows map[string]mirrorRow
}

func NewMemoryMirror() *MemoryMirror {
	return &MemoryMirror{rows: make(map[string]mirrorRow)}
}

func (m *MemoryMirror) MarkOnline(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[userID]
	row.online = true
	if at.After(row.lastSeen) {
		row.lastSeen = at
	}
	m.rows[userID] = row
	return nil
}

func (m *MemoryMirror) MarkOffline(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[userID]
	row.online = false
	if at.After(row.lastSeen) {
		row.lastSeen = at
	}
	m.rows[userID] = row
	return nil
}

func (m *MemoryMirror) Online(_ context.Context, freshAfter time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for id, row := range m.rows {
		if row.online && row.lastSeen.After(freshAfter) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryMirror) ExpireStale(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, row := range m.rows {
		if row.online && row.lastSeen.Before(before) {
			row.online = false
			m.rows[id] = row
			n++
		}
	}
	return n, nil
}
