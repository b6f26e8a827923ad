package realtime

import "time"

// activityTracker records the last time each user showed intent.
// Owned by the hub loop.
type activityTracker struct {
	last map[string]time.Time
}

func newActivityTracker() *activityTracker {
	return &activityTracker{last: make(map[string]time.Time)}
}

// touch never moves a record backwards.
func (a *activityTracker) touch(userID string, now time.Time) {
	if prev, ok := a.last[userID]; ok && !now.After(prev) {
		return
	}
	a.last[userID] = now
}

func (a *activityTracker) lastSeen(userID string) (time.Time, bool) {
	t, ok := a.last[userID]
	return t, ok
}

// isStale is true for unknown users and once more than timeout has elapsed since the last touch.
func (a *activityTracker) isStale(userID string, timeout time.Duration, now time.Time) bool {
	t, ok := a.last[userID]
	if !ok {
		return true
	}
	return now.Sub(t) > timeout
}

func (a *activityTracker) forget(userID string) {
	delete(a.last, userID)
}

func (a *activityTracker) users() []string {
	out := make([]string, 0, len(a.last))
	for id := range a.last {
		out = append(out, id)
	}
	return out
}
