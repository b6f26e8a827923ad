package realtime

import (
	"sort"
	"time"
)

// Session is the registry entry for one online user.
type Session struct {
	UserID      string
	Transport   Transport
	ConnectedAt time.Time
}

// registry maps user ids to their single live session.
// It is owned by the hub loop and is not safe for concurrent use.
type registry struct {
	sessions map[string]Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]Session)}
}

// put installs s and returns the session it replaced, if any.
func (r *registry) put(s Session) (Session, bool) {
	prev, ok := r.sessions[s.UserID]
	r.sessions[s.UserID] = s
	return prev, ok
}

func (r *registry) get(userID string) (Session, bool) {
	s, ok := r.sessions[userID]
	return s, ok
}

// removeIf deletes the entry for userID only when it still holds t.
func (r *registry) removeIf(userID string, t Transport) bool {
	s, ok := r.sessions[userID]
	if !ok || s.Transport != t {
		return false
	}
	delete(r.sessions, userID)
	return true
}

func (r *registry) len() int { return len(r.sessions) }

// snapshot returns the online set sorted, so two snapshots compare as sets.
func (r *registry) snapshot() []string {
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *registry) all() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *registry) clear() {
	r.sessions = make(map[string]Session)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
