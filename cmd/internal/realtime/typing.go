package realtime

import (
	"sort"
	"sync"
	"time"
)

// TypingBoard tracks who is typing toward whom. Intents expire TypingTTL after
// their last Set unless cleared earlier.
type TypingBoard struct {
	mu        sync.Mutex
	now       func() time.Time
	ttl       time.Duration
	expires   map[string]map[string]time.Time // to -> from -> expiry
	lastPrune time.Time
}

// NewTypingBoard returns a board using now as its clock (time.Now when nil).
func NewTypingBoard(now func() time.Time) *TypingBoard {
	if now == nil {
		now = time.Now
	}
	return &TypingBoard{
		now:     now,
		ttl:     TypingTTL,
		expires: make(map[string]map[string]time.Time),
	}
}

// Set records that from is typing toward to.
func (b *TypingBoard) Set(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	senders, ok := b.expires[to]
	if !ok {
		senders = make(map[string]time.Time)
		b.expires[to] = senders
	}
	senders[from] = now.Add(b.ttl)

	if now.Sub(b.lastPrune) > b.ttl {
		b.pruneLocked(now)
	}
}

// Clear removes the intent from -> to.
func (b *TypingBoard) Clear(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	senders, ok := b.expires[to]
	if !ok {
		return
	}
	delete(senders, from)
	if len(senders) == 0 {
		delete(b.expires, to)
	}
}

// TypingToward lists the users currently typing toward to, sorted.
func (b *TypingBoard) TypingToward(to string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := []string{}
	for from, exp := range b.expires[to] {
		if now.After(exp) {
			delete(b.expires[to], from)
			continue
		}
		out = append(out, from)
	}
	if len(b.expires[to]) == 0 {
		delete(b.expires, to)
	}
	sort.Strings(out)
	return out
}

func (b *TypingBoard) pruneLocked(now time.Time) {
	for to, senders := range b.expires {
		for from, exp := range senders {
			if now.After(exp) {
				delete(senders, from)
			}
		}
		if len(senders) == 0 {
			delete(b.expires, to)
		}
	}
	b.lastPrune = now
}
