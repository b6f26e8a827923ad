package chat

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

const memMaxMessagesPerConversation = 10_000

// MemoryStore is a dev-only fallback when the database is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*memConv
	byID  map[string]string // message id -> conversation id
}

type memConv struct {
	seq  int64
	msgs []Message // ordered by seq
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*memConv),
		byID:  make(map[string]string),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := normalizeAppend(&in); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	key := ConversationKey(in.SenderID, in.ReceiverID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[key]
	if c == nil {
		c = &memConv{msgs: make([]Message, 0, 64)}
		s.convs[key] = c
	}

	c.seq++
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: key,
		Seq:            c.seq,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Text:           in.Text,
		CreatedAt:      in.Now.UTC(),
	}
	c.msgs = append(c.msgs, msg)
	s.byID[msg.ID] = key

	// Bound memory in dev.
	if len(c.msgs) > memMaxMessagesPerConversation {
		for _, old := range c.msgs[:len(c.msgs)-memMaxMessagesPerConversation] {
			delete(s.byID, old.ID)
		}
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerConversation:]
	}
	return msg, nil
}

func (s *MemoryStore) Conversation(ctx context.Context, q ConversationQuery) (Page, error) {
	if q.UserID == "" || q.PeerID == "" {
		return Page{}, errors.Join(ErrInvalidInput, errors.New("missing participant"))
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	limit := clampLimit(q.Limit)

	s.mu.Lock()
	var snap []Message
	if c := s.convs[ConversationKey(q.UserID, q.PeerID)]; c != nil {
		snap = append([]Message(nil), c.msgs...)
	}
	s.mu.Unlock()

	end := len(snap)
	if q.Before != nil {
		before := *q.Before
		end = sort.Search(len(snap), func(i int) bool { return snap[i].Seq >= before })
	}

	start := end - limit
	hasMore := start > 0
	if start < 0 {
		start = 0
	}

	out := make([]Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, snap[i])
	}
	return Page{Messages: out, HasMore: hasMore}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, messageID, requesterID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[messageID]
	if !ok {
		return Message{}, ErrNotFound
	}
	c := s.convs[key]
	for i, m := range c.msgs {
		if m.ID != messageID {
			continue
		}
		if m.SenderID != requesterID {
			return Message{}, ErrForbidden
		}
		c.msgs = append(c.msgs[:i], c.msgs[i+1:]...)
		delete(s.byID, messageID)
		return m, nil
	}
	return Message{}, ErrNotFound
}
