// Package chat persists direct messages between two users and relays them to
// the receiver when the receiver is reachable.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidInput = errors.New("chat: invalid input")
	ErrNotFound     = errors.New("chat: message not found")
	ErrForbidden    = errors.New("chat: not the sender")
)

const (
	MaxTextChars = 4096

	defaultPageSize = 50
	maxPageSize     = 200
)

// Message is the canonical persisted direct message.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	SenderID       string
	ReceiverID     string
	Text           string
	CreatedAt      time.Time
}

// Store persists and queries direct messages.
//
// Requirements:
//   - Seq is allocated strictly increasing per conversation, without gaps at append time
//   - Conversation pages are ordered newest first
//   - Only the sender may delete a message
type Store interface {
	Append(ctx context.Context, in AppendInput) (Message, error)
	Conversation(ctx context.Context, q ConversationQuery) (Page, error)
	Delete(ctx context.Context, messageID, requesterID string) (Message, error)
	Close() error
}

// AppendInput describes a message send.
type AppendInput struct {
	SenderID   string
	ReceiverID string
	Text       string
	Now        time.Time
}

// ConversationQuery selects a page of the conversation between two users.
// Before, when set, returns only messages with Seq < *Before.
type ConversationQuery struct {
	UserID string
	PeerID string
	Before *int64
	Limit  int
}

// Page is one window of a conversation.
type Page struct {
	Messages []Message
	HasMore  bool
}

// ConversationKey is the order-independent id of the conversation between a and b.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func normalizeAppend(in *AppendInput) error {
	in.SenderID = strings.TrimSpace(in.SenderID)
	in.ReceiverID = strings.TrimSpace(in.ReceiverID)
	in.Text = strings.TrimSpace(in.Text)

	switch {
	case in.SenderID == "" || in.ReceiverID == "":
		return errors.Join(ErrInvalidInput, errors.New("missing sender or receiver"))
	case in.SenderID == in.ReceiverID:
		return errors.Join(ErrInvalidInput, errors.New("cannot message yourself"))
	case in.Text == "":
		return errors.Join(ErrInvalidInput, errors.New("empty text"))
	case utf8.RuneCountInString(in.Text) > MaxTextChars:
		return errors.Join(ErrInvalidInput, errors.New("text too long"))
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
