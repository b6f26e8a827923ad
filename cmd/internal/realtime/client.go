package realtime

import (
	"sync"

	v1 "parley/contracts/realtime/v1"
)

// Client represents one connected websocket session. It implements Transport.
//
// Send is never closed by the server so that concurrent pushes cannot panic;
// done signals the writer goroutine to stop. Close is idempotent.
type Client struct {
	connID string
	userID string
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	reason string
}

var _ Transport = (*Client)(nil)

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		connID: connID,
		userID: userID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) ConnID() string { return c.connID }
func (c *Client) UserID() string { return c.userID }

// Push enqueues env without blocking.
func (c *Client) Push(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Alive reports whether Close has not been called yet.
func (c *Client) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop. The first reason wins.
func (c *Client) Close(reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// CloseReason returns the reason passed to the first Close call.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}
