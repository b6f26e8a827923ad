// Package presencebus publishes every announced online set to NATS or Kafka so other
// processes can follow presence without holding sockets.
package presencebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/cmd/internal/realtime"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "presence.online"

// Config selects the NATS server and subject.
type Config struct {
	URL      string
	User     string
	Password string
	Subject  string
	Name     string

	ConnectAttempts int
	RetryWait       time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Subject) == "" {
		c.Subject = DefaultSubject
	}
	if c.Name == "" {
		c.Name = "parley"
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 10
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 2 * time.Second
	}
	return c
}

// Event is the message body on the presence subject.
type Event struct {
	Online []string  `json:"onlineUsers"`
	Count  int       `json:"count"`
	At     time.Time `json:"at"`
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// Publisher implements realtime.Announcer.
type Publisher struct {
	nc      conn
	subject string
	log     *slog.Logger
	now     func() time.Time
}

var _ realtime.Announcer = (*Publisher)(nil)

// Connect dials NATS, retrying up to cfg.ConnectAttempts times or until ctx is done.
func Connect(ctx context.Context, log *slog.Logger, cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("presencebus: empty NATS URL")
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.RetryWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("presencebus.disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("presencebus.reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	var (
		nc  *nats.Conn
		err error
	)
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		nc, err = nats.Connect(cfg.URL, opts...)
		if err == nil {
			break
		}
		log.Info("presencebus.connect.wait", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryWait):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("presencebus: connect %s: %w", cfg.URL, err)
	}

	log.Info("presencebus.connected", "url", nc.ConnectedUrl(), "subject", cfg.Subject)
	return newPublisher(nc, cfg.Subject, log), nil
}

func newPublisher(nc conn, subject string, log *slog.Logger) *Publisher {
	return &Publisher{
		nc:      nc,
		subject: subject,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Announce publishes the online set. Delivery is at-most-once.
func (p *Publisher) Announce(ctx context.Context, online []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if online == nil {
		online = []string{}
	}
	data, err := json.Marshal(Event{Online: online, Count: len(online), At: p.now()})
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("presencebus: publish: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
