package presencebus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	out     []published
	fail    error
	drained bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.fail != nil {
		return f.fail
	}
	f.out = append(f.out, published{subject: subj, data: data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func newTestPublisher(fc *fakeConn) *Publisher {
	p := newPublisher(fc, DefaultSubject, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return p
}

func TestAnnouncePublishesOnlineSet(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	p := newTestPublisher(fc)

	if err := p.Announce(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	if err := p.Announce(context.Background(), nil); err != nil {
		t.Fatalf("Announce(empty): %v", err)
	}
	if len(fc.out) != 2 || fc.out[0].subject != DefaultSubject {
		t.Fatalf("published=%+v", fc.out)
	}

	ev, err := decodeEvent(fc.out[0].data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Count != 2 || len(ev.Online) != 2 || ev.Online[0] != "a" || !ev.At.Equal(p.now()) {
		t.Fatalf("event=%+v", ev)
	}

	empty, err := decodeEvent(fc.out[1].data)
	if err != nil || empty.Count != 0 || empty.Online == nil {
		t.Fatalf("empty event=%+v err=%v", empty, err)
	}
}

func TestAnnounceErrors(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{fail: errors.New("nats: connection closed")}
	p := newTestPublisher(fc)
	if err := p.Announce(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("expected publish error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newTestPublisher(&fakeConn{}).Announce(ctx, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled ctx err=%v", err)
	}
}

func TestCloseDrains(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	if err := newTestPublisher(fc).Close(); err != nil || !fc.drained {
		t.Fatalf("Close err=%v drained=%v", err, fc.drained)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := Connect(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{}); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}

// decodeEvent parses a message body written by Announce.
func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
