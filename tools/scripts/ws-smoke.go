// Package main provides a CI-friendly WebSocket smoke test for parley presence.
//
// It validates:
//   - handshake + subprotocol selection
//   - connected + online set on register
//   - heartbeat -> heartbeat-pong
//   - debounced online set contains both users
//   - typing relay between two reachable users
//   - video-call-offer to an offline user answers video-call-failed
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	v1 "parley/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "parley.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
	offlineUserID      = "00000000-0000-0000-0000-0000000000ff"
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "", "user id of client A (must exist)")
		userB   = flag.String("b", "", "user id of client B (must exist)")
		tokenA  = flag.String("token-a", "", "bearer token for A (omit to use ?userId= in dev mode)")
		tokenB  = flag.String("token-b", "", "bearer token for B")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *userA == "" || *userB == "" || *userA == *userB {
		fatalf("-a and -b must name two different existing users")
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *userA, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *userB, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustHeartbeat(root, a, *timeout)
	mustSeeOnline(root, a, []string{a.userID, b.userID}, *timeout)
	mustTypingRelay(root, a, b, *timeout)
	mustOfferFails(root, a, *timeout)

	fmt.Printf("OK: A=%s B=%s\n", a.userID, b.userID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, userID, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	dialURL := wsURL
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	} else {
		u, _ := url.Parse(wsURL)
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
		dialURL = u.String()
	}

	conn, resp, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	connected := c.mustReadUntilType(parent, v1.TypeConnected, stepTimeout, nil)

	var p v1.ConnectedPayload
	if err := json.Unmarshal(connected.Payload, &p); err != nil {
		fatalf("unmarshal connected payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.UserID) == "" || p.HeartbeatIntervalMS <= 0 {
		fatalf("connected payload incomplete (%s): %+v", name, p)
	}
	c.userID = p.UserID

	c.mustReadUntilType(parent, v1.TypeGetOnlineUsers, stepTimeout, nil)
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version || env.Type == "" {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: v=%q type=%q", env.V, env.Type):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// presenceNoise are envelopes that may arrive at any point and are skipped while waiting.
var presenceNoise = map[string]struct{}{
	v1.TypeGetOnlineUsers: {},
	v1.TypeHeartbeatPong:  {},
}

func mustHeartbeat(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, newEnvelope(c.name+"-hb", v1.TypeHeartbeat, struct{}{}), stepTimeout)
	c.mustReadUntilType(parent, v1.TypeHeartbeatPong, stepTimeout, map[string]struct{}{v1.TypeGetOnlineUsers: {}})
}

// mustSeeOnline waits for an online set containing every want id. The set is
// debounced, so intermediate snapshots are skipped.
func mustSeeOnline(parent context.Context, c *smokeClient, want []string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	mustWriteWithTimeout(parent, c.conn, newEnvelope(c.name+"-online", v1.TypeRequestOnlineUsers, struct{}{}), stepTimeout)

	for {
		env := c.mustReadUntilType(ctx, v1.TypeGetOnlineUsers, stepTimeout, map[string]struct{}{v1.TypeHeartbeatPong: {}})
		var online []string
		if err := json.Unmarshal(env.Payload, &online); err != nil {
			fatalf("unmarshal online set (%s): %v", c.name, err)
		}
		if containsAll(online, want) {
			return
		}
	}
}

func mustTypingRelay(parent context.Context, from, to *smokeClient, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, from.conn, newEnvelope(from.name+"-typing", v1.TypeTyping, v1.TypingPayload{ReceiverID: to.userID}), stepTimeout)

	env := to.mustReadUntilType(parent, v1.TypeTyping, stepTimeout, presenceNoise)
	var p v1.TypingNoticePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal typing (%s): %v", to.name, err)
	}
	if p.SenderID != from.userID {
		fatalf("typing sender mismatch: got=%q want=%q", p.SenderID, from.userID)
	}

	mustWriteWithTimeout(parent, from.conn, newEnvelope(from.name+"-stop", v1.TypeStopTyping, v1.TypingPayload{ReceiverID: to.userID}), stepTimeout)
	to.mustReadUntilType(parent, v1.TypeStopTyping, stepTimeout, presenceNoise)
}

func mustOfferFails(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	offer := newEnvelope(c.name+"-offer", v1.TypeVideoCallOffer, map[string]any{"to": offlineUserID, "sdp": "smoke"})
	mustWriteWithTimeout(parent, c.conn, offer, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeVideoCallFailed, stepTimeout, presenceNoise)
	var p v1.CallFailedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal video-call-failed (%s): %v", c.name, err)
	}
	if p.Reason != v1.ReasonUserOffline {
		fatalf("video-call-failed reason=%q want %q", p.Reason, v1.ReasonUserOffline)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func newEnvelope(id, typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
