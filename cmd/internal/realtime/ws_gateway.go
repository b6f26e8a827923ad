package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"parley/cmd/internal/account"
	v1 "parley/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "parley.realtime.v1"

	wsMinSendQueueSize = 32
	wsCloseGrace       = 1 * time.Second
	wsMaxPingFailures  = 3
)

// Identifier resolves the authenticated user behind an upgrade request.
type Identifier interface {
	Resolve(r *http.Request) (string, error)
}

// GatewayConfig controls the websocket transport.
type GatewayConfig struct {
	// InsecureSkipVerify disables websocket.Accept origin verification. Dev only.
	InsecureSkipVerify bool
	OriginRequired     bool
	AllowedOrigins     []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	PingInterval time.Duration
	PingTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns secure defaults: origin required, localhost only.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:  true,
		AllowedOrigins:  []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:    5 * time.Second,
		ReadIdleTimeout: 2 * time.Minute,
		SendQueueSize:   256,
		PingInterval:    pingInterval,
		PingTimeout:     pingTimeout,
		RateEvents:      rateLimitEvents,
		RateWindow:      rateLimitWindow,
	}
}

// WSGateway is the push-transport entrypoint.
//
// It resolves identity before the upgrade, enforces origin policy and
// subprotocol selection, and turns each inbound envelope into a hub call.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	typing *TypingBoard
	ident  Identifier
	cfg    GatewayConfig

	// Derived for websocket.Accept, which only authorizes cross-origin hosts listed here.
	originPatterns []string
}

// NewWSGateway constructs a gateway. Zero config fields fall back to DefaultGatewayConfig.
func NewWSGateway(log *slog.Logger, hub *Hub, typing *TypingBoard, ident Identifier, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if typing == nil {
		typing = NewTypingBoard(nil)
	}

	def := DefaultGatewayConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.RateEvents <= 0 {
		cfg.RateEvents = def.RateEvents
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}

	return &WSGateway{
		log:            log,
		hub:            hub,
		typing:         typing,
		ident:          ident,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs it until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	userID, err := g.ident.Resolve(r)
	if err != nil {
		status := account.HTTPStatus(err)
		g.log.Info("ws.reject.identity", "err", err, "status", status, "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err, "user_id", userID)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	connID, err := NewConnID(now)
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(userID, connID, g.cfg.SendQueueSize)
	log := g.log.With("user_id", userID, "conn_id", connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close(reason)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// The hub closes the client on supersession, eviction and shutdown; drop the socket with it.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			shutdown(websocket.StatusGoingAway, client.CloseReason())
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, log, shutdown)
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		g.pingLoop(ctx, conn, client, log, shutdown)
	}()

	connected, err := newEnvelope(v1.TypeConnected, v1.ConnectedPayload{
		UserID:              userID,
		ConnID:              connID,
		HeartbeatIntervalMS: g.hub.Config().HeartbeatInterval.Milliseconds(),
	}, now)
	if err == nil {
		client.Push(connected)
	}

	if !g.hub.Register(client) {
		shutdown(websocket.StatusTryAgainLater, "server shutting down")
	} else {
		log.Info("ws.session.open")
		g.readLoop(ctx, conn, client, log, shutdown)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	g.hub.Unregister(userID, client)
	<-writerDone

	select {
	case <-pingDone:
	case <-time.After(wsCloseGrace):
	}
	log.Info("ws.session.close", "reason", client.CloseReason())
}

type shutdownFunc func(code websocket.StatusCode, reason string)

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *slog.Logger, shutdown shutdownFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
				log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *WSGateway) pingLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *slog.Logger, shutdown shutdownFunc) {
	t := time.NewTicker(g.cfg.PingInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, g.cfg.PingTimeout)
			err := conn.Ping(pctx)
			pcancel()

			if err != nil {
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, log *slog.Logger, shutdown shutdownFunc) {
	rl := newEventLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				return
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				return
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				return
			case readErrBadJSON:
				g.sendError(client, "bad_json", "invalid JSON")
				continue
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				return
			}
		}

		if !rl.Allow() {
			g.sendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue
		}

		if err := g.dispatch(client, env); err != nil {
			g.sendError(client, "bad_payload", err.Error())
		}
	}
}

// ---- handlers ----

func (g *WSGateway) dispatch(client *Client, env v1.Envelope) error {
	switch env.Type {
	case v1.TypeHeartbeat:
		g.hub.Touch(client.UserID())
		pong, err := newEnvelope(v1.TypeHeartbeatPong, v1.HeartbeatPongPayload{ServerTS: time.Now().UTC()}, time.Now().UTC())
		if err != nil {
			return err
		}
		client.Push(pong)
		return nil

	case v1.TypeRequestOnlineUsers:
		g.hub.RequestOnlineUsers(client)
		return nil

	case v1.TypeTyping, v1.TypeStopTyping:
		return g.onTyping(client, env)
	}

	if v1.IsSignalType(env.Type) {
		return g.onSignal(client, env)
	}
	return fmt.Errorf("unsupported type: %s", env.Type)
}

func (g *WSGateway) onTyping(client *Client, env v1.Envelope) error {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	to, err := targetUserID(p.ReceiverID)
	if err != nil {
		return err
	}

	from := client.UserID()
	g.hub.Touch(from)
	if env.Type == v1.TypeTyping {
		g.typing.Set(from, to)
	} else {
		g.typing.Clear(from, to)
	}
	g.hub.DeliverIfOnline(to, env.Type, v1.TypingNoticePayload{SenderID: from})
	return nil
}

func (g *WSGateway) onSignal(client *Client, env v1.Envelope) error {
	var target v1.SignalTarget
	if err := json.Unmarshal(env.Payload, &target); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	to, err := targetUserID(target.To)
	if err != nil {
		return err
	}

	delivered := g.hub.DeliverIfOnline(to, env.Type, v1.SignalRelayPayload{
		From:    client.UserID(),
		Payload: env.Payload,
	})
	if delivered || env.Type != v1.TypeVideoCallOffer {
		return nil
	}

	failed, err := newEnvelope(v1.TypeVideoCallFailed, v1.CallFailedPayload{
		To:     to,
		Reason: v1.ReasonUserOffline,
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	client.Push(failed)
	return nil
}

// targetUserID returns the canonical form of a peer id taken from a payload.
func targetUserID(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("missing target user")
	}
	if len(raw) > maxUserIDChars {
		return "", errors.New("target user too long")
	}
	id, err := account.ParseUserID(raw)
	if err != nil {
		return "", errors.New("target user is not a user id")
	}
	return id, nil
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	env, err := newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = client.Push(env)
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host patterns.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
