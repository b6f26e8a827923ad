package pollapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/realtime"
	v1 "parley/contracts/realtime/v1"
)

type pushRecorder struct {
	userID string
	ch     chan v1.Envelope
}

func newPushRecorder(userID string) *pushRecorder {
	return &pushRecorder{userID: userID, ch: make(chan v1.Envelope, 16)}
}

func (p *pushRecorder) ConnID() string { return "conn-" + p.userID }
func (p *pushRecorder) UserID() string { return p.userID }
func (p *pushRecorder) Alive() bool    { return true }
func (p *pushRecorder) Close(string)   {}
func (p *pushRecorder) Push(e v1.Envelope) bool {
	select {
	case p.ch <- e:
		return true
	default:
		return false
	}
}

func (p *pushRecorder) nextOfType(t *testing.T, typ string) v1.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-p.ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %q envelope", typ)
			return v1.Envelope{}
		}
	}
}

type pollHarness struct {
	srv    *httptest.Server
	hub    *realtime.Hub
	mirror *realtime.MemoryMirror
	typing *realtime.TypingBoard
}

func newPollHarness(t *testing.T) *pollHarness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mirror := realtime.NewMemoryMirror()
	hub := realtime.NewHub(log, realtime.DefaultConfig(), realtime.WithMirror(mirror))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	typing := realtime.NewTypingBoard(nil)
	h := NewHandler(log, hub, mirror, typing)
	routes := h.Routes()

	// Test identity comes from a header; production mounts account.Middleware.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(account.WithUserID(r.Context(), id))
		}
		routes.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	return &pollHarness{srv: srv, hub: hub, mirror: mirror, typing: typing}
}

func (p *pollHarness) do(t *testing.T, method, path, as, body string, out any) int {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, p.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if as != "" {
		req.Header.Set("X-Test-User", as)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHeartbeatTouchesAndFallsBackToMirror(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)

	var out onlineResponse
	if status := p.do(t, http.MethodPost, "/heartbeat", "alice", "", &out); status != http.StatusOK {
		t.Fatalf("heartbeat status=%d", status)
	}
	if _, ok := p.hub.LastSeen("alice"); !ok {
		t.Fatalf("heartbeat did not touch activity")
	}
	if out.Source != SourceMirror {
		t.Fatalf("heartbeat source=%q want mirror", out.Source)
	}

	// No push sessions: the mirror answers once the asynchronous touch write lands.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.do(t, http.MethodGet, "/online-users", "alice", "", &out)
		if len(out.OnlineUsers) == 1 && out.OnlineUsers[0] == "alice" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mirror never listed alice: %+v", out)
}

func TestOnlineUsersPrefersRegistry(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)
	_ = p.mirror.MarkOnline(context.Background(), "ghost", time.Now().UTC())
	p.hub.Register(newPushRecorder("bob"))

	var out onlineResponse
	p.do(t, http.MethodGet, "/online-users", "alice", "", &out)
	if out.Source != SourceRegistry || len(out.OnlineUsers) != 1 || out.OnlineUsers[0] != "bob" {
		t.Fatalf("online-users=%+v", out)
	}
}

func TestOnlineUsersIgnoresStaleMirrorRows(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)
	_ = p.mirror.MarkOnline(context.Background(), "old", time.Now().UTC().Add(-time.Minute))

	var out onlineResponse
	p.do(t, http.MethodGet, "/online-users", "alice", "", &out)
	if out.Source != SourceMirror || len(out.OnlineUsers) != 0 {
		t.Fatalf("online-users=%+v", out)
	}
}

func TestOfflineForgetsActivity(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)
	p.do(t, http.MethodPost, "/heartbeat", "alice", "", nil)

	if status := p.do(t, http.MethodPost, "/offline", "alice", "", nil); status != http.StatusNoContent {
		t.Fatalf("offline status=%d", status)
	}
	if _, ok := p.hub.LastSeen("alice"); ok {
		t.Fatalf("activity survived offline")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		set, _ := p.mirror.Online(context.Background(), time.Time{})
		if len(set) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mirror still lists alice")
}

// Typing targets must be directory ids, so these tests use UUIDs.
const (
	aliceID = "0c6f3b7e-1d2a-4f5b-9a8c-7e6d5c4b3a21"
	bobID   = "9a1b2c3d-4e5f-4a6b-8c7d-0e1f2a3b4c5d"
	carolID = "5e4d3c2b-1a0f-4e9d-8c7b-6a5f4e3d2c1b"
)

func TestTypingOverHTTP(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)
	bob := newPushRecorder(bobID)
	p.hub.Register(bob)

	var tr typingResponse
	if status := p.do(t, http.MethodPost, "/typing", aliceID, `{"receiverId":"`+bobID+`","isTyping":true}`, &tr); status != http.StatusOK {
		t.Fatalf("typing status=%d", status)
	}
	if !tr.Delivered {
		t.Fatalf("typing to online user not delivered")
	}
	env := bob.nextOfType(t, v1.TypeTyping)
	var notice v1.TypingNoticePayload
	if err := json.Unmarshal(env.Payload, &notice); err != nil || notice.SenderID != aliceID {
		t.Fatalf("notice=%+v err=%v", notice, err)
	}

	var toward typingTowardResponse
	if status := p.do(t, http.MethodGet, "/typing/"+bobID, bobID, "", &toward); status != http.StatusOK {
		t.Fatalf("typing toward status=%d", status)
	}
	if len(toward.TypingIDs) != 1 || toward.TypingIDs[0] != aliceID {
		t.Fatalf("typing toward=%+v", toward)
	}

	if status := p.do(t, http.MethodGet, "/typing/"+bobID, aliceID, "", nil); status != http.StatusForbidden {
		t.Fatalf("foreign typing read status=%d", status)
	}

	p.do(t, http.MethodPost, "/typing", aliceID, `{"receiverId":"`+bobID+`","isTyping":false}`, &tr)
	_ = bob.nextOfType(t, v1.TypeStopTyping)
	if got := p.typing.TypingToward(bobID); len(got) != 0 {
		t.Fatalf("intent not cleared: %v", got)
	}

	p.do(t, http.MethodPost, "/typing", aliceID, `{"receiverId":"`+carolID+`","isTyping":true}`, &tr)
	if tr.Delivered {
		t.Fatalf("typing to offline user reported delivered")
	}
}

func TestTypingTargetIsCanonicalized(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)
	bob := newPushRecorder(bobID)
	p.hub.Register(bob)

	var tr typingResponse
	body := `{"receiverId":"` + strings.ToUpper(bobID) + `","isTyping":true}`
	if status := p.do(t, http.MethodPost, "/typing", aliceID, body, &tr); status != http.StatusOK {
		t.Fatalf("typing status=%d", status)
	}
	if !tr.Delivered {
		t.Fatalf("uppercase receiver id missed the live session")
	}
	_ = bob.nextOfType(t, v1.TypeTyping)
	if got := p.typing.TypingToward(bobID); len(got) != 1 || got[0] != aliceID {
		t.Fatalf("TypingToward(bob)=%v", got)
	}

	var toward typingTowardResponse
	if status := p.do(t, http.MethodGet, "/typing/"+strings.ToUpper(bobID), bobID, "", &toward); status != http.StatusOK || len(toward.TypingIDs) != 1 {
		t.Fatalf("typing toward status=%d resp=%+v", status, toward)
	}

	self := `{"receiverId":"` + strings.ToUpper(aliceID) + `","isTyping":true}`
	if status := p.do(t, http.MethodPost, "/typing", aliceID, self, nil); status != http.StatusBadRequest {
		t.Fatalf("typing toward self status=%d", status)
	}
	if status := p.do(t, http.MethodPost, "/typing", aliceID, `{"receiverId":"bob","isTyping":true}`, nil); status != http.StatusBadRequest {
		t.Fatalf("non-uuid receiver status=%d", status)
	}
}

func TestPollRequiresIdentity(t *testing.T) {
	t.Parallel()

	p := newPollHarness(t)
	for _, path := range []string{"/heartbeat", "/offline"} {
		if status := p.do(t, http.MethodPost, path, "", "", nil); status != http.StatusUnauthorized {
			t.Fatalf("%s status=%d", path, status)
		}
	}
	if status := p.do(t, http.MethodPost, "/typing", "alice", `{"receiverId":""}`, nil); status != http.StatusBadRequest {
		t.Fatalf("empty receiver status=%d", status)
	}
}
