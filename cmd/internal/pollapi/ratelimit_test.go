package pollapi

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/cmd/internal/account"

	"golang.org/x/time/rate"
)

func TestUserLimiterPerUser(t *testing.T) {
	t.Parallel()

	l := NewUserLimiter(slog.New(slog.NewTextHandler(io.Discard, nil)), LimiterConfig{
		Rate:  rate.Every(time.Hour),
		Burst: 2,
	})
	defer l.Stop()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/heartbeat", nil)
		if user != "" {
			req = req.WithContext(account.WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := call("alice"); rec.Code != http.StatusNoContent {
			t.Fatalf("call %d status=%d", i, rec.Code)
		}
	}
	rec := call("alice")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third call status=%d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	if rec := call("bob"); rec.Code != http.StatusNoContent {
		t.Fatalf("other user limited: %d", rec.Code)
	}
	if rec := call(""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status=%d", rec.Code)
	}
	if l.Len() != 2 {
		t.Fatalf("limiters=%d", l.Len())
	}

	l.cleanup(time.Now().Add(time.Hour))
	if l.Len() != 0 {
		t.Fatalf("idle limiters kept: %d", l.Len())
	}
}
