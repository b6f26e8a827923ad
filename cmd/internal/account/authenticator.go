package account

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"parley/cmd/internal/httpapi"
)

// Authenticator resolves the user behind a request.
//
// A bearer token (Authorization header or "token" query parameter) always
// wins. Without one, and only when tokens are not required, the "userId"
// query parameter or X-User-ID header is trusted. Either way the user must
// exist in the directory: an unknown subject is ErrUserNotFound, never a
// substitute identity.
type Authenticator struct {
	tokens       *TokenManager
	dir          Directory
	requireToken bool
	now          func() time.Time
}

func NewAuthenticator(tokens *TokenManager, dir Directory, requireToken bool) *Authenticator {
	return &Authenticator{
		tokens:       tokens,
		dir:          dir,
		requireToken: requireToken,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the canonical user id for r.
func (a *Authenticator) Resolve(r *http.Request) (string, error) {
	const op = "account.Resolve"

	var userID string
	if tok := bearerToken(r); tok != "" {
		if a.tokens == nil {
			return "", OpError{Op: op, Kind: ErrInvalidToken, Msg: "tokens disabled"}
		}
		claims, err := a.tokens.Verify(tok, a.now())
		if err != nil {
			return "", OpError{Op: op, Kind: ErrInvalidToken}
		}
		userID = claims.UserID
	} else {
		if a.requireToken {
			return "", OpError{Op: op, Kind: ErrUnauthenticated}
		}
		raw := r.URL.Query().Get("userId")
		if raw == "" {
			raw = r.Header.Get("X-User-ID")
		}
		if strings.TrimSpace(raw) == "" {
			return "", OpError{Op: op, Kind: ErrUnauthenticated}
		}
		userID = raw
	}

	id, err := ParseUserID(userID)
	if err != nil {
		return "", err
	}
	if _, err := a.dir.ByID(r.Context(), id); err != nil {
		return "", err
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type ctxKey struct{}

// WithUserID returns ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFrom returns the authenticated user id stored by Middleware.
func UserIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Middleware rejects unauthenticated requests and stores the user id in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Resolve(r)
		if err != nil {
			status := HTTPStatus(err)
			msg := "authentication failed"
			if errors.Is(err, ErrUserNotFound) {
				msg = "user not found"
			}
			httpapi.WriteError(w, status, ErrorCode(err), msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
