package account

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"parley/cmd/internal/httpapi"

	"github.com/go-chi/chi/v5"
)

// Handler serves /auth/register and /auth/login.
type Handler struct {
	log    *slog.Logger
	dir    Directory
	hasher Hasher
	tokens *TokenManager
	now    func() time.Time
}

func NewHandler(log *slog.Logger, dir Directory, hasher Hasher, tokens *TokenManager) *Handler {
	return &Handler{
		log:    log,
		dir:    dir,
		hasher: hasher,
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Routes mounts the handler's endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	return r
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

type authResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpapi.DecodeJSON(w, r, httpapi.DefaultMaxBody, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.fail(w, "auth.register.fail", err)
		return
	}

	u, err := h.dir.Create(r.Context(), CreateUserInput{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Now:          h.now(),
	})
	if err != nil {
		h.fail(w, "auth.register.fail", err)
		return
	}

	h.log.Info("auth.register.ok", "user_id", u.ID)
	h.issue(w, http.StatusCreated, u)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpapi.DecodeJSON(w, r, httpapi.DefaultMaxBody, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	u, err := h.dir.ByUsername(r.Context(), req.Username)
	if errors.Is(err, ErrUserNotFound) {
		// Same answer as a wrong password, so usernames cannot be enumerated.
		h.fail(w, "auth.login.fail", ErrInvalidCredentials)
		return
	}
	if err != nil {
		h.fail(w, "auth.login.fail", err)
		return
	}

	ok, err := h.hasher.Verify(u.PasswordHash, req.Password)
	if err != nil || !ok {
		h.fail(w, "auth.login.fail", ErrInvalidCredentials)
		return
	}

	h.log.Info("auth.login.ok", "user_id", u.ID)
	h.issue(w, http.StatusOK, u)
}

func (h *Handler) issue(w http.ResponseWriter, status int, u User) {
	tok, exp, err := h.tokens.Issue(u.ID, h.now())
	if err != nil {
		h.fail(w, "auth.token.fail", err)
		return
	}
	httpapi.WriteJSON(w, status, authResponse{
		User: userResponse{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			CreatedAt:   u.CreatedAt,
		},
		AccessToken: tok,
		ExpiresAt:   exp,
	})
}

func (h *Handler) fail(w http.ResponseWriter, event string, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(event, "err", err)
		httpapi.WriteError(w, status, "internal", "internal error")
		return
	}
	h.log.Info(event, "err", err)
	httpapi.WriteError(w, status, ErrorCode(err), err.Error())
}
