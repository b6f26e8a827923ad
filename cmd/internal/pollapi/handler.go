// Package pollapi is the HTTP polling fallback for clients that cannot hold a
// WebSocket open. It shares the hub and typing board with the push transport.
package pollapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/httpapi"
	"parley/cmd/internal/realtime"
	v1 "parley/contracts/realtime/v1"

	"github.com/go-chi/chi/v5"
)

const (
	SourceRegistry = "registry"
	SourceMirror   = "mirror"

	defaultMirrorFreshness = 30 * time.Second
)

// Presence is the slice of the hub the polling surface needs.
type Presence interface {
	Touch(userID string)
	Forget(userID string)
	Snapshot() []string
	DeliverIfOnline(targetUserID, event string, payload any) bool
}

// OnlineSource reads the storage mirror's online set.
type OnlineSource interface {
	Online(ctx context.Context, freshAfter time.Time) ([]string, error)
}

// Handler serves /realtime. Routes expect account.Middleware to have run.
type Handler struct {
	log      *slog.Logger
	presence Presence
	mirror   OnlineSource
	typing   *realtime.TypingBoard
	now      func() time.Time

	// MirrorFreshness bounds how old a mirror row may be and still count as online.
	MirrorFreshness time.Duration
}

// NewHandler builds the polling surface. mirror may be nil.
func NewHandler(log *slog.Logger, presence Presence, mirror OnlineSource, typing *realtime.TypingBoard) *Handler {
	if typing == nil {
		typing = realtime.NewTypingBoard(nil)
	}
	return &Handler{
		log:             log,
		presence:        presence,
		mirror:          mirror,
		typing:          typing,
		now:             func() time.Time { return time.Now().UTC() },
		MirrorFreshness: defaultMirrorFreshness,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/heartbeat", h.heartbeat)
	r.Get("/online-users", h.onlineUsers)
	r.Post("/offline", h.offline)
	r.Post("/typing", h.setTyping)
	r.Get("/typing/{userId}", h.typingToward)
	return r
}

type onlineResponse struct {
	OnlineUsers []string `json:"onlineUsers"`
	Source      string   `json:"source"`
}

type typingRequest struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type typingResponse struct {
	Delivered bool `json:"delivered"`
}

type typingTowardResponse struct {
	UserID    string   `json:"userId"`
	TypingIDs []string `json:"typingUsers"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.presence.Touch(userID)
	h.writeOnline(w, r)
}

func (h *Handler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	h.writeOnline(w, r)
}

// writeOnline answers with the registry's set, or the mirror's when the registry is empty.
func (h *Handler) writeOnline(w http.ResponseWriter, r *http.Request) {
	set := h.presence.Snapshot()
	if len(set) > 0 || h.mirror == nil {
		httpapi.WriteJSON(w, http.StatusOK, onlineResponse{OnlineUsers: set, Source: SourceRegistry})
		return
	}

	fromMirror, err := h.mirror.Online(r.Context(), h.now().Add(-h.MirrorFreshness))
	if err != nil {
		h.log.Warn("poll.online.mirror_fail", "err", err)
		httpapi.WriteJSON(w, http.StatusOK, onlineResponse{OnlineUsers: set, Source: SourceRegistry})
		return
	}
	if fromMirror == nil {
		fromMirror = []string{}
	}
	httpapi.WriteJSON(w, http.StatusOK, onlineResponse{OnlineUsers: fromMirror, Source: SourceMirror})
}

func (h *Handler) offline(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.presence.Forget(userID)
	h.log.Info("poll.offline", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setTyping(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req typingRequest
	if err := httpapi.DecodeJSON(w, r, httpapi.DefaultMaxBody, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	to, err := account.ParseUserID(req.ReceiverID)
	if err != nil || to == userID {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid receiverId")
		return
	}

	h.presence.Touch(userID)
	event := v1.TypeStopTyping
	if req.IsTyping {
		h.typing.Set(userID, to)
		event = v1.TypeTyping
	} else {
		h.typing.Clear(userID, to)
	}
	delivered := h.presence.DeliverIfOnline(to, event, v1.TypingNoticePayload{SenderID: userID})
	httpapi.WriteJSON(w, http.StatusOK, typingResponse{Delivered: delivered})
}

func (h *Handler) typingToward(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	target, err := account.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid userId")
		return
	}
	if target != userID {
		httpapi.WriteError(w, http.StatusForbidden, "forbidden", "can only read your own typing indicators")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, typingTowardResponse{
		UserID:    userID,
		TypingIDs: h.typing.TypingToward(userID),
	})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := account.UserIDFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	}
	return id, ok
}
