package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/httpapi"
	v1 "parley/contracts/realtime/v1"

	"github.com/go-chi/chi/v5"
)

// Presence is the slice of the realtime hub the chat surface needs.
type Presence interface {
	Touch(userID string)
	DeliverIfOnline(targetUserID, event string, payload any) bool
}

// UserLookup confirms that a receiver exists.
type UserLookup interface {
	ByID(ctx context.Context, id string) (account.User, error)
}

// Handler serves /messages. Routes expect account.Middleware to have run.
type Handler struct {
	log      *slog.Logger
	store    Store
	presence Presence
	users    UserLookup
	now      func() time.Time
}

func NewHandler(log *slog.Logger, store Store, presence Presence, users UserLookup) *Handler {
	return &Handler{
		log:      log,
		store:    store,
		presence: presence,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{receiverId}", h.send)
	r.Get("/{peerId}", h.conversation)
	r.Delete("/{messageId}", h.delete)
	return r
}

type sendRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

type sendResponse struct {
	Message   messageResponse `json:"message"`
	Delivered bool            `json:"delivered"`
}

type pageResponse struct {
	Messages []messageResponse `json:"messages"`
	HasMore  bool              `json:"hasMore"`
}

type deleteResponse struct {
	MessageID string `json:"messageId"`
	Delivered bool   `json:"delivered"`
}

func toResponse(m Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
	}
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	sender, ok := account.UserIDFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var req sendRequest
	if err := httpapi.DecodeJSON(w, r, httpapi.DefaultMaxBody, &req); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	// The directory returns the canonical id; everything downstream keys on it.
	user, err := h.users.ByID(r.Context(), chi.URLParam(r, "receiverId"))
	if err != nil {
		h.fail(w, "chat.send.fail", err)
		return
	}
	receiver := user.ID

	msg, err := h.store.Append(r.Context(), AppendInput{
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       req.Text,
		Now:        h.now(),
	})
	if err != nil {
		h.fail(w, "chat.send.fail", err)
		return
	}

	h.presence.Touch(sender)
	delivered := h.presence.DeliverIfOnline(receiver, v1.TypeNewMessage, v1.MessagePayload{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		CreatedAt:  msg.CreatedAt,
	})

	h.log.Info("chat.send.ok", "message_id", msg.ID, "sender_id", sender, "receiver_id", receiver, "delivered", delivered)
	httpapi.WriteJSON(w, http.StatusCreated, sendResponse{Message: toResponse(msg), Delivered: delivered})
}

func (h *Handler) conversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := account.UserIDFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	peer, err := account.ParseUserID(chi.URLParam(r, "peerId"))
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid peerId")
		return
	}
	q := ConversationQuery{UserID: userID, PeerID: peer}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid limit")
			return
		}
		q.Limit = n
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			httpapi.WriteError(w, http.StatusBadRequest, "invalid_input", "invalid before cursor")
			return
		}
		q.Before = &n
	}

	page, err := h.store.Conversation(r.Context(), q)
	if err != nil {
		h.fail(w, "chat.conversation.fail", err)
		return
	}

	out := pageResponse{Messages: make([]messageResponse, 0, len(page.Messages)), HasMore: page.HasMore}
	for _, m := range page.Messages {
		out.Messages = append(out.Messages, toResponse(m))
	}
	httpapi.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := account.UserIDFrom(r.Context())
	if !ok {
		httpapi.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	msg, err := h.store.Delete(r.Context(), chi.URLParam(r, "messageId"), userID)
	if err != nil {
		h.fail(w, "chat.delete.fail", err)
		return
	}

	delivered := h.presence.DeliverIfOnline(msg.ReceiverID, v1.TypeMessageDeleted, v1.MessageDeletedPayload{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
	})

	h.log.Info("chat.delete.ok", "message_id", msg.ID, "sender_id", userID, "delivered", delivered)
	httpapi.WriteJSON(w, http.StatusOK, deleteResponse{MessageID: msg.ID, Delivered: delivered})
}

func (h *Handler) fail(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		h.log.Info(event, "err", err)
		httpapi.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, ErrNotFound):
		httpapi.WriteError(w, http.StatusNotFound, "not_found", "message not found")
	case errors.Is(err, ErrForbidden):
		h.log.Info(event, "err", err)
		httpapi.WriteError(w, http.StatusForbidden, "forbidden", "only the sender may delete a message")
	case errors.Is(err, account.ErrUserNotFound):
		httpapi.WriteError(w, http.StatusNotFound, "user_not_found", "user not found")
	default:
		h.log.Error(event, "err", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
