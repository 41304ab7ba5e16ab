package notifications

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-ops/internal/api/respond"
	"github.com/clinicore/clinic-ops/internal/apperr"
	"github.com/clinicore/clinic-ops/internal/identity"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

// Handler exposes a clinician's notification inbox and the chat unread
// counters.
type Handler struct {
	store       *Store
	chat        *ChatNotifier
	logger      *logging.Logger
	development bool
}

func NewHandler(store *Store, chat *ChatNotifier, logger *logging.Logger, development bool) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, chat: chat, logger: logger, development: development}
}

// List handles GET /notifications (clinician only; route-level role guard).
// ?unread=true narrows to unseen records.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	if caller.DoctorID == uuid.Nil {
		respond.Error(w, h.logger, apperr.Authorization("caller has no clinician record"), h.development)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	list, err := h.store.ListByDoctor(r.Context(), caller.DoctorID, unreadOnly)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, list)
}

// MarkRead handles PUT /notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	if err := h.store.MarkRead(r.Context(), id); err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.Message(w, "notification marked read")
}

// Archive handles PUT /notifications/{id}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("id must be a UUID"), h.development)
		return
	}
	if err := h.store.Archive(r.Context(), id); err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.Message(w, "notification archived")
}

type unreadResponse struct {
	Unread int64 `json:"unread"`
}

// ChatUnread handles GET /chat/unread for the calling user.
func (h *Handler) ChatUnread(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		respond.OK(w, unreadResponse{})
		return
	}
	caller, _ := identity.FromContext(r.Context())
	count, err := h.chat.Unread(r.Context(), caller.UserID)
	if err != nil {
		respond.Error(w, h.logger, err, h.development)
		return
	}
	respond.OK(w, unreadResponse{Unread: count})
}

type chatMessageBody struct {
	RecipientUserID string `json:"recipient_user_id"`
}

// ChatMessage handles POST /chat/messages. The chat transport itself lives
// outside this service; it reports deliveries here so the recipient's unread
// counter and realtime notice stay current.
func (h *Handler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	var body chatMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Error(w, h.logger, apperr.Validation("invalid JSON body"), h.development)
		return
	}
	recipient, err := uuid.Parse(body.RecipientUserID)
	if err != nil {
		respond.Error(w, h.logger, apperr.Validation("recipient_user_id must be a UUID"), h.development)
		return
	}
	if h.chat != nil {
		h.chat.MessageReceived(r.Context(), recipient)
	}
	respond.Message(w, "notice queued")
}

// ChatRead handles PUT /chat/read; the caller's unread counter resets.
func (h *Handler) ChatRead(w http.ResponseWriter, r *http.Request) {
	if h.chat != nil {
		caller, _ := identity.FromContext(r.Context())
		h.chat.ConversationRead(r.Context(), caller.UserID)
	}
	respond.Message(w, "conversation marked read")
}
