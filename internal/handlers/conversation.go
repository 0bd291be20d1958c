package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/engine"
	"github.com/eldtechnologies/parley/internal/models"
)

// ConversationView is the wire shape of the viewer's active conversation
// state, returned by open and refresh endpoints.
type ConversationView struct {
	Conversation *models.Conversation `json:"conversation,omitempty"`
	Messages     []models.Message     `json:"messages"`
	HasMore      bool                 `json:"has_more"`
	Unread       int64                `json:"unread"`
	Draft        string               `json:"draft,omitempty"`
}

// OpenConversation switches the viewer's session to the conversation with
// the peer in the URL, loading the newest page and any saved draft. A pair
// with no prior history yields a pending conversation with no id; the
// record is created on first send.
func (h *Handler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := middleware.GetViewerFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	peerID, err := uuid.Parse(chi.URLParam(r, "peerID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid peer id")
		return
	}
	if peerID == viewerID {
		h.Error(w, http.StatusBadRequest, "cannot open a conversation with yourself")
		return
	}

	s, err := h.manager.OpenConversation(r.Context(), viewerID, peerID)
	if err != nil {
		h.logger.Error().Err(err).Str("peer_id", peerID.String()).Msg("failed to open conversation")
		h.Error(w, http.StatusInternalServerError, "failed to open conversation")
		return
	}

	if err := s.LoadInitial(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("initial message load failed")
		h.Error(w, http.StatusBadGateway, "failed to load messages")
		return
	}
	if err := s.RefreshUnread(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("unread count refresh failed")
	}

	h.JSON(w, http.StatusOK, h.viewOf(s))
}

// Messages returns the viewer's current message window. With ?before=1 it
// first loads one older page, keeping already loaded rows in place.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("before") != "" {
		if _, err := s.LoadOlder(r.Context()); err != nil {
			h.logger.Error().Err(err).Msg("older page load failed")
			h.Error(w, http.StatusBadGateway, "failed to load older messages")
			return
		}
	} else if err := s.LoadInitial(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("initial message load failed")
		h.Error(w, http.StatusBadGateway, "failed to load messages")
		return
	}

	h.JSON(w, http.StatusOK, h.viewOf(s))
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage submits a message in the viewer's active conversation. The
// response carries the durable row on success; on delivery failure the
// optimistic row stays in the session in the failed state and the error
// names the cause.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := s.Send(r.Context(), req.Content)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// RetryMessage resubmits a failed message identified by its local id.
func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	localID := chi.URLParam(r, "localID")
	msg, err := s.Retry(r.Context(), localID)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, msg)
}

// sendError maps engine send errors onto HTTP statuses.
func (h *Handler) sendError(w http.ResponseWriter, err error) {
	var limited *engine.RateLimitedError
	switch {
	case errors.Is(err, engine.ErrEmptyContent),
		errors.Is(err, engine.ErrContentTooLong):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNoConversation),
		errors.Is(err, engine.ErrSendInProgress),
		errors.Is(err, engine.ErrNotRetryable):
		h.Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())))
		}
		h.Error(w, http.StatusTooManyRequests, err.Error())
	default:
		h.Error(w, http.StatusBadGateway, "message could not be delivered")
	}
}

// MarkRead flushes any batched read receipts for the active conversation
// immediately instead of waiting for the debounce interval.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	s.FlushReads(r.Context())
	h.JSON(w, http.StatusOK, map[string]int64{"unread": s.Unread()})
}

// SaveDraftRequest is the request body for draft updates.
type SaveDraftRequest struct {
	Text string `json:"text"`
}

// SaveDraft updates the compose text for the active conversation. The
// engine persists it after a short debounce; an empty text clears the
// saved draft.
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SaveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.SetComposeText(req.Text)
	h.JSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// session resolves the viewer's session and requires an active
// conversation, writing the error response itself when either is missing.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	viewerID, ok := middleware.GetViewerFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}

	s := h.manager.Session(viewerID)
	if _, ok := s.Conversation(); !ok {
		h.Error(w, http.StatusConflict, "no active conversation; open one first")
		return nil, false
	}
	return s, true
}

// viewOf snapshots a session into its wire shape.
func (h *Handler) viewOf(s *engine.Session) ConversationView {
	view := ConversationView{
		Messages: s.Messages(),
		HasMore:  s.HasMore(),
		Unread:   s.Unread(),
		Draft:    s.ComposeText(),
	}
	if conv, ok := s.Conversation(); ok {
		view.Conversation = &conv
	}
	if view.Messages == nil {
		view.Messages = []models.Message{}
	}
	return view
}
