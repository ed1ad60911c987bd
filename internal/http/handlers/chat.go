package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atlasgrove/marketing-ai-platform/internal/conversation"
	"github.com/atlasgrove/marketing-ai-platform/internal/session"
	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

// SessionController is the slice of the session manager the handler needs.
type SessionController interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	End(ctx context.Context, id string) error
}

// HistoryProvider exposes session transcripts.
type HistoryProvider interface {
	GetHistory(ctx context.Context, sessionID string) ([]session.Message, error)
}

// ChatHandler exposes the conversational surface over HTTP.
type ChatHandler struct {
	processor conversation.Processor
	history   HistoryProvider
	sessions  SessionController
	logger    *logging.Logger
}

// NewChatHandler creates the chat HTTP handler.
func NewChatHandler(processor conversation.Processor, history HistoryProvider, sessions SessionController, logger *logging.Logger) *ChatHandler {
	if processor == nil {
		panic("handlers: processor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{
		processor: processor,
		history:   history,
		sessions:  sessions,
		logger:    logger,
	}
}

// PostMessage handles one conversation turn.
// POST /api/chat/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req conversation.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Text) == "" {
		jsonError(w, "user_id and text are required", http.StatusBadRequest)
		return
	}

	resp, err := h.processor.ProcessMessage(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to process message", "user_id", req.UserID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetMessages returns the retained transcript for a session.
// GET /api/chat/sessions/{sessionID}/messages
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		jsonError(w, "missing sessionID", http.StatusBadRequest)
		return
	}

	messages, err := h.history.GetHistory(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			jsonError(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load transcript", "session_id", sessionID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

// GetSession returns the session envelope without the transcript.
// GET /api/chat/sessions/{sessionID}
func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		jsonError(w, "missing sessionID", http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			jsonError(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":               sess.ID,
		"user_id":          sess.UserID,
		"status":           sess.Status,
		"started_at":       sess.StartedAt,
		"last_activity_at": sess.LastActivityAt,
		"message_count":    sess.MessageCount,
	})
}

// ChangeStatus applies a lifecycle action to a session.
// POST /api/chat/sessions/{sessionID}/{action} where action is pause, resume or end.
func (h *ChatHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	action := strings.TrimSpace(chi.URLParam(r, "action"))
	if sessionID == "" {
		jsonError(w, "missing sessionID", http.StatusBadRequest)
		return
	}

	var err error
	switch action {
	case "pause":
		err = h.sessions.Pause(r.Context(), sessionID)
	case "resume":
		err = h.sessions.Resume(r.Context(), sessionID)
	case "end":
		err = h.sessions.End(r.Context(), sessionID)
	default:
		jsonError(w, "unknown action", http.StatusBadRequest)
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			jsonError(w, "session not found", http.StatusNotFound)
		case errors.Is(err, session.ErrInvalidTransition):
			jsonError(w, "invalid status transition", http.StatusConflict)
		default:
			h.logger.Error("failed to change session status", "session_id", sessionID, "action", action, "error", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "action": action})
}
