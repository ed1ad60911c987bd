package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/atlasgrove/marketing-ai-platform/internal/conversation"
	"github.com/atlasgrove/marketing-ai-platform/internal/session"
)

type stubProcessor struct {
	resp *conversation.Response
	err  error
	last conversation.MessageRequest
}

func (p *stubProcessor) ProcessMessage(_ context.Context, req conversation.MessageRequest) (*conversation.Response, error) {
	p.last = req
	return p.resp, p.err
}

type stubHistory struct {
	messages []session.Message
	err      error
}

func (h *stubHistory) GetHistory(_ context.Context, _ string) ([]session.Message, error) {
	return h.messages, h.err
}

type stubSessions struct {
	sess      *session.Session
	getErr    error
	changeErr error
	actions   []string
}

func (s *stubSessions) Get(_ context.Context, _ string) (*session.Session, error) {
	return s.sess, s.getErr
}

func (s *stubSessions) Pause(_ context.Context, _ string) error {
	s.actions = append(s.actions, "pause")
	return s.changeErr
}

func (s *stubSessions) Resume(_ context.Context, _ string) error {
	s.actions = append(s.actions, "resume")
	return s.changeErr
}

func (s *stubSessions) End(_ context.Context, _ string) error {
	s.actions = append(s.actions, "end")
	return s.changeErr
}

func newChatRouter(h *ChatHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/chat/messages", h.PostMessage)
	r.Get("/api/chat/sessions/{sessionID}", h.GetSession)
	r.Get("/api/chat/sessions/{sessionID}/messages", h.GetMessages)
	r.Post("/api/chat/sessions/{sessionID}/{action}", h.ChangeStatus)
	return r
}

func TestPostMessage(t *testing.T) {
	proc := &stubProcessor{resp: &conversation.Response{SessionID: "s1", Reply: "hi", Intent: "GREETING", Confidence: 0.9}}
	h := NewChatHandler(proc, &stubHistory{}, &stubSessions{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/messages", strings.NewReader(`{"user_id":"u1","text":"hello"}`))
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"session_id":"s1"`)
	require.Equal(t, "u1", proc.last.UserID)
	require.Equal(t, "hello", proc.last.Text)
}

func TestPostMessageValidation(t *testing.T) {
	h := NewChatHandler(&stubProcessor{}, &stubHistory{}, &stubSessions{}, nil)
	router := newChatRouter(h)

	cases := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "missing user", body: `{"text":"hello"}`},
		{name: "missing text", body: `{"user_id":"u1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/chat/messages", strings.NewReader(tc.body))
			router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostMessageProcessorFailure(t *testing.T) {
	proc := &stubProcessor{err: errors.New("queue unavailable")}
	h := NewChatHandler(proc, &stubHistory{}, &stubSessions{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/messages", strings.NewReader(`{"user_id":"u1","text":"hello"}`))
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetMessagesNotFound(t *testing.T) {
	h := NewChatHandler(&stubProcessor{}, &stubHistory{err: session.ErrNotFound}, &stubSessions{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/sessions/missing/messages", nil)
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessages(t *testing.T) {
	h := NewChatHandler(&stubProcessor{}, &stubHistory{messages: []session.Message{{Body: "hello"}}}, &stubSessions{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/sessions/s1/messages", nil)
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"hello"`)
}

func TestGetSession(t *testing.T) {
	h := NewChatHandler(&stubProcessor{}, &stubHistory{}, &stubSessions{sess: &session.Session{ID: "s1", Status: session.StatusActive}}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/chat/sessions/s1", nil)
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ACTIVE"`)
}

func TestChangeStatus(t *testing.T) {
	sessions := &stubSessions{}
	h := NewChatHandler(&stubProcessor{}, &stubHistory{}, sessions, nil)
	router := newChatRouter(h)

	for _, action := range []string{"pause", "resume", "end"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions/s1/"+action, nil)
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, []string{"pause", "resume", "end"}, sessions.actions)
}

func TestChangeStatusInvalidTransition(t *testing.T) {
	sessions := &stubSessions{changeErr: session.ErrInvalidTransition}
	h := NewChatHandler(&stubProcessor{}, &stubHistory{}, sessions, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions/s1/resume", nil)
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangeStatusUnknownAction(t *testing.T) {
	h := NewChatHandler(&stubProcessor{}, &stubHistory{}, &stubSessions{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/sessions/s1/explode", nil)
	newChatRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
