package session

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a conversation session.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusEnded     Status = "ENDED"
	StatusEscalated Status = "ESCALATED"
)

// MessageType tags what kind of message was appended.
type MessageType string

const (
	TypeChat       MessageType = "CHAT"
	TypeJoin       MessageType = "JOIN"
	TypeLeave      MessageType = "LEAVE"
	TypeSystem     MessageType = "SYSTEM"
	TypeError      MessageType = "ERROR"
	TypeEscalation MessageType = "ESCALATION"
)

var (
	// ErrNotFound indicates a lookup for a session id that does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrInvalidTransition indicates a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("session: invalid status transition")
)

// Message is one immutable entry in a session transcript. CHAT messages carry
// the intent classified for the turn; the assistant reply repeats the
// classification of the human message it answers.
type Message struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"session_id"`
	Sender        string      `json:"sender"`
	Body          string      `json:"body"`
	Type          MessageType `json:"type"`
	FromAssistant bool        `json:"from_assistant"`
	Timestamp     time.Time   `json:"timestamp"`
	Intent        string      `json:"intent,omitempty"`
	Confidence    float64     `json:"confidence,omitempty"`
}

// Session is one continuous conversational interaction. The message list is
// append-only and capped; MessageCount keeps counting past evictions.
type Session struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ExternalID     string            `json:"external_id"`
	StartedAt      time.Time         `json:"started_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	Messages       []Message         `json:"messages"`
	Variables      map[string]string `json:"variables"`
	Status         Status            `json:"status"`
	Topic          string            `json:"topic,omitempty"`
	MessageCount   int               `json:"message_count"`
}

// Expired reports whether the session has been idle longer than the timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > timeout
}

// touch advances LastActivityAt; it never moves backwards.
func (s *Session) touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// transition validates and applies a status change. ENDED and ESCALATED are
// terminal; PAUSED and ACTIVE move freely between each other.
func (s *Session) transition(next Status) error {
	if s.Status == next {
		return nil
	}
	allowed := map[Status][]Status{
		StatusActive: {StatusPaused, StatusEnded, StatusEscalated},
		StatusPaused: {StatusActive, StatusEnded, StatusEscalated},
	}
	for _, to := range allowed[s.Status] {
		if to == next {
			s.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
}
