package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

const (
	// DefaultMaxHistory caps stored messages per session; the oldest are
	// evicted first.
	DefaultMaxHistory = 50
	// DefaultTimeout is the idle duration after which a session expires.
	DefaultTimeout = 30 * time.Minute
	// DefaultSweepInterval is how often the expiry sweep runs.
	DefaultSweepInterval = 5 * time.Minute
)

// Manager owns session lifecycle, history capping, context variables, and the
// expiry sweep. Mutations on the same session id are serialized by a
// session-keyed mutex.
type Manager struct {
	store      Store
	timeout    time.Duration
	maxHistory int
	logger     *logging.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithTimeout overrides the idle timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMaxHistory overrides the per-session message cap.
func WithMaxHistory(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// WithClock overrides the time source. Tests use this.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a session manager over the given store.
func NewManager(store Store, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("session: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		store:      store,
		timeout:    DefaultTimeout,
		maxHistory: DefaultMaxHistory,
		logger:     logger,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new ACTIVE session for the user and external session id.
func (m *Manager) Create(ctx context.Context, userID, externalID string) (*Session, error) {
	now := m.now().UTC()
	sess := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		ExternalID:     externalID,
		StartedAt:      now,
		LastActivityAt: now,
		Variables:      make(map[string]string),
		Status:         StatusActive,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetOrCreate reuses the session bound to the external id only when it is
// ACTIVE and not expired; otherwise a fresh session is created. An empty
// external id falls back to a per-user binding so channel-less callers still
// get continuity.
func (m *Manager) GetOrCreate(ctx context.Context, userID, externalID string) (*Session, error) {
	if externalID == "" {
		externalID = "user:" + userID
	}
	id, err := m.store.LookupExternal(ctx, externalID)
	if err == nil {
		sess, loadErr := m.store.Load(ctx, id)
		if loadErr == nil && sess.Status == StatusActive && !sess.Expired(m.now().UTC(), m.timeout) {
			return sess, nil
		}
		if loadErr != nil && loadErr != ErrNotFound {
			return nil, loadErr
		}
	} else if err != ErrNotFound {
		return nil, err
	}
	return m.Create(ctx, userID, externalID)
}

// Get retrieves a session by internal id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Load(ctx, id)
}

// Append adds a message to the session, trimming history over the cap and
// touching activity. The message id and timestamp default when empty.
func (m *Manager) Append(ctx context.Context, sessionID string, msg Message) (*Session, error) {
	return m.update(ctx, sessionID, func(sess *Session) error {
		m.appendLocked(sess, msg)
		return nil
	})
}

// SetVariable stores a context variable on the session.
func (m *Manager) SetVariable(ctx context.Context, sessionID, key, value string) error {
	_, err := m.update(ctx, sessionID, func(sess *Session) error {
		if sess.Variables == nil {
			sess.Variables = make(map[string]string)
		}
		sess.Variables[key] = value
		return nil
	})
	return err
}

// GetVariable reads a context variable. Read-only: activity is not touched.
func (m *Manager) GetVariable(ctx context.Context, sessionID, key string) (string, bool, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	value, ok := sess.Variables[key]
	return value, ok, nil
}

// RecentMessages returns the messages within the time window, oldest first.
// Read-only: activity is not touched.
func (m *Manager) RecentMessages(ctx context.Context, sessionID string, window time.Duration) ([]Message, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().UTC().Add(-window)
	var recent []Message
	for _, msg := range sess.Messages {
		if !msg.Timestamp.Before(cutoff) {
			recent = append(recent, msg)
		}
	}
	return recent, nil
}

// Pause suspends an ACTIVE session.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	_, err := m.update(ctx, sessionID, func(sess *Session) error {
		return sess.transition(StatusPaused)
	})
	return err
}

// Resume reactivates a PAUSED session.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	_, err := m.update(ctx, sessionID, func(sess *Session) error {
		return sess.transition(StatusActive)
	})
	return err
}

// End closes the session permanently.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	_, err := m.update(ctx, sessionID, func(sess *Session) error {
		return sess.transition(StatusEnded)
	})
	return err
}

// Escalate hands the session to a human operator and records the reason as an
// ESCALATION message.
func (m *Manager) Escalate(ctx context.Context, sessionID, reason string) error {
	_, err := m.update(ctx, sessionID, func(sess *Session) error {
		if err := sess.transition(StatusEscalated); err != nil {
			return err
		}
		m.appendLocked(sess, Message{
			Sender: "system",
			Body:   "conversation escalated to a human operator: " + reason,
			Type:   TypeEscalation,
		})
		return nil
	})
	return err
}

// SweepExpired transitions every expired ACTIVE session to ENDED and returns
// how many it closed. PAUSED and ESCALATED sessions are not touched.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	ids, err := m.store.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now().UTC()
	closed := 0
	for _, id := range ids {
		lock := m.sessionLock(id)
		lock.Lock()
		sess, err := m.store.Load(ctx, id)
		if err != nil {
			lock.Unlock()
			if err != ErrNotFound {
				m.logger.Error("sweep failed to load session", "session_id", id, "error", err)
			}
			continue
		}
		if sess.Status == StatusActive && sess.Expired(now, m.timeout) {
			sess.Status = StatusEnded
			if err := m.store.Save(ctx, sess); err != nil {
				m.logger.Error("sweep failed to end session", "session_id", id, "error", err)
			} else {
				closed++
				m.releaseLock(id)
			}
		}
		lock.Unlock()
	}
	return closed, nil
}

// Run executes the expiry sweep on the interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Debug("session sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("session sweeper stopping")
			return
		case <-ticker.C:
			closed, err := m.SweepExpired(ctx)
			if err != nil {
				m.logger.Error("session sweep failed", "error", err)
				continue
			}
			if closed > 0 {
				m.logger.Info("expired sessions closed", "count", closed)
			}
		}
	}
}

// update applies a mutation under the session lock, touches activity, and
// persists the result.
func (m *Manager) update(ctx context.Context, sessionID string, mutate func(*Session) error) (*Session, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	sess.touch(m.now().UTC())
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Status == StatusEnded || sess.Status == StatusEscalated {
		m.releaseLock(sessionID)
	}
	return sess, nil
}

func (m *Manager) appendLocked(sess *Session, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now().UTC()
	}
	msg.SessionID = sess.ID

	sess.Messages = append(sess.Messages, msg)
	sess.MessageCount++
	if over := len(sess.Messages) - m.maxHistory; over > 0 {
		sess.Messages = sess.Messages[over:]
	}
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// releaseLock drops the per-session mutex once the session reaches a
// terminal status, keeping the lock map bounded by live sessions.
func (m *Manager) releaseLock(id string) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}
