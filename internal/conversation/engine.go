package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasgrove/marketing-ai-platform/internal/intent"
	"github.com/atlasgrove/marketing-ai-platform/internal/knowledge"
	"github.com/atlasgrove/marketing-ai-platform/internal/observability/metrics"
	"github.com/atlasgrove/marketing-ai-platform/internal/session"
	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

var engineTracer = otel.Tracer("atlasgrove.internal.conversation.engine")

const (
	// maxSnippets caps how many retrieved documents feed one prompt.
	maxSnippets = 3
	// historyTurns caps how much transcript feeds one prompt.
	historyTurns = 10

	completeTimeout = 30 * time.Second

	assistantSender = "assistant"
)

// MessageRequest is one inbound user message addressed to a conversation.
// ExternalSessionID lets channel adapters reuse their own conversation ids;
// when empty, a session is keyed on the user alone.
type MessageRequest struct {
	UserID            string `json:"user_id"`
	ExternalSessionID string `json:"external_session_id,omitempty"`
	Text              string `json:"text"`
}

// Response is the assistant's turn for one processed message.
type Response struct {
	SessionID        string    `json:"session_id"`
	Reply            string    `json:"reply"`
	Intent           string    `json:"intent"`
	Confidence       float64   `json:"confidence"`
	Escalated        bool      `json:"escalated"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// outcome is what a single intent handler decides: the reply text, how
// confident the engine is in it, and any lifecycle side effect.
type outcome struct {
	reply            string
	confidence       float64
	escalate         bool
	escalationReason string
	end              bool
}

type handlerFunc func(ctx context.Context, sess *session.Session, text string) (outcome, error)

// Engine routes classified messages to intent handlers and composes replies.
// Messages for the same session are processed strictly one at a time;
// different sessions proceed in parallel.
type Engine struct {
	sessions   *session.Manager
	retriever  *knowledge.Retriever
	classifier *intent.Classifier
	gateway    Gateway
	logger     *logging.Logger
	metrics    *metrics.ConversationMetrics

	handlers map[intent.Intent]handlerFunc

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the conversation pipeline. Sessions, retriever, classifier
// and gateway are hard dependencies; metrics may be nil.
func NewEngine(sessions *session.Manager, retriever *knowledge.Retriever, classifier *intent.Classifier, gateway Gateway, logger *logging.Logger, m *metrics.ConversationMetrics) *Engine {
	if sessions == nil {
		panic("conversation: session manager is required")
	}
	if retriever == nil {
		panic("conversation: retriever is required")
	}
	if classifier == nil {
		panic("conversation: classifier is required")
	}
	if gateway == nil {
		panic("conversation: gateway is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		sessions:   sessions,
		retriever:  retriever,
		classifier: classifier,
		gateway:    gateway,
		logger:     logger,
		metrics:    m,
		locks:      make(map[string]*sync.Mutex),
	}
	e.handlers = map[intent.Intent]handlerFunc{
		intent.Greeting:          e.handleGreeting,
		intent.ProductInquiry:    e.handleInquiry,
		intent.TechnicalSupport:  e.handleTechnical,
		intent.AccountManagement: e.handleAccount,
		intent.BillingInquiry:    e.handleBilling,
		intent.Complaint:         e.handleComplaint,
		intent.Farewell:          e.handleFarewell,
		intent.EscalationRequest: e.handleEscalationRequest,
		intent.Unknown:           e.handleInquiry,
	}
	return e
}

// ProcessMessage runs the full turn: resolve the session, classify, record the
// user message, dispatch to the intent handler, record the reply, and apply
// any lifecycle change. Handler failures never surface to the caller; they
// degrade to an apology reply with zero confidence.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	ctx, span := engineTracer.Start(ctx, "engine.process_message")
	defer span.End()

	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("conversation: user id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("conversation: message text is required")
	}

	lock := e.conversationLock(req.UserID, req.ExternalSessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.sessions.GetOrCreate(ctx, req.UserID, req.ExternalSessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: resolve session: %w", err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))

	cls := e.classifier.Classify(ctx, req.Text)
	span.SetAttributes(
		attribute.String("intent", string(cls.Intent)),
		attribute.Float64("intent.confidence", cls.Confidence),
	)

	sess, err = e.sessions.Append(ctx, sess.ID, session.Message{
		ID:         uuid.NewString(),
		Sender:     req.UserID,
		Body:       req.Text,
		Type:       session.TypeChat,
		Intent:     string(cls.Intent),
		Confidence: cls.Confidence,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: record message: %w", err)
	}

	out := e.dispatch(ctx, sess, req.Text, cls)

	// The reply inherits the turn's classification so a transcript reader can
	// pair both sides of the exchange without re-deriving the intent.
	if _, err := e.sessions.Append(ctx, sess.ID, session.Message{
		ID:            uuid.NewString(),
		Sender:        assistantSender,
		Body:          out.reply,
		Type:          session.TypeChat,
		Intent:        string(cls.Intent),
		Confidence:    cls.Confidence,
		FromAssistant: true,
	}); err != nil {
		e.logger.Error("failed to record assistant reply", "session_id", sess.ID, "error", err)
	}

	resultLabel := "answered"
	switch {
	case out.escalate:
		resultLabel = "escalated"
		if err := e.sessions.Escalate(ctx, sess.ID, out.escalationReason); err != nil {
			e.logger.Error("failed to escalate session", "session_id", sess.ID, "error", err)
		}
		e.metrics.ObserveEscalation(string(cls.Intent))
		e.releaseConversationLock(req.UserID, req.ExternalSessionID)
	case out.end:
		resultLabel = "ended"
		if err := e.sessions.End(ctx, sess.ID); err != nil {
			e.logger.Error("failed to end session", "session_id", sess.ID, "error", err)
		}
		e.releaseConversationLock(req.UserID, req.ExternalSessionID)
	case out.confidence == 0:
		resultLabel = "failed"
	}
	e.metrics.ObserveMessage(string(cls.Intent), resultLabel)

	return &Response{
		SessionID:        sess.ID,
		Reply:            out.reply,
		Intent:           string(cls.Intent),
		Confidence:       out.confidence,
		Escalated:        out.escalate,
		EscalationReason: out.escalationReason,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// GetHistory returns the retained transcript for a session, oldest first.
func (e *Engine) GetHistory(ctx context.Context, sessionID string) ([]session.Message, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// dispatch runs the handler for the classified intent. Panics and errors from
// handlers are contained here and turned into the apology outcome.
func (e *Engine) dispatch(ctx context.Context, sess *session.Session, text string, cls intent.Classification) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", "session_id", sess.ID, "intent", string(cls.Intent), "panic", r)
			out = outcome{reply: apologyReply, confidence: 0}
		}
	}()

	handler, ok := e.handlers[cls.Intent]
	if !ok {
		handler = e.handleInquiry
	}
	out, err := handler(ctx, sess, text)
	if err != nil {
		e.logger.Error("handler failed", "session_id", sess.ID, "intent", string(cls.Intent), "error", err)
		return outcome{reply: apologyReply, confidence: 0}
	}
	return out
}

func (e *Engine) handleGreeting(_ context.Context, _ *session.Session, _ string) (outcome, error) {
	return outcome{reply: greetingReply, confidence: 0.9}, nil
}

// handleInquiry answers from the knowledge base. It also serves UNKNOWN and
// any intent without a dedicated handler, since a retrieval-backed answer is
// the best generic attempt.
func (e *Engine) handleInquiry(ctx context.Context, sess *session.Session, text string) (outcome, error) {
	docs := e.retriever.HybridSearch(ctx, text, maxSnippets)
	e.metrics.ObserveRetrievedDocuments(len(docs))
	if len(docs) == 0 {
		return outcome{reply: noResultsReply, confidence: 0.3}, nil
	}
	return e.answerWithDocuments(ctx, sess, docs)
}

// handleTechnical prefers documents curated for troubleshooting, falling back
// to the general index. With nothing to go on it hands off to an engineer.
func (e *Engine) handleTechnical(ctx context.Context, sess *session.Session, text string) (outcome, error) {
	docs := e.retriever.SearchByType(ctx, "TECHNICAL", maxSnippets)
	if len(docs) == 0 {
		docs = e.retriever.HybridSearch(ctx, text, maxSnippets)
	}
	e.metrics.ObserveRetrievedDocuments(len(docs))
	if len(docs) == 0 {
		return outcome{
			reply:            technicalEscalationReply,
			confidence:       0.8,
			escalate:         true,
			escalationReason: "technical support needed",
		}, nil
	}
	return e.answerWithDocuments(ctx, sess, docs)
}

func (e *Engine) handleAccount(_ context.Context, _ *session.Session, _ string) (outcome, error) {
	return outcome{
		reply:            accountReply,
		confidence:       0.9,
		escalate:         true,
		escalationReason: "account management request",
	}, nil
}

func (e *Engine) handleBilling(_ context.Context, _ *session.Session, _ string) (outcome, error) {
	return outcome{
		reply:            billingReply,
		confidence:       0.9,
		escalate:         true,
		escalationReason: "billing inquiry",
	}, nil
}

func (e *Engine) handleComplaint(ctx context.Context, sess *session.Session, text string) (outcome, error) {
	if err := e.sessions.SetVariable(ctx, sess.ID, "complaint", text); err != nil {
		e.logger.Error("failed to record complaint", "session_id", sess.ID, "error", err)
	}
	return outcome{
		reply:            complaintReply,
		confidence:       0.8,
		escalate:         true,
		escalationReason: "customer complaint",
	}, nil
}

func (e *Engine) handleFarewell(_ context.Context, _ *session.Session, _ string) (outcome, error) {
	return outcome{reply: farewellReply, confidence: 0.9, end: true}, nil
}

func (e *Engine) handleEscalationRequest(_ context.Context, _ *session.Session, _ string) (outcome, error) {
	return outcome{
		reply:            escalationReply,
		confidence:       0.9,
		escalate:         true,
		escalationReason: "customer requested a human agent",
	}, nil
}

// answerWithDocuments composes a grounded reply from the transcript and the
// retrieved snippets. Confidence is the mean relevance of the documents used.
func (e *Engine) answerWithDocuments(ctx context.Context, sess *session.Session, docs []knowledge.RelevantDocument) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, completeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.gateway.Complete(ctx, buildPrompt(sess, docs))
	e.metrics.ObserveGatewayLatency("complete", time.Since(start).Seconds())
	if err != nil {
		return outcome{}, fmt.Errorf("complete reply: %w", err)
	}
	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		return outcome{}, fmt.Errorf("complete reply: empty model output")
	}

	var total float64
	for _, doc := range docs {
		total += doc.Score
	}
	return outcome{reply: reply, confidence: total / float64(len(docs))}, nil
}

// buildPrompt maps the tail of the transcript plus the reference snippets into
// a model request. The current user message is already in the transcript, so
// it arrives as the final user turn.
func buildPrompt(sess *session.Session, docs []knowledge.RelevantDocument) LLMRequest {
	var refs strings.Builder
	refs.WriteString("Reference documents:")
	for i, doc := range docs {
		fmt.Fprintf(&refs, "\n[%d] %s\n%s", i+1, doc.Document.Title, doc.Document.Content)
	}

	history := sess.Messages
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	messages := make([]ChatMessage, 0, len(history))
	for _, msg := range history {
		if msg.Type != session.TypeChat {
			continue
		}
		role := ChatRoleUser
		if msg.FromAssistant {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Body})
	}

	return LLMRequest{
		System:      []string{systemPrompt, refs.String()},
		Messages:    messages,
		MaxTokens:   512,
		Temperature: 0.3,
	}
}

// conversationLock serializes processing per conversation. Keyed on the same
// identifiers GetOrCreate uses so concurrent messages resolve to one session.
func (e *Engine) conversationLock(userID, externalID string) *sync.Mutex {
	key := userID + "|" + externalID
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// releaseConversationLock drops the lock entry once the conversation reaches
// a terminal status, so the map stays bounded by live conversations.
func (e *Engine) releaseConversationLock(userID, externalID string) {
	key := userID + "|" + externalID
	e.mu.Lock()
	delete(e.locks, key)
	e.mu.Unlock()
}
