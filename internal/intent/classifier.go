package intent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

var classifierTracer = otel.Tracer("atlasgrove.internal.intent.classifier")

// modelPassThreshold: below this keyword confidence the model pass runs.
const modelPassThreshold = 0.7

const classifyTimeout = 15 * time.Second

type modelClient interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// keywordPattern holds the weighted keyword set for one intent. The weight is
// the confidence ceiling for the pattern; the score is the matched fraction of
// keywords scaled by it.
type keywordPattern struct {
	keywords []string
	weight   float64
}

// Patterns carry both English and Korean terms since the support surface
// serves both audiences.
func defaultPatterns() map[Intent]keywordPattern {
	return map[Intent]keywordPattern{
		Greeting: {
			keywords: []string{"hello", "hi there", "hey", "good morning", "good afternoon", "안녕", "안녕하세요", "반갑습니다"},
			weight:   0.9,
		},
		ProductInquiry: {
			keywords: []string{"price", "pricing", "product", "plan", "feature", "campaign", "가격", "제품", "요금", "기능"},
			weight:   0.85,
		},
		TechnicalSupport: {
			keywords: []string{"error", "bug", "crash", "not working", "broken", "install", "오류", "에러", "고장", "설치"},
			weight:   0.85,
		},
		AccountManagement: {
			keywords: []string{"account", "password", "login", "sign in", "profile", "계정", "비밀번호", "로그인"},
			weight:   0.9,
		},
		BillingInquiry: {
			keywords: []string{"refund", "invoice", "billing", "charge", "payment", "환불", "결제", "청구", "영수증"},
			weight:   0.9,
		},
		Complaint: {
			keywords: []string{"complaint", "terrible", "awful", "disappointed", "worst", "unacceptable", "불만", "항의", "최악", "실망"},
			weight:   0.85,
		},
		Farewell: {
			keywords: []string{"bye", "goodbye", "see you", "that's all", "잘가", "안녕히", "수고하세요", "감사합니다 끝"},
			weight:   0.9,
		},
		EscalationRequest: {
			keywords: []string{"human", "agent", "real person", "representative", "manager", "상담원", "사람과", "담당자"},
			weight:   0.95,
		},
	}
}

const classifyPromptTemplate = `Classify the following customer support message into exactly one intent:
GREETING, PRODUCT_INQUIRY, TECHNICAL_SUPPORT, ACCOUNT_MANAGEMENT, BILLING_INQUIRY, COMPLAINT, FAREWELL, ESCALATION_REQUEST, UNKNOWN

Respond with only INTENT:confidence, for example PRODUCT_INQUIRY:0.85

Message: %s`

// Classifier combines a deterministic keyword pass with a model pass.
// The keyword pass is cheap and runs first; the model pass only runs when the
// keyword confidence is below the threshold, and the higher-confidence result
// wins (ties prefer the keyword pass).
type Classifier struct {
	patterns map[Intent]keywordPattern
	client   modelClient
	logger   *logging.Logger
}

// NewClassifier creates a classifier. A nil client disables the model pass.
func NewClassifier(client modelClient, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		patterns: defaultPatterns(),
		client:   client,
		logger:   logger,
	}
}

// Classify determines the intent and confidence for a message. It never
// fails: model errors degrade to the keyword result.
func (c *Classifier) Classify(ctx context.Context, message string) Classification {
	ctx, span := classifierTracer.Start(ctx, "intent.classify")
	defer span.End()

	keyword := c.keywordPass(message)
	result := keyword
	if keyword.Confidence < modelPassThreshold && c.client != nil {
		if model := c.modelPass(ctx, message); model.Confidence > keyword.Confidence {
			result = model
		}
	}

	span.SetAttributes(
		attribute.String("intent.label", string(result.Intent)),
		attribute.Float64("intent.confidence", result.Confidence),
		attribute.String("intent.method", string(result.Method)),
	)
	return result
}

// keywordPass scores each intent by matched keyword fraction times the
// pattern weight. Deterministic for a given message.
func (c *Classifier) keywordPass(message string) Classification {
	lower := strings.ToLower(strings.TrimSpace(message))
	best := Classification{Intent: Unknown, Confidence: 0, Method: MethodKeyword}
	if lower == "" {
		return best
	}

	for _, in := range All {
		pattern, ok := c.patterns[in]
		if !ok || len(pattern.keywords) == 0 {
			continue
		}
		matched := 0
		for _, kw := range pattern.keywords {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(pattern.keywords)) * pattern.weight
		if score > best.Confidence {
			best = Classification{Intent: in, Confidence: score, Method: MethodKeyword}
		}
	}
	return best
}

// modelPass asks the language model for an INTENT:confidence answer. Any
// failure, including unparsable output, yields UNKNOWN with zero confidence.
func (c *Classifier) modelPass(ctx context.Context, message string) Classification {
	callCtx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	raw, err := c.client.Classify(callCtx, fmt.Sprintf(classifyPromptTemplate, message))
	if err != nil {
		c.logger.Error("model classification failed", "error", err)
		return Classification{Intent: Unknown, Confidence: 0, Method: MethodModel}
	}
	return parseModelResult(raw)
}

func parseModelResult(raw string) Classification {
	fallback := Classification{Intent: Unknown, Confidence: 0, Method: MethodModel}

	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return fallback
	}
	label := strings.ToUpper(strings.TrimSpace(parts[0]))
	if !Valid(label) {
		return fallback
	}
	confidence, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return fallback
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return Classification{Intent: Intent(label), Confidence: confidence, Method: MethodModel}
}
