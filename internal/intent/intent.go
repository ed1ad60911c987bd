package intent

// Intent is the coarse-grained purpose classification for one user message.
type Intent string

const (
	Greeting          Intent = "GREETING"
	ProductInquiry    Intent = "PRODUCT_INQUIRY"
	TechnicalSupport  Intent = "TECHNICAL_SUPPORT"
	AccountManagement Intent = "ACCOUNT_MANAGEMENT"
	BillingInquiry    Intent = "BILLING_INQUIRY"
	Complaint         Intent = "COMPLAINT"
	Farewell          Intent = "FAREWELL"
	EscalationRequest Intent = "ESCALATION_REQUEST"
	Unknown           Intent = "UNKNOWN"
)

// All lists the taxonomy in a stable order.
var All = []Intent{
	Greeting,
	ProductInquiry,
	TechnicalSupport,
	AccountManagement,
	BillingInquiry,
	Complaint,
	Farewell,
	EscalationRequest,
	Unknown,
}

// Valid reports whether the label belongs to the taxonomy.
func Valid(label string) bool {
	for _, in := range All {
		if string(in) == label {
			return true
		}
	}
	return false
}

// Method tags which classifier pass produced a result.
type Method string

const (
	MethodKeyword Method = "keyword"
	MethodModel   Method = "model"
)

// Classification is the transient result of classifying one message.
type Classification struct {
	Intent     Intent
	Confidence float64
	Method     Method
}

// HighConfidence reports whether the result can be trusted for an automatic
// answer.
func (c Classification) HighConfidence() bool {
	return c.Confidence >= 0.8
}

// LowConfidence reports whether the result is weak enough that callers should
// consider escalating.
func (c Classification) LowConfidence() bool {
	return c.Confidence < 0.5
}
