package models

// SessionStatus tracks the lifecycle of a forecasting session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the session can no longer change status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// QuestionType classifies the forecasting question.
type QuestionType string

const (
	QuestionBinary      QuestionType = "binary"
	QuestionNumeric     QuestionType = "numeric"
	QuestionCategorical QuestionType = "categorical"
)

// Valid reports whether the question type is one of the known values.
func (q QuestionType) Valid() bool {
	switch q {
	case QuestionBinary, QuestionNumeric, QuestionCategorical:
		return true
	}
	return false
}

// Phase names one of the four pipeline stages.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseValidation Phase = "validation"
	PhaseResearch   Phase = "research"
	PhaseSynthesis  Phase = "synthesis"
)

// AgentStatus tracks a single worker's lifecycle within a phase.
type AgentStatus string

const (
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// ForecasterClass is a synthesis personality. Each class modulates the
// synthesis system prompt and seeds the matching fundamental trader.
type ForecasterClass string

const (
	ClassConservative ForecasterClass = "conservative"
	ClassMomentum     ForecasterClass = "momentum"
	ClassHistorical   ForecasterClass = "historical"
	ClassRealtime     ForecasterClass = "realtime"
	ClassBalanced     ForecasterClass = "balanced"
)

// AllForecasterClasses returns the five classes in canonical order.
func AllForecasterClasses() []ForecasterClass {
	return []ForecasterClass{
		ClassConservative,
		ClassMomentum,
		ClassHistorical,
		ClassRealtime,
		ClassBalanced,
	}
}

// Valid reports whether the class is one of the five known personalities.
func (c ForecasterClass) Valid() bool {
	for _, k := range AllForecasterClasses() {
		if c == k {
			return true
		}
	}
	return false
}

// OrderSide is the direction of a limit order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus tracks an order's fill lifecycle.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// TraderType classifies a trader's information source.
type TraderType string

const (
	TraderFundamental TraderType = "fundamental"
	TraderNoise       TraderType = "noise"
	TraderUser        TraderType = "user"
)
