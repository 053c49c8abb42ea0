package models

import "time"

// AgentLog records one worker invocation. A log is written with
// status=running before the LLM call and receives exactly one terminal
// update afterwards; it is immutable from then on.
type AgentLog struct {
	ID           string      `json:"id"`
	SessionID    string      `json:"session_id"`
	AgentName    string      `json:"agent_name"`
	Phase        Phase       `json:"phase"`
	Status       AgentStatus `json:"status"`
	OutputData   []byte      `json:"output_data,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	TokensUsed   int         `json:"tokens_used"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// Factor is a candidate driver of the forecasting question. Discovery
// creates candidates, validation dedupes and scores them, research fills
// the summary, synthesis reads them.
type Factor struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Category        string    `json:"category,omitempty"`
	ImportanceScore *float64  `json:"importance_score,omitempty"`
	ResearchSummary string    `json:"research_summary,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ForecasterResponse is one personality's synthesis output. Probability and
// confidence are non-nil exactly when the response completed.
type ForecasterResponse struct {
	ID                    string             `json:"id"`
	SessionID             string             `json:"session_id"`
	ForecasterClass       ForecasterClass    `json:"forecaster_class"`
	PredictionProbability *float64           `json:"prediction_probability,omitempty"`
	Confidence            *float64           `json:"confidence,omitempty"`
	Reasoning             string             `json:"reasoning,omitempty"`
	KeyFactors            []string           `json:"key_factors,omitempty"`
	PhaseDurations        map[string]float64 `json:"phase_durations,omitempty"`
	Status                AgentStatus        `json:"status"`
	CreatedAt             time.Time          `json:"created_at"`
}
