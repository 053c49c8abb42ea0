package models

import (
	"strings"
	"time"
)

// Session is one end-to-end forecasting run, optionally followed by a
// trading simulation. It exclusively owns its agent logs, factors,
// forecaster responses, orders, trades, and trader states.
type Session struct {
	ID                     string         `json:"id"`
	QuestionText           string         `json:"question_text"`
	QuestionType           QuestionType   `json:"question_type"`
	Status                 SessionStatus  `json:"status"`
	CurrentPhase           *Phase         `json:"current_phase,omitempty"`
	ForecasterClass        string         `json:"forecaster_class,omitempty"`
	RunAllForecasters      bool           `json:"run_all_forecasters"`
	AgentCounts            AgentCounts    `json:"agent_counts"`
	TokensUsed             int            `json:"tokens_used"`
	TradingIntervalSeconds int            `json:"trading_interval_seconds,omitempty"`
	ErrorMessage           string         `json:"error_message,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	StartedAt              *time.Time     `json:"started_at,omitempty"`
	CompletedAt            *time.Time     `json:"completed_at,omitempty"`
}

// AgentCounts configures how many workers each phase spawns. Zero values
// take the defaults applied by Normalized.
type AgentCounts struct {
	Phase1Discovery  int `json:"phase_1_discovery,omitempty"`
	Phase2Validation int `json:"phase_2_validation,omitempty"`
	// Phase3Research is the legacy combined count. When set and the
	// historical/current counts are not, it splits 50/50.
	Phase3Research   int `json:"phase_3_research,omitempty"`
	Phase3Historical int `json:"phase_3_historical,omitempty"`
	Phase3Current    int `json:"phase_3_current,omitempty"`
	Phase4Synthesis  int `json:"phase_4_synthesis,omitempty"`
}

// DefaultAgentCounts returns the standard worker allocation.
func DefaultAgentCounts() AgentCounts {
	return AgentCounts{
		Phase1Discovery:  10,
		Phase2Validation: 2,
		Phase3Historical: 3,
		Phase3Current:    3,
		Phase4Synthesis:  1,
	}
}

// Normalized applies defaults and resolves the legacy combined research
// count into historical/current halves.
func (c AgentCounts) Normalized() AgentCounts {
	d := DefaultAgentCounts()
	out := c
	if out.Phase1Discovery <= 0 {
		out.Phase1Discovery = d.Phase1Discovery
	}
	// Validation always runs the validator + rating-consensus pair.
	out.Phase2Validation = d.Phase2Validation
	if out.Phase3Historical <= 0 && out.Phase3Current <= 0 {
		if out.Phase3Research > 0 {
			out.Phase3Historical = (out.Phase3Research + 1) / 2
			out.Phase3Current = out.Phase3Research / 2
		} else {
			out.Phase3Historical = d.Phase3Historical
			out.Phase3Current = d.Phase3Current
		}
	}
	if out.Phase3Historical <= 0 {
		out.Phase3Historical = 1
	}
	if out.Phase3Current <= 0 {
		out.Phase3Current = 1
	}
	out.Phase4Synthesis = d.Phase4Synthesis
	return out
}

// CreateForecastRequest contains fields for submitting a forecasting question.
type CreateForecastRequest struct {
	QuestionText      string       `json:"question_text"`
	QuestionType      QuestionType `json:"question_type"`
	AgentCounts       *AgentCounts `json:"agent_counts,omitempty"`
	ForecasterClass   string       `json:"forecaster_class,omitempty"`
	RunAllForecasters bool         `json:"run_all_forecasters,omitempty"`
}

// RunSimulationRequest starts a forecast session that feeds the trading
// simulation once synthesis completes.
type RunSimulationRequest struct {
	QuestionText           string       `json:"question_text"`
	QuestionType           QuestionType `json:"question_type"`
	AgentCounts            *AgentCounts `json:"agent_counts,omitempty"`
	ForecasterClass        string       `json:"forecaster_class,omitempty"`
	TradingIntervalSeconds int          `json:"trading_interval_seconds,omitempty"`
}

// SessionFilters contains filtering options for listing sessions.
type SessionFilters struct {
	Status       SessionStatus `json:"status,omitempty"`
	QuestionText string        `json:"question_text,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	Offset       int           `json:"offset,omitempty"`
}

// SessionListResponse contains a paginated session list.
type SessionListResponse struct {
	Forecasts  []*Session `json:"forecasts"`
	TotalCount int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// SessionDetail is the full projection returned by GET /api/forecasts/{id}.
type SessionDetail struct {
	*Session
	ForecasterResponses []*ForecasterResponse `json:"forecaster_responses"`
	Factors             []*Factor             `json:"factors"`
	AgentLogs           []*AgentLog           `json:"agent_logs"`
}

// NormalizeQuestion is the deduplication key for simulation runs: lowercased,
// whitespace-collapsed question text.
func NormalizeQuestion(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
