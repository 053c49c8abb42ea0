package models

import "time"

// Pub/sub channels fanned out on row changes, filtered by session_id.
const (
	ChannelSessions            = "sessions"
	ChannelAgentLogs           = "agent_logs"
	ChannelFactors             = "factors"
	ChannelForecasterResponses = "forecaster_responses"
	ChannelOrderbook           = "orderbook_live"
	ChannelTrades              = "trades"
	ChannelTraderState         = "trader_state_live"
)

// Event is one pub/sub message: a row-change notification on a channel.
type Event struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
