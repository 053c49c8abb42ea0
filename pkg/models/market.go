package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a resting limit order for probability-of-YES contracts.
// Prices are whole cents in [0,100], quantities are integer contracts.
type Order struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"session_id"`
	TraderName     string      `json:"trader_name"`
	Side           OrderSide   `json:"side"`
	Price          int         `json:"price"`
	Quantity       int         `json:"quantity"`
	FilledQuantity int         `json:"filled_quantity"`
	Status         OrderStatus `json:"status"`
	// Seq is a store-assigned insertion sequence used to break created_at
	// ties in price-time priority.
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int {
	return o.Quantity - o.FilledQuantity
}

// Active reports whether the order can still participate in matching.
func (o *Order) Active() bool {
	return (o.Status == OrderOpen || o.Status == OrderPartiallyFilled) && o.Remaining() > 0
}

// Trade is one execution between a bid and an ask. Price is always the
// resting order's price. Append-only.
type Trade struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	BuyerName  string    `json:"buyer_name"`
	SellerName string    `json:"seller_name"`
	Price      int       `json:"price"`
	Quantity   int       `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
}

// TraderState is the per-session notional account of one trader. Position
// is contracts held (may be negative), cash and pnl are decimal dollars.
// SystemPrompt carries the trader's accumulated round notes.
type TraderState struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Name         string          `json:"name"`
	TraderType   TraderType      `json:"trader_type"`
	Position     int             `json:"position"`
	Cash         decimal.Decimal `json:"cash"`
	PnL          decimal.Decimal `json:"pnl"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BookLevel aggregates active quantity at one price.
type BookLevel struct {
	Price      int `json:"price"`
	Quantity   int `json:"quantity"`
	OrderCount int `json:"order_count"`
}

// OrderBookSnapshot is the read-side projection of a session's book.
type OrderBookSnapshot struct {
	SessionID string      `json:"session_id"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	LastPrice *int        `json:"last_price,omitempty"`
	Volume    int         `json:"volume"`
}

// MMResult summarizes one atomic quote replacement.
type MMResult struct {
	Cancelled   int    `json:"cancelled"`
	BidID       string `json:"bid_id"`
	AskID       string `json:"ask_id"`
	TradesCount int    `json:"trades_count"`
	Volume      int    `json:"volume"`
}

// MatchResult summarizes one matching invocation.
type MatchResult struct {
	TradesCount int `json:"trades_count"`
	TotalVolume int `json:"total_volume"`
}

// SimulationStatus is the round scheduler's status surface.
type SimulationStatus struct {
	Running     bool   `json:"running"`
	Phase       string `json:"phase"`
	RoundNumber int    `json:"round_number"`
}
