// Package market implements the per-session continuous double auction:
// price-time-priority matching, the atomic market-making primitive, and
// settlement. All book mutations for a session happen under that
// session's lock, which is the serializability guarantee concurrent
// PlaceMMQuotes calls rely on.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/metrics"
	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
)

// ErrValidation marks order rejections surfaced as 400 at the API edge.
var ErrValidation = errors.New("order validation failed")

// StartingCash is each trader's notional bankroll.
var StartingCash = decimal.NewFromInt(1000)

// Engine owns all order, trade, and trader-state mutations.
type Engine struct {
	store  store.Store
	bus    events.Broadcaster
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-session serialization
}

// NewEngine builds an engine over the store, broadcasting on bus.
func NewEngine(st store.Store, bus events.Broadcaster) *Engine {
	return &Engine{
		store:  st,
		bus:    bus,
		logger: slog.Default().With("component", "market"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockSession acquires the session's mutex and returns its unlock func.
func (e *Engine) lockSession(sessionID string) func() {
	e.mu.Lock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func validateQuote(bidPrice, askPrice, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be >= 1, got %d", ErrValidation, qty)
	}
	if bidPrice < 0 || askPrice > 100 || bidPrice > askPrice {
		return fmt.Errorf("%w: require 0 <= bid <= ask <= 100, got bid=%d ask=%d",
			ErrValidation, bidPrice, askPrice)
	}
	return nil
}

func validateOrder(side models.OrderSide, price, qty int) error {
	if side != models.SideBuy && side != models.SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrValidation, side)
	}
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be >= 1, got %d", ErrValidation, qty)
	}
	if price < 0 || price > 100 {
		return fmt.Errorf("%w: price must be in [0,100], got %d", ErrValidation, price)
	}
	return nil
}

// PlaceOrder inserts a single limit order and matches to fixpoint.
func (e *Engine) PlaceOrder(ctx context.Context, sessionID, traderName string, side models.OrderSide, price, qty int) (*models.Order, models.MatchResult, error) {
	if err := validateOrder(side, price, qty); err != nil {
		return nil, models.MatchResult{}, err
	}
	if !models.ValidTraderName(traderName) {
		return nil, models.MatchResult{}, fmt.Errorf("%w: unknown trader %q", ErrValidation, traderName)
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	order := &models.Order{
		SessionID:  sessionID,
		TraderName: traderName,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		Status:     models.OrderOpen,
	}
	if err := e.store.Orders().Create(ctx, order); err != nil {
		return nil, models.MatchResult{}, fmt.Errorf("failed to create order: %w", err)
	}
	metrics.GetCollector().RecordOrder(string(side))

	result, err := e.matchLocked(ctx, sessionID)
	if err != nil {
		return nil, models.MatchResult{}, err
	}
	e.publishBook(ctx, sessionID)
	return order, result, nil
}

// PlaceMMQuotes atomically replaces a trader's quotes: cancel every active
// order, insert the bid/ask pair, match to fixpoint. The whole sequence
// runs under the session lock so no peer can trade against the old quotes
// mid-replacement.
func (e *Engine) PlaceMMQuotes(ctx context.Context, sessionID, traderName string, bidPrice, askPrice, qty int) (*models.MMResult, error) {
	if err := validateQuote(bidPrice, askPrice, qty); err != nil {
		return nil, err
	}
	if !models.ValidTraderName(traderName) {
		return nil, fmt.Errorf("%w: unknown trader %q", ErrValidation, traderName)
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	cancelled, err := e.store.Orders().CancelActiveByTrader(ctx, sessionID, traderName)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel active orders: %w", err)
	}

	bid := &models.Order{
		SessionID:  sessionID,
		TraderName: traderName,
		Side:       models.SideBuy,
		Price:      bidPrice,
		Quantity:   qty,
		Status:     models.OrderOpen,
	}
	if err := e.store.Orders().Create(ctx, bid); err != nil {
		return nil, fmt.Errorf("failed to place bid: %w", err)
	}
	ask := &models.Order{
		SessionID:  sessionID,
		TraderName: traderName,
		Side:       models.SideSell,
		Price:      askPrice,
		Quantity:   qty,
		Status:     models.OrderOpen,
	}
	if err := e.store.Orders().Create(ctx, ask); err != nil {
		return nil, fmt.Errorf("failed to place ask: %w", err)
	}
	metrics.GetCollector().RecordOrder(string(models.SideBuy))
	metrics.GetCollector().RecordOrder(string(models.SideSell))

	result, err := e.matchLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.publishBook(ctx, sessionID)

	return &models.MMResult{
		Cancelled:   cancelled,
		BidID:       bid.ID,
		AskID:       ask.ID,
		TradesCount: result.TradesCount,
		Volume:      result.TotalVolume,
	}, nil
}

// Match runs the matching loop for a session under its lock.
func (e *Engine) Match(ctx context.Context, sessionID string) (models.MatchResult, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()
	result, err := e.matchLocked(ctx, sessionID)
	if err == nil && result.TradesCount > 0 {
		e.publishBook(ctx, sessionID)
	}
	return result, err
}

// matchLocked is the price-time-priority loop. Caller holds the session
// lock. Execution price is the resting order's price; a trader never
// crosses with itself; ties break by created_at then insertion sequence.
// Each match's row mutations commit atomically through WithTx.
func (e *Engine) matchLocked(ctx context.Context, sessionID string) (models.MatchResult, error) {
	var result models.MatchResult

	for {
		active, err := e.store.Orders().ActiveBySession(ctx, sessionID)
		if err != nil {
			return result, fmt.Errorf("failed to load active orders: %w", err)
		}

		var bids, asks []*models.Order
		for _, o := range active {
			if o.Side == models.SideBuy {
				bids = append(bids, o)
			} else {
				asks = append(asks, o)
			}
		}
		sort.Slice(bids, func(i, j int) bool {
			if bids[i].Price != bids[j].Price {
				return bids[i].Price > bids[j].Price
			}
			if !bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
				return bids[i].CreatedAt.Before(bids[j].CreatedAt)
			}
			return bids[i].Seq < bids[j].Seq
		})
		sort.Slice(asks, func(i, j int) bool {
			if asks[i].Price != asks[j].Price {
				return asks[i].Price < asks[j].Price
			}
			if !asks[i].CreatedAt.Equal(asks[j].CreatedAt) {
				return asks[i].CreatedAt.Before(asks[j].CreatedAt)
			}
			return asks[i].Seq < asks[j].Seq
		})

		if len(bids) == 0 {
			return result, nil
		}
		bid := bids[0]

		var ask *models.Order
		for _, a := range asks {
			if a.Price > bid.Price {
				break
			}
			if a.TraderName == bid.TraderName {
				continue
			}
			ask = a
			break
		}
		if ask == nil {
			return result, nil
		}

		fill := min(bid.Remaining(), ask.Remaining())

		// whichever side was already on the book sets the price
		execPrice := ask.Price
		if restedBefore(bid, ask) {
			execPrice = bid.Price
		}

		trade := &models.Trade{
			SessionID:  sessionID,
			BuyerName:  bid.TraderName,
			SellerName: ask.TraderName,
			Price:      execPrice,
			Quantity:   fill,
		}

		var buyer, seller *models.TraderState
		err = e.store.WithTx(ctx, func(txs store.Store) error {
			if err := txs.Trades().Create(ctx, trade); err != nil {
				return fmt.Errorf("failed to record trade: %w", err)
			}
			for _, o := range []*models.Order{bid, ask} {
				o.FilledQuantity += fill
				if o.Remaining() == 0 {
					o.Status = models.OrderFilled
				} else {
					o.Status = models.OrderPartiallyFilled
				}
				if err := txs.Orders().Update(ctx, o); err != nil {
					return fmt.Errorf("failed to update order: %w", err)
				}
			}
			var err error
			buyer, seller, err = e.applyTrade(ctx, txs, trade)
			return err
		})
		if err != nil {
			return result, err
		}
		e.publishTrade(ctx, trade)
		e.publishTraderState(ctx, buyer)
		e.publishTraderState(ctx, seller)

		metrics.GetCollector().RecordTrades(1, fill)
		result.TradesCount++
		result.TotalVolume += fill
	}
}

// restedBefore reports whether a was on the book before b, by created_at
// then insertion sequence.
func restedBefore(a, b *models.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// applyTrade moves position and cash between the two counterparties and
// returns the updated states. Cash deltas are equal and opposite, so
// they sum to zero per trade. Writes go through st so the caller can
// scope them to a transaction.
func (e *Engine) applyTrade(ctx context.Context, st store.Store, trade *models.Trade) (*models.TraderState, *models.TraderState, error) {
	cashDelta := decimal.NewFromInt(int64(trade.Price)).
		Mul(decimal.NewFromInt(int64(trade.Quantity))).
		Div(decimal.NewFromInt(100))

	buyer, err := e.loadOrSeedState(ctx, st, trade.SessionID, trade.BuyerName)
	if err != nil {
		return nil, nil, err
	}
	buyer.Position += trade.Quantity
	buyer.Cash = buyer.Cash.Sub(cashDelta)
	buyer.PnL = buyer.Cash.Sub(StartingCash)
	if err := st.TraderStates().Upsert(ctx, buyer); err != nil {
		return nil, nil, fmt.Errorf("failed to update buyer state: %w", err)
	}

	seller, err := e.loadOrSeedState(ctx, st, trade.SessionID, trade.SellerName)
	if err != nil {
		return nil, nil, err
	}
	seller.Position -= trade.Quantity
	seller.Cash = seller.Cash.Add(cashDelta)
	seller.PnL = seller.Cash.Sub(StartingCash)
	if err := st.TraderStates().Upsert(ctx, seller); err != nil {
		return nil, nil, fmt.Errorf("failed to update seller state: %w", err)
	}

	return buyer, seller, nil
}

// loadOrSeedState returns the trader's state row, creating it with the
// starting bankroll on first touch.
func (e *Engine) loadOrSeedState(ctx context.Context, st store.Store, sessionID, name string) (*models.TraderState, error) {
	state, err := st.TraderStates().Get(ctx, sessionID, name)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load trader state: %w", err)
	}

	identity, _ := models.LookupTrader(name)
	state = &models.TraderState{
		SessionID:  sessionID,
		Name:       name,
		TraderType: identity.Type,
		Cash:       StartingCash,
		PnL:        decimal.Zero,
	}
	if err := st.TraderStates().Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to seed trader state: %w", err)
	}
	return state, nil
}

// AppendTraderNote appends a line to the trader's accumulated notes.
// Runs under the session lock so the read-modify-write cannot clobber a
// concurrent position update.
func (e *Engine) AppendTraderNote(ctx context.Context, sessionID, name, note string) error {
	unlock := e.lockSession(sessionID)
	defer unlock()

	st, err := e.loadOrSeedState(ctx, e.store, sessionID, name)
	if err != nil {
		return err
	}
	if st.SystemPrompt != "" {
		st.SystemPrompt += "\n"
	}
	st.SystemPrompt += note
	if err := e.store.TraderStates().Upsert(ctx, st); err != nil {
		return fmt.Errorf("failed to append trader note: %w", err)
	}
	return nil
}

// Settle pays $1 per contract to the winning side and recomputes pnl
// against the starting bankroll.
func (e *Engine) Settle(ctx context.Context, sessionID string, outcome bool) (map[string]decimal.Decimal, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()

	states, err := e.store.TraderStates().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trader states: %w", err)
	}

	payouts := make(map[string]decimal.Decimal, len(states))
	for _, st := range states {
		contracts := st.Position
		if !outcome {
			contracts = -contracts
		}
		if contracts < 0 {
			contracts = 0
		}
		payout := decimal.NewFromInt(int64(contracts))
		st.Cash = st.Cash.Add(payout)
		st.PnL = st.Cash.Sub(StartingCash)
		if err := e.store.TraderStates().Upsert(ctx, st); err != nil {
			return nil, fmt.Errorf("failed to settle trader %s: %w", st.Name, err)
		}
		e.publishTraderState(ctx, st)
		payouts[st.Name] = payout
	}
	return payouts, nil
}

func (e *Engine) publishTrade(ctx context.Context, t *models.Trade) {
	payload := map[string]any{
		"id":          t.ID,
		"buyer_name":  t.BuyerName,
		"seller_name": t.SellerName,
		"price":       t.Price,
		"quantity":    t.Quantity,
	}
	if err := e.bus.Publish(ctx, t.SessionID, models.ChannelTrades, payload); err != nil {
		e.logger.Warn("Failed to publish trade event", "error", err)
	}
}

func (e *Engine) publishTraderState(ctx context.Context, st *models.TraderState) {
	payload := map[string]any{
		"name":     st.Name,
		"position": st.Position,
		"cash":     st.Cash.String(),
		"pnl":      st.PnL.String(),
	}
	if err := e.bus.Publish(ctx, st.SessionID, models.ChannelTraderState, payload); err != nil {
		e.logger.Warn("Failed to publish trader state event", "error", err)
	}
}

func (e *Engine) publishBook(ctx context.Context, sessionID string) {
	snapshot, err := e.Snapshot(ctx, sessionID)
	if err != nil {
		e.logger.Warn("Failed to build book snapshot", "error", err)
		return
	}
	payload := map[string]any{
		"bids":   snapshot.Bids,
		"asks":   snapshot.Asks,
		"volume": snapshot.Volume,
	}
	if snapshot.LastPrice != nil {
		payload["last_price"] = *snapshot.LastPrice
	}
	if err := e.bus.Publish(ctx, sessionID, models.ChannelOrderbook, payload); err != nil {
		e.logger.Warn("Failed to publish orderbook event", "error", err)
	}
}
