package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/foresightlab/foresight/pkg/models"
)

// Snapshot builds the read-side book projection: price levels with
// aggregate remaining quantity, last trade price, and cumulative volume.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (*models.OrderBookSnapshot, error) {
	active, err := e.store.Orders().ActiveBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active orders: %w", err)
	}

	bidLevels := make(map[int]*models.BookLevel)
	askLevels := make(map[int]*models.BookLevel)
	for _, o := range active {
		levels := bidLevels
		if o.Side == models.SideSell {
			levels = askLevels
		}
		lvl, ok := levels[o.Price]
		if !ok {
			lvl = &models.BookLevel{Price: o.Price}
			levels[o.Price] = lvl
		}
		lvl.Quantity += o.Remaining()
		lvl.OrderCount++
	}

	snapshot := &models.OrderBookSnapshot{SessionID: sessionID}
	for _, lvl := range bidLevels {
		snapshot.Bids = append(snapshot.Bids, *lvl)
	}
	for _, lvl := range askLevels {
		snapshot.Asks = append(snapshot.Asks, *lvl)
	}
	sort.Slice(snapshot.Bids, func(i, j int) bool { return snapshot.Bids[i].Price > snapshot.Bids[j].Price })
	sort.Slice(snapshot.Asks, func(i, j int) bool { return snapshot.Asks[i].Price < snapshot.Asks[j].Price })

	trades, err := e.store.Trades().ListBySession(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	for _, t := range trades {
		snapshot.Volume += t.Quantity
	}
	if len(trades) > 0 {
		// trades come newest first
		price := trades[0].Price
		snapshot.LastPrice = &price
	}
	return snapshot, nil
}
