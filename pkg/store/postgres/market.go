package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/foresightlab/foresight/pkg/models"
)

type orderStore struct {
	db querier
}

const orderColumns = `id, session_id, trader_name, side, price, quantity,
	filled_quantity, status, seq, created_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.SessionID, &o.TraderName, &o.Side, &o.Price,
		&o.Quantity, &o.FilledQuantity, &o.Status, &o.Seq, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderStore) Create(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO orders
		(id, session_id, trader_name, side, price, quantity, filled_quantity, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING seq`,
		o.ID, o.SessionID, o.TraderName, o.Side, o.Price, o.Quantity,
		o.FilledQuantity, o.Status, o.CreatedAt).Scan(&o.Seq)
	return mapError(err)
}

func (r *orderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapError(err)
	}
	return o, nil
}

func (r *orderStore) Update(ctx context.Context, o *models.Order) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET
		filled_quantity=$2, status=$3
		WHERE id=$1`, o.ID, o.FilledQuantity, o.Status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *orderStore) ActiveBySession(ctx context.Context, sessionID string) ([]*models.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE session_id = $1
		  AND status IN ('open', 'partially_filled')
		  AND filled_quantity < quantity
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *orderStore) CancelActiveByTrader(ctx context.Context, sessionID, traderName string) (int, error) {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = 'cancelled'
		WHERE session_id = $1
		  AND trader_name = $2
		  AND status IN ('open', 'partially_filled')
		  AND filled_quantity < quantity`, sessionID, traderName)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *orderStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]*models.Order, error) {
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, o)
	}
	return out, mapError(rows.Err())
}

type tradeStore struct {
	db querier
}

func (r *tradeStore) Create(ctx context.Context, t *models.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO trades
		(id, session_id, buyer_name, seller_name, price, quantity, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.ID, t.SessionID, t.BuyerName, t.SellerName, t.Price, t.Quantity, t.CreatedAt)
	return mapError(err)
}

func (r *tradeStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Trade, error) {
	query := `SELECT id, session_id, buyer_name, seller_name, price, quantity, created_at
		FROM trades WHERE session_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.SessionID, &t.BuyerName, &t.SellerName,
			&t.Price, &t.Quantity, &t.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, &t)
	}
	return out, mapError(rows.Err())
}

type traderStateStore struct {
	db querier
}

const traderStateColumns = `id, session_id, name, trader_type, position,
	cash::text, pnl::text, system_prompt, updated_at`

func scanTraderState(row pgx.Row) (*models.TraderState, error) {
	var (
		st        models.TraderState
		cash, pnl string
		sysPrompt *string
	)
	err := row.Scan(&st.ID, &st.SessionID, &st.Name, &st.TraderType,
		&st.Position, &cash, &pnl, &sysPrompt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if st.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, err
	}
	if st.PnL, err = decimal.NewFromString(pnl); err != nil {
		return nil, err
	}
	if sysPrompt != nil {
		st.SystemPrompt = *sysPrompt
	}
	return &st, nil
}

func (r *traderStateStore) Upsert(ctx context.Context, st *models.TraderState) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.UpdatedAt = time.Now().UTC()
	var sysPrompt *string
	if st.SystemPrompt != "" {
		sysPrompt = &st.SystemPrompt
	}
	_, err := r.db.Exec(ctx, `INSERT INTO trader_states
		(id, session_id, name, trader_type, position, cash, pnl, system_prompt, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id, name) DO UPDATE SET
			position = EXCLUDED.position,
			cash = EXCLUDED.cash,
			pnl = EXCLUDED.pnl,
			system_prompt = EXCLUDED.system_prompt,
			updated_at = EXCLUDED.updated_at`,
		st.ID, st.SessionID, st.Name, st.TraderType, st.Position,
		st.Cash.String(), st.PnL.String(), sysPrompt, st.UpdatedAt)
	return mapError(err)
}

func (r *traderStateStore) Get(ctx context.Context, sessionID, name string) (*models.TraderState, error) {
	row := r.db.QueryRow(ctx, `SELECT `+traderStateColumns+` FROM trader_states
		WHERE session_id = $1 AND name = $2`, sessionID, name)
	st, err := scanTraderState(row)
	if err != nil {
		return nil, mapError(err)
	}
	return st, nil
}

func (r *traderStateStore) ListBySession(ctx context.Context, sessionID string) ([]*models.TraderState, error) {
	rows, err := r.db.Query(ctx, `SELECT `+traderStateColumns+` FROM trader_states
		WHERE session_id = $1 ORDER BY name`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.TraderState
	for rows.Next() {
		st, err := scanTraderState(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, st)
	}
	return out, mapError(rows.Err())
}
