package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/foresightlab/foresight/pkg/models"
)

type agentLogStore struct {
	db querier
}

const agentLogColumns = `id, session_id, agent_name, phase, status, output_data,
	error_message, tokens_used, created_at, completed_at`

func scanAgentLog(row pgx.Row) (*models.AgentLog, error) {
	var (
		l      models.AgentLog
		errMsg *string
	)
	err := row.Scan(&l.ID, &l.SessionID, &l.AgentName, &l.Phase, &l.Status,
		&l.OutputData, &errMsg, &l.TokensUsed, &l.CreatedAt, &l.CompletedAt)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		l.ErrorMessage = *errMsg
	}
	return &l, nil
}

func (r *agentLogStore) Create(ctx context.Context, l *models.AgentLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	var errMsg *string
	if l.ErrorMessage != "" {
		errMsg = &l.ErrorMessage
	}
	_, err := r.db.Exec(ctx, `INSERT INTO agent_logs (`+agentLogColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.SessionID, l.AgentName, l.Phase, l.Status, l.OutputData,
		errMsg, l.TokensUsed, l.CreatedAt, l.CompletedAt)
	return mapError(err)
}

func (r *agentLogStore) Update(ctx context.Context, l *models.AgentLog) error {
	var errMsg *string
	if l.ErrorMessage != "" {
		errMsg = &l.ErrorMessage
	}
	tag, err := r.db.Exec(ctx, `UPDATE agent_logs SET
		status=$2, output_data=$3, error_message=$4, tokens_used=$5, completed_at=$6
		WHERE id=$1`,
		l.ID, l.Status, l.OutputData, errMsg, l.TokensUsed, l.CompletedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *agentLogStore) ListBySession(ctx context.Context, sessionID string) ([]*models.AgentLog, error) {
	rows, err := r.db.Query(ctx, `SELECT `+agentLogColumns+` FROM agent_logs
		WHERE session_id = $1 ORDER BY created_at, agent_name`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.AgentLog
	for rows.Next() {
		l, err := scanAgentLog(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, l)
	}
	return out, mapError(rows.Err())
}

type factorStore struct {
	db querier
}

const factorColumns = `id, session_id, name, description, category,
	importance_score, research_summary, created_at`

func scanFactor(row pgx.Row) (*models.Factor, error) {
	var (
		f        models.Factor
		category *string
		summary  *string
	)
	err := row.Scan(&f.ID, &f.SessionID, &f.Name, &f.Description, &category,
		&f.ImportanceScore, &summary, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if category != nil {
		f.Category = *category
	}
	if summary != nil {
		f.ResearchSummary = *summary
	}
	return &f, nil
}

func (r *factorStore) Create(ctx context.Context, f *models.Factor) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	var category, summary *string
	if f.Category != "" {
		category = &f.Category
	}
	if f.ResearchSummary != "" {
		summary = &f.ResearchSummary
	}
	_, err := r.db.Exec(ctx, `INSERT INTO factors (`+factorColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		f.ID, f.SessionID, f.Name, f.Description, category,
		f.ImportanceScore, summary, f.CreatedAt)
	return mapError(err)
}

func (r *factorStore) Update(ctx context.Context, f *models.Factor) error {
	var category, summary *string
	if f.Category != "" {
		category = &f.Category
	}
	if f.ResearchSummary != "" {
		summary = &f.ResearchSummary
	}
	tag, err := r.db.Exec(ctx, `UPDATE factors SET
		name=$2, description=$3, category=$4, importance_score=$5, research_summary=$6
		WHERE id=$1`,
		f.ID, f.Name, f.Description, category, f.ImportanceScore, summary)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *factorStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Factor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+factorColumns+` FROM factors
		WHERE session_id = $1 ORDER BY name`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Factor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, f)
	}
	return out, mapError(rows.Err())
}

type responseStore struct {
	db querier
}

const responseColumns = `id, session_id, forecaster_class, prediction_probability,
	confidence, reasoning, key_factors, phase_durations, status, created_at`

func scanResponse(row pgx.Row) (*models.ForecasterResponse, error) {
	var (
		resp      models.ForecasterResponse
		reasoning *string
		factors   []byte
		durations []byte
	)
	err := row.Scan(&resp.ID, &resp.SessionID, &resp.ForecasterClass,
		&resp.PredictionProbability, &resp.Confidence, &reasoning,
		&factors, &durations, &resp.Status, &resp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if reasoning != nil {
		resp.Reasoning = *reasoning
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &resp.KeyFactors); err != nil {
			return nil, fmt.Errorf("failed to decode key_factors: %w", err)
		}
	}
	if len(durations) > 0 {
		if err := json.Unmarshal(durations, &resp.PhaseDurations); err != nil {
			return nil, fmt.Errorf("failed to decode phase_durations: %w", err)
		}
	}
	return &resp, nil
}

func responseArgs(resp *models.ForecasterResponse) ([]any, error) {
	var factors, durations []byte
	var err error
	if resp.KeyFactors != nil {
		if factors, err = json.Marshal(resp.KeyFactors); err != nil {
			return nil, fmt.Errorf("failed to encode key_factors: %w", err)
		}
	}
	if resp.PhaseDurations != nil {
		if durations, err = json.Marshal(resp.PhaseDurations); err != nil {
			return nil, fmt.Errorf("failed to encode phase_durations: %w", err)
		}
	}
	var reasoning *string
	if resp.Reasoning != "" {
		reasoning = &resp.Reasoning
	}
	return []any{resp.ID, resp.SessionID, resp.ForecasterClass,
		resp.PredictionProbability, resp.Confidence, reasoning,
		factors, durations, resp.Status, resp.CreatedAt}, nil
}

func (r *responseStore) Create(ctx context.Context, resp *models.ForecasterResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	args, err := responseArgs(resp)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO forecaster_responses (`+responseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, args...)
	return mapError(err)
}

func (r *responseStore) Update(ctx context.Context, resp *models.ForecasterResponse) error {
	var factors, durations []byte
	var err error
	if resp.KeyFactors != nil {
		if factors, err = json.Marshal(resp.KeyFactors); err != nil {
			return fmt.Errorf("failed to encode key_factors: %w", err)
		}
	}
	if resp.PhaseDurations != nil {
		if durations, err = json.Marshal(resp.PhaseDurations); err != nil {
			return fmt.Errorf("failed to encode phase_durations: %w", err)
		}
	}
	var reasoning *string
	if resp.Reasoning != "" {
		reasoning = &resp.Reasoning
	}
	tag, err := r.db.Exec(ctx, `UPDATE forecaster_responses SET
		prediction_probability=$2, confidence=$3, reasoning=$4,
		key_factors=$5, phase_durations=$6, status=$7
		WHERE id=$1`,
		resp.ID, resp.PredictionProbability, resp.Confidence, reasoning,
		factors, durations, resp.Status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *responseStore) ListBySession(ctx context.Context, sessionID string) ([]*models.ForecasterResponse, error) {
	rows, err := r.db.Query(ctx, `SELECT `+responseColumns+` FROM forecaster_responses
		WHERE session_id = $1 ORDER BY forecaster_class`, sessionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.ForecasterResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, resp)
	}
	return out, mapError(rows.Err())
}
