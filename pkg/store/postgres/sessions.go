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

type sessionStore struct {
	db querier
}

const sessionColumns = `id, question_text, question_type, status, current_phase,
	forecaster_class, run_all_forecasters, agent_counts, tokens_used,
	trading_interval_seconds, error_message, created_at, started_at, completed_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s           models.Session
		phase       *string
		class       *string
		interval    *int
		errMsg      *string
		agentCounts []byte
	)
	err := row.Scan(&s.ID, &s.QuestionText, &s.QuestionType, &s.Status, &phase,
		&class, &s.RunAllForecasters, &agentCounts, &s.TokensUsed,
		&interval, &errMsg, &s.CreatedAt, &s.StartedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	if phase != nil {
		p := models.Phase(*phase)
		s.CurrentPhase = &p
	}
	if class != nil {
		s.ForecasterClass = *class
	}
	if interval != nil {
		s.TradingIntervalSeconds = *interval
	}
	if errMsg != nil {
		s.ErrorMessage = *errMsg
	}
	if len(agentCounts) > 0 {
		if err := json.Unmarshal(agentCounts, &s.AgentCounts); err != nil {
			return nil, fmt.Errorf("failed to decode agent_counts: %w", err)
		}
	}
	return &s, nil
}

func sessionArgs(s *models.Session) ([]any, error) {
	counts, err := json.Marshal(s.AgentCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent_counts: %w", err)
	}
	var phase *string
	if s.CurrentPhase != nil {
		p := string(*s.CurrentPhase)
		phase = &p
	}
	var class *string
	if s.ForecasterClass != "" {
		class = &s.ForecasterClass
	}
	var interval *int
	if s.TradingIntervalSeconds > 0 {
		interval = &s.TradingIntervalSeconds
	}
	var errMsg *string
	if s.ErrorMessage != "" {
		errMsg = &s.ErrorMessage
	}
	return []any{s.ID, s.QuestionText, s.QuestionType, s.Status, phase, class,
		s.RunAllForecasters, counts, s.TokensUsed, interval, errMsg,
		s.CreatedAt, s.StartedAt, s.CompletedAt}, nil
}

func (r *sessionStore) Create(ctx context.Context, s *models.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, args...)
	return mapError(err)
}

func (r *sessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (r *sessionStore) Update(ctx context.Context, s *models.Session) error {
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE sessions SET
		question_text=$2, question_type=$3, status=$4, current_phase=$5,
		forecaster_class=$6, run_all_forecasters=$7, agent_counts=$8,
		tokens_used=$9, trading_interval_seconds=$10, error_message=$11,
		created_at=$12, started_at=$13, completed_at=$14
		WHERE id=$1`, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *sessionStore) List(ctx context.Context, f models.SessionFilters) ([]*models.Session, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.QuestionText != "" {
		args = append(args, "%"+f.QuestionText+"%")
		where += fmt.Sprintf(" AND question_text ILIKE $%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions` + where + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, mapError(err)
		}
		out = append(out, s)
	}
	return out, total, mapError(rows.Err())
}

func (r *sessionStore) ClaimOldestPending(ctx context.Context) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `UPDATE sessions
		SET status = 'running', started_at = now()
		WHERE id = (
			SELECT id FROM sessions
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+sessionColumns)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (r *sessionStore) FindActiveByQuestion(ctx context.Context, normalized string, since time.Time) (*models.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE status NOT IN ('completed', 'failed')
		  AND created_at >= $2
		  AND lower(regexp_replace(btrim(question_text), '\s+', ' ', 'g')) = $1
		ORDER BY created_at DESC
		LIMIT 1`, normalized, since)
	s, err := scanSession(row)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}
