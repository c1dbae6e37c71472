package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresHistory reads and writes transaction history in PostgreSQL.
// Query results reflect commit order, which is what makes the
// impossible-travel comparison trustworthy under concurrent scoring.
type PostgresHistory struct {
	db *sql.DB
}

// NewPostgresHistory creates a PostgreSQL-backed transaction history.
func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

func (h *PostgresHistory) Append(ctx context.Context, userID string, rec HistoryRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, amount, merchant, country, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, rec.Amount, rec.Merchant, rec.Country, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (h *PostgresHistory) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

func (h *PostgresHistory) ListSince(ctx context.Context, userID string, since time.Time) ([]HistoryRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT amount, merchant, country, created_at
		FROM transactions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryRecord
	for rows.Next() {
		var r HistoryRecord
		if err := rows.Scan(&r.Amount, &r.Merchant, &r.Country, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *PostgresHistory) LastTransaction(ctx context.Context, userID string) (*HistoryRecord, error) {
	var r HistoryRecord
	err := h.db.QueryRowContext(ctx, `
		SELECT amount, merchant, country, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&r.Amount, &r.Merchant, &r.Country, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch last transaction: %w", err)
	}
	return &r, nil
}

// PostgresAuditStore persists scoring assessments in PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore creates a PostgreSQL-backed audit store.
func NewPostgresAuditStore(db *sql.DB) *PostgresAuditStore {
	return &PostgresAuditStore{db: db}
}

func (s *PostgresAuditStore) Record(ctx context.Context, a *Assessment) error {
	factorsJSON, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	eventJSON, err := json.Marshal(a.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_assessments (id, user_id, score, risk_level, factors, event, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.Score, string(a.RiskLevel), factorsJSON, eventJSON, a.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	return nil
}

func (s *PostgresAuditStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, score, risk_level, factors, event, evaluated_at
		FROM fraud_assessments
		WHERE user_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Assessment
	for rows.Next() {
		var a Assessment
		var factorsJSON, eventJSON []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.Score, &a.RiskLevel, &factorsJSON, &eventJSON, &a.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		if err := json.Unmarshal(factorsJSON, &a.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors: %w", err)
		}
		if len(eventJSON) > 0 {
			a.Event = &TransactionEvent{}
			_ = json.Unmarshal(eventJSON, a.Event)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
