package repository

import (
	"context"
	"fmt"
	"time"

	"solvegate/internal/database"
	"solvegate/internal/models"
)

// RequestRepository stores the insert-only audit trail of provider calls
type RequestRepository struct {
	db database.Querier
}

func NewRequestRepository(db database.Querier) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a record and sets its ID
func (r *RequestRepository) Create(ctx context.Context, rec *models.RequestRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO request_records (user_id, question, subject, solution, tokens_used, cost_micros, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query,
		rec.UserID,
		rec.Question,
		rec.Subject,
		rec.Solution,
		rec.TokensUsed,
		rec.CostMicros,
		rec.Provider,
		rec.Model,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create request record: %w", err)
	}
	rec.ID = id
	return nil
}

// ListByUser returns a user's records newest first
func (r *RequestRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.RequestRecord, error) {
	query := `
		SELECT id, user_id, question, subject, solution, tokens_used, cost_micros, provider, model, created_at
		FROM request_records
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query request records: %w", err)
	}
	defer rows.Close()

	records := []models.RequestRecord{}
	for rows.Next() {
		var rec models.RequestRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Question,
			&rec.Subject,
			&rec.Solution,
			&rec.TokensUsed,
			&rec.CostMicros,
			&rec.Provider,
			&rec.Model,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan request record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request records: %w", err)
	}
	return records, nil
}

// CountByUser returns how many records a user has
func (r *RequestRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_records WHERE user_id = ?", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count request records: %w", err)
	}
	return n, nil
}
