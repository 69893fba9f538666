package repository

import (
	"context"
	"fmt"
	"time"

	"solvegate/internal/database"
	"solvegate/internal/models"
)

// UsageRepository maintains the system-wide daily usage aggregate
type UsageRepository struct {
	db database.Querier
}

func NewUsageRepository(db database.Querier) *UsageRepository {
	return &UsageRepository{db: db}
}

// Add records one call against (day, endpoint)
func (r *UsageRepository) Add(ctx context.Context, day, endpoint string, tokens int, costMicros int64) error {
	query := r.db.GetDialect().UpsertDailyUsageQuery()
	if _, err := r.db.ExecContext(ctx, query, day, endpoint, tokens, costMicros, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add daily usage: %w", err)
	}
	return nil
}

// TotalCost sums cost across all endpoints for day
func (r *UsageRepository) TotalCost(ctx context.Context, day string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(cost_micros), 0) FROM daily_usage WHERE day = ?", day).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum daily cost: %w", err)
	}
	return total, nil
}

// ListDay returns the aggregate rows for day ordered by endpoint
func (r *UsageRepository) ListDay(ctx context.Context, day string) ([]models.DailyUsage, error) {
	query := `
		SELECT day, endpoint, calls, tokens, cost_micros, updated_at
		FROM daily_usage
		WHERE day = ?
		ORDER BY endpoint
	`
	rows, err := r.db.QueryContext(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var usage []models.DailyUsage
	for rows.Next() {
		var u models.DailyUsage
		if err := rows.Scan(&u.Day, &u.Endpoint, &u.Calls, &u.Tokens, &u.CostMicros, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
