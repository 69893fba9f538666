package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"solvegate/internal/database"
	"solvegate/internal/models"
)

const userColumns = `
	id, device_id, email, password_hash, tier, requests_today, requests_total,
	last_reset_date, declared_age, parental_consent, created_at, updated_at
`

// UserRepository handles database operations for users
type UserRepository struct {
	db database.Querier
}

// NewUserRepository creates a new user repository. Passing a *database.Tx
// makes every call join that transaction.
func NewUserRepository(db database.Querier) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user         models.User
		email        sql.NullString
		passwordHash sql.NullString
		tier         string
		declaredAge  sql.NullInt64
	)
	err := row.Scan(
		&user.ID,
		&user.DeviceID,
		&email,
		&passwordHash,
		&tier,
		&user.RequestsToday,
		&user.RequestsTotal,
		&user.LastResetDate,
		&declaredAge,
		&user.ParentalConsent,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Email = email.String
	user.PasswordHash = passwordHash.String
	user.Tier = models.Tier(tier)
	if declaredAge.Valid {
		age := int(declaredAge.Int64)
		user.DeclaredAge = &age
	}
	return &user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + where
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID; nil when absent
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByDeviceID retrieves a user by device fingerprint; nil when absent
func (r *UserRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.User, error) {
	return r.getOne(ctx, "device_id = ?", deviceID)
}

// GetByEmail retrieves a user by linked email; nil when absent
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email = ?", email)
}

// Create inserts a free-tier user for deviceID whose quota day starts at today.
// Returns ErrDuplicate if the device is already registered.
func (r *UserRepository) Create(ctx context.Context, deviceID, today string) (*models.User, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO users (device_id, tier, requests_today, requests_total, last_reset_date, parental_consent, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, deviceID, string(models.TierFree), today, false, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("device %s: %w", deviceID, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &models.User{
		ID:            id,
		DeviceID:      deviceID,
		Tier:          models.TierFree,
		LastResetDate: today,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ResetDailyIfStale zeroes requests_today when the stored reset date is not today.
// Reports whether a reset happened.
func (r *UserRepository) ResetDailyIfStale(ctx context.Context, userID int64, today string) (bool, error) {
	query := `
		UPDATE users
		SET requests_today = 0, last_reset_date = ?, updated_at = ?
		WHERE id = ? AND last_reset_date <> ?
	`
	result, err := r.db.ExecContext(ctx, query, today, time.Now().UTC(), userID, today)
	if err != nil {
		return false, fmt.Errorf("failed to reset daily counter: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to reset daily counter: %w", err)
	}
	return n > 0, nil
}

// ReserveRequest atomically applies the lazy daily reset and increments
// requests_today, but only while a free user is below freeLimit. Premium
// users always pass. Returns the new requests_today, or
// ErrReservationRejected when the condition failed.
func (r *UserRepository) ReserveRequest(ctx context.Context, userID int64, today string, freeLimit int) (int, error) {
	query := `
		UPDATE users
		SET requests_today = CASE WHEN last_reset_date = ? THEN requests_today + 1 ELSE 1 END,
			last_reset_date = ?,
			updated_at = ?
		WHERE id = ? AND (tier = ? OR last_reset_date <> ? OR requests_today < ?)
	`
	args := []any{today, today, time.Now().UTC(), userID, string(models.TierPremium), today, freeLimit}

	if r.db.GetDialect().SupportsReturning() {
		var count int
		err := r.db.QueryRowContext(ctx, query+" RETURNING requests_today", args...).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrReservationRejected
		}
		if err != nil {
			return 0, fmt.Errorf("failed to reserve request: %w", err)
		}
		return count, nil
	}

	var count int
	err := database.InTx(ctx, r.db, func(q database.Querier) error {
		result, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrReservationRejected
		}
		return q.QueryRowContext(ctx, "SELECT requests_today FROM users WHERE id = ?", userID).Scan(&count)
	})
	if errors.Is(err, ErrReservationRejected) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to reserve request: %w", err)
	}
	return count, nil
}

// ReleaseRequest undoes one reservation made on today. It never drops the
// counter below zero and is a no-op after the day has rolled over.
func (r *UserRepository) ReleaseRequest(ctx context.Context, userID int64, today string) error {
	query := `
		UPDATE users
		SET requests_today = requests_today - 1, updated_at = ?
		WHERE id = ? AND last_reset_date = ? AND requests_today > 0
	`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID, today); err != nil {
		return fmt.Errorf("failed to release request: %w", err)
	}
	return nil
}

// IncrementTotal bumps the all-time request counter
func (r *UserRepository) IncrementTotal(ctx context.Context, userID int64) error {
	query := "UPDATE users SET requests_total = requests_total + 1, updated_at = ? WHERE id = ?"
	return r.updateOne(ctx, "increment total", query, time.Now().UTC(), userID)
}

// SetTier changes a user's entitlement
func (r *UserRepository) SetTier(ctx context.Context, userID int64, tier models.Tier) error {
	query := "UPDATE users SET tier = ?, updated_at = ? WHERE id = ?"
	return r.updateOne(ctx, "set tier", query, string(tier), time.Now().UTC(), userID)
}

// SetCredentials links an email and password hash to the user
func (r *UserRepository) SetCredentials(ctx context.Context, userID int64, email, passwordHash string) error {
	query := "UPDATE users SET email = ?, password_hash = ?, updated_at = ? WHERE id = ?"
	err := r.updateOne(ctx, "set credentials", query, email, passwordHash, time.Now().UTC(), userID)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", email, ErrDuplicate)
	}
	return err
}

// SetProfile updates the declared age and parental consent. Nil fields are left unchanged.
func (r *UserRepository) SetProfile(ctx context.Context, userID int64, declaredAge *int, parentalConsent *bool) error {
	var age sql.NullInt64
	if declaredAge != nil {
		age = sql.NullInt64{Int64: int64(*declaredAge), Valid: true}
	}
	var consent sql.NullBool
	if parentalConsent != nil {
		consent = sql.NullBool{Bool: *parentalConsent, Valid: true}
	}
	query := `
		UPDATE users
		SET declared_age = COALESCE(?, declared_age),
			parental_consent = COALESCE(?, parental_consent),
			updated_at = ?
		WHERE id = ?
	`
	return r.updateOne(ctx, "set profile", query, age, consent, time.Now().UTC(), userID)
}

func (r *UserRepository) updateOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the number of registered users
func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
