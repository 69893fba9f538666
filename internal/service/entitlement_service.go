package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"solvegate/internal/database"
	"solvegate/internal/models"
	"solvegate/internal/repository"
)

var ErrUserNotFound = errors.New("user not found")

// EntitlementService records tier changes coming from the purchase flow
type EntitlementService struct {
	userRepo *repository.UserRepository
	logger   *slog.Logger
}

// NewEntitlementService creates a new entitlement service
func NewEntitlementService(db database.Querier, logger *slog.Logger) *EntitlementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementService{
		userRepo: repository.NewUserRepository(db),
		logger:   logger,
	}
}

// SetEntitlement changes a user's tier. Quota checks read the tier on every
// request, so the change applies to the user's next call.
func (s *EntitlementService) SetEntitlement(ctx context.Context, userID int64, tier models.Tier) (*models.User, error) {
	tier, err := models.ParseTier(string(tier))
	if err != nil {
		return nil, err
	}

	err = s.userRepo.SetTier(ctx, userID, tier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set tier: %w", err)
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	s.logger.Info("entitlement updated", "user_id", userID, "tier", tier)
	return user, nil
}
