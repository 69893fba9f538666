package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"solvegate/internal/database"
	"solvegate/internal/models"
	"solvegate/internal/quota"
	"solvegate/internal/repository"
	"solvegate/internal/security"
	"solvegate/internal/validation"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already linked to another account")
	ErrAlreadyLinked      = errors.New("account already has credentials")
)

// Issued is the result of a successful authentication
type Issued struct {
	Token   string
	Session *models.Session
	User    *models.User
}

// AuthService handles device authentication and session lifecycle
type AuthService struct {
	userRepo        *repository.UserRepository
	sessionRepo     *repository.SessionRepository
	issuer          *security.TokenIssuer
	quota           *quota.Engine
	sessionDuration time.Duration
	logger          *slog.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(db database.Querier, issuer *security.TokenIssuer, engine *quota.Engine, sessionDuration time.Duration, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:        repository.NewUserRepository(db),
		sessionRepo:     repository.NewSessionRepository(db),
		issuer:          issuer,
		quota:           engine,
		sessionDuration: sessionDuration,
		logger:          logger,
	}
}

// Authenticate finds or creates the user anchored to deviceID and opens a new session
func (s *AuthService) Authenticate(ctx context.Context, deviceID string, device models.DeviceInfo) (*Issued, error) {
	deviceID = strings.TrimSpace(deviceID)
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return nil, err
	}

	user, err := s.userByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if user == nil {
		err = s.quota.Store(ctx, func(ctx context.Context) (err error) {
			user, err = s.userRepo.Create(ctx, deviceID, s.quota.Today())
			return err
		})
		if errors.Is(err, repository.ErrDuplicate) {
			// lost a race with a concurrent first authentication
			user, err = s.userByDevice(ctx, deviceID)
			if err == nil && user == nil {
				err = repository.ErrNotFound
			}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		s.logger.Info("user created", "user_id", user.ID)
	}

	return s.openSession(ctx, user, device)
}

// Login opens a session for the user owning the email/password credential
func (s *AuthService) Login(ctx context.Context, email, password string, device models.DeviceInfo) (*Issued, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user *models.User
	err := s.quota.Store(ctx, func(ctx context.Context) (err error) {
		user, err = s.userRepo.GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !security.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.openSession(ctx, user, device)
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, device models.DeviceInfo) (*Issued, error) {
	if err := s.quota.Refresh(ctx, user); err != nil {
		return nil, err
	}

	now := s.quota.Now().UTC()
	session := &models.Session{
		ID:        security.NewSessionID(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.sessionDuration),
		Device:    device,
		CreatedAt: now,
	}
	err := s.quota.Store(ctx, func(ctx context.Context) error {
		return s.sessionRepo.Create(ctx, session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := s.issuer.Issue(user.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Issued{Token: token, Session: session, User: user}, nil
}

// Resolve maps a bearer token to its user. The stored session is
// authoritative: a verified token whose session is gone or past expiry is
// rejected.
func (s *AuthService) Resolve(ctx context.Context, token string) (*models.User, *models.Session, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, nil, ErrUnauthenticated
	}

	var session *models.Session
	err = s.quota.Store(ctx, func(ctx context.Context) (err error) {
		session, err = s.sessionRepo.Get(ctx, claims.SessionID)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil || session.UserID != claims.UserID || session.IsExpiredAt(s.quota.Now()) {
		return nil, nil, ErrUnauthenticated
	}

	var user *models.User
	err = s.quota.Store(ctx, func(ctx context.Context) (err error) {
		user, err = s.userRepo.GetByID(ctx, session.UserID)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUnauthenticated
	}
	if err := s.quota.Refresh(ctx, user); err != nil {
		return nil, nil, err
	}

	return user, session, nil
}

// Revoke deletes the session so later resolves of its token fail
func (s *AuthService) Revoke(ctx context.Context, sessionID string) error {
	err := s.quota.Store(ctx, func(ctx context.Context) error {
		return s.sessionRepo.Delete(ctx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// RevokeAll deletes every session of the user, signing out all devices
func (s *AuthService) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.quota.Store(ctx, func(ctx context.Context) (err error) {
		n, err = s.sessionRepo.DeleteForUser(ctx, userID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	s.logger.Info("all sessions revoked", "user_id", userID, "count", n)
	return n, nil
}

func (s *AuthService) userByDevice(ctx context.Context, deviceID string) (*models.User, error) {
	var user *models.User
	err := s.quota.Store(ctx, func(ctx context.Context) (err error) {
		user, err = s.userRepo.GetByDeviceID(ctx, deviceID)
		return err
	})
	return user, err
}

// LinkCredentials attaches an email and password to a device-anchored user
func (s *AuthService) LinkCredentials(ctx context.Context, user *models.User, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.ValidateEmail(email); err != nil {
		return err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}
	if user.HasCredentials() {
		return ErrAlreadyLinked
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	err = s.userRepo.SetCredentials(ctx, user.ID, email, hash)
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to link credentials: %w", err)
	}

	user.Email = email
	user.PasswordHash = hash
	s.logger.Info("credentials linked", "user_id", user.ID)
	return nil
}

// CleanupExpiredSessions removes sessions past their expiry
func (s *AuthService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessionRepo.DeleteExpired(ctx, s.quota.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired sessions removed", "count", n)
	}
	return n, nil
}
