package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"solvegate/internal/cache"
	"solvegate/internal/database"
	"solvegate/internal/models"
	"solvegate/internal/policy"
	"solvegate/internal/provider/mock"
	"solvegate/internal/quota"
	"solvegate/internal/repository"
	"solvegate/internal/security"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []PersistenceAlert
}

func (a *recordingAlerter) PersistenceFailure(_ context.Context, alert PersistenceAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

type envOptions struct {
	quota        quota.Config
	providerOpts []mock.Option
	gateway      GatewayConfig
}

type envOption func(*envOptions)

func withQuota(fn func(*quota.Config)) envOption {
	return func(o *envOptions) { fn(&o.quota) }
}

func withProvider(opts ...mock.Option) envOption {
	return func(o *envOptions) { o.providerOpts = append(o.providerOpts, opts...) }
}

type testEnv struct {
	db          *database.DB
	clock       *fakeClock
	engine      *quota.Engine
	counter     *cache.Memory
	issuer      *security.TokenIssuer
	auth        *AuthService
	gateway     *GatewayService
	entitlement *EntitlementService
	provider    *mock.Provider
	alerter     *recordingAlerter
	users       *repository.UserRepository
	records     *repository.RequestRepository
}

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	o := envOptions{
		quota: quota.Config{
			FreeDailyLimit:     5,
			CostPer1KTokensUSD: 0.002,
			Location:           time.UTC,
			StoreRetries:       1,
			RetryBase:          time.Millisecond,
		},
		gateway: GatewayConfig{
			MaxQuestionChars:     200,
			MaxImageBytes:        1024,
			MaxOutputTokens:      256,
			ProviderTimeout:      time.Second,
			MinAgeWithoutConsent: 13,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background(), nil))

	logger := slog.New(slog.DiscardHandler)
	clock := &fakeClock{t: testStart}
	// tokens are verified against their own clock so store-side expiry can
	// be exercised independently of the signed exp claim
	tokenClock := &fakeClock{t: testStart}
	counter := cache.NewMemory().WithClock(clock.Now)
	t.Cleanup(func() { counter.Close() })

	engine := quota.NewEngine(db, counter, o.quota, logger, quota.WithClock(clock.Now))
	issuer := security.NewTokenIssuer("test-secret").WithClock(tokenClock.Now)
	p := mock.New(o.providerOpts...)
	alerter := &recordingAlerter{}

	return &testEnv{
		db:          db,
		clock:       clock,
		engine:      engine,
		counter:     counter,
		issuer:      issuer,
		auth:        NewAuthService(db, issuer, engine, 30*24*time.Hour, logger),
		gateway:     NewGatewayService(db, engine, policy.Default(), p, alerter, nil, o.gateway, logger),
		entitlement: NewEntitlementService(db, logger),
		provider:    p,
		alerter:     alerter,
		users:       repository.NewUserRepository(db),
		records:     repository.NewRequestRepository(db),
	}
}

// login authenticates deviceID and returns its bearer token
func (e *testEnv) login(t *testing.T, deviceID string) (string, *models.User) {
	t.Helper()
	issued, err := e.auth.Authenticate(context.Background(), deviceID, models.DeviceInfo{Platform: "ios"})
	require.NoError(t, err)
	return issued.Token, issued.User
}

// solve resolves token the way the HTTP middleware does, then calls Solve
func (e *testEnv) solve(t *testing.T, token, question string) (*SolveResult, error) {
	t.Helper()
	user, _, err := e.auth.Resolve(context.Background(), token)
	require.NoError(t, err)
	return e.gateway.Solve(context.Background(), user, SolveInput{Question: question, Subject: "math"})
}

func (e *testEnv) storedUser(t *testing.T, id int64) *models.User {
	t.Helper()
	u, err := e.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

func (e *testEnv) recordCount(t *testing.T, userID int64) int64 {
	t.Helper()
	n, err := e.records.CountByUser(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func requireKind(t *testing.T, err error, kind ErrorKind) *GatewayError {
	t.Helper()
	var gerr *GatewayError
	require.True(t, errors.As(err, &gerr), "expected *GatewayError, got %v", err)
	require.Equal(t, kind, gerr.Kind, "unexpected kind: %v", err)
	return gerr
}
