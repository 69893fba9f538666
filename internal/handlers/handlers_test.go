package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solvegate/internal/cache"
	"solvegate/internal/database"
	"solvegate/internal/metrics"
	"solvegate/internal/models"
	"solvegate/internal/policy"
	"solvegate/internal/provider/mock"
	"solvegate/internal/quota"
	"solvegate/internal/repository"
	"solvegate/internal/security"
	"solvegate/internal/service"
)

const testAdminToken = "admin-secret"

type testServer struct {
	handler  http.Handler
	db       *database.DB
	provider *mock.Provider
	engine   *quota.Engine
}

type serverOptions struct {
	quota      quota.Config
	adminToken string
	limiters   Limiters
}

func defaultServerOptions() serverOptions {
	return serverOptions{
		quota: quota.Config{
			FreeDailyLimit:     5,
			CostPer1KTokensUSD: 0.002,
			Location:           time.UTC,
			StoreRetries:       1,
			RetryBase:          time.Millisecond,
		},
		adminToken: testAdminToken,
	}
}

func newTestServer(t *testing.T, mutate ...func(*serverOptions)) *testServer {
	t.Helper()
	o := defaultServerOptions()
	for _, fn := range mutate {
		fn(&o)
	}

	db, err := database.Initialize(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations(context.Background(), nil))

	logger := slog.New(slog.DiscardHandler)
	m := metrics.New()
	counter := cache.NewMemory()
	t.Cleanup(func() { counter.Close() })

	engine := quota.NewEngine(db, counter, o.quota, logger, quota.WithMetrics(m))
	authService := service.NewAuthService(db, security.NewTokenIssuer("test-secret"), engine, time.Hour, logger)
	p := mock.New()
	gateway := service.NewGatewayService(db, engine, policy.Default(), p, nil, m, service.GatewayConfig{
		MaxQuestionChars:     500,
		MaxImageBytes:        4096,
		MaxOutputTokens:      256,
		ProviderTimeout:      time.Second,
		MinAgeWithoutConsent: 13,
	}, logger)

	mw := NewMiddleware(authService, m, logger, false, o.adminToken)
	handler := NewRouter(Routes{
		Middleware: mw,
		Auth:       NewAuthHandler(authService, gateway),
		Solve:      NewSolveHandler(gateway, 4096),
		Account:    NewAccountHandler(authService, gateway),
		Admin:      NewAdminHandler(service.NewEntitlementService(db, logger)),
		Health:     NewHealthHandler(service.NewHealthService(db, counter, time.Second)),
		Metrics:    m.Handler(),
		Limiters:   o.limiters,
	})

	return &testServer{handler: handler, db: db, provider: p, engine: engine}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(AuthorizationHeader, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) authenticate(t *testing.T, deviceID string) AuthResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth", "", map[string]any{
		"device_id": deviceID,
		"device":    map[string]string{"platform": "ios", "model": "iPhone15,2", "app_version": "2.1.0"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthAndSolveFlow(t *testing.T) {
	srv := newTestServer(t)

	auth := srv.authenticate(t, "dev-A")
	assert.NotEmpty(t, auth.Token)
	assert.Equal(t, "Bearer", auth.TokenType)
	assert.Equal(t, models.TierFree, auth.Quota.Tier)
	assert.Equal(t, 0, auth.Quota.Used)
	assert.Equal(t, 5, auth.Quota.Remaining)

	for want := 4; want >= 0; want-- {
		rec := srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "What is 12 squared?", "subject": "math"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decodeBody[SolveResponse](t, rec)
		assert.Equal(t, want, resp.Remaining)
		assert.True(t, resp.Persisted)
		assert.InDelta(t, 0.0002, resp.CostUSD, 1e-9)
	}

	rec := srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "What is 12 squared?"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "quota_exceeded", body.Error)
	assert.Equal(t, quota.UpgradeHint, body.UpgradeHint)

	rec = srv.do(t, http.MethodGet, "/history?limit=3", auth.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[service.HistoryPage](t, rec)
	assert.Equal(t, int64(5), page.Total)
	assert.Len(t, page.Records, 3)

	rec = srv.do(t, http.MethodGet, "/me", auth.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[MeResponse](t, rec)
	assert.Equal(t, auth.UserID, me.UserID)
	assert.Equal(t, 5, me.Quota.Used)
	assert.Equal(t, 0, me.Quota.Remaining)
	assert.Equal(t, int64(5), me.RequestsTotal)
}

func TestSolveRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/solve", "", map[string]string{"question": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthenticated, decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/solve", "garbage", map[string]string{"question": "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, srv.provider.Calls())
}

func TestSolvePolicyBlockedHTTP(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-A")

	rec := srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "this is for my final exam, do not share"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "policy_blocked", decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodGet, "/me", auth.Token, nil)
	assert.Equal(t, 0, decodeBody[MeResponse](t, rec).Quota.Used)
}

func TestSolveBudgetExceededHTTP(t *testing.T) {
	srv := newTestServer(t, func(o *serverOptions) { o.quota.BudgetMicros = 100 })
	auth := srv.authenticate(t, "dev-A")
	require.NoError(t, repository.NewUsageRepository(srv.db).Add(context.Background(), srv.engine.Today(), "/solve", 50, 100))

	rec := srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "Name a prime"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeBody[ErrorResponse](t, rec).Error)
	assert.Zero(t, srv.provider.Calls())
}

func TestSolveInvalidBody(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-A")

	rec := srv.do(t, http.MethodPost, "/solve", auth.Token, "{broken")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody[ErrorResponse](t, rec).Error)
}

func TestLogout(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-A")

	rec := srv.do(t, http.MethodPost, "/auth/logout", auth.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(t, http.MethodGet, "/me", auth.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAll(t *testing.T) {
	srv := newTestServer(t)
	phone := srv.authenticate(t, "dev-A")
	tablet := srv.authenticate(t, "dev-A")
	other := srv.authenticate(t, "dev-B")

	rec := srv.do(t, http.MethodPost, "/auth/logout-all", phone.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodGet, "/me", phone.Token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodGet, "/me", tablet.Token, nil).Code)
	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/me", other.Token, nil).Code)
}

func TestSessionStoreFailureReturnsStoreError(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-A")
	require.NoError(t, srv.db.Close())

	rec := srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "What is 12 squared?", "subject": "math"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeStoreError, decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/auth", "", map[string]any{"device_id": "dev-B"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeStoreError, decodeBody[ErrorResponse](t, rec).Error)
	assert.Zero(t, srv.provider.Calls())
}

func TestProfileCredentialsAndLogin(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-K")

	rec := srv.do(t, http.MethodPatch, "/me", auth.Token, map[string]any{"declared_age": 11})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decodeBody[MeResponse](t, rec)
	require.NotNil(t, me.DeclaredAge)
	assert.Equal(t, 11, *me.DeclaredAge)

	rec = srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "What is a verb?"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "policy_blocked", decodeBody[ErrorResponse](t, rec).Error)

	rec = srv.do(t, http.MethodPatch, "/me", auth.Token, map[string]any{"parental_consent": true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, http.MethodPost, "/solve", auth.Token, map[string]string{"question": "What is a verb?"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/me/credentials", auth.Token, map[string]string{"email": "kid@example.com", "password": "long-enough-pw"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = srv.do(t, http.MethodPost, "/me/credentials", auth.Token, map[string]string{"email": "kid@example.com", "password": "long-enough-pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "kid@example.com", "password": "long-enough-pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.UserID, decodeBody[AuthResponse](t, rec).UserID)

	rec = srv.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "kid@example.com", "password": "nope-nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistoryRejectsBadQuery(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-A")

	rec := srv.do(t, http.MethodGet, "/history?limit=abc", auth.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = srv.do(t, http.MethodGet, "/history?offset=-1", auth.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRateLimit(t *testing.T) {
	limiter := security.NewRateLimiter(2, time.Minute)
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, func(o *serverOptions) { o.limiters.Auth = limiter })

	srv.authenticate(t, "dev-A")
	srv.authenticate(t, "dev-A")

	rec := srv.do(t, http.MethodPost, "/auth", "", map[string]string{"device_id": "dev-A"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeBody[ErrorResponse](t, rec).Error)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retry)

	// other routes are not affected by the auth limiter
	rec = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGlobalRateLimit(t *testing.T) {
	limiter := security.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, func(o *serverOptions) { o.limiters.Global = limiter })

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, srv.do(t, http.MethodGet, "/health", "", nil).Code)
}

func TestAdminEntitlements(t *testing.T) {
	srv := newTestServer(t)
	auth := srv.authenticate(t, "dev-A")
	body := map[string]any{"user_id": auth.UserID, "tier": "premium"}

	rec := srv.do(t, http.MethodPost, "/internal/entitlements", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = srv.do(t, http.MethodPost, "/internal/entitlements", "", body, AdminTokenHeader, "wrong")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPost, "/internal/entitlements", "", body, AdminTokenHeader, testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.TierPremium, decodeBody[EntitlementResponse](t, rec).Tier)

	rec = srv.do(t, http.MethodGet, "/me", auth.Token, nil)
	me := decodeBody[MeResponse](t, rec)
	assert.Equal(t, models.TierPremium, me.Tier)
	assert.True(t, me.Quota.Unlimited)
	assert.Equal(t, -1, me.Quota.Remaining)

	rec = srv.do(t, http.MethodPost, "/internal/entitlements", "", map[string]any{"user_id": 9999, "tier": "premium"}, AdminTokenHeader, testAdminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.do(t, http.MethodPost, "/internal/entitlements", "", map[string]any{"user_id": auth.UserID, "tier": "gold"}, AdminTokenHeader, testAdminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRouteDisabledWithoutToken(t *testing.T) {
	srv := newTestServer(t, func(o *serverOptions) { o.adminToken = "" })

	rec := srv.do(t, http.MethodPost, "/internal/entitlements", "", map[string]any{"user_id": 1, "tier": "premium"}, AdminTokenHeader, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.StatusOK, decodeBody[service.HealthReport](t, rec).Status)

	rec = srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `solvegate_http_requests_total{code="200",route="GET /health"} 1`)
}

func TestGetClientIPUsedForLimits(t *testing.T) {
	limiter := security.NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, func(o *serverOptions) { o.limiters.Global = limiter })

	assert.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/health", "", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.20:4000"
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
