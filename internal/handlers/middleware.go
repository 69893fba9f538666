package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solvegate/internal/metrics"
	"solvegate/internal/models"
	"solvegate/internal/security"
	"solvegate/internal/service"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	UserContextKey    ContextKey = "user"
	SessionContextKey ContextKey = "session"
)

// Middleware holds dependencies for middleware functions
type Middleware struct {
	authService *service.AuthService
	metrics     *metrics.Metrics
	logger      *slog.Logger
	trustProxy  bool
	adminToken  string
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(authService *service.AuthService, m *metrics.Metrics, logger *slog.Logger, trustProxy bool, adminToken string) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		authService: authService,
		metrics:     m,
		logger:      logger,
		trustProxy:  trustProxy,
		adminToken:  adminToken,
	}
}

// RequireAuth resolves the bearer token and puts the user and session in the context
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			respondWithError(w, http.StatusUnauthorized, CodeUnauthenticated, ErrUnauthorized, "", nil)
			return
		}

		user, session, err := m.authService.Resolve(r.Context(), token)
		if errors.Is(err, service.ErrUnauthenticated) {
			respondWithError(w, http.StatusUnauthorized, CodeUnauthenticated, "Session is invalid or expired", "", nil)
			return
		}
		if err != nil {
			respondServiceError(w, "failed to resolve session", err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, SessionContextKey, session)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin checks the X-Admin-Token header. Without a configured token
// the route answers 404.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.adminToken == "" {
			http.NotFound(w, r)
			return
		}
		got := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(m.adminToken)) != 1 {
			m.logger.Warn("admin token rejected", "path", r.URL.Path, "client", security.GetClientIP(r, m.trustProxy))
			respondWithError(w, http.StatusForbidden, CodeForbidden, "Forbidden", "", nil)
			return
		}
		next(w, r)
	}
}

// RateLimit rejects clients that exhausted limiter with 429 and Retry-After
func (m *Middleware) RateLimit(limiter *security.RateLimiter, name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := security.GetClientIP(r, m.trustProxy)
		allowed, retryAfter := limiter.Allow(ip)
		if !allowed {
			m.metrics.RateLimited(name)
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(retryAfter.Seconds())))))
			respondWithError(w, http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Please slow down.", "", nil)
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Logging logs each request and records it in the HTTP metrics
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.metrics.ObserveHTTP(route, rec.status, elapsed)
		m.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
			"client", security.GetClientIP(r, m.trustProxy),
		)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get(AuthorizationHeader)
	if len(h) <= len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(bearerPrefix):])
	return token, token != ""
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetSessionFromContext retrieves the session from the request context
func GetSessionFromContext(ctx context.Context) *models.Session {
	session, ok := ctx.Value(SessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return session
}
