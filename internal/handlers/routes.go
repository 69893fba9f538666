package handlers

import (
	"net/http"

	"solvegate/internal/security"
)

// Limiters are the per-client rate limiters; a nil limiter is skipped
type Limiters struct {
	Global *security.RateLimiter
	Auth   *security.RateLimiter
	Solve  *security.RateLimiter
}

// Routes bundles everything the gateway mux serves
type Routes struct {
	Middleware *Middleware
	Auth       *AuthHandler
	Solve      *SolveHandler
	Account    *AccountHandler
	Admin      *AdminHandler
	Health     *HealthHandler
	Metrics    http.Handler
	Limiters   Limiters
}

// NewRouter builds the gateway handler. Rate limits run before identity
// resolution; request logging wraps everything.
func NewRouter(rt Routes) http.Handler {
	m := rt.Middleware
	limit := func(l *security.RateLimiter, name string, next http.HandlerFunc) http.HandlerFunc {
		if l == nil {
			return next
		}
		return m.RateLimit(l, name, next)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth", limit(rt.Limiters.Auth, "auth", rt.Auth.Authenticate))
	mux.HandleFunc("POST /auth/login", limit(rt.Limiters.Auth, "auth", rt.Auth.Login))
	mux.HandleFunc("POST /auth/logout", m.RequireAuth(rt.Auth.Logout))
	mux.HandleFunc("POST /auth/logout-all", m.RequireAuth(rt.Auth.LogoutAll))

	mux.HandleFunc("POST /solve", limit(rt.Limiters.Solve, "solve", m.RequireAuth(rt.Solve.Solve)))

	mux.HandleFunc("GET /me", m.RequireAuth(rt.Account.Me))
	mux.HandleFunc("PATCH /me", m.RequireAuth(rt.Account.UpdateProfile))
	mux.HandleFunc("POST /me/credentials", limit(rt.Limiters.Auth, "auth", m.RequireAuth(rt.Account.LinkCredentials)))
	mux.HandleFunc("GET /history", m.RequireAuth(rt.Account.History))

	mux.HandleFunc("GET /health", rt.Health.Health)
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	mux.HandleFunc("POST /internal/entitlements", m.RequireAdmin(rt.Admin.SetEntitlement))

	return m.Logging(limit(rt.Limiters.Global, "global", mux.ServeHTTP))
}
