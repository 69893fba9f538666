package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"solvegate/internal/cache"
	"solvegate/internal/config"
	"solvegate/internal/database"
	"solvegate/internal/handlers"
	"solvegate/internal/metrics"
	"solvegate/internal/models"
	"solvegate/internal/policy"
	"solvegate/internal/quota"
	"solvegate/internal/security"
	"solvegate/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Initialize database with config (supports sqlite, postgres, mysql)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connection established", "type", db.Dialect.Name())

	if err := db.RunMigrations(ctx, logger); err != nil {
		return err
	}

	counter, err := cache.New(cache.Options{
		Driver:        cfg.CacheDriver,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer counter.Close()
	if err := counter.Ping(ctx); err != nil {
		logger.Warn("counter cache unreachable, secondary limit degraded", "driver", cfg.CacheDriver, "error", err)
	}

	gate, err := policy.Load(cfg.ContentPolicyFile)
	if err != nil {
		return err
	}

	completion, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("completion provider configured", "provider", completion.Name())

	alerts, err := service.NewAlertService(ctx, cfg.AWSRegion, cfg.AlertEmailFrom, cfg.AlertEmailTo, logger)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	m := metrics.New()
	engine := quota.NewEngine(db, counter, quota.Config{
		FreeDailyLimit:      cfg.FreeDailyLimit,
		SecondaryDailyLimit: cfg.SecondaryDailyLimit,
		BudgetMicros:        models.USDToMicros(cfg.GlobalDailyBudgetUSD),
		CostPer1KTokensUSD:  cfg.CostPer1KTokensUSD,
		Location:            loc,
		StoreRetries:        cfg.StoreRetries,
	}, logger, quota.WithMetrics(m))

	// Initialize services
	authService := service.NewAuthService(db, security.NewTokenIssuer(cfg.SessionSecret), engine, cfg.SessionDuration, logger)
	gateway := service.NewGatewayService(db, engine, gate, completion, alerts, m, service.GatewayConfig{
		MaxQuestionChars:     cfg.MaxQuestionChars,
		MaxImageBytes:        cfg.MaxImageBytes,
		MaxOutputTokens:      cfg.MaxOutputTokens,
		ProviderTimeout:      cfg.ProviderTimeout,
		SystemPrompt:         cfg.SystemPrompt,
		MinAgeWithoutConsent: cfg.MinAgeWithoutConsent,
	}, logger)
	entitlements := service.NewEntitlementService(db, logger)
	health := service.NewHealthService(db, counter, 2*time.Second)

	limiters := handlers.Limiters{
		Global: security.NewRateLimiter(cfg.RateLimitGlobal, cfg.RateLimitWindow),
		Auth:   security.NewRateLimiter(cfg.RateLimitAuth, cfg.RateLimitWindow),
		Solve:  security.NewRateLimiter(cfg.RateLimitSolve, cfg.RateLimitWindow),
	}
	defer limiters.Global.Stop()
	defer limiters.Auth.Stop()
	defer limiters.Solve.Stop()

	// Initialize handlers
	middleware := handlers.NewMiddleware(authService, m, logger, cfg.TrustProxyHeaders, cfg.AdminToken)
	handler := handlers.NewRouter(handlers.Routes{
		Middleware: middleware,
		Auth:       handlers.NewAuthHandler(authService, gateway),
		Solve:      handlers.NewSolveHandler(gateway, cfg.MaxImageBytes),
		Account:    handlers.NewAccountHandler(authService, gateway),
		Admin:      handlers.NewAdminHandler(entitlements),
		Health:     handlers.NewHealthHandler(health),
		Metrics:    m.Handler(),
		Limiters:   limiters,
	})
	if cfg.AdminToken == "" {
		logger.Info("admin routes disabled: ADMIN_TOKEN not configured")
	}

	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// provider calls may take up to PROVIDER_TIMEOUT
		WriteTimeout: cfg.ProviderTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "addr", addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		cleanupExpiredSessions(ctx, authService, logger)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanupExpiredSessions periodically removes expired sessions until ctx ends
func cleanupExpiredSessions(ctx context.Context, authService *service.AuthService, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := authService.CleanupExpiredSessions(ctx); err != nil {
				logger.Error("error cleaning up expired sessions", "error", err)
			}
		}
	}
}
