// Package quota decides whether a user may make another paid call and keeps
// the per-user and system-wide counters that back that decision.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"solvegate/internal/cache"
	"solvegate/internal/database"
	"solvegate/internal/metrics"
	"solvegate/internal/models"
	"solvegate/internal/repository"
)

const dateLayout = "2006-01-02"

var (
	// ErrQuotaExceeded is returned when a free user has used today's allowance
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrSecondaryLimit is returned when the per-user provider-call ceiling is reached
	ErrSecondaryLimit = errors.New("daily call ceiling reached")
	// ErrBudgetExceeded is returned when today's system-wide spend reached the ceiling
	ErrBudgetExceeded = errors.New("global daily budget exceeded")
	// ErrStore wraps account store failures that survived retries
	ErrStore = errors.New("account store unavailable")
)

// UpgradeHint is attached to quota rejections of free users
const UpgradeHint = "Upgrade to premium for unlimited daily solutions."

// Config holds the engine's limits
type Config struct {
	FreeDailyLimit      int
	SecondaryDailyLimit int   // 0 disables
	BudgetMicros        int64 // 0 disables
	CostPer1KTokensUSD  float64
	Location            *time.Location
	StoreRetries        int
	RetryBase           time.Duration
	Endpoint            string
}

// Decision is the outcome of Check
type Decision struct {
	Allowed     bool
	Remaining   int // -1 when unlimited
	Limit       int // 0 when unlimited
	UpgradeHint string
}

// Reservation is one admitted request that has been counted against today
type Reservation struct {
	UserID int64
	Day    string
	Count  int // requests_today after the increment
}

// Engine evaluates and updates quota state
type Engine struct {
	users   *repository.UserRepository
	usage   *repository.UsageRepository
	counter cache.Counter
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over db. A nil counter disables the secondary limit.
func NewEngine(db database.Querier, counter cache.Counter, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if counter == nil {
		counter = cache.Noop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 50 * time.Millisecond
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/solve"
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		users:   repository.NewUserRepository(db),
		usage:   repository.NewUsageRepository(db),
		counter: counter,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time
func (e *Engine) Now() time.Time {
	return e.now()
}

// Today returns the current calendar date in the quota time zone
func (e *Engine) Today() string {
	return e.now().In(e.cfg.Location).Format(dateLayout)
}

// Refresh applies the lazy daily reset to user, in the store and in memory
func (e *Engine) Refresh(ctx context.Context, user *models.User) error {
	today := e.Today()
	if user.LastResetDate == today {
		return nil
	}
	err := e.withRetry(ctx, func(ctx context.Context) error {
		_, err := e.users.ResetDailyIfStale(ctx, user.ID, today)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	user.RequestsToday = 0
	user.LastResetDate = today
	return nil
}

// Check decides admission for a refreshed user without touching the store
func (e *Engine) Check(user *models.User) Decision {
	if user.Tier.IsPremium() {
		return Decision{Allowed: true, Remaining: -1}
	}
	remaining := e.cfg.FreeDailyLimit - user.RequestsToday
	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: 0, Limit: e.cfg.FreeDailyLimit, UpgradeHint: UpgradeHint}
	}
	return Decision{Allowed: true, Remaining: remaining, Limit: e.cfg.FreeDailyLimit}
}

// State returns the caller-facing quota view of a refreshed user
func (e *Engine) State(user *models.User) models.QuotaState {
	d := e.Check(user)
	return models.QuotaState{
		Tier:      user.Tier,
		Used:      user.RequestsToday,
		Limit:     d.Limit,
		Remaining: d.Remaining,
		Unlimited: user.Tier.IsPremium(),
		Date:      e.Today(),
	}
}

// SecondaryKey is the counter cache key for a user's calls on day
func SecondaryKey(userID int64, day string) string {
	return "solvegate:calls:" + strconv.FormatInt(userID, 10) + ":" + day
}

// CheckSecondary enforces the cache-backed per-user call ceiling. Cache
// failures admit the request.
func (e *Engine) CheckSecondary(ctx context.Context, user *models.User) error {
	if e.cfg.SecondaryDailyLimit <= 0 {
		return nil
	}
	n, err := e.counter.Get(ctx, SecondaryKey(user.ID, e.Today()))
	if err != nil {
		e.logger.Warn("counter cache unavailable, secondary limit skipped", "user_id", user.ID, "error", err)
		e.metrics.CacheDegraded("get")
		return nil
	}
	if n >= int64(e.cfg.SecondaryDailyLimit) {
		return ErrSecondaryLimit
	}
	return nil
}

// CheckBudget fails once today's system-wide cost reaches the ceiling
func (e *Engine) CheckBudget(ctx context.Context) error {
	if e.cfg.BudgetMicros <= 0 {
		return nil
	}
	var spent int64
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		spent, err = e.usage.TotalCost(ctx, e.Today())
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if spent >= e.cfg.BudgetMicros {
		return ErrBudgetExceeded
	}
	return nil
}

// Reserve counts one request against today if the user is still under quota.
// The reset, the limit test and the increment are a single statement, so
// concurrent requests cannot push a free user past the limit.
func (e *Engine) Reserve(ctx context.Context, user *models.User) (*Reservation, error) {
	today := e.Today()
	var count int
	err := e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		count, err = e.users.ReserveRequest(ctx, user.ID, today, e.cfg.FreeDailyLimit)
		return err
	})
	if errors.Is(err, repository.ErrReservationRejected) {
		return nil, ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	user.RequestsToday = count
	user.LastResetDate = today
	return &Reservation{UserID: user.ID, Day: today, Count: count}, nil
}

// Release returns a reservation whose provider call failed
func (e *Engine) Release(ctx context.Context, res *Reservation) error {
	err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.users.ReleaseRequest(ctx, res.UserID, res.Day)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// Remaining is the free allowance left after res; -1 for premium users
func (e *Engine) Remaining(user *models.User, res *Reservation) int {
	if user.Tier.IsPremium() {
		return -1
	}
	return max(e.cfg.FreeDailyLimit-res.Count, 0)
}

// Cost converts a token count to micro-USD
func (e *Engine) Cost(tokens int) int64 {
	return int64(math.Round(float64(tokens) * e.cfg.CostPer1KTokensUSD * 1000))
}

// RecordSuccess updates the durable counters for a completed call. q is the
// persistence transaction so the counters commit with the request record.
func (e *Engine) RecordSuccess(ctx context.Context, q database.Querier, res *Reservation, tokens int, costMicros int64) error {
	if err := repository.NewUserRepository(q).IncrementTotal(ctx, res.UserID); err != nil {
		return err
	}
	return repository.NewUsageRepository(q).Add(ctx, res.Day, e.cfg.Endpoint, tokens, costMicros)
}

// NoteCall bumps the secondary counter after a successful provider call
func (e *Engine) NoteCall(ctx context.Context, res *Reservation) {
	if e.cfg.SecondaryDailyLimit <= 0 {
		return
	}
	if _, err := e.counter.Incr(ctx, SecondaryKey(res.UserID, res.Day), 24*time.Hour); err != nil {
		e.logger.Warn("counter cache unavailable, call not counted", "user_id", res.UserID, "error", err)
		e.metrics.CacheDegraded("incr")
	}
}

// Store runs a store operation with the engine's bounded retries. Failures
// that survive the retries wrap ErrStore; permanent errors such as
// repository.ErrNotFound or repository.ErrDuplicate are returned as they are.
func (e *Engine) Store(ctx context.Context, fn func(ctx context.Context) error) error {
	err := e.withRetry(ctx, fn)
	if err == nil || isPermanent(err) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

// withRetry runs fn, retrying store errors up to StoreRetries more times
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(uint64(max(e.cfg.StoreRetries, 0)), retry.NewExponential(e.cfg.RetryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || isPermanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func isPermanent(err error) bool {
	return errors.Is(err, repository.ErrReservationRejected) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrDuplicate) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
