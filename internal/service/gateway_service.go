package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"solvegate/internal/database"
	"solvegate/internal/metrics"
	"solvegate/internal/models"
	"solvegate/internal/policy"
	"solvegate/internal/provider"
	"solvegate/internal/quota"
	"solvegate/internal/repository"
	"solvegate/internal/validation"
)

// ErrorKind classifies every way Solve can fail
type ErrorKind int

const (
	KindUnauthenticated ErrorKind = iota + 1
	KindInvalidRequest
	KindPolicyBlocked
	KindQuotaExceeded
	KindBudgetExceeded
	KindUpstreamError
	KindStoreError
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidRequest:
		return "invalid_request"
	case KindPolicyBlocked:
		return "policy_blocked"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindUpstreamError:
		return "upstream_error"
	case KindStoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// GatewayError is the only error type returned by Solve
type GatewayError struct {
	Kind        ErrorKind
	Message     string
	UpgradeHint string
	Err         error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the kind to a response status
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInvalidRequest, KindPolicyBlocked:
		return http.StatusBadRequest
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindBudgetExceeded:
		return http.StatusServiceUnavailable
	case KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine-readable error code sent to clients. Budget
// exhaustion is reported as a generic outage.
func (e *GatewayError) Code() string {
	if e.Kind == KindBudgetExceeded {
		return "service_unavailable"
	}
	return e.Kind.String()
}

// ErrorKindOf returns the kind of a *GatewayError in err's chain, or 0
func ErrorKindOf(err error) ErrorKind {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return 0
}

// SolveInput is one completion request as received from the client
type SolveInput struct {
	Question    string
	Subject     string
	ImageBase64 string
	ImageMime   string
}

// SolveResult is returned for every successful provider call
type SolveResult struct {
	RecordID   int64
	Solution   string
	Remaining  int // -1 when unlimited
	Tokens     int
	CostMicros int64
	Persisted  bool
	Quota      models.QuotaState
}

// HistoryPage is one page of a user's request records
type HistoryPage struct {
	Records []models.RequestRecord `json:"records"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Alerter notifies operators of calls that completed but were not recorded
type Alerter interface {
	PersistenceFailure(ctx context.Context, a PersistenceAlert) error
}

// GatewayConfig holds per-request limits for the gateway
type GatewayConfig struct {
	MaxQuestionChars     int
	MaxImageBytes        int64
	MaxOutputTokens      int
	ProviderTimeout      time.Duration
	SystemPrompt         string
	MinAgeWithoutConsent int
}

// GatewayService runs the admission pipeline and the paid provider call
type GatewayService struct {
	db       *database.DB
	records  *repository.RequestRepository
	users    *repository.UserRepository
	quota    *quota.Engine
	gate     *policy.Gate
	provider provider.Provider
	alerter  Alerter
	metrics  *metrics.Metrics
	cfg      GatewayConfig
	logger   *slog.Logger

	// persist writes the record and counters of a completed call
	persist func(ctx context.Context, rec *models.RequestRecord, res *quota.Reservation) error
}

// NewGatewayService creates a gateway. alerter and m may be nil.
func NewGatewayService(db *database.DB, engine *quota.Engine, gate *policy.Gate, p provider.Provider, alerter Alerter, m *metrics.Metrics, cfg GatewayConfig, logger *slog.Logger) *GatewayService {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = policy.Default()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 60 * time.Second
	}
	cfg.SystemPrompt = provider.SystemPromptOrDefault(cfg.SystemPrompt)

	g := &GatewayService{
		db:       db,
		records:  repository.NewRequestRepository(db),
		users:    repository.NewUserRepository(db),
		quota:    engine,
		gate:     gate,
		provider: p,
		alerter:  alerter,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
	}
	g.persist = g.persistRecord
	return g
}

// Solve admits, executes and records one completion call. Rejections before
// the reservation leave every counter untouched.
func (g *GatewayService) Solve(ctx context.Context, user *models.User, in SolveInput) (*SolveResult, error) {
	result, err := g.solve(ctx, user, in)
	if err != nil {
		g.metrics.SolveOutcome(ErrorKindOf(err).String())
		return nil, err
	}
	g.metrics.SolveOutcome("success")
	return result, nil
}

func (g *GatewayService) solve(ctx context.Context, user *models.User, in SolveInput) (*SolveResult, error) {
	if user == nil {
		return nil, &GatewayError{Kind: KindUnauthenticated, Message: "authentication required"}
	}

	req, err := g.buildRequest(in)
	if err != nil {
		return nil, err
	}

	if verdict := g.gate.Evaluate(in.Question); !verdict.Allowed {
		g.logger.Info("question blocked by content policy", "user_id", user.ID, "pattern", verdict.Pattern)
		return nil, &GatewayError{Kind: KindPolicyBlocked, Message: verdict.Reason}
	}
	if g.needsConsent(user) {
		return nil, &GatewayError{Kind: KindPolicyBlocked, Message: "Parental consent is required for users under " +
			fmt.Sprint(g.cfg.MinAgeWithoutConsent) + "."}
	}

	if err := g.quota.Refresh(ctx, user); err != nil {
		return nil, storeError(err)
	}
	if d := g.quota.Check(user); !d.Allowed {
		return nil, quotaError(user, "You have used all of today's free solutions.")
	}
	if err := g.quota.CheckSecondary(ctx, user); err != nil {
		return nil, quotaError(user, "Daily request ceiling reached. Try again tomorrow.")
	}
	if err := g.quota.CheckBudget(ctx); err != nil {
		if errors.Is(err, quota.ErrBudgetExceeded) {
			g.logger.Warn("global daily budget exhausted", "user_id", user.ID)
			return nil, &GatewayError{Kind: KindBudgetExceeded, Message: "The service is temporarily unavailable. Please try again later.", Err: err}
		}
		return nil, storeError(err)
	}

	res, err := g.quota.Reserve(ctx, user)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		return nil, quotaError(user, "You have used all of today's free solutions.")
	}
	if err != nil {
		return nil, storeError(err)
	}

	// The provider is paid once the call starts; the call and its
	// bookkeeping run to completion even if the client goes away.
	detached := context.WithoutCancel(ctx)
	resp, err := g.callProvider(detached, req)
	if err != nil {
		if rerr := g.quota.Release(detached, res); rerr != nil {
			g.logger.Error("failed to release reservation", "user_id", user.ID, "day", res.Day, "error", rerr)
		}
		user.RequestsToday = max(user.RequestsToday-1, 0)
		g.logger.Warn("provider call failed", "user_id", user.ID, "provider", g.provider.Name(), "error", err)
		return nil, &GatewayError{Kind: KindUpstreamError, Message: "The solver is unavailable right now. You were not charged.", Err: err}
	}

	cost := g.quota.Cost(resp.TokensUsed)
	rec := &models.RequestRecord{
		UserID:     user.ID,
		Question:   in.Question,
		Subject:    req.Subject,
		Solution:   resp.Text,
		TokensUsed: resp.TokensUsed,
		CostMicros: cost,
		Provider:   g.provider.Name(),
		Model:      resp.Model,
	}

	persisted := true
	if err := g.persist(detached, rec, res); err != nil {
		persisted = false
		g.persistenceFailed(detached, rec, res, err)
	} else {
		user.RequestsTotal++
	}
	g.quota.NoteCall(detached, res)
	g.metrics.AddUsage(resp.TokensUsed, cost)

	g.logger.Info("solve completed",
		"user_id", user.ID,
		"record_id", rec.ID,
		"subject", rec.Subject,
		"tokens", rec.TokensUsed,
		"cost_micros", cost,
		"persisted", persisted,
	)

	return &SolveResult{
		RecordID:   rec.ID,
		Solution:   resp.Text,
		Remaining:  g.quota.Remaining(user, res),
		Tokens:     resp.TokensUsed,
		CostMicros: cost,
		Persisted:  persisted,
		Quota:      g.quota.State(user),
	}, nil
}

func (g *GatewayService) buildRequest(in SolveInput) (provider.Request, error) {
	question := strings.TrimSpace(in.Question)
	if err := validation.ValidateQuestion(question, g.cfg.MaxQuestionChars); err != nil {
		return provider.Request{}, invalidRequest(err)
	}
	subject, err := validation.NormalizeSubject(in.Subject)
	if err != nil {
		return provider.Request{}, invalidRequest(err)
	}
	data, mime, err := validation.DecodeImage(in.ImageBase64, in.ImageMime, g.cfg.MaxImageBytes)
	if err != nil {
		return provider.Request{}, invalidRequest(err)
	}

	req := provider.Request{
		SystemPrompt: g.cfg.SystemPrompt,
		Subject:      subject,
		Question:     question,
		MaxTokens:    g.cfg.MaxOutputTokens,
	}
	if data != nil {
		req.Image = &provider.Image{MimeType: mime, Data: data}
	}
	return req, nil
}

func (g *GatewayService) needsConsent(user *models.User) bool {
	return user.DeclaredAge != nil && *user.DeclaredAge < g.cfg.MinAgeWithoutConsent && !user.ParentalConsent
}

func (g *GatewayService) callProvider(ctx context.Context, req provider.Request) (*provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Complete(ctx, req)
	g.metrics.ObserveProvider(g.provider.Name(), err == nil, time.Since(start))
	if err != nil {
		return nil, provider.Wrap(err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", provider.ErrUpstream)
	}
	return resp, nil
}

func (g *GatewayService) persistRecord(ctx context.Context, rec *models.RequestRecord, res *quota.Reservation) error {
	return g.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := repository.NewRequestRepository(tx).Create(ctx, rec); err != nil {
			return err
		}
		return g.quota.RecordSuccess(ctx, tx, res, rec.TokensUsed, rec.CostMicros)
	})
}

func (g *GatewayService) persistenceFailed(ctx context.Context, rec *models.RequestRecord, res *quota.Reservation, err error) {
	rec.ID = 0
	g.metrics.PersistenceFailure()
	g.logger.Error("request record not persisted",
		"user_id", rec.UserID,
		"day", res.Day,
		"subject", rec.Subject,
		"provider", rec.Provider,
		"model", rec.Model,
		"tokens", rec.TokensUsed,
		"cost_micros", rec.CostMicros,
		"error", err,
	)
	if g.alerter == nil {
		return
	}
	alert := PersistenceAlert{
		UserID:     rec.UserID,
		Day:        res.Day,
		Subject:    rec.Subject,
		TokensUsed: rec.TokensUsed,
		CostMicros: rec.CostMicros,
		Provider:   rec.Provider,
		Model:      rec.Model,
		Err:        err,
		At:         g.quota.Now(),
	}
	if aerr := g.alerter.PersistenceFailure(ctx, alert); aerr != nil {
		g.logger.Error("failed to send persistence alert", "user_id", rec.UserID, "error", aerr)
	}
}

// History returns one page of the user's own records, newest first
func (g *GatewayService) History(ctx context.Context, user *models.User, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	offset = max(offset, 0)

	records, err := g.records.ListByUser(ctx, user.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	total, err := g.records.CountByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count history: %w", err)
	}
	return &HistoryPage{Records: records, Total: total, Limit: limit, Offset: offset}, nil
}

// QuotaState reports today's consumption for a resolved user
func (g *GatewayService) QuotaState(user *models.User) models.QuotaState {
	return g.quota.State(user)
}

// UpdateProfile stores the declared age and parental consent flag; nil
// fields are left unchanged.
func (g *GatewayService) UpdateProfile(ctx context.Context, user *models.User, declaredAge *int, parentalConsent *bool) (*models.User, error) {
	if declaredAge != nil {
		if err := validation.ValidateAge(*declaredAge); err != nil {
			return nil, err
		}
	}
	if err := g.users.SetProfile(ctx, user.ID, declaredAge, parentalConsent); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	updated, err := g.users.GetByID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	if updated == nil {
		return nil, ErrUserNotFound
	}
	return updated, nil
}

func invalidRequest(err error) error {
	var ve validation.ValidationError
	msg := err.Error()
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	return &GatewayError{Kind: KindInvalidRequest, Message: msg, Err: err}
}

func quotaError(user *models.User, msg string) error {
	gerr := &GatewayError{Kind: KindQuotaExceeded, Message: msg}
	if !user.Tier.IsPremium() {
		gerr.UpgradeHint = quota.UpgradeHint
	}
	return gerr
}

func storeError(err error) error {
	return &GatewayError{Kind: KindStoreError, Message: "Temporary storage problem. Please retry.", Err: err}
}
