package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solvegate/internal/cache"
	"solvegate/internal/models"
)

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

type downCounter struct{ cache.Noop }

func (downCounter) Ping(context.Context) error { return errors.New("dial tcp: connection refused") }

func TestAlertServiceDisabled(t *testing.T) {
	svc, err := NewAlertService(context.Background(), "us-east-1", "", "ops@example.com", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.False(t, svc.IsEnabled())
	assert.NoError(t, svc.PersistenceFailure(context.Background(), PersistenceAlert{UserID: 1}))

	var nilSvc *AlertService
	assert.False(t, nilSvc.IsEnabled())
}

func TestAlertServiceSendsPersistenceFailure(t *testing.T) {
	ses := &fakeSES{}
	svc := newAlertService(ses, "gateway@example.com", splitAddresses("ops@example.com, oncall@example.com"), slog.New(slog.DiscardHandler))

	err := svc.PersistenceFailure(context.Background(), PersistenceAlert{
		UserID:     42,
		Day:        "2026-03-10",
		Subject:    "math",
		TokensUsed: 120,
		CostMicros: 240,
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		Err:        errors.New("database is locked"),
		At:         testStart,
	})
	require.NoError(t, err)
	require.Len(t, ses.inputs, 1)

	in := ses.inputs[0]
	assert.Equal(t, "gateway@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, in.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(in.Content.Simple.Subject.Data), "user 42")
	body := aws.ToString(in.Content.Simple.Body.Text.Data)
	assert.Contains(t, body, "tokens_used: 120")
	assert.Contains(t, body, "database is locked")

	ses.err = errors.New("throttled")
	assert.Error(t, svc.PersistenceFailure(context.Background(), PersistenceAlert{UserID: 42}))
}

func TestHealthService(t *testing.T) {
	env := newTestEnv(t)

	report := NewHealthService(env.db, env.counter, time.Second).Check(context.Background())
	assert.Equal(t, HealthReport{Status: StatusOK, Store: StatusOK, Cache: StatusOK}, report)

	report = NewHealthService(env.db, downCounter{}, time.Second).Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUnavailable, report.Cache)

	report = NewHealthService(failingPinger{}, nil, time.Second).Check(context.Background())
	assert.Equal(t, StatusUnavailable, report.Status)
	assert.Equal(t, StatusOK, report.Cache)
}

func TestSetEntitlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, user := env.login(t, "dev-A")

	updated, err := env.entitlement.SetEntitlement(ctx, user.ID, "PREMIUM")
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, updated.Tier)

	updated, err = env.entitlement.SetEntitlement(ctx, user.ID, models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, updated.Tier)

	_, err = env.entitlement.SetEntitlement(ctx, 9999, models.TierPremium)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = env.entitlement.SetEntitlement(ctx, user.ID, "gold")
	assert.Error(t, err)
}
