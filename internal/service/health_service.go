package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"solvegate/internal/cache"
)

const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// Pinger is anything that can report its own reachability
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthReport is the result of one probe round
type HealthReport struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Cache  string `json:"cache"`
}

// HealthService probes the account store and the counter cache
type HealthService struct {
	store   Pinger
	counter cache.Counter
	timeout time.Duration
}

// NewHealthService creates a health service
func NewHealthService(store Pinger, counter cache.Counter, timeout time.Duration) *HealthService {
	if counter == nil {
		counter = cache.Noop{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthService{store: store, counter: counter, timeout: timeout}
}

// Check probes both dependencies concurrently. An unreachable store makes the
// gateway unavailable; an unreachable cache only degrades it.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := HealthReport{Store: StatusOK, Cache: StatusOK}
	var g errgroup.Group
	g.Go(func() error {
		if err := s.store.PingContext(ctx); err != nil {
			report.Store = StatusUnavailable
		}
		return nil
	})
	g.Go(func() error {
		if err := s.counter.Ping(ctx); err != nil {
			report.Cache = StatusUnavailable
		}
		return nil
	})
	_ = g.Wait()

	switch {
	case report.Store != StatusOK:
		report.Status = StatusUnavailable
	case report.Cache != StatusOK:
		report.Status = StatusDegraded
	default:
		report.Status = StatusOK
	}
	return report
}
