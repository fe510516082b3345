package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultSweepInterval = 24 * time.Hour
	DefaultSweepTimeout  = 30 * time.Second

	// DefaultPendingGrace keeps freshly staged registrations out of the
	// orphan sweep.
	DefaultPendingGrace = time.Hour
)

// Sweep kinds, also used as metric labels.
const (
	SweepExpiredTokens   = "expired_tokens"
	SweepExpiredOtps     = "expired_otps"
	SweepOrphanedPending = "orphaned_pending_users"
)

// SweepReport counts the rows removed by one sweep.
type SweepReport struct {
	ExpiredTokens   int64
	ExpiredOtps     int64
	OrphanedPending int64
}

// Sweeper removes expired tokens, expired codes and staged registrations
// whose SELF_REG token is gone.
type Sweeper struct {
	repo     RepositoryManager
	interval time.Duration
	timeout  time.Duration
	grace    time.Duration
	now      Clock
	logger   Logger
	metrics  *Metrics
}

// SweeperOption customizes a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the period of RunForever.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepTimeout bounds each delete.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPendingGrace sets how old a staged registration must be before the
// orphan sweep may remove it.
func WithPendingGrace(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.grace = d
		}
	}
}

func WithSweeperClock(now Clock) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSweeperLogger(logger Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSweeperMetrics(m *Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// NewSweeper returns a sweeper over repo.
func NewSweeper(repo RepositoryManager, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:     repo,
		interval: DefaultSweepInterval,
		timeout:  DefaultSweepTimeout,
		grace:    DefaultPendingGrace,
		now:      time.Now,
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// RunOnce runs every delete once. A failing delete does not stop the others;
// their errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		err    error
	)

	now := s.now().UTC()

	jobs := []struct {
		kind string
		dst  *int64
		run  func(ctx context.Context) (int64, error)
	}{
		{SweepExpiredTokens, &report.ExpiredTokens, func(ctx context.Context) (int64, error) {
			return s.repo.Tokens().DeleteExpired(ctx, now)
		}},
		{SweepExpiredOtps, &report.ExpiredOtps, func(ctx context.Context) (int64, error) {
			return s.repo.Otps().DeleteExpired(ctx, now)
		}},
		// after the token delete so registrations whose token just expired go too
		{SweepOrphanedPending, &report.OrphanedPending, func(ctx context.Context) (int64, error) {
			return s.repo.PendingUsers().DeleteOrphaned(ctx, now, now.Add(-s.grace))
		}},
	}

	for _, job := range jobs {
		n, jobErr := s.runJob(ctx, job.kind, job.run)
		*job.dst = n
		err = errors.Join(err, jobErr)
	}

	s.logger.Info("onboarding sweep finished",
		"expired_tokens", report.ExpiredTokens,
		"expired_otps", report.ExpiredOtps,
		"orphaned_pending_users", report.OrphanedPending,
	)

	return report, err
}

func (s *Sweeper) runJob(parent context.Context, kind string, fn func(ctx context.Context) (int64, error)) (int64, error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	n, err := fn(ctx)
	if err != nil {
		s.logger.Warn("sweep job failed", "job", kind, "error", err)
		return 0, fmt.Errorf("%s: %w", kind, err)
	}

	s.metrics.swept(kind, n)
	return n, nil
}

// RunForever sweeps immediately and then on every interval until ctx is
// done.
func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("onboarding sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
