package tokensweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/noteauth/internal/logger"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultRetention = 30 * 24 * time.Hour // Keep expired tokens a while, so reuse of them still reported
)

type tokenStore interface {
	ExpireStale(ctx context.Context, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	// How often to sweep
	Interval time.Duration

	// How long to keep token records after they expired
	Retention time.Duration

	Now func() time.Time
}

// Periodically marks expired refresh tokens and deletes the ones past retention
type Sweeper struct {
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    logger.Logger
	tokens    tokenStore
}

func New(cfg Config, logger logger.Logger, tokens tokenStore) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sweeper{
		interval:  cfg.Interval,
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    logger,
		tokens:    tokens,
	}
}

// Sweep once
func (s *Sweeper) Sweep(ctx context.Context) (expired int64, deleted int64, err error) {
	now := s.now()

	expired, err = s.tokens.ExpireStale(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("error while expiring tokens. Err: %w", err)
	}

	deleted, err = s.tokens.DeleteExpired(ctx, now.Add(-s.retention))
	if err != nil {
		return expired, 0, fmt.Errorf("error while deleting tokens. Err: %w", err)
	}

	return expired, deleted, nil
}

// Start sweeping in background until context canceled
// Returned channel closed when sweeper stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting token sweeper", "interval", s.interval, "retention", s.retention)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Token sweeper stopped by context")
				return

			case <-ticker.C:
				expired, deleted, err := s.Sweep(ctx)
				if err != nil {
					s.logger.Error("Failed to sweep tokens", "error", err)
					continue
				}
				s.logger.Debug("Tokens swept", "expired", expired, "deleted", deleted)
			}
		}
	}()

	return idleStopped
}
