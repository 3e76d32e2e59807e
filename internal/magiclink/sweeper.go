package magiclink

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 30 * time.Minute

// Sweeper periodically deletes expired, unconsumed tokens. Claim-time expiry
// checks remain the correctness mechanism; the sweep only reclaims rows that
// would otherwise accumulate forever.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper constructs a sweeper over the given store.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until the context is cancelled.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.store.DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn("token sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				s.logger.Info("expired tokens removed", zap.Int64("count", deleted))
			}
		}
	}
}
