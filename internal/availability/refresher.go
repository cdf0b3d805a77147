package availability

import (
	"context"
	"time"

	"courtside/internal/metrics"
	"courtside/internal/models"
)

// StartRefresher polls every tracked (vendorID, date) pair on a fixed
// interval until ctx is cancelled. Errors are swallowed: the cache keeps
// serving the last snapshot and the next tick tries again. A tick is
// skipped while a lock request is mid-flight; held slots keep being
// polled so lost holds surface without waiting for the countdown.
func (s *Service) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = models.DefaultRefreshInterval
	}
	go s.refreshLoop(ctx, interval)
}

func (s *Service) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("availability refresher started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("availability refresher stopped")
			return
		case <-ticker.C:
			s.refreshTracked(ctx)
		}
	}
}

func (s *Service) refreshTracked(ctx context.Context) {
	s.mu.Lock()
	guard := s.guard
	pairs := make([][2]string, 0, len(s.tracked))
	for _, pair := range s.tracked {
		pairs = append(pairs, pair)
	}
	s.mu.Unlock()

	if guard != nil && guard.Active() {
		s.logger.Debug().Msg("refresh skipped, lock request in flight")
		return
	}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.fetchFresh(ctx, pair[0], pair[1]); err != nil {
			metrics.IncRefreshError()
			s.logger.Warn().Err(err).
				Str("vendor_id", pair[0]).
				Str("date", pair[1]).
				Msg("background refresh failed")
		}
	}
}
