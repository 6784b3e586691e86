package escrow

import (
	"context"
	"errors"
	"time"
)

// RunPeriodically triggers a release run every interval until ctx is
// cancelled. Each run gets its own deadline; a run outliving it leaves
// already-committed releases committed and defers the rest to the next tick.
func (s *Service) RunPeriodically(ctx context.Context, interval, runTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("release scheduler started", "interval", interval, "run_timeout", runTimeout)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("release scheduler stopped")
			return
		case <-ticker.C:
			runCtx := ctx
			cancel := context.CancelFunc(func() {})
			if runTimeout > 0 {
				runCtx, cancel = context.WithTimeout(ctx, runTimeout)
			}
			if _, err := s.Run(runCtx); err != nil && !errors.Is(err, ErrRunInProgress) {
				s.logger.Error("scheduled release run failed", "error", err)
			}
			cancel()
		}
	}
}
