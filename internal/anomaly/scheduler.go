package anomaly

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler triggers scans on a fixed interval.
type Scheduler struct {
	scanner  *Scanner
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler. A zero timeout defaults to the interval.
func NewScheduler(scanner *Scanner, interval, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Scheduler{scanner: scanner, interval: interval, timeout: timeout, logger: logger}
}

// Run scans on every tick until ctx is cancelled. A tick that finds a scan
// already running is skipped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scan scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("scan scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Scan logs its own outcome.
	if _, err := s.scanner.Scan(ctx); errors.Is(err, ErrScanInProgress) {
		s.logger.Debug("scheduled scan skipped: scan in progress")
	}
}
