package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/finsight/authcore/internal/auth/store"
)

// HousekeepingService periodically prunes expired token records and resets
// usage counters whose period has elapsed, keeping the tokens table bounded.
type HousekeepingService struct {
	Store       store.Store
	Logger      *slog.Logger
	Interval    time.Duration
	QuotaPeriod time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval, quotaPeriod time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if quotaPeriod <= 0 {
		quotaPeriod = 24 * time.Hour
	}

	return &HousekeepingService{
		Store:       store,
		Logger:      logger,
		Interval:    interval,
		QuotaPeriod: quotaPeriod,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background worker that periodically runs cleanup.
// This is non-blocking and should be called after the database is ready.
// Call Stop() to gracefully shutdown the worker.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress cleanup.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

// run is the main background worker loop.
func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual maintenance work.
// Each task is independent - a failure in one won't stop the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Logger.Info("starting housekeeping cleanup")

	if err := s.Store.Tokens().DeleteExpired(ctx, now); err != nil {
		s.Logger.Error("failed to delete expired token records", "error", err)
	} else {
		s.Logger.Debug("deleted expired token records")
	}

	if err := s.Store.Clients().ResetDueQuotas(ctx, now, s.QuotaPeriod); err != nil {
		s.Logger.Error("failed to reset due usage quotas", "error", err)
	} else {
		s.Logger.Debug("reset due usage quotas")
	}

	s.Logger.Info("housekeeping cleanup completed")
}
