package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/store"
)

// HousekeepingService periodically checks the health of the pieces a live
// deployment depends on: database reachability, the protected file being
// present, and how many codes remain available. Codes are never expired or
// deleted here; the table only shrinks through explicit admin action.
type HousekeepingService struct {
	Store    store.Store
	Delivery *FileDelivery
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(
	st store.Store,
	delivery *FileDelivery,
	logger *slog.Logger,
	interval time.Duration,
) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:    st,
		Delivery: delivery,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop() to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker.
// Blocks until the worker has finished any in-progress check.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run a check immediately on startup
	s.check()

	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stopCh:
			return
		}
	}
}

// check performs the periodic health pass. Each check is independent;
// failures in one won't stop the others.
func (s *HousekeepingService) check() {
	ctx := context.Background()

	if err := s.Store.Ping(ctx); err != nil {
		s.Logger.Error("housekeeping: database unreachable", "error", err)
	}

	if !s.Delivery.Available() {
		s.Logger.Warn("housekeeping: protected file is missing; downloads will fail")
	}

	stats, err := s.Store.Codes().CountCodes(ctx)
	if err != nil {
		s.Logger.Error("housekeeping: failed to count codes", "error", err)
		return
	}

	s.Logger.Info("housekeeping: code inventory",
		"total", stats.Total,
		"used", stats.Used,
		"available", stats.Available,
	)
	if stats.Available == 0 && stats.Total > 0 {
		s.Logger.Warn("housekeeping: no unused codes remain")
	}
}
