// Package cleanup provides the insight expiry sweep.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredDeleter removes insights whose expiry has passed.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service periodically removes expired insights. The sweep is idempotent
// and safe to run from multiple pods.
type Service struct {
	insights ExpiredDeleter
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(insights ExpiredDeleter, interval time.Duration) *Service {
	if insights == nil {
		panic("cleanup.NewService: insights must not be nil")
	}
	return &Service{insights: insights, interval: interval}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.insights.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Expired insight sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Expired insights removed", "count", count)
	}
}
