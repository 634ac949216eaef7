package index

import (
	"context"
	"sync"
	"time"

	"github.com/WillIsback/clea-api/pkg/logger"
)

// Sweeper periodically reclaims orphaned index configurations.
type Sweeper struct {
	manager  *Manager
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSweeper creates a sweeper invoking CleanOrphans every interval.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
	}
}

// Start launches the background timer. Calling Start on a running sweeper is
// a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.run(ctx)
	logger.Get().Info("orphan sweeper started", "interval", s.interval.String())
}

// Stop halts the timer and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	logger.Get().Info("orphan sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.stopped)

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

func (s *Sweeper) sweep(ctx context.Context) {
	report, err := s.manager.CleanOrphans(ctx)
	if err != nil {
		logger.Get().Error("orphan sweep failed", "error", err)
		return
	}
	logger.Get().Info("orphan sweep completed",
		"status", report.Status,
		"deleted", report.DeletedCount,
		"errors", len(report.Errors),
	)
}
