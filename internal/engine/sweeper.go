package engine

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/rewear/exchange/internal/system"
	"github.com/rewear/exchange/pkg/logger"
)

// DefaultSweepSchedule runs the sweeper once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically expires stale pending swap requests and releases
// their reservations. It uses the same atomic primitives as the request
// path, so it is safe to run alongside live traffic.
type Sweeper struct {
	sm       *StateMachine
	schedule string
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Sweeper)(nil)

// NewSweeper creates a sweeper over the state machine. An empty schedule
// falls back to DefaultSweepSchedule.
func NewSweeper(sm *StateMachine, schedule string, log *logger.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	return &Sweeper{sm: sm, schedule: schedule, log: log}
}

func (s *Sweeper) Name() string { return "swap-sweeper" }

// Start schedules the sweep. Starting an already-running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.log.WithError(err).Warn("sweep failed")
		}
	}); err != nil {
		cancel()
		return err
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.Infof("sweeper started (schedule %s)", s.schedule)
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish, bounded
// by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	done := c.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single sweep pass. Exposed for tests and for manual
// reconciliation.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	expired, err := s.sm.ExpireStale(ctx, s.sm.now())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Infof("expired %d stale swap requests", expired)
	}
	return expired, nil
}
