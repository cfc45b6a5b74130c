package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Expirer cancels stale pending bookings.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Scheduler runs periodic maintenance jobs.
type Scheduler struct {
	s      gocron.Scheduler
	logger *slog.Logger
	cancel context.CancelFunc
	ctx    context.Context
}

func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	const op = "jobs.NewScheduler"

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		s:      s,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// AddExpiry schedules the pending-booking sweep every interval. A run that
// is still in progress when the next one is due makes that one skip.
func (s *Scheduler) AddExpiry(e Expirer, interval, timeout time.Duration) error {
	const op = "jobs.Scheduler.AddExpiry"

	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(s.ctx, timeout)
			defer cancel()

			n, err := e.ExpireStale(ctx)
			if err != nil {
				s.logger.Error("expire pending bookings", slog.Any("error", err))
				return
			}
			if n > 0 {
				s.logger.Info("expired pending bookings", slog.Int("count", n))
			}
		}),
		gocron.WithName("expire-pending-bookings"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Scheduler) Start() {
	s.s.Start()
}

// Shutdown cancels running jobs and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.s.Shutdown()
}
