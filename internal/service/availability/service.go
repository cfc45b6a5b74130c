package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/seatmap"
)

type Config struct {
	CacheTTL time.Duration
}

// Service answers "which seats of a showtime are free" and fans out change
// notifications. Results are point-in-time snapshots: a seat reported
// available can be claimed by the time the caller acts on it.
type Service struct {
	store  repository.Store
	cache  *redisrepo.Cache
	pubsub *redisrepo.SeatsPubSub
	logger *slog.Logger
	hub    *hub
	cfg    Config
}

// New builds the service. cache and pubsub may be nil; without pubsub change
// notifications stay within this process.
func New(
	store repository.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.SeatsPubSub,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}

	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		logger: logger,
		hub:    newHub(),
		cfg:    cfg,
	}
}

// Get returns the held and available seats of a showtime.
//
// Parameters:
//   - ctx: request-scoped context.
//   - showtimeID: ID of the showtime.
//
// Returns:
//   - *domain.Availability: total, available and held seats, each sorted by row then column.
//   - error: domain.ErrShowtimeNotFound if the showtime does not exist.
//   - error: domain.ErrUnavailable if storage fails.
func (s *Service) Get(ctx context.Context, showtimeID uuid.UUID) (*domain.Availability, error) {
	const op = "service.availability.Get"

	a, err := s.cached(ctx, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, domain.AsUnavailable(err))
	}

	return &a, nil
}

func (s *Service) cached(ctx context.Context, showtimeID uuid.UUID) (domain.Availability, error) {
	if s.cache == nil {
		return s.load(ctx, showtimeID)
	}

	key, err := s.cache.AvailabilityKey(ctx, showtimeID)
	if err != nil {
		s.logger.Warn("availability cache unavailable",
			slog.String("showtime_id", showtimeID.String()),
			slog.Any("error", err),
		)
		return s.load(ctx, showtimeID)
	}

	return redisrepo.GetOrSetJSON(ctx, s.cache, key, s.cfg.CacheTTL,
		func(ctx context.Context) (domain.Availability, error) {
			return s.load(ctx, showtimeID)
		},
	)
}

func (s *Service) load(ctx context.Context, showtimeID uuid.UUID) (domain.Availability, error) {
	if _, err := s.store.Showtimes().GetShowtime(ctx, showtimeID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Availability{}, domain.ErrShowtimeNotFound
		}
		return domain.Availability{}, err
	}

	held, err := s.store.Bookings().HeldSeats(ctx, showtimeID)
	if err != nil {
		return domain.Availability{}, err
	}

	return domain.Availability{
		ShowtimeID: showtimeID,
		Total:      seatmap.Total,
		Available:  seatmap.Available(held),
		Held:       held,
	}, nil
}

// Changed drops the cached snapshot of a showtime and notifies watchers.
// Meant to run after a commit that claimed or released seats; failures are
// logged, never returned.
func (s *Service) Changed(ctx context.Context, showtimeID uuid.UUID) {
	if s.cache != nil {
		if err := s.cache.InvalidateShowtime(ctx, showtimeID); err != nil {
			s.logger.Error("invalidate availability cache",
				slog.String("showtime_id", showtimeID.String()),
				slog.Any("error", err),
			)
		}
	}

	if s.pubsub == nil {
		s.hub.notify(showtimeID)
		return
	}

	if err := s.pubsub.PublishSeatsChanged(ctx, showtimeID); err != nil {
		s.logger.Error("publish seats changed",
			slog.String("showtime_id", showtimeID.String()),
			slog.Any("error", err),
		)
		// at least local watchers still learn about it
		s.hub.notify(showtimeID)
	}
}

// Watch registers for change notifications of a showtime. The channel
// receives at most one pending signal; stop must be called to unregister.
func (s *Service) Watch(showtimeID uuid.UUID) (<-chan struct{}, func()) {
	return s.hub.subscribe(showtimeID)
}

// Run relays notifications from other instances to local watchers until ctx
// is done.
func (s *Service) Run(ctx context.Context) error {
	if s.pubsub == nil {
		<-ctx.Done()
		return nil
	}

	err := s.pubsub.Subscribe(ctx, func(_ context.Context, showtimeID uuid.UUID) {
		s.hub.notify(showtimeID)
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}

	return err
}
