package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/events"
	"github.com/kirinyoku/cinebook/internal/metrics"
	"github.com/kirinyoku/cinebook/internal/repository"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/seatmap"
	"github.com/kirinyoku/cinebook/internal/service/availability"
	"github.com/kirinyoku/cinebook/internal/uow"
)

const DefaultMaxSeats = 10

type Config struct {
	MaxSeats int
}

type Service struct {
	uow          *uow.UoW
	availability *availability.Service
	limiter      *redisrepo.SlidingWindowLimiter
	publisher    events.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	cfg          Config
}

// New builds the service. limiter and m may be nil.
func New(
	store repository.Store,
	avail *availability.Service,
	limiter *redisrepo.SlidingWindowLimiter,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.MaxSeats <= 0 {
		cfg.MaxSeats = DefaultMaxSeats
	}

	if publisher == nil {
		publisher = events.Noop{}
	}

	return &Service{
		uow:          uow.NewUoW(store),
		availability: avail,
		limiter:      limiter,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// Reserve atomically creates a pending booking owning the requested seats.
// Whether a seat is free is decided by the claim insert itself, never by a
// prior availability read: the first transaction to commit a claim on a seat
// wins and every other one fails with domain.SeatsTakenError.
//
// Parameters:
//   - ctx: request-scoped context; a reserve cancelled before commit leaves no trace.
//   - userID: ID of the user making the booking.
//   - showtimeID: ID of the showtime.
//   - seats: distinct seat codes, between 1 and Config.MaxSeats of them.
//
// Returns:
//   - *domain.Booking: the pending booking with its seats and frozen total.
//   - error: *domain.ValidationError for malformed input.
//   - error: domain.ErrShowtimeNotFound if the showtime does not exist.
//   - error: *domain.SeatsTakenError naming the contested seats.
//   - error: *reservation.RateLimitedError if the user exceeded the attempt rate.
//   - error: domain.ErrUnavailable if storage fails.
func (s *Service) Reserve(
	ctx context.Context,
	userID, showtimeID uuid.UUID,
	seats []string,
) (*domain.Booking, error) {
	const op = "service.reservation.Reserve"

	booking, err := s.reserve(ctx, userID, showtimeID, seats)
	s.metrics.Reservation(outcome(err), len(seats))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return booking, nil
}

func (s *Service) reserve(
	ctx context.Context,
	userID, showtimeID uuid.UUID,
	seats []string,
) (*domain.Booking, error) {
	if err := s.validate(userID, showtimeID, seats); err != nil {
		return nil, err
	}

	if err := s.allow(ctx, userID); err != nil {
		return nil, err
	}

	claimed := append([]string(nil), seats...)
	seatmap.Sort(claimed)

	booking := &domain.Booking{
		UserID:     userID,
		ShowtimeID: showtimeID,
		Status:     domain.BookingPending,
	}

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Session,
		after func(uow.AfterCommit),
	) error {
		showtime, err := tx.Showtimes().GetShowtime(ctx, showtimeID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrShowtimeNotFound
			}
			return err
		}

		booking.TotalCents = showtime.PriceCents * int64(len(claimed))

		if err := tx.Bookings().CreateBooking(ctx, booking); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrShowtimeNotFound
			}
			return err
		}

		if err := tx.Bookings().ClaimSeats(ctx, booking.ID, showtimeID, claimed); err != nil {
			var conflict *repository.SeatConflictError
			if errors.As(err, &conflict) {
				return &domain.SeatsTakenError{Seats: conflict.Seats}
			}
			// a unique violation that slipped past ON CONFLICT still means
			// some requested seat is taken
			if errors.Is(err, repository.ErrConflict) {
				return &domain.SeatsTakenError{Seats: claimed}
			}
			return err
		}

		booking.Seats = claimed

		after(func(ctx context.Context) {
			s.availability.Changed(ctx, showtimeID)
			s.publish(ctx, events.FromBooking(events.BookingCreated, booking))
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSeatsTaken) {
			s.logger.Debug("seats taken",
				slog.String("showtime_id", showtimeID.String()),
				slog.String("user_id", userID.String()),
				slog.Any("error", err),
			)
		}
		return nil, domain.AsUnavailable(err)
	}

	return booking, nil
}

func (s *Service) validate(userID, showtimeID uuid.UUID, seats []string) error {
	if userID == uuid.Nil {
		return &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}

	if showtimeID == uuid.Nil {
		return &domain.ValidationError{Field: "showtime_id", Reason: "is required"}
	}

	if len(seats) < 1 || len(seats) > s.cfg.MaxSeats {
		return &domain.ValidationError{
			Field:  "seats",
			Reason: fmt.Sprintf("must contain between 1 and %d seats", s.cfg.MaxSeats),
		}
	}

	seen := make(map[string]struct{}, len(seats))
	for _, code := range seats {
		if !seatmap.IsValid(code) {
			return &domain.ValidationError{Field: "seats", Reason: fmt.Sprintf("invalid seat code %q", code)}
		}
		if _, dup := seen[code]; dup {
			return &domain.ValidationError{Field: "seats", Reason: fmt.Sprintf("duplicate seat code %q", code)}
		}
		seen[code] = struct{}{}
	}

	return nil
}

// allow applies the per-user attempt limit. A limiter outage lets the
// request through.
func (s *Service) allow(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}

	d, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", slog.Any("error", err))
		return nil
	}

	if !d.Allowed {
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	return nil
}

func (s *Service) publish(ctx context.Context, ev events.BookingEvent) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("publish booking event",
			slog.String("type", string(ev.Type)),
			slog.String("booking_id", ev.BookingID.String()),
			slog.Any("error", err),
		)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, domain.ErrSeatsTaken):
		return metrics.OutcomeSeatsTaken
	case errors.Is(err, domain.ErrValidation):
		return metrics.OutcomeInvalid
	case errors.Is(err, domain.ErrShowtimeNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrRateLimited):
		return metrics.OutcomeRateLimited
	}
	return metrics.OutcomeError
}
