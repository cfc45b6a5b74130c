package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/events"
	"github.com/kirinyoku/cinebook/internal/metrics"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/service/availability"
	"github.com/kirinyoku/cinebook/internal/uow"
)

type Config struct {
	// PendingTTL is how long a booking may stay pending before the expiry
	// sweep cancels it. Zero disables expiry.
	PendingTTL time.Duration
	Now        func() time.Time
}

type Service struct {
	uow          *uow.UoW
	availability *availability.Service
	publisher    events.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	cfg          Config
}

func New(
	store repository.Store,
	avail *availability.Service,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if publisher == nil {
		publisher = events.Noop{}
	}

	return &Service{
		uow:          uow.NewUoW(store),
		availability: avail,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// Confirm moves a pending booking to confirmed.
//
// Parameters:
//   - ctx: request-scoped context.
//   - bookingID: ID of the booking.
//   - ownerID: the caller's user ID; uuid.Nil skips the ownership check (admin).
//
// Returns:
//   - *domain.Booking: the confirmed booking.
//   - error: domain.ErrBookingNotFound if the booking does not exist or belongs to someone else.
//   - error: domain.ErrAlreadyConfirmed if the booking is confirmed.
//   - error: domain.ErrBookingCancelled if the booking is cancelled.
func (s *Service) Confirm(ctx context.Context, bookingID, ownerID uuid.UUID) (*domain.Booking, error) {
	const op = "service.lifecycle.Confirm"

	b, err := s.transition(ctx, bookingID, ownerID, func(from domain.BookingStatus) (domain.BookingStatus, error) {
		switch from {
		case domain.BookingConfirmed:
			return "", domain.ErrAlreadyConfirmed
		case domain.BookingCancelled:
			return "", domain.ErrBookingCancelled
		}
		return domain.BookingConfirmed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// Cancel moves a pending or confirmed booking to cancelled and releases its
// seats in the same transaction.
//
// Parameters:
//   - ctx: request-scoped context.
//   - bookingID: ID of the booking.
//   - ownerID: the caller's user ID; uuid.Nil skips the ownership check (admin).
//
// Returns:
//   - *domain.Booking: the cancelled booking.
//   - error: domain.ErrBookingNotFound if the booking does not exist or belongs to someone else.
//   - error: domain.ErrAlreadyCancelled if the booking is cancelled.
func (s *Service) Cancel(ctx context.Context, bookingID, ownerID uuid.UUID) (*domain.Booking, error) {
	const op = "service.lifecycle.Cancel"

	b, err := s.transition(ctx, bookingID, ownerID, func(from domain.BookingStatus) (domain.BookingStatus, error) {
		if from == domain.BookingCancelled {
			return "", domain.ErrAlreadyCancelled
		}
		return domain.BookingCancelled, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// UpdateStatus sets any status on a booking, bypassing the transition
// guards. Cancelling releases the seats; reviving a cancelled booking claims
// them again and fails if any was taken meanwhile. Setting the current
// status is a no-op.
//
// Parameters:
//   - ctx: request-scoped context.
//   - bookingID: ID of the booking.
//   - status: target status.
//
// Returns:
//   - *domain.Booking: the updated booking.
//   - error: *domain.ValidationError if status is unknown.
//   - error: domain.ErrBookingNotFound if the booking does not exist.
//   - error: *domain.SeatsTakenError if reviving the booking collides with another booking.
func (s *Service) UpdateStatus(
	ctx context.Context,
	bookingID uuid.UUID,
	status domain.BookingStatus,
) (*domain.Booking, error) {
	const op = "service.lifecycle.UpdateStatus"

	if !status.Valid() {
		return nil, fmt.Errorf("%s:%w", op, &domain.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("unknown status %q", status),
		})
	}

	b, err := s.transition(ctx, bookingID, uuid.Nil, func(domain.BookingStatus) (domain.BookingStatus, error) {
		return status, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

type guard func(from domain.BookingStatus) (domain.BookingStatus, error)

func (s *Service) transition(
	ctx context.Context,
	bookingID, ownerID uuid.UUID,
	next guard,
) (*domain.Booking, error) {
	var booking *domain.Booking

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Session,
		after func(uow.AfterCommit),
	) error {
		b, err := tx.Bookings().GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrBookingNotFound
			}
			return err
		}

		// someone else's booking looks exactly like a missing one
		if ownerID != uuid.Nil && b.UserID != ownerID {
			return domain.ErrBookingNotFound
		}

		from := b.Status
		to, err := next(from)
		if err != nil {
			return err
		}

		booking = b
		if to == from {
			return nil
		}

		switch {
		case from.Active() && !to.Active():
			if _, err := tx.Bookings().ReleaseSeats(ctx, b.ID); err != nil {
				return err
			}
		case !from.Active() && to.Active():
			if err := tx.Bookings().ReclaimSeats(ctx, b.ID); err != nil {
				var conflict *repository.SeatConflictError
				if errors.As(err, &conflict) {
					return &domain.SeatsTakenError{Seats: conflict.Seats}
				}
				if errors.Is(err, repository.ErrConflict) {
					return &domain.SeatsTakenError{Seats: b.Seats}
				}
				return err
			}
		}

		if err := tx.Bookings().UpdateStatus(ctx, b.ID, to); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.ErrBookingNotFound
			}
			return err
		}

		b.Status = to
		b.UpdatedAt = s.cfg.Now()

		after(func(ctx context.Context) {
			s.metrics.Transition(string(to))
			if from.Active() != to.Active() {
				s.availability.Changed(ctx, b.ShowtimeID)
			}
			s.publish(ctx, events.FromBooking(eventType(to), b))
		})

		return nil
	})
	if err != nil {
		return nil, domain.AsUnavailable(err)
	}

	return booking, nil
}

// ExpireStale cancels pending bookings older than Config.PendingTTL and
// releases their seats.
//
// Parameters:
//   - ctx: request-scoped context.
//
// Returns:
//   - int: number of expired bookings.
//   - error: domain.ErrUnavailable if storage fails.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	const op = "service.lifecycle.ExpireStale"

	if s.cfg.PendingTTL <= 0 {
		return 0, nil
	}

	cutoff := s.cfg.Now().Add(-s.cfg.PendingTTL)

	var expired []domain.ExpiredBooking
	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Session,
		after func(uow.AfterCommit),
	) error {
		var err error
		expired, err = tx.Bookings().ExpirePending(ctx, cutoff)
		if err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.metrics.Expired(len(expired))

			showtimes := make(map[uuid.UUID]struct{})
			for _, e := range expired {
				showtimes[e.ShowtimeID] = struct{}{}
				s.publish(ctx, events.FromBooking(events.BookingExpired, &domain.Booking{
					ID:         e.ID,
					UserID:     e.UserID,
					ShowtimeID: e.ShowtimeID,
					Status:     domain.BookingCancelled,
				}))
			}
			for id := range showtimes {
				s.availability.Changed(ctx, id)
			}
		})

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, domain.AsUnavailable(err))
	}

	return len(expired), nil
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

func eventType(to domain.BookingStatus) events.Type {
	switch to {
	case domain.BookingConfirmed:
		return events.BookingConfirmed
	case domain.BookingCancelled:
		return events.BookingCancelled
	}
	return events.BookingUpdated
}
