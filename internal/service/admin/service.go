package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/uow"
)

// Service manages the showtimes bookings refer to. The catalog itself is
// owned elsewhere; this is enough to seed and reprice showtimes.
type Service struct {
	store repository.Store
	uow   *uow.UoW
}

func New(store repository.Store) *Service {
	return &Service{
		store: store,
		uow:   uow.NewUoW(store),
	}
}

// CreateShowtime registers a showtime with a flat per-seat price.
//
// Parameters:
//   - ctx: request-scoped context.
//   - title: movie title.
//   - startsAt: start of the screening.
//   - priceCents: price of one seat, positive.
//
// Returns:
//   - *domain.Showtime: the created showtime.
//   - error: *domain.ValidationError for a blank title or non-positive price.
//   - error: admin.ErrShowtimeExists on an ID collision.
func (s *Service) CreateShowtime(
	ctx context.Context,
	title string,
	startsAt time.Time,
	priceCents int64,
) (*domain.Showtime, error) {
	const op = "service.admin.CreateShowtime"

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%s:%w", op, &domain.ValidationError{Field: "movie_title", Reason: "is required"})
	}

	if priceCents <= 0 {
		return nil, fmt.Errorf("%s:%w", op, &domain.ValidationError{Field: "price_cents", Reason: "must be positive"})
	}

	st := &domain.Showtime{MovieTitle: title, StartsAt: startsAt.UTC(), PriceCents: priceCents}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Session, _ func(uow.AfterCommit)) error {
		return tx.Showtimes().CreateShowtime(ctx, st)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrShowtimeExists)
		}
		return nil, fmt.Errorf("%s:%w", op, domain.AsUnavailable(err))
	}

	return st, nil
}

// UpdatePrice changes the per-seat price. Bookings already made keep their
// total.
//
// Parameters:
//   - ctx: request-scoped context.
//   - showtimeID: ID of the showtime.
//   - priceCents: new price of one seat, positive.
//
// Returns:
//   - *domain.Showtime: the repriced showtime.
//   - error: *domain.ValidationError for a non-positive price.
//   - error: domain.ErrShowtimeNotFound if the showtime does not exist.
func (s *Service) UpdatePrice(ctx context.Context, showtimeID uuid.UUID, priceCents int64) (*domain.Showtime, error) {
	const op = "service.admin.UpdatePrice"

	if priceCents <= 0 {
		return nil, fmt.Errorf("%s:%w", op, &domain.ValidationError{Field: "price_cents", Reason: "must be positive"})
	}

	var st *domain.Showtime
	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Session, _ func(uow.AfterCommit)) error {
		if err := tx.Showtimes().UpdatePrice(ctx, showtimeID, priceCents); err != nil {
			return err
		}

		var err error
		st, err = tx.Showtimes().GetShowtime(ctx, showtimeID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrShowtimeNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, domain.AsUnavailable(err))
	}

	return st, nil
}

// GetShowtime returns a showtime by ID.
func (s *Service) GetShowtime(ctx context.Context, showtimeID uuid.UUID) (*domain.Showtime, error) {
	const op = "service.admin.GetShowtime"

	st, err := s.store.Showtimes().GetShowtime(ctx, showtimeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrShowtimeNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, domain.AsUnavailable(err))
	}

	return st, nil
}
