package query

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service serves read-only booking projections. It reads committed state
// only and never mutates anything.
type Service struct {
	store repository.Store
	cfg   Config
}

func New(store repository.Store, cfg Config) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}

	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = MaxPageSize
	}

	return &Service{
		store: store,
		cfg:   cfg,
	}
}

// GetByID retrieves a booking with its seats.
//
// Parameters:
//   - ctx: request-scoped context.
//   - bookingID: ID of the booking.
//   - ownerID: the caller's user ID; uuid.Nil skips the ownership check (admin).
//
// Returns:
//   - *domain.Booking: the booking.
//   - error: domain.ErrBookingNotFound if it does not exist or belongs to someone else.
func (s *Service) GetByID(ctx context.Context, bookingID, ownerID uuid.UUID) (*domain.Booking, error) {
	const op = "service.query.GetByID"

	b, err := s.store.Bookings().GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.ErrBookingNotFound)
		}

		return nil, fmt.Errorf("%s:%w", op, domain.AsUnavailable(err))
	}

	if ownerID != uuid.Nil && b.UserID != ownerID {
		return nil, fmt.Errorf("%s:%w", op, domain.ErrBookingNotFound)
	}

	return b, nil
}

// ListByUser lists the bookings of one user, newest first.
//
// Parameters:
//   - ctx: request-scoped context.
//   - userID: owner of the bookings.
//   - status: optional status filter; empty means any.
//   - page: 1-based page number; values below 1 mean the first page.
//   - limit: page size; zero means the default, values above the maximum are capped.
//
// Returns:
//   - *domain.BookingPage: the page with total count and page count.
//   - error: *domain.ValidationError if status is unknown.
func (s *Service) ListByUser(
	ctx context.Context,
	userID uuid.UUID,
	status domain.BookingStatus,
	page, limit int,
) (*domain.BookingPage, error) {
	const op = "service.query.ListByUser"

	if userID == uuid.Nil {
		return nil, fmt.Errorf("%s:%w", op, &domain.ValidationError{Field: "user_id", Reason: "is required"})
	}

	p, err := s.list(ctx, userID, status, page, limit)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return p, nil
}

// ListAll lists bookings of every user, newest first. Admin only.
//
// Parameters:
//   - ctx: request-scoped context.
//   - status: optional status filter; empty means any.
//   - page: 1-based page number.
//   - limit: page size.
//
// Returns:
//   - *domain.BookingPage: the page with total count and page count.
//   - error: *domain.ValidationError if status is unknown.
func (s *Service) ListAll(
	ctx context.Context,
	status domain.BookingStatus,
	page, limit int,
) (*domain.BookingPage, error) {
	const op = "service.query.ListAll"

	p, err := s.list(ctx, uuid.Nil, status, page, limit)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return p, nil
}

func (s *Service) list(
	ctx context.Context,
	userID uuid.UUID,
	status domain.BookingStatus,
	page, limit int,
) (*domain.BookingPage, error) {
	if status != "" && !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	page, limit = s.normalize(page, limit)
	if page-1 > math.MaxInt/limit {
		return nil, &domain.ValidationError{Field: "page", Reason: "is out of range"}
	}

	bookings, total, err := s.store.Bookings().ListBookings(ctx, domain.BookingFilter{
		UserID: userID,
		Status: status,
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		return nil, domain.AsUnavailable(err)
	}

	return &domain.BookingPage{
		Bookings:   bookings,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int((total + int64(limit) - 1) / int64(limit)),
	}, nil
}

func (s *Service) normalize(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}

	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}

	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	return page, limit
}
