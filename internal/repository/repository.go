package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
)

type IsoLevel string

const (
	IsoDefault       IsoLevel = ""
	IsoReadCommitted IsoLevel = "read committed"
	IsoRepeatable    IsoLevel = "repeatable read"
	IsoSerializable  IsoLevel = "serializable"
)

type TxOptions struct {
	IsoLevel IsoLevel
	ReadOnly bool
}

type ShowtimeRepository interface {
	GetShowtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error)
	CreateShowtime(ctx context.Context, s *domain.Showtime) error
	UpdatePrice(ctx context.Context, id uuid.UUID, priceCents int64) error
}

type BookingRepository interface {
	// CreateBooking inserts b without any seats. b.ID and timestamps are set
	// by the repository when zero.
	CreateBooking(ctx context.Context, b *domain.Booking) error

	// ClaimSeats inserts one active claim per seat for (showtimeID, seat).
	// If any seat is already held by an active claim, nothing in the call
	// takes effect for the contested seats and *SeatConflictError lists them.
	ClaimSeats(ctx context.Context, bookingID, showtimeID uuid.UUID, seats []string) error

	// ReleaseSeats marks every active claim of the booking inactive.
	ReleaseSeats(ctx context.Context, bookingID uuid.UUID) (int64, error)

	// ReclaimSeats reactivates inactive claims of a cancelled booking.
	ReclaimSeats(ctx context.Context, bookingID uuid.UUID) error

	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)

	// GetBookingForUpdate reads the booking and locks it until the end of
	// the current transaction.
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) error

	ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, int64, error)

	// HeldSeats lists seats claimed by active bookings of a showtime.
	HeldSeats(ctx context.Context, showtimeID uuid.UUID) ([]string, error)

	// ExpirePending cancels pending bookings created before cutoff and
	// releases their seats.
	ExpirePending(ctx context.Context, cutoff time.Time) ([]domain.ExpiredBooking, error)
}

// Session is a set of repositories bound to one database handle: either the
// pool or an open transaction.
type Session interface {
	Bookings() BookingRepository
	Showtimes() ShowtimeRepository
}

type Store interface {
	Session
	RunTx(ctx context.Context, opts *TxOptions, fn func(ctx context.Context, tx Session) error) error
	Ping(ctx context.Context) error
}
