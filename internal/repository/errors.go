package repository

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrRetryable = errors.New("transaction aborted, retry")
)

// SeatConflictError is returned by ClaimSeats when some requested seats are
// already claimed by an active booking.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return "seats already claimed"
}

func (e *SeatConflictError) Unwrap() error { return ErrConflict }
