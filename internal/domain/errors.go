package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrShowtimeNotFound = errors.New("showtime not found")
	ErrSeatsTaken       = errors.New("seats already taken")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrAlreadyConfirmed = errors.New("booking already confirmed")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrBookingCancelled = errors.New("booking is cancelled")
	ErrUnavailable      = errors.New("storage unavailable")
)

// ValidationError describes malformed input rejected before any storage
// access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// SeatsTakenError names the seats that lost a race to another booking.
type SeatsTakenError struct {
	Seats []string
}

func (e *SeatsTakenError) Error() string {
	return fmt.Sprintf("seats already taken: %s", strings.Join(e.Seats, ", "))
}

func (e *SeatsTakenError) Unwrap() error { return ErrSeatsTaken }

// ContestedSeats returns the seats carried by a SeatsTakenError anywhere in
// err's chain.
func ContestedSeats(err error) ([]string, bool) {
	var st *SeatsTakenError
	if errors.As(err, &st) {
		return st.Seats, true
	}
	return nil, false
}

var known = []error{
	ErrValidation,
	ErrShowtimeNotFound,
	ErrSeatsTaken,
	ErrBookingNotFound,
	ErrAlreadyConfirmed,
	ErrAlreadyCancelled,
	ErrBookingCancelled,
	ErrUnavailable,
}

// AsUnavailable marks err as an infrastructure failure unless it already
// carries one of the booking errors above.
func AsUnavailable(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
