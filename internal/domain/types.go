package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

// Active reports whether bookings in this status hold their seats.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

type Showtime struct {
	ID         uuid.UUID `json:"id"`
	MovieTitle string    `json:"movie_title"`
	StartsAt   time.Time `json:"starts_at"`
	PriceCents int64     `json:"price_cents"`
}

type Booking struct {
	ID         uuid.UUID     `json:"id"`
	UserID     uuid.UUID     `json:"user_id"`
	ShowtimeID uuid.UUID     `json:"showtime_id"`
	Status     BookingStatus `json:"status"`
	TotalCents int64         `json:"total_cents"`
	Seats      []string      `json:"seats"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type SeatClaim struct {
	BookingID  uuid.UUID
	ShowtimeID uuid.UUID
	SeatCode   string
	Active     bool
}

type Availability struct {
	ShowtimeID uuid.UUID `json:"showtime_id"`
	Total      int       `json:"total"`
	Available  []string  `json:"available"`
	Held       []string  `json:"held"`
}

// BookingFilter narrows booking listings. Zero values mean "any".
type BookingFilter struct {
	UserID uuid.UUID
	Status BookingStatus
	Offset int
	Limit  int
}

// ExpiredBooking identifies a pending booking cancelled by the expiry sweep.
type ExpiredBooking struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ShowtimeID uuid.UUID
}

type BookingPage struct {
	Bookings   []Booking `json:"bookings"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	Total      int64     `json:"total"`
	TotalPages int       `json:"total_pages"`
}
