// Package events publishes booking lifecycle events to other systems. Events
// are sent after the change is committed; delivery is best effort.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
)

type Type string

const (
	BookingCreated   Type = "booking.created"
	BookingConfirmed Type = "booking.confirmed"
	BookingCancelled Type = "booking.cancelled"
	BookingExpired   Type = "booking.expired"
	BookingUpdated   Type = "booking.status_updated"
)

type BookingEvent struct {
	ID         uuid.UUID            `json:"id"`
	Type       Type                 `json:"type"`
	BookingID  uuid.UUID            `json:"booking_id"`
	UserID     uuid.UUID            `json:"user_id"`
	ShowtimeID uuid.UUID            `json:"showtime_id"`
	Status     domain.BookingStatus `json:"status"`
	Seats      []string             `json:"seats,omitempty"`
	TotalCents int64                `json:"total_cents"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// FromBooking builds an event of type t describing the current state of b.
func FromBooking(t Type, b *domain.Booking) BookingEvent {
	return BookingEvent{
		ID:         uuid.New(),
		Type:       t,
		BookingID:  b.ID,
		UserID:     b.UserID,
		ShowtimeID: b.ShowtimeID,
		Status:     b.Status,
		Seats:      b.Seats,
		TotalCents: b.TotalCents,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev BookingEvent) error
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, BookingEvent) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (r *Recorder) Publish(_ context.Context, ev BookingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []BookingEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BookingEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the types of the recorded events in publish order.
func (r *Recorder) Types() []Type {
	evs := r.Events()
	out := make([]Type, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
