package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBooking(t *testing.T) {
	b := &domain.Booking{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		ShowtimeID: uuid.New(),
		Status:     domain.BookingConfirmed,
		TotalCents: 800,
		Seats:      []string{"A1", "A2"},
	}

	ev := FromBooking(BookingConfirmed, b)

	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, b.ID, ev.BookingID)
	assert.Equal(t, domain.BookingConfirmed, ev.Status)
	assert.False(t, ev.OccurredAt.IsZero())

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"booking.confirmed"`)
	assert.Contains(t, string(raw), `"seats":["A1","A2"]`)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	b := &domain.Booking{ID: uuid.New()}

	require.NoError(t, r.Publish(context.Background(), FromBooking(BookingCreated, b)))
	require.NoError(t, r.Publish(context.Background(), FromBooking(BookingCancelled, b)))

	assert.Equal(t, []Type{BookingCreated, BookingCancelled}, r.Types())
	assert.NoError(t, Noop{}.Publish(context.Background(), BookingEvent{}))
}
