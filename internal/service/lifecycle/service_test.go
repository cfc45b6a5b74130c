package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/events"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	"github.com/kirinyoku/cinebook/internal/service/availability"
	"github.com/kirinyoku/cinebook/internal/service/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	avail    *availability.Service
	reserve  *reservation.Service
	svc      *Service
	recorder *events.Recorder
	showtime domain.Showtime
	now      time.Time
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()

	f := &fixture{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.store = memory.New(memory.WithClock(clock))
	f.avail = availability.New(f.store, nil, nil, logger, availability.Config{})
	f.recorder = &events.Recorder{}
	f.reserve = reservation.New(f.store, f.avail, nil, f.recorder, nil, logger, reservation.Config{})
	f.svc = New(f.store, f.avail, f.recorder, nil, logger, Config{PendingTTL: ttl, Now: clock})

	f.showtime = domain.Showtime{MovieTitle: "Psycho", StartsAt: f.now.Add(time.Hour), PriceCents: 500}
	require.NoError(t, f.store.Showtimes().CreateShowtime(context.Background(), &f.showtime))

	return f
}

func (f *fixture) book(t *testing.T, user uuid.UUID, seats ...string) *domain.Booking {
	t.Helper()

	b, err := f.reserve.Reserve(context.Background(), user, f.showtime.ID, seats)
	require.NoError(t, err)

	return b
}

func TestConfirm(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()
	b := f.book(t, user, "A1")

	got, err := f.svc.Confirm(ctx, b.ID, user)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	stored, err := f.store.Bookings().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, stored.Status)

	// confirmed bookings keep their seats
	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, a.Held)
}

func TestTerminalGuards(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()

	confirmed := f.book(t, user, "A1")
	_, err := f.svc.Confirm(ctx, confirmed.ID, user)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, confirmed.ID, user)
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)

	stored, err := f.store.Bookings().GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, stored.Status)

	cancelled := f.book(t, user, "A2")
	_, err = f.svc.Cancel(ctx, cancelled.ID, user)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, cancelled.ID, user)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)

	_, err = f.svc.Confirm(ctx, cancelled.ID, user)
	assert.ErrorIs(t, err, domain.ErrBookingCancelled)

	stored, err = f.store.Bookings().GetBooking(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, stored.Status)
}

func TestCancelReleasesSeats(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	owner := uuid.New()

	b := f.book(t, owner, "C1")

	_, err := f.reserve.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"C1"})
	require.ErrorIs(t, err, domain.ErrSeatsTaken)

	got, err := f.svc.Cancel(ctx, b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)

	other := uuid.New()
	again, err := f.reserve.Reserve(ctx, other, f.showtime.ID, []string{"C1"})
	require.NoError(t, err)
	assert.Equal(t, other, again.UserID)

	// and again after the second booking is cancelled too
	_, err = f.svc.Cancel(ctx, again.ID, other)
	require.NoError(t, err)
	f.book(t, uuid.New(), "C1")
}

func TestCancelConfirmedBooking(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()

	b := f.book(t, user, "D1", "D2")
	_, err := f.svc.Confirm(ctx, b.ID, user)
	require.NoError(t, err)

	got, err := f.svc.Cancel(ctx, b.ID, user)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)

	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Empty(t, a.Held)

	assert.Equal(t, []events.Type{
		events.BookingCreated,
		events.BookingConfirmed,
		events.BookingCancelled,
	}, f.recorder.Types())
}

func TestOwnershipMismatchLooksLikeNotFound(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	owner := uuid.New()
	b := f.book(t, owner, "E1")

	_, err := f.svc.Confirm(ctx, b.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = f.svc.Cancel(ctx, b.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = f.svc.Confirm(ctx, uuid.New(), owner)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	stored, err := f.store.Bookings().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, stored.Status)

	// admin callers pass no owner
	got, err := f.svc.Cancel(ctx, b.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
}

func TestConcurrentConfirmAndCancel(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()
	b := f.book(t, user, "F1")

	var (
		wg                  sync.WaitGroup
		confirmErr, cancErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = f.svc.Confirm(ctx, b.ID, user)
	}()
	go func() {
		defer wg.Done()
		_, cancErr = f.svc.Cancel(ctx, b.ID, user)
	}()
	wg.Wait()

	require.NoError(t, cancErr)
	if confirmErr != nil {
		assert.ErrorIs(t, confirmErr, domain.ErrBookingCancelled)
	}

	stored, err := f.store.Bookings().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, stored.Status)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	b := f.book(t, uuid.New(), "G1", "G2")

	got, err := f.svc.UpdateStatus(ctx, b.ID, domain.BookingCancelled)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)

	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Empty(t, a.Held)

	// reviving reclaims the seats
	got, err = f.svc.UpdateStatus(ctx, b.ID, domain.BookingConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	a, err = f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "G2"}, a.Held)

	// same status is a no-op
	got, err = f.svc.UpdateStatus(ctx, b.ID, domain.BookingConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)

	_, err = f.svc.UpdateStatus(ctx, b.ID, domain.BookingStatus("refunded"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.UpdateStatus(ctx, uuid.New(), domain.BookingPending)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestUpdateStatusReviveConflict(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	user := uuid.New()

	b := f.book(t, user, "H1", "H2")
	_, err := f.svc.Cancel(ctx, b.ID, user)
	require.NoError(t, err)

	f.book(t, uuid.New(), "H2")

	_, err = f.svc.UpdateStatus(ctx, b.ID, domain.BookingPending)
	require.ErrorIs(t, err, domain.ErrSeatsTaken)
	seats, _ := domain.ContestedSeats(err)
	assert.Equal(t, []string{"H2"}, seats)

	stored, err := f.store.Bookings().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, stored.Status)

	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"H2"}, a.Held)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t, 15*time.Minute)
	ctx := context.Background()
	user := uuid.New()

	stale := f.book(t, user, "J1")
	kept := f.book(t, user, "J2")
	_, err := f.svc.Confirm(ctx, kept.ID, user)
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	fresh := f.book(t, user, "J3")

	f.now = f.now.Add(6 * time.Minute)
	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Bookings().GetBooking(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)

	got, err = f.store.Bookings().GetBooking(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, got.Status)

	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"J2", "J3"}, a.Held)

	assert.Contains(t, f.recorder.Types(), events.BookingExpired)

	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireDisabled(t *testing.T) {
	f := newFixture(t, 0)
	f.book(t, uuid.New(), "J1")
	f.now = f.now.Add(24 * time.Hour)

	n, err := f.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
