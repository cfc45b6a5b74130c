package query

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	svc      *Service
	showtime domain.Showtime
	now      time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.store = memory.New(memory.WithClock(func() time.Time { return f.now }))
	f.svc = New(f.store, cfg)

	f.showtime = domain.Showtime{MovieTitle: "Notorious", StartsAt: f.now.Add(time.Hour), PriceCents: 250}
	require.NoError(t, f.store.Showtimes().CreateShowtime(context.Background(), &f.showtime))

	return f
}

// add creates a booking one minute after the previous one so ordering is
// deterministic.
func (f *fixture) add(t *testing.T, user uuid.UUID, status domain.BookingStatus, seat string) *domain.Booking {
	t.Helper()

	f.now = f.now.Add(time.Minute)

	b := &domain.Booking{UserID: user, ShowtimeID: f.showtime.ID, TotalCents: 250}
	err := f.store.RunTx(context.Background(), nil, func(ctx context.Context, tx repository.Session) error {
		if err := tx.Bookings().CreateBooking(ctx, b); err != nil {
			return err
		}
		if err := tx.Bookings().ClaimSeats(ctx, b.ID, f.showtime.ID, []string{seat}); err != nil {
			return err
		}
		if status == domain.BookingPending {
			return nil
		}
		if status == domain.BookingCancelled {
			if _, err := tx.Bookings().ReleaseSeats(ctx, b.ID); err != nil {
				return err
			}
		}
		return tx.Bookings().UpdateStatus(ctx, b.ID, status)
	})
	require.NoError(t, err)

	return b
}

func ids(bookings []domain.Booking) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, b.ID)
	}
	return out
}

func TestGetByID(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	owner := uuid.New()
	b := f.add(t, owner, domain.BookingConfirmed, "A1")

	got, err := f.svc.GetByID(ctx, b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, got.Status)
	assert.Equal(t, []string{"A1"}, got.Seats)
	assert.EqualValues(t, 250, got.TotalCents)

	got, err = f.svc.GetByID(ctx, b.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = f.svc.GetByID(ctx, b.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = f.svc.GetByID(ctx, uuid.New(), owner)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestGetByIDKeepsSeatsOfCancelledBooking(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.add(t, uuid.New(), domain.BookingCancelled, "B2")

	got, err := f.svc.GetByID(context.Background(), b.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, got.Status)
	assert.Equal(t, []string{"B2"}, got.Seats)
}

func TestListByUserPagination(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	user := uuid.New()

	var created []uuid.UUID
	for _, seat := range []string{"A1", "A2", "A3", "A4", "A5"} {
		created = append(created, f.add(t, user, domain.BookingPending, seat).ID)
	}
	f.add(t, uuid.New(), domain.BookingPending, "J1")

	p, err := f.svc.ListByUser(ctx, user, "", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, p.Total)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 2, p.Limit)
	assert.Equal(t, []uuid.UUID{created[4], created[3]}, ids(p.Bookings))

	p, err = f.svc.ListByUser(ctx, user, "", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{created[0]}, ids(p.Bookings))

	p, err = f.svc.ListByUser(ctx, user, "", 4, 2)
	require.NoError(t, err)
	assert.Empty(t, p.Bookings)
	assert.EqualValues(t, 5, p.Total)
}

func TestListNormalizesPaging(t *testing.T) {
	f := newFixture(t, Config{DefaultPageSize: 3, MaxPageSize: 4})
	ctx := context.Background()
	user := uuid.New()
	for _, seat := range []string{"C1", "C2", "C3", "C4", "C5"} {
		f.add(t, user, domain.BookingPending, seat)
	}

	p, err := f.svc.ListByUser(ctx, user, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 3, p.Limit)
	assert.Len(t, p.Bookings, 3)
	assert.Equal(t, 2, p.TotalPages)

	p, err = f.svc.ListByUser(ctx, user, "", -2, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 4, p.Limit)
	assert.Len(t, p.Bookings, 4)
}

func TestListStatusFilter(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	user := uuid.New()

	f.add(t, user, domain.BookingPending, "D1")
	confirmed := f.add(t, user, domain.BookingConfirmed, "D2")
	cancelled := f.add(t, user, domain.BookingCancelled, "D3")

	p, err := f.svc.ListByUser(ctx, user, domain.BookingConfirmed, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{confirmed.ID}, ids(p.Bookings))

	p, err = f.svc.ListAll(ctx, domain.BookingCancelled, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cancelled.ID}, ids(p.Bookings))

	_, err = f.svc.ListByUser(ctx, user, domain.BookingStatus("refunded"), 1, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListAllSpansUsers(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first := f.add(t, uuid.New(), domain.BookingPending, "E1")
	second := f.add(t, uuid.New(), domain.BookingConfirmed, "E2")

	p, err := f.svc.ListAll(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.Total)
	assert.Equal(t, 1, p.TotalPages)
	assert.Equal(t, []uuid.UUID{second.ID, first.ID}, ids(p.Bookings))
}

func TestListEmpty(t *testing.T) {
	f := newFixture(t, Config{})

	p, err := f.svc.ListByUser(context.Background(), uuid.New(), "", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, p.Bookings)
	assert.Zero(t, p.Total)
	assert.Zero(t, p.TotalPages)
}

func TestListByUserRequiresUser(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.ListByUser(context.Background(), uuid.Nil, "", 1, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListRejectsPageBeyondOffsetRange(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	user := uuid.New()
	for _, seat := range []string{"F1", "F2", "F3"} {
		f.add(t, user, domain.BookingPending, seat)
	}

	_, err := f.svc.ListByUser(ctx, user, "", math.MaxInt/10+2, 10)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "page", verr.Field)

	_, err = f.svc.ListAll(ctx, "", math.MaxInt, 2)
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := f.svc.ListByUser(ctx, user, "", math.MaxInt/10, 10)
	require.NoError(t, err)
	assert.Empty(t, p.Bookings)
	assert.EqualValues(t, 3, p.Total)
}
