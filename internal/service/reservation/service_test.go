package reservation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/events"
	"github.com/kirinyoku/cinebook/internal/metrics"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/service/availability"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memory.Store
	avail    *availability.Service
	svc      *Service
	recorder *events.Recorder
	showtime domain.Showtime
}

func newFixture(t *testing.T, limiter *redisrepo.SlidingWindowLimiter) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	avail := availability.New(store, nil, nil, logger, availability.Config{})
	rec := &events.Recorder{}

	st := domain.Showtime{MovieTitle: "Vertigo", StartsAt: time.Now().Add(time.Hour), PriceCents: 400}
	require.NoError(t, store.Showtimes().CreateShowtime(context.Background(), &st))

	return &fixture{
		store:    store,
		avail:    avail,
		svc:      New(store, avail, limiter, rec, metrics.New(), logger, Config{}),
		recorder: rec,
		showtime: st,
	}
}

func TestReserveSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := uuid.New()

	b, err := f.svc.Reserve(ctx, user, f.showtime.ID, []string{"A2", "A1"})
	require.NoError(t, err)

	assert.Equal(t, domain.BookingPending, b.Status)
	assert.EqualValues(t, 800, b.TotalCents)
	assert.Equal(t, []string{"A1", "A2"}, b.Seats)
	assert.Equal(t, user, b.UserID)
	assert.NotEqual(t, uuid.Nil, b.ID)

	stored, err := f.store.Bookings().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.TotalCents, stored.TotalCents)
	assert.Equal(t, []string{"A1", "A2"}, stored.Seats)

	assert.Equal(t, []events.Type{events.BookingCreated}, f.recorder.Types())
}

func TestReserveMutualExclusion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 50

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		losers  int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			b, err := f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"E5"})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, b.ID)
				return
			}
			seats, ok := domain.ContestedSeats(err)
			if assert.True(t, ok, "unexpected error: %v", err) {
				assert.Equal(t, []string{"E5"}, seats)
				losers++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, losers)

	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"E5"}, a.Held)

	_, total, err := f.store.Bookings().ListBookings(ctx, domain.BookingFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestReserveOverlappingMultiSeat(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	requests := [][]string{
		{"A1", "A2", "A3"},
		{"A3", "A4"},
		{"A4", "A5", "A1"},
		{"A6"},
	}

	var wg sync.WaitGroup
	for _, seats := range requests {
		seats := seats
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, seats)
		}()
	}
	wg.Wait()

	bookings, _, err := f.store.Bookings().ListBookings(ctx, domain.BookingFilter{})
	require.NoError(t, err)

	seen := map[string]uuid.UUID{}
	for _, b := range bookings {
		for _, s := range b.Seats {
			other, dup := seen[s]
			assert.False(t, dup, "seat %s held by %s and %s", s, other, b.ID)
			seen[s] = b.ID
		}
	}
	assert.Contains(t, seen, "A6")
}

func TestReserveAtomicity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"A2"})
	require.NoError(t, err)

	loser := uuid.New()
	_, err = f.svc.Reserve(ctx, loser, f.showtime.ID, []string{"A1", "A2", "A3"})
	require.ErrorIs(t, err, domain.ErrSeatsTaken)

	seats, _ := domain.ContestedSeats(err)
	assert.Equal(t, []string{"A2"}, seats)

	a, err := f.avail.Get(ctx, f.showtime.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, a.Held)
	assert.Contains(t, a.Available, "A1")
	assert.Contains(t, a.Available, "A3")

	_, total, err := f.store.Bookings().ListBookings(ctx, domain.BookingFilter{UserID: loser})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReservePriceFreeze(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"B1", "B2", "B3"})
	require.NoError(t, err)
	assert.EqualValues(t, 1200, b.TotalCents)

	require.NoError(t, f.store.Showtimes().UpdatePrice(ctx, f.showtime.ID, 999))

	stored, err := f.store.Bookings().GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1200, stored.TotalCents)

	next, err := f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"B4"})
	require.NoError(t, err)
	assert.EqualValues(t, 999, next.TotalCents)
}

func TestReserveValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tooMany := []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8", "C9", "C10", "D1"}

	cases := map[string]struct {
		user     uuid.UUID
		showtime uuid.UUID
		seats    []string
	}{
		"no seats":       {uuid.New(), f.showtime.ID, nil},
		"too many seats": {uuid.New(), f.showtime.ID, tooMany},
		"bad row":        {uuid.New(), f.showtime.ID, []string{"K1"}},
		"bad column":     {uuid.New(), f.showtime.ID, []string{"A11"}},
		"leading zero":   {uuid.New(), f.showtime.ID, []string{"A01"}},
		"duplicate":      {uuid.New(), f.showtime.ID, []string{"A1", "A1"}},
		"no user":        {uuid.Nil, f.showtime.ID, []string{"A1"}},
		"no showtime":    {uuid.New(), uuid.Nil, []string{"A1"}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Reserve(ctx, tc.user, tc.showtime, tc.seats)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	assert.Empty(t, f.recorder.Types())
}

func TestReserveMaxSeatsBoundary(t *testing.T) {
	f := newFixture(t, nil)

	seats := []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8", "C9", "C10"}
	b, err := f.svc.Reserve(context.Background(), uuid.New(), f.showtime.ID, seats)
	require.NoError(t, err)
	assert.Len(t, b.Seats, DefaultMaxSeats)
}

func TestReserveShowtimeNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Reserve(context.Background(), uuid.New(), uuid.New(), []string{"A1"})
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}

func TestReserveCancelledContext(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"A1"})
	require.ErrorIs(t, err, domain.ErrUnavailable)
	assert.NotErrorIs(t, err, domain.ErrSeatsTaken)

	a, err := f.avail.Get(context.Background(), f.showtime.ID)
	require.NoError(t, err)
	assert.Empty(t, a.Held)
}

func TestReserveRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "reserve", 2, time.Minute)
	f := newFixture(t, limiter)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.svc.Reserve(ctx, user, f.showtime.ID, []string{"A1"})
	require.NoError(t, err)
	_, err = f.svc.Reserve(ctx, user, f.showtime.ID, []string{"A1"})
	require.ErrorIs(t, err, domain.ErrSeatsTaken)

	_, err = f.svc.Reserve(ctx, user, f.showtime.ID, []string{"A2"})
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))

	// other users are unaffected
	_, err = f.svc.Reserve(ctx, uuid.New(), f.showtime.ID, []string{"A2"})
	require.NoError(t, err)
}
