package availability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	redisrepo "github.com/kirinyoku/cinebook/internal/repository/redis"
	"github.com/kirinyoku/cinebook/internal/seatmap"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, store *memory.Store) domain.Showtime {
	t.Helper()

	st := domain.Showtime{MovieTitle: "Rear Window", StartsAt: time.Now().Add(time.Hour), PriceCents: 300}
	require.NoError(t, store.Showtimes().CreateShowtime(context.Background(), &st))

	return st
}

// hold books seats directly through the store, bypassing the reservation flow.
func hold(t *testing.T, store *memory.Store, showtimeID uuid.UUID, seats ...string) uuid.UUID {
	t.Helper()

	b := &domain.Booking{UserID: uuid.New(), ShowtimeID: showtimeID}
	err := store.RunTx(context.Background(), nil, func(ctx context.Context, tx repository.Session) error {
		if err := tx.Bookings().CreateBooking(ctx, b); err != nil {
			return err
		}
		return tx.Bookings().ClaimSeats(ctx, b.ID, showtimeID, seats)
	})
	require.NoError(t, err)

	return b.ID
}

func release(t *testing.T, store *memory.Store, bookingID uuid.UUID) {
	t.Helper()

	err := store.RunTx(context.Background(), nil, func(ctx context.Context, tx repository.Session) error {
		if err := tx.Bookings().UpdateStatus(ctx, bookingID, domain.BookingCancelled); err != nil {
			return err
		}
		_, err := tx.Bookings().ReleaseSeats(ctx, bookingID)
		return err
	})
	require.NoError(t, err)
}

func TestGetTracksHeldSeats(t *testing.T) {
	store := memory.New()
	st := seed(t, store)
	svc := New(store, nil, nil, discard(), Config{})
	ctx := context.Background()

	a, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, seatmap.Total, a.Total)
	assert.Len(t, a.Available, 100)
	assert.Empty(t, a.Held)

	id := hold(t, store, st.ID, "J10", "A1", "B3")

	a, err = svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, a.Available, 97)
	assert.Equal(t, []string{"A1", "B3", "J10"}, a.Held)
	assert.NotContains(t, a.Available, "B3")
	assert.Equal(t, "A2", a.Available[0])

	release(t, store, id)

	a, err = svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, a.Available, 100)
	assert.Empty(t, a.Held)
}

func TestGetShowtimeNotFound(t *testing.T) {
	svc := New(memory.New(), nil, nil, discard(), Config{})

	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}

func TestCachedSnapshotInvalidatedOnChange(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	st := seed(t, store)
	cache := redisrepo.New(rdb)
	svc := New(store, cache, nil, discard(), Config{CacheTTL: time.Minute})
	ctx := context.Background()

	key := func() string {
		k, err := cache.AvailabilityKey(ctx, st.ID)
		require.NoError(t, err)
		return k
	}

	a, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, a.Held)
	assert.True(t, mr.Exists(key()))

	hold(t, store, st.ID, "C4")

	// the snapshot is stale until someone reports the change
	a, err = svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, a.Held)

	svc.Changed(ctx, st.ID)
	assert.False(t, mr.Exists(key()))

	a, err = svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C4"}, a.Held)
}

func TestLateFillAfterChangeIsNotServed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	st := seed(t, store)
	cache := redisrepo.New(rdb)
	svc := New(store, cache, nil, discard(), Config{CacheTTL: time.Minute})
	ctx := context.Background()

	// a reader picks its key and reads the store before the commit
	staleKey, err := cache.AvailabilityKey(ctx, st.ID)
	require.NoError(t, err)
	stale := domain.Availability{ShowtimeID: st.ID, Total: seatmap.Total, Available: seatmap.AllSeats()}

	hold(t, store, st.ID, "C5")
	svc.Changed(ctx, st.ID)

	// and fills the cache only after the invalidation
	require.NoError(t, redisrepo.SetJSON(ctx, cache, staleKey, stale, time.Minute))

	a, err := svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C5"}, a.Held)
	assert.Len(t, a.Available, 99)
}

func TestCacheDownFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	st := seed(t, store)
	svc := New(store, redisrepo.New(rdb), nil, discard(), Config{})
	hold(t, store, st.ID, "D1")

	mr.Close()

	a, err := svc.Get(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"D1"}, a.Held)

	// invalidation failures are only logged
	svc.Changed(context.Background(), st.ID)
}

func TestWatchLocal(t *testing.T) {
	svc := New(memory.New(), nil, nil, discard(), Config{})
	id := uuid.New()

	ch, stop := svc.Watch(id)
	other, stopOther := svc.Watch(uuid.New())
	defer stopOther()

	svc.Changed(context.Background(), id)
	svc.Changed(context.Background(), id)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	// signals coalesce
	select {
	case <-ch:
		t.Fatal("unexpected second notification")
	default:
	}

	select {
	case <-other:
		t.Fatal("notified the wrong showtime")
	default:
	}

	stop()
	stop()
	svc.Changed(context.Background(), id)
	select {
	case <-ch:
		t.Fatal("notified after stop")
	default:
	}
}

func TestWatchAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	ps := redisrepo.NewSeatsPubSub(rdb)
	writer := New(store, nil, ps, discard(), Config{})
	reader := New(store, nil, ps, discard(), Config{})
	id := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx) }()

	ch, stop := reader.Watch(id)
	defer stop()

	assert.Eventually(t, func() bool {
		writer.Changed(context.Background(), id)
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
