// Package memory implements the repository contracts in process memory.
//
// Transactions run one at a time against a private copy of the committed
// state and replace it atomically on commit, so a failed or cancelled
// transaction leaves nothing behind. The active-claim index enforces the
// same rule as the Postgres partial unique index: one active claim per seat
// and showtime.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
)

type Option func(*Store)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	sem chan struct{}

	mu        sync.RWMutex
	committed *state

	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunTx runs fn with exclusive write access to a snapshot of the store.
// Isolation options are accepted for interface parity; every transaction is
// effectively serializable.
func (s *Store) RunTx(
	ctx context.Context,
	opts *repository.TxOptions,
	fn func(ctx context.Context, tx repository.Session) error,
) error {
	const op = "memory.Store.RunTx"

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%s:%w", op, ctx.Err())
	}
	defer func() { <-s.sem }()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	readOnly := opts != nil && opts.ReadOnly
	if err := fn(ctx, &session{store: s, st: work, readOnly: readOnly}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if readOnly {
		return nil
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Bookings() repository.BookingRepository {
	return &bookingRepo{store: s}
}

func (s *Store) Showtimes() repository.ShowtimeRepository {
	return &showtimeRepo{store: s}
}

type session struct {
	store    *Store
	st       *state
	readOnly bool
}

func (t *session) Bookings() repository.BookingRepository {
	return &bookingRepo{store: t.store, tx: t}
}

func (t *session) Showtimes() repository.ShowtimeRepository {
	return &showtimeRepo{store: t.store, tx: t}
}

// view runs fn against the transaction state, or against committed state
// under a read lock when called outside a transaction.
func view(s *Store, tx *session, fn func(st *state) error) error {
	if tx != nil {
		return fn(tx.st)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(s.committed)
}

// update runs fn against the transaction state, or in its own transaction
// when called outside one.
func update(ctx context.Context, s *Store, tx *session, fn func(st *state) error) error {
	if tx != nil {
		if tx.readOnly {
			return fmt.Errorf("memory: write in read-only transaction")
		}
		return fn(tx.st)
	}

	return s.RunTx(ctx, nil, func(_ context.Context, t repository.Session) error {
		return fn(t.(*session).st)
	})
}

type seatKey struct {
	showtime uuid.UUID
	seat     string
}

type claim struct {
	seat   string
	active bool
}

type bookingRow struct {
	booking domain.Booking
	seq     int64
}

type state struct {
	showtimes map[uuid.UUID]domain.Showtime
	bookings  map[uuid.UUID]bookingRow
	claims    map[uuid.UUID][]claim
	active    map[seatKey]uuid.UUID
	seq       int64
}

func newState() *state {
	return &state{
		showtimes: map[uuid.UUID]domain.Showtime{},
		bookings:  map[uuid.UUID]bookingRow{},
		claims:    map[uuid.UUID][]claim{},
		active:    map[seatKey]uuid.UUID{},
	}
}

func (st *state) clone() *state {
	claims := make(map[uuid.UUID][]claim, len(st.claims))
	for id, cs := range st.claims {
		claims[id] = slices.Clone(cs)
	}

	return &state{
		showtimes: maps.Clone(st.showtimes),
		bookings:  maps.Clone(st.bookings),
		claims:    claims,
		active:    maps.Clone(st.active),
		seq:       st.seq,
	}
}
