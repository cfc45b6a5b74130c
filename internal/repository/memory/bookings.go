package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/seatmap"
)

type bookingRepo struct {
	store *Store
	tx    *session
}

var _ repository.BookingRepository = (*bookingRepo)(nil)

func (r *bookingRepo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	const op = "memory.BookingRepo.CreateBooking"

	return update(ctx, r.store, r.tx, func(st *state) error {
		if _, ok := st.showtimes[b.ShowtimeID]; !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}

		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		if _, ok := st.bookings[b.ID]; ok {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
		if b.Status == "" {
			b.Status = domain.BookingPending
		}

		now := r.store.now()
		b.CreatedAt, b.UpdatedAt = now, now

		row := *b
		row.Seats = nil

		st.seq++
		st.bookings[b.ID] = bookingRow{booking: row, seq: st.seq}

		return nil
	})
}

func (r *bookingRepo) ClaimSeats(ctx context.Context, bookingID, showtimeID uuid.UUID, seats []string) error {
	const op = "memory.BookingRepo.ClaimSeats"

	return update(ctx, r.store, r.tx, func(st *state) error {
		if _, ok := st.bookings[bookingID]; !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}

		ordered := slices.Clone(seats)
		seatmap.Sort(ordered)

		var contested []string
		for _, seat := range ordered {
			for _, c := range st.claims[bookingID] {
				if c.seat == seat {
					return fmt.Errorf("%s:%w: duplicate seat %s", op, repository.ErrConflict, seat)
				}
			}

			key := seatKey{showtime: showtimeID, seat: seat}
			if _, taken := st.active[key]; taken {
				contested = append(contested, seat)
				continue
			}

			st.active[key] = bookingID
			st.claims[bookingID] = append(st.claims[bookingID], claim{seat: seat, active: true})
		}

		if len(contested) > 0 {
			return fmt.Errorf("%s:%w", op, &repository.SeatConflictError{Seats: contested})
		}

		return nil
	})
}

func (r *bookingRepo) ReleaseSeats(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	var released int64

	err := update(ctx, r.store, r.tx, func(st *state) error {
		released = st.release(bookingID)
		return nil
	})

	return released, err
}

func (r *bookingRepo) ReclaimSeats(ctx context.Context, bookingID uuid.UUID) error {
	const op = "memory.BookingRepo.ReclaimSeats"

	return update(ctx, r.store, r.tx, func(st *state) error {
		row, ok := st.bookings[bookingID]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}

		cs := st.claims[bookingID]

		var contested []string
		for _, c := range cs {
			if c.active {
				continue
			}
			if _, taken := st.active[seatKey{showtime: row.booking.ShowtimeID, seat: c.seat}]; taken {
				contested = append(contested, c.seat)
			}
		}
		if len(contested) > 0 {
			seatmap.Sort(contested)
			return fmt.Errorf("%s:%w", op, &repository.SeatConflictError{Seats: contested})
		}

		for i := range cs {
			if !cs[i].active {
				cs[i].active = true
				st.active[seatKey{showtime: row.booking.ShowtimeID, seat: cs[i].seat}] = bookingID
			}
		}

		return nil
	})
}

func (r *bookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "memory.BookingRepo.GetBooking"

	var out *domain.Booking
	err := view(r.store, r.tx, func(st *state) error {
		b, ok := st.booking(id)
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = &b
		return nil
	})

	return out, err
}

// GetBookingForUpdate needs no extra locking: transactions are already
// serialized.
func (r *bookingRepo) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return r.GetBooking(ctx, id)
}

func (r *bookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) error {
	const op = "memory.BookingRepo.UpdateStatus"

	return update(ctx, r.store, r.tx, func(st *state) error {
		row, ok := st.bookings[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}

		row.booking.Status = status
		row.booking.UpdatedAt = r.store.now()
		st.bookings[id] = row

		return nil
	})
}

func (r *bookingRepo) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, int64, error) {
	var (
		out   []domain.Booking
		total int64
	)

	err := view(r.store, r.tx, func(st *state) error {
		rows := make([]bookingRow, 0, len(st.bookings))
		for _, row := range st.bookings {
			if f.UserID != uuid.Nil && row.booking.UserID != f.UserID {
				continue
			}
			if f.Status != "" && row.booking.Status != f.Status {
				continue
			}
			rows = append(rows, row)
		}

		slices.SortFunc(rows, func(a, b bookingRow) int {
			if c := b.booking.CreatedAt.Compare(a.booking.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(b.seq, a.seq)
		})

		total = int64(len(rows))

		lo := min(max(f.Offset, 0), len(rows))
		hi := len(rows)
		if f.Limit > 0 {
			hi = min(lo+f.Limit, len(rows))
		}

		out = make([]domain.Booking, 0, hi-lo)
		for _, row := range rows[lo:hi] {
			b, _ := st.booking(row.booking.ID)
			out = append(out, b)
		}

		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return out, total, nil
}

func (r *bookingRepo) HeldSeats(ctx context.Context, showtimeID uuid.UUID) ([]string, error) {
	held := []string{}

	err := view(r.store, r.tx, func(st *state) error {
		for key, bookingID := range st.active {
			if key.showtime != showtimeID {
				continue
			}
			if row, ok := st.bookings[bookingID]; ok && row.booking.Status.Active() {
				held = append(held, key.seat)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	seatmap.Sort(held)

	return held, nil
}

func (r *bookingRepo) ExpirePending(ctx context.Context, cutoff time.Time) ([]domain.ExpiredBooking, error) {
	var expired []domain.ExpiredBooking

	err := update(ctx, r.store, r.tx, func(st *state) error {
		now := r.store.now()
		for id, row := range st.bookings {
			if row.booking.Status != domain.BookingPending || !row.booking.CreatedAt.Before(cutoff) {
				continue
			}

			row.booking.Status = domain.BookingCancelled
			row.booking.UpdatedAt = now
			st.bookings[id] = row
			st.release(id)

			expired = append(expired, domain.ExpiredBooking{
				ID:         id,
				UserID:     row.booking.UserID,
				ShowtimeID: row.booking.ShowtimeID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return expired, nil
}

func (st *state) booking(id uuid.UUID) (domain.Booking, bool) {
	row, ok := st.bookings[id]
	if !ok {
		return domain.Booking{}, false
	}

	b := row.booking
	b.Seats = make([]string, 0, len(st.claims[id]))
	for _, c := range st.claims[id] {
		b.Seats = append(b.Seats, c.seat)
	}
	seatmap.Sort(b.Seats)

	return b, true
}

func (st *state) release(bookingID uuid.UUID) int64 {
	row, ok := st.bookings[bookingID]
	if !ok {
		return 0
	}

	var n int64
	cs := st.claims[bookingID]
	for i := range cs {
		if !cs[i].active {
			continue
		}
		cs[i].active = false
		delete(st.active, seatKey{showtime: row.booking.ShowtimeID, seat: cs[i].seat})
		n++
	}

	return n
}
