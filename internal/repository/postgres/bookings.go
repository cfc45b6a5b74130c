package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/seatmap"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

var _ repository.BookingRepository = (*BookingRepo)(nil)

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

const bookingColumns = `b.id, b.user_id, b.showtime_id, b.status, b.total_cents, b.created_at, b.updated_at`

// CreateBooking inserts a booking row without seats.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - b: booking to insert; ID is generated when zero, timestamps are filled in.
//
// Returns:
//   - error: repository.ErrNotFound if the showtime does not exist.
//   - error: repository.ErrConflict if a booking with the same ID exists.
func (r *BookingRepo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.CreateBooking"

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = domain.BookingPending
	}

	err := r.handle().QueryRow(ctx,
		`INSERT INTO bookings(id, user_id, showtime_id, status, total_cents)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		b.ID, b.UserID, b.ShowtimeID, string(b.Status), b.TotalCents,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// ClaimSeats claims seats for a booking in a single statement. Seats are
// inserted in row/column order so concurrent multi-seat claims lock index
// entries in the same order. A seat held by another active claim is skipped
// by the partial unique index and reported back as contested.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - bookingID: booking that will own the claims.
//   - showtimeID: showtime the seats belong to.
//   - seats: distinct seat codes.
//
// Returns:
//   - error: *repository.SeatConflictError naming every contested seat.
func (r *BookingRepo) ClaimSeats(
	ctx context.Context,
	bookingID, showtimeID uuid.UUID,
	seats []string,
) error {
	const op = "postgres.BookingRepo.ClaimSeats"

	ordered := append([]string(nil), seats...)
	seatmap.Sort(ordered)

	rows, err := r.handle().Query(ctx,
		`INSERT INTO booking_seats(booking_id, showtime_id, seat_code)
		 SELECT $1, $2, s.code
		   FROM unnest($3::text[]) WITH ORDINALITY AS s(code, ord)
		  ORDER BY s.ord
		 ON CONFLICT (showtime_id, seat_code) WHERE active DO NOTHING
		 RETURNING seat_code`,
		bookingID, showtimeID, ordered,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	defer rows.Close()

	claimed := make(map[string]struct{}, len(ordered))
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return wrapDBErr(op, err)
		}
		claimed[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return wrapDBErr(op, err)
	}

	var contested []string
	for _, s := range ordered {
		if _, ok := claimed[s]; !ok {
			contested = append(contested, s)
		}
	}

	if len(contested) > 0 {
		return fmt.Errorf("%s:%w", op, &repository.SeatConflictError{Seats: contested})
	}

	return nil
}

// ReleaseSeats deactivates the active claims of a booking.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - bookingID: booking whose seats are released.
//
// Returns:
//   - int64: number of released seats.
//   - error: if the update fails.
func (r *BookingRepo) ReleaseSeats(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	const op = "postgres.BookingRepo.ReleaseSeats"

	tag, err := r.handle().Exec(ctx,
		`UPDATE booking_seats
		    SET active = false, released_at = now()
		  WHERE booking_id = $1 AND active`,
		bookingID,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

// ReclaimSeats reactivates the released claims of a booking.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - bookingID: booking whose seats are claimed again.
//
// Returns:
//   - error: *repository.SeatConflictError if another active booking holds any of the seats.
//   - error: repository.ErrConflict if a concurrent claim won the unique index.
func (r *BookingRepo) ReclaimSeats(ctx context.Context, bookingID uuid.UUID) error {
	const op = "postgres.BookingRepo.ReclaimSeats"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT bs.seat_code
		   FROM booking_seats bs
		  WHERE bs.booking_id = $1
		    AND NOT bs.active
		    AND EXISTS (
		        SELECT 1 FROM booking_seats o
		         WHERE o.showtime_id = bs.showtime_id
		           AND o.seat_code = bs.seat_code
		           AND o.active)`,
		bookingID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	contested, err := collectSeats(rows)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if len(contested) > 0 {
		return fmt.Errorf("%s:%w", op, &repository.SeatConflictError{Seats: contested})
	}

	if _, err := db.Exec(ctx,
		`UPDATE booking_seats
		    SET active = true, released_at = NULL
		  WHERE booking_id = $1 AND NOT active`,
		bookingID,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// GetBooking retrieves a booking with its seat codes.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the booking.
//
// Returns:
//   - *domain.Booking: the booking when found.
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return r.getBooking(ctx, "postgres.BookingRepo.GetBooking", id, false)
}

// GetBookingForUpdate is GetBooking plus a row lock held until the enclosing
// transaction ends. Outside a transaction the lock is released immediately.
func (r *BookingRepo) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return r.getBooking(ctx, "postgres.BookingRepo.GetBookingForUpdate", id, true)
}

func (r *BookingRepo) getBooking(ctx context.Context, op string, id uuid.UUID, lock bool) (*domain.Booking, error) {
	db := r.handle()

	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = $1`
	if lock {
		q += ` FOR UPDATE`
	}

	b, err := scanBooking(db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	rows, err := db.Query(ctx,
		`SELECT seat_code FROM booking_seats WHERE booking_id = $1`,
		id,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	b.Seats, err = collectSeats(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

// UpdateStatus sets the status of a booking.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the booking.
//   - status: new status.
//
// Returns:
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.BookingStatus) error {
	const op = "postgres.BookingRepo.UpdateStatus"

	tag, err := r.handle().Exec(ctx,
		`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ListBookings returns a page of bookings, newest first, and the total count
// matching the filter.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - f: filter; zero UserID and empty Status match everything.
//
// Returns:
//   - []domain.Booking: the page, each with its seat codes.
//   - int64: total number of matching bookings.
//   - error: if the query fails.
func (r *BookingRepo) ListBookings(
	ctx context.Context,
	f domain.BookingFilter,
) ([]domain.Booking, int64, error) {
	const op = "postgres.BookingRepo.ListBookings"

	db := r.handle()

	var (
		conds []string
		args  []any
	)
	if f.UserID != uuid.Nil {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("b.user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("b.status = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := db.QueryRow(ctx,
		`SELECT count(*) FROM bookings b`+where,
		args...,
	).Scan(&total); err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	if total == 0 {
		return []domain.Booking{}, 0, nil
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := db.Query(ctx,
		`SELECT `+bookingColumns+`,
		        COALESCE((SELECT array_agg(bs.seat_code)
		                    FROM booking_seats bs
		                   WHERE bs.booking_id = b.id), '{}')
		   FROM bookings b`+where+
			fmt.Sprintf(` ORDER BY b.created_at DESC, b.id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	defer rows.Close()

	out := make([]domain.Booking, 0, f.Limit)
	for rows.Next() {
		var (
			b      domain.Booking
			status string
		)
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.ShowtimeID, &status, &b.TotalCents,
			&b.CreatedAt, &b.UpdatedAt, &b.Seats,
		); err != nil {
			return nil, 0, wrapDBErr(op, err)
		}
		b.Status = domain.BookingStatus(status)
		seatmap.Sort(b.Seats)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapDBErr(op, err)
	}

	return out, total, nil
}

// HeldSeats lists seats held by non-cancelled bookings of a showtime.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - showtimeID: showtime to inspect.
//
// Returns:
//   - []string: held seat codes in row/column order.
//   - error: if the query fails.
func (r *BookingRepo) HeldSeats(ctx context.Context, showtimeID uuid.UUID) ([]string, error) {
	const op = "postgres.BookingRepo.HeldSeats"

	rows, err := r.handle().Query(ctx,
		`SELECT bs.seat_code
		   FROM booking_seats bs
		   JOIN bookings b ON b.id = bs.booking_id
		  WHERE bs.showtime_id = $1
		    AND bs.active
		    AND b.status <> 'cancelled'`,
		showtimeID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	held, err := collectSeats(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return held, nil
}

// ExpirePending cancels pending bookings created before cutoff and releases
// their seats. Must run inside a transaction for the two updates to apply
// together.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - cutoff: bookings created strictly before it are expired.
//
// Returns:
//   - []domain.ExpiredBooking: the expired bookings.
//   - error: if any update fails.
func (r *BookingRepo) ExpirePending(ctx context.Context, cutoff time.Time) ([]domain.ExpiredBooking, error) {
	const op = "postgres.BookingRepo.ExpirePending"

	db := r.handle()

	rows, err := db.Query(ctx,
		`UPDATE bookings
		    SET status = 'cancelled', updated_at = now()
		  WHERE status = 'pending' AND created_at < $1
		  RETURNING id, user_id, showtime_id`,
		cutoff,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var (
		expired []domain.ExpiredBooking
		ids     []uuid.UUID
	)
	for rows.Next() {
		var e domain.ExpiredBooking
		if err := rows.Scan(&e.ID, &e.UserID, &e.ShowtimeID); err != nil {
			return nil, wrapDBErr(op, err)
		}
		expired = append(expired, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := db.Exec(ctx,
		`UPDATE booking_seats
		    SET active = false, released_at = now()
		  WHERE booking_id = ANY($1) AND active`,
		ids,
	); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return expired, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	if err := row.Scan(
		&b.ID, &b.UserID, &b.ShowtimeID, &status, &b.TotalCents, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)

	return &b, nil
}

type seatRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func collectSeats(rows seatRows) ([]string, error) {
	defer rows.Close()

	seats := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		seats = append(seats, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seatmap.Sort(seats)

	return seats, nil
}
