package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
)

type ShowtimeRepo struct {
	pool *pgxpool.Pool
	db   DB
}

var _ repository.ShowtimeRepository = (*ShowtimeRepo)(nil)

func (r *ShowtimeRepo) With(db DB) *ShowtimeRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ShowtimeRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetShowtime retrieves a showtime by its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the showtime.
//
// Returns:
//   - *domain.Showtime: the showtime when found.
//   - error: repository.ErrNotFound if the showtime is not found.
func (r *ShowtimeRepo) GetShowtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	const op = "postgres.ShowtimeRepo.GetShowtime"

	var s domain.Showtime
	err := r.handle().QueryRow(ctx,
		`SELECT id, movie_title, starts_at, price_cents
		   FROM showtimes WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.MovieTitle, &s.StartsAt, &s.PriceCents)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &s, nil
}

// CreateShowtime inserts a showtime. Catalog management lives elsewhere;
// this exists for seeding and tests.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - s: showtime to insert; ID is generated when zero.
//
// Returns:
//   - error: repository.ErrConflict if the ID already exists.
func (r *ShowtimeRepo) CreateShowtime(ctx context.Context, s *domain.Showtime) error {
	const op = "postgres.ShowtimeRepo.CreateShowtime"

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	if _, err := r.handle().Exec(ctx,
		`INSERT INTO showtimes(id, movie_title, starts_at, price_cents)
		 VALUES ($1, $2, $3, $4)`,
		s.ID, s.MovieTitle, s.StartsAt, s.PriceCents,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// UpdatePrice changes the per-seat price of a showtime. Existing bookings
// keep the total computed when they were created.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the showtime.
//   - priceCents: new price per seat.
//
// Returns:
//   - error: repository.ErrNotFound if the showtime is not found.
func (r *ShowtimeRepo) UpdatePrice(ctx context.Context, id uuid.UUID, priceCents int64) error {
	const op = "postgres.ShowtimeRepo.UpdatePrice"

	tag, err := r.handle().Exec(ctx,
		`UPDATE showtimes SET price_cents = $2, updated_at = now() WHERE id = $1`,
		id, priceCents,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
