package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/cinebook/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// RunTx runs fn inside a transaction. The default isolation is read
// committed: seat uniqueness is enforced by the partial unique index, and
// row locks taken with FOR UPDATE serialize status transitions.
func (s *Store) RunTx(
	ctx context.Context,
	opts *repository.TxOptions,
	fn func(ctx context.Context, tx repository.Session) error,
) error {
	const op = "postgres.Store.RunTx"

	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		if opts.IsoLevel != repository.IsoDefault {
			txOpts.IsoLevel = pgx.TxIsoLevel(opts.IsoLevel)
		}
		if opts.ReadOnly {
			txOpts.AccessMode = pgx.ReadOnly
		}
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return wrapDBErr(op, err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, s.session(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateDBErr(err))
	}

	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Bookings() repository.BookingRepository   { return &BookingRepo{pool: s.pool} }
func (s *Store) Showtimes() repository.ShowtimeRepository { return &ShowtimeRepo{pool: s.pool} }

type session struct {
	bookings  *BookingRepo
	showtimes *ShowtimeRepo
}

func (s *Store) session(db DB) *session {
	return &session{
		bookings:  (&BookingRepo{pool: s.pool}).With(db),
		showtimes: (&ShowtimeRepo{pool: s.pool}).With(db),
	}
}

func (s *session) Bookings() repository.BookingRepository   { return s.bookings }
func (s *session) Showtimes() repository.ShowtimeRepository { return s.showtimes }
