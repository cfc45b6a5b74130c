package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository"
)

type showtimeRepo struct {
	store *Store
	tx    *session
}

var _ repository.ShowtimeRepository = (*showtimeRepo)(nil)

func (r *showtimeRepo) GetShowtime(ctx context.Context, id uuid.UUID) (*domain.Showtime, error) {
	const op = "memory.ShowtimeRepo.GetShowtime"

	var out *domain.Showtime
	err := view(r.store, r.tx, func(st *state) error {
		s, ok := st.showtimes[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		out = &s
		return nil
	})

	return out, err
}

func (r *showtimeRepo) CreateShowtime(ctx context.Context, s *domain.Showtime) error {
	const op = "memory.ShowtimeRepo.CreateShowtime"

	return update(ctx, r.store, r.tx, func(st *state) error {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if _, ok := st.showtimes[s.ID]; ok {
			return fmt.Errorf("%s:%w", op, repository.ErrConflict)
		}
		st.showtimes[s.ID] = *s
		return nil
	})
}

func (r *showtimeRepo) UpdatePrice(ctx context.Context, id uuid.UUID, priceCents int64) error {
	const op = "memory.ShowtimeRepo.UpdatePrice"

	return update(ctx, r.store, r.tx, func(st *state) error {
		s, ok := st.showtimes[id]
		if !ok {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		s.PriceCents = priceCents
		st.showtimes[id] = s
		return nil
	})
}
