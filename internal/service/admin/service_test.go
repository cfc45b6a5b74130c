package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/cinebook/internal/domain"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRepriceShowtime(t *testing.T) {
	svc := New(memory.New())
	ctx := context.Background()
	starts := time.Date(2026, 7, 4, 20, 0, 0, 0, time.UTC)

	st, err := svc.CreateShowtime(ctx, "  The Birds ", starts, 450)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, st.ID)
	assert.Equal(t, "The Birds", st.MovieTitle)

	got, err := svc.GetShowtime(ctx, st.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 450, got.PriceCents)
	assert.True(t, starts.Equal(got.StartsAt))

	got, err = svc.UpdatePrice(ctx, st.ID, 600)
	require.NoError(t, err)
	assert.EqualValues(t, 600, got.PriceCents)
}

func TestCreateShowtimeValidation(t *testing.T) {
	svc := New(memory.New())

	_, err := svc.CreateShowtime(context.Background(), " ", time.Now(), 100)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreateShowtime(context.Background(), "Frenzy", time.Now(), 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdatePriceErrors(t *testing.T) {
	svc := New(memory.New())

	_, err := svc.UpdatePrice(context.Background(), uuid.New(), 100)
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)

	_, err = svc.UpdatePrice(context.Background(), uuid.New(), -5)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.GetShowtime(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrShowtimeNotFound)
}
