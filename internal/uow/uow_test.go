package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/kirinyoku/cinebook/internal/repository"
	"github.com/kirinyoku/cinebook/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRunsHooksAfterCommit(t *testing.T) {
	u := NewUoW(memory.New())

	var calls []string
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Session, after func(AfterCommit)) error {
		after(func(context.Context) { calls = append(calls, "first") })
		after(func(context.Context) { calls = append(calls, "second") })
		calls = append(calls, "body")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"body", "first", "second"}, calls)
}

func TestDoDropsHooksOnError(t *testing.T) {
	u := NewUoW(memory.New())
	boom := errors.New("boom")

	called := false
	err := u.Do(context.Background(), func(ctx context.Context, tx repository.Session, after func(AfterCommit)) error {
		after(func(context.Context) { called = true })
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.False(t, called)
}
