package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomic_CommitsOnSuccess(t *testing.T) {
	stack, rdb := newStack(t)

	replies, err := stack.Atomic().Do(context.Background(), func(ctx context.Context, s *Scope) error {
		queue(t, ctx, s.Pipeline(), "SET", "a", "1")
		queue(t, ctx, s.Pipeline(), "INCR", "a")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"OK", int64(2)}, replies)

	val, err := rdb.Get(context.Background(), "a").Result()
	require.NoError(t, err)
	assert.Equal(t, "2", val)
	assert.Equal(t, 0, stack.Sessions())
}

func TestAtomic_ErrorDiscardsBlock(t *testing.T) {
	stack, rdb := newStack(t)
	failure := errors.New("halfway")

	_, err := stack.Atomic().Do(context.Background(), func(ctx context.Context, s *Scope) error {
		queue(t, ctx, s.Pipeline(), "SET", "never", "1")
		return failure
	})
	assert.Same(t, failure, err)

	// an unrelated transaction must not carry the discarded commands
	ctx, p := stack.Begin(context.Background())
	queue(t, ctx, p, "EXISTS", "never")
	replies, err := stack.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0)}, replies)

	_, err = rdb.Get(ctx, "never").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestAtomic_PanicAbortsAndResumes(t *testing.T) {
	stack, rdb := newStack(t)
	var inner context.Context

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = stack.Atomic().Do(context.Background(), func(ctx context.Context, s *Scope) error {
			inner = ctx
			queue(t, ctx, s.Pipeline(), "SET", "p", "1")
			panic("boom")
		})
	})
	assert.Equal(t, 0, stack.Depth(inner))

	_, err := rdb.Get(context.Background(), "p").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestAtomic_Nested(t *testing.T) {
	stack, rdb := newStack(t)
	a := stack.Atomic()

	outer, err := a.Do(context.Background(), func(ctx context.Context, s *Scope) error {
		queue(t, ctx, s.Pipeline(), "SET", "outer", "1")

		inner, err := a.Do(ctx, func(ctx context.Context, s *Scope) error {
			assert.Equal(t, 2, stack.Depth(ctx))
			queue(t, ctx, s.Pipeline(), "SET", "inner", "1")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"OK"}, inner)
		assert.Equal(t, 1, stack.Depth(ctx))

		_, err = a.Do(ctx, func(ctx context.Context, s *Scope) error {
			queue(t, ctx, s.Pipeline(), "SET", "inner-failed", "1")
			return errors.New("inner only")
		})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"OK"}, outer)

	n, err := rdb.Exists(context.Background(), "outer", "inner", "inner-failed").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAtomic_Reusable(t *testing.T) {
	stack, rdb := newStack(t)
	a := stack.Atomic(WithMode(Pipelined))

	for i := 0; i < 3; i++ {
		replies, err := a.Do(context.Background(), func(ctx context.Context, s *Scope) error {
			assert.Equal(t, Pipelined, s.Pipeline().Mode())
			queue(t, ctx, s.Pipeline(), "INCR", "runs")
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []any{int64(i + 1)}, replies)
	}

	n, err := rdb.Get(context.Background(), "runs").Int()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAtomic_ScopeCommitAndClear(t *testing.T) {
	stack, rdb := newStack(t)

	replies, err := stack.Atomic().Do(context.Background(), func(ctx context.Context, s *Scope) error {
		first := s.Pipeline()
		queue(t, ctx, first, "SET", "early", "1")

		got, err := s.Commit(ctx)
		require.NoError(t, err)
		assert.Equal(t, []any{"OK"}, got)
		assert.NotSame(t, first, s.Pipeline())
		assert.Equal(t, 1, stack.Depth(ctx))

		exists, err := rdb.Exists(ctx, "early").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)

		queue(t, ctx, s.Pipeline(), "SET", "cleared", "1")
		require.NoError(t, s.Clear(ctx))
		assert.Equal(t, 1, stack.Depth(ctx))

		queue(t, ctx, s.Pipeline(), "SET", "late", "1")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"OK"}, replies)

	n, err := rdb.Exists(context.Background(), "early", "cleared", "late").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAtomic_UnbalancedLayerIsUnwound(t *testing.T) {
	stack, rdb := newStack(t)
	ctx := NewSession(context.Background())

	_, err := stack.Atomic().Do(ctx, func(ctx context.Context, s *Scope) error {
		queue(t, ctx, s.Pipeline(), "SET", "outer", "1")
		ctx, inner := stack.Begin(ctx)
		queue(t, ctx, inner, "SET", "inner", "1")
		return nil
	})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 0, stack.Depth(ctx))
	assert.Equal(t, 0, stack.Sessions())

	n, err := rdb.Exists(context.Background(), "outer", "inner").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAtomic_ErrorUnwindsInnerLayers(t *testing.T) {
	stack, rdb := newStack(t)
	ctx := NewSession(context.Background())
	failure := errors.New("halfway")

	var inner *Pipeline
	_, err := stack.Atomic().Do(ctx, func(ctx context.Context, s *Scope) error {
		queue(t, ctx, s.Pipeline(), "SET", "outer", "1")
		ctx, inner = stack.Begin(ctx)
		queue(t, ctx, inner, "SET", "inner", "1")
		return failure
	})
	assert.Same(t, failure, err)
	assert.Equal(t, 0, stack.Depth(ctx))
	assert.True(t, inner.Aborted())

	// the session keeps working once the block is gone
	ctx, p := stack.Begin(ctx)
	queue(t, ctx, p, "SET", "after", "1")
	_, err = stack.Commit(ctx)
	require.NoError(t, err)

	n, err := rdb.Exists(context.Background(), "outer", "inner", "after").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
