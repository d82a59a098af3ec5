package client

import (
	"context"
	"sync"

	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/tx"
	"github.com/redis/go-redis/v9"
)

// Result is the typed outcome of a client operation. Immediate operations
// are complete on return. Queued operations complete when their pipeline
// commits; reading them earlier reports errs.ErrPending.
type Result[T any] struct {
	cmd     redis.Cmder
	convert func(any) (T, error)
	pipe    *tx.Pipeline

	once sync.Once
	val  T
	err  error
}

func resolved[T any](val T) *Result[T] {
	r := &Result[T]{val: val}
	r.once.Do(func() {})
	return r
}

func failed[T any](err error) *Result[T] {
	r := &Result[T]{err: err}
	r.once.Do(func() {})
	return r
}

// submit sends cmd now, or queues it on the session's top pipeline when a
// transaction is open.
func submit[T any](ctx context.Context, c *Client, cmd redis.Cmder, convert func(any) (T, error)) *Result[T] {
	return submitOn(ctx, c, c.rdb, cmd, convert)
}

// submitBlocking is submit for commands that wait on the store. Sent
// immediately they go through the blocking channel; queued they are part
// of the batch like any other command.
func submitBlocking[T any](ctx context.Context, c *Client, cmd redis.Cmder, convert func(any) (T, error)) *Result[T] {
	return submitOn(ctx, c, c.blocking, cmd, convert)
}

func submitOn[T any](ctx context.Context, c *Client, ch redis.UniversalClient, cmd redis.Cmder, convert func(any) (T, error)) *Result[T] {
	r := &Result[T]{cmd: cmd, convert: convert}
	if p := c.stack.Top(ctx); p != nil {
		if err := p.Queue(ctx, cmd); err != nil {
			return failed[T](err)
		}
		r.pipe = p
		return r
	}
	_ = ch.Process(ctx, cmd)
	r.resolve()
	return r
}

func (r *Result[T]) resolve() {
	r.once.Do(func() {
		raw, err := tx.Reply(r.cmd)
		if err != nil {
			r.err = err
			return
		}
		r.val, r.err = r.convert(raw)
	})
}

// Queued reports whether the operation was added to a pipeline instead of
// being sent.
func (r *Result[T]) Queued() bool {
	return r.pipe != nil
}

// Result returns the decoded value and the error.
func (r *Result[T]) Result() (T, error) {
	if r.pipe != nil {
		if r.pipe.Aborted() {
			var zero T
			return zero, tx.ErrAborted
		}
		if !r.pipe.Executed() {
			var zero T
			return zero, errs.ErrPending
		}
	}
	r.resolve()
	return r.val, r.err
}

func (r *Result[T]) Val() T {
	v, _ := r.Result()
	return v
}

func (r *Result[T]) Err() error {
	_, err := r.Result()
	return err
}
