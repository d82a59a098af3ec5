package tx

import (
	"context"
	"errors"
)

// Atomic runs blocks of work inside their own pipeline layer. The same
// Atomic can be used any number of times, sequentially or nested.
type Atomic struct {
	stack *Stack
	opts  []BeginOption
}

// Atomic returns a scoped wrapper whose layers are opened with opts.
func (s *Stack) Atomic(opts ...BeginOption) *Atomic {
	return &Atomic{stack: s, opts: opts}
}

// Scope is the handle passed to an Atomic block.
type Scope struct {
	atomic  *Atomic
	session uint64
	pipe    *Pipeline
}

// Do opens a layer, runs fn and commits the layer when fn returns nil.
// When fn returns an error or panics the layer is aborted and the error
// is returned (or the panic resumed) unchanged. Layers fn opened with
// Begin and left open are discarded along with the block's own layer; a
// block that returns nil in that state fails with ErrOutOfOrder.
func (a *Atomic) Do(ctx context.Context, fn func(ctx context.Context, s *Scope) error) ([]any, error) {
	ctx, p := a.stack.Begin(ctx, a.opts...)
	id, _ := SessionID(ctx)
	scope := &Scope{atomic: a, session: id, pipe: p}

	finished := false
	defer func() {
		if finished {
			return
		}
		a.abandon(ctx, scope)
	}()

	err := fn(ctx, scope)
	finished = true
	if err != nil {
		a.abandon(ctx, scope)
		return nil, err
	}
	replies, err := a.stack.commitLayer(ctx, scope.pipe)
	if errors.Is(err, ErrOutOfOrder) {
		a.abandon(ctx, scope)
	}
	return replies, err
}

func (a *Atomic) abandon(ctx context.Context, s *Scope) {
	n, err := a.stack.abortThrough(ctx, s.pipe)
	if err != nil {
		a.stack.logger.Warn("walrus: atomic block layer already closed", "session", s.session, "error", err)
		return
	}
	if n > 1 {
		a.stack.logger.Warn("walrus: atomic block left inner layers open, discarded", "session", s.session, "layers", n-1)
	}
}

// Pipeline returns the layer currently owned by the scope.
func (s *Scope) Pipeline() *Pipeline {
	return s.pipe
}

// Commit sends the scope's layer and opens a fresh one in its place.
func (s *Scope) Commit(ctx context.Context) ([]any, error) {
	ctx = WithSessionID(ctx, s.session)
	replies, err := s.atomic.stack.commitLayer(ctx, s.pipe)
	if err != nil && !s.pipe.Executed() {
		return nil, err
	}
	_, s.pipe = s.atomic.stack.Begin(ctx, s.atomic.opts...)
	return replies, err
}

// Clear drops the scope's layer and opens a fresh one in its place.
func (s *Scope) Clear(ctx context.Context) error {
	ctx = WithSessionID(ctx, s.session)
	if err := s.atomic.stack.abortLayer(ctx, s.pipe); err != nil {
		return err
	}
	_, s.pipe = s.atomic.stack.Begin(ctx, s.atomic.opts...)
	return nil
}
