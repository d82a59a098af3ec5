package tx

import (
	"context"
	"sync/atomic"
)

type sessionKey struct{}

var lastSession atomic.Uint64

// NewSession returns a copy of ctx bound to a fresh session.
func NewSession(ctx context.Context) context.Context {
	return WithSessionID(ctx, lastSession.Add(1))
}

// WithSessionID binds ctx to an existing session.
func WithSessionID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session bound to ctx.
func SessionID(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(sessionKey{}).(uint64)
	return id, ok
}
