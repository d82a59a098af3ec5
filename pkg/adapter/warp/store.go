// Package warp adapts a walrus Client to the go-warp storage interfaces.
package warp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/client"
	"github.com/mirkobrombin/go-walrus/pkg/tx"
	"github.com/mirkobrombin/go-warp/v1/adapter"
	"github.com/redis/go-redis/v9"
)

// Store keeps zstd-compressed, codec-encoded values under a key prefix.
type Store[T any] struct {
	client  *client.Client
	prefix  string
	codec   func(T) ([]byte, error)
	decoder func([]byte) (T, error)
	encPool *sync.Pool
	decPool *sync.Pool
}

// Option configures a Store.
type Option[T any] = options.Option[Store[T]]

// WithPrefix sets the key prefix, "warp:" by default.
func WithPrefix[T any](prefix string) Option[T] {
	return func(s *Store[T]) {
		s.prefix = prefix
	}
}

// NewStore returns a new Store adapter.
func NewStore[T any](c *client.Client, codec func(T) ([]byte, error), decoder func([]byte) (T, error), opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		client:  c,
		prefix:  "warp:",
		codec:   codec,
		decoder: decoder,
		encPool: &sync.Pool{
			New: func() any {
				enc, _ := zstd.NewWriter(nil)
				return enc
			},
		},
		decPool: &sync.Pool{
			New: func() any {
				dec, _ := zstd.NewReader(nil)
				return dec
			},
		},
	}
	options.Apply(s, opts...)
	return s
}

// Get implements adapter.Store.Get. It always reads immediately, even
// inside a transaction.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := s.client.Redis().Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	val, err := s.decode(data)
	if err != nil {
		return zero, false, fmt.Errorf("warp: decode %s: %w", key, err)
	}
	return val, true, nil
}

// Set implements adapter.Store.Set. Inside a transaction the write is
// queued on the caller's top pipeline.
func (s *Store[T]) Set(ctx context.Context, key string, value T) error {
	data, err := s.encode(value)
	if err != nil {
		return fmt.Errorf("warp: encode %s: %w", key, err)
	}
	r := s.client.Do(ctx, "SET", s.prefix+key, data)
	if r.Queued() {
		return nil
	}
	return r.Err()
}

// Keys implements adapter.Store.Keys.
func (s *Store[T]) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for k, err := range s.client.Search(ctx, escapeGlob(s.prefix)+"*") {
		if err != nil {
			return nil, err
		}
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys, nil
}

// Batch implements adapter.Batcher.Batch. The batch owns a fresh session,
// so its writes never mix with the caller's open transactions.
func (s *Store[T]) Batch(ctx context.Context) (adapter.Batch[T], error) {
	ctx, _ = s.client.Begin(tx.NewSession(ctx))
	id, _ := tx.SessionID(ctx)
	return &batch[T]{store: s, session: id}, nil
}

func (s *Store[T]) encode(v T) ([]byte, error) {
	raw, err := s.codec(v)
	if err != nil {
		return nil, err
	}
	enc := s.encPool.Get().(*zstd.Encoder)
	defer s.encPool.Put(enc)
	return enc.EncodeAll(raw, nil), nil
}

func (s *Store[T]) decode(data []byte) (T, error) {
	dec := s.decPool.Get().(*zstd.Decoder)
	defer s.decPool.Put(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.decoder(raw)
}

type batch[T any] struct {
	store   *Store[T]
	session uint64
}

func (b *batch[T]) Set(ctx context.Context, key string, value T) error {
	data, err := b.store.encode(value)
	if err != nil {
		return fmt.Errorf("warp: encode %s: %w", key, err)
	}
	return b.queue(ctx, "SET", b.store.prefix+key, data)
}

func (b *batch[T]) Delete(ctx context.Context, key string) error {
	return b.queue(ctx, "DEL", b.store.prefix+key)
}

func (b *batch[T]) Commit(ctx context.Context) error {
	_, err := b.store.client.Commit(tx.WithSessionID(ctx, b.session))
	return err
}

func (b *batch[T]) queue(ctx context.Context, args ...any) error {
	ctx = tx.WithSessionID(ctx, b.session)
	if b.store.client.Stack().Top(ctx) == nil {
		return tx.ErrNoActiveTransaction
	}
	r := b.store.client.Do(ctx, args...)
	if r.Queued() {
		return nil
	}
	return r.Err()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ adapter.Store[any] = (*Store[any])(nil)
var _ adapter.Batcher[any] = (*Store[any])(nil)
