// Package client is the walrus facade over a go-redis channel.
//
// A Client owns one TransactionStack, one immutable decoder table and one
// script registry. Every operation is sent immediately, or queued on the
// top pipeline of the caller's session when a transaction is open:
//
//	ctx, _ = c.Begin(ctx)
//	id := c.XAdd(ctx, "events", stream.F("kind", "login"))
//	c.XLen(ctx, "events")
//	if _, err := c.Commit(ctx); err != nil {
//		return err
//	}
//	fmt.Println(id.Val())
package client

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/config"
	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/metrics"
	"github.com/mirkobrombin/go-walrus/pkg/script"
	"github.com/mirkobrombin/go-walrus/pkg/stream"
	"github.com/mirkobrombin/go-walrus/pkg/tx"
	"github.com/mirkobrombin/go-warp/v1/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb      redis.UniversalClient
	owned    bool
	stack    *tx.Stack
	decoders *decode.Table
	scripts  atomic.Pointer[script.Registry]
	zpop     zpopStrategy
	types    cache.Cache[string]
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// blocking carries immediate blocking commands; see blockingChannel
	blocking      redis.UniversalClient
	blockingOwned bool

	// construction settings
	scriptDir     string
	scriptFS      fs.FS
	overrides     []override
	registerer    prometheus.Registerer
	typeCacheSize int
	typeCacheTTL  time.Duration
	forceZPop     *bool
}

// New wraps rdb. Scripts are registered and the sorted-set pop strategy is
// selected before New returns. The caller keeps ownership of rdb.
func New(ctx context.Context, rdb redis.UniversalClient, opts ...Option) (*Client, error) {
	if rdb == nil {
		return nil, errs.Usagef("client: nil redis client")
	}

	c := &Client{
		rdb:          rdb,
		logger:       slog.Default(),
		typeCacheTTL: time.Minute,
	}
	options.Apply(c, opts...)

	if c.registerer != nil {
		m, err := metrics.New(c.registerer)
		if err != nil {
			return nil, err
		}
		c.metrics = m
	}

	c.decoders = c.buildDecoders()
	c.stack = tx.NewStack(tx.NewFactory(rdb),
		tx.WithDecoders(c.decoders),
		tx.WithLogger(c.logger),
		tx.WithMetrics(c.metrics),
	)

	if c.typeCacheSize > 0 {
		c.types = cache.NewInMemory[string](cache.WithMaxEntries[string](c.typeCacheSize))
	}

	if err := c.loadScripts(ctx); err != nil {
		return nil, err
	}

	strategy, err := c.selectZPop(ctx)
	if err != nil {
		return nil, err
	}
	c.zpop = strategy
	c.blocking, c.blockingOwned = blockingChannel(rdb, c.logger)
	return c, nil
}

// Open connects using cfg. The returned Client owns the connection and
// closes it on Close. Options given here override those derived from cfg.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))),
		WithTypeCache(cfg.TypeCache.Size, cfg.TypeCache.TTL),
	}
	if cfg.ScriptDir != "" {
		base = append(base, WithScriptDir(cfg.ScriptDir))
	}
	if cfg.NativeZPop != nil {
		base = append(base, WithNativeZPop(*cfg.NativeZPop))
	}

	rdb := redis.NewUniversalClient(cfg.UniversalOptions())
	c, err := New(ctx, rdb, append(base, opts...)...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// Close releases the connection when the client opened it, and the pool
// it created for blocking commands.
func (c *Client) Close() error {
	var err error
	if c.blockingOwned {
		err = c.blocking.Close()
	}
	if c.owned {
		if cerr := c.rdb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Redis exposes the underlying channel.
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Decoders returns the client's decoder table.
func (c *Client) Decoders() *decode.Table {
	return c.decoders
}

// Scripts returns the active script registry.
func (c *Client) Scripts() *script.Registry {
	return c.scripts.Load()
}

func (c *Client) buildDecoders() *decode.Table {
	b := stream.Register(decode.NewBuilder())
	b.Register("ZPOPMIN", decodeZMembersAny).
		Register("ZPOPMAX", decodeZMembersAny).
		Register("BZPOPMIN", decodeKeyedPopAny).
		Register("BZPOPMAX", decodeKeyedPopAny).
		Register("TYPE", decode.String).
		Register("EXISTS", decode.Int)
	for _, o := range c.overrides {
		b.Register(o.name, o.fn)
	}
	return b.Build()
}

// Begin opens a transaction layer for the session carried by ctx, binding
// a new session when ctx has none.
func (c *Client) Begin(ctx context.Context, opts ...tx.BeginOption) (context.Context, *tx.Pipeline) {
	return c.stack.Begin(ctx, opts...)
}

// Commit sends the session's top layer and returns its decoded replies.
func (c *Client) Commit(ctx context.Context) ([]any, error) {
	return c.stack.Commit(ctx)
}

// Abort discards the session's top layer.
func (c *Client) Abort(ctx context.Context) error {
	return c.stack.Abort(ctx)
}

// Atomic returns a reusable scoped transaction.
func (c *Client) Atomic(opts ...tx.BeginOption) *tx.Atomic {
	return c.stack.Atomic(opts...)
}

// Stack exposes the client's transaction stack.
func (c *Client) Stack() *tx.Stack {
	return c.stack
}

// Do sends an arbitrary command, decoding the reply through the table.
func (c *Client) Do(ctx context.Context, args ...any) *Result[any] {
	if len(args) == 0 {
		return failed[any](errs.Usagef("client: empty command"))
	}
	name := fmt.Sprint(args[0])
	c.forgetRewritten(ctx, name, args[1:])
	return submit(ctx, c, redis.NewCmd(ctx, args...), func(raw any) (any, error) {
		return c.decoders.Decode(name, raw)
	})
}
