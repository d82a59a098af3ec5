package client

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// TempKey returns a fresh key name for short-lived data.
func (c *Client) TempKey() string {
	return "temp." + uuid.NewString()
}

// Search yields the keys matching a glob pattern. It scans incrementally
// and is never queued; a key may be yielded more than once if the keyspace
// changes during the scan.
func (c *Client) Search(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var cursor uint64
		for {
			keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
			if err != nil {
				yield("", err)
				return
			}
			for _, k := range keys {
				if !yield(k, nil) {
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

// Keys yields every key.
func (c *Client) Keys(ctx context.Context) iter.Seq2[string, error] {
	return c.Search(ctx, "*")
}

// Type returns the type name of key, "none" when it does not exist. With a
// type cache configured, immediate lookups are served from it; entries are
// invalidated by this client's stream appends and by the key rewriting
// commands sent through Do.
func (c *Client) Type(ctx context.Context, key string) *Result[string] {
	queued := c.stack.Top(ctx) != nil
	if c.types != nil && !queued {
		if t, ok, _ := c.types.Get(ctx, key); ok {
			return resolved(t)
		}
	}

	r := submit(ctx, c, redis.NewCmd(ctx, "TYPE", key), decode.ToString)
	if c.types != nil && !queued {
		if t, err := r.Result(); err == nil && t != "none" {
			_ = c.types.Set(ctx, key, t, c.typeCacheTTL)
		}
	}
	return r
}

func (c *Client) forgetType(ctx context.Context, key string) {
	if c.types != nil {
		_ = c.types.Invalidate(ctx, key)
	}
}

// forgetRewritten drops the hints of keys a raw command may replace with a
// value of another type.
func (c *Client) forgetRewritten(ctx context.Context, name string, args []any) {
	if c.types == nil || len(args) == 0 {
		return
	}
	switch strings.ToUpper(name) {
	case "DEL", "UNLINK":
	case "RENAME", "RENAMENX":
		if len(args) > 2 {
			args = args[:2]
		}
	case "SET", "GETDEL", "GETSET", "RESTORE":
		args = args[:1]
	default:
		return
	}
	for _, k := range args {
		c.forgetType(ctx, fmt.Sprint(k))
	}
}

// Exists reports whether key exists.
func (c *Client) Exists(ctx context.Context, key string) *Result[bool] {
	return submit(ctx, c, redis.NewCmd(ctx, "EXISTS", key), func(raw any) (bool, error) {
		n, err := decode.ToInt64(raw)
		return n > 0, err
	})
}
