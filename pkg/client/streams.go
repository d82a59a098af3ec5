package client

import (
	"context"

	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/mirkobrombin/go-walrus/pkg/stream"
	"github.com/redis/go-redis/v9"
)

func command[T any](ctx context.Context, c *Client, args []any, err error, convert func(any) (T, error)) *Result[T] {
	if err != nil {
		return failed[T](err)
	}
	return submit(ctx, c, redis.NewCmd(ctx, args...), convert)
}

// XAdd appends a record and returns its id.
func (c *Client) XAdd(ctx context.Context, key string, fields stream.Fields, opts ...stream.Option) *Result[string] {
	args, err := stream.Add(key, fields, opts...)
	if err == nil {
		c.forgetType(ctx, key)
	}
	return command(ctx, c, args, err, decode.ToString)
}

// XRange returns the records between the start and stop bounds, oldest
// first. A missing stream gives an empty slice.
func (c *Client) XRange(ctx context.Context, key string, opts ...stream.Option) *Result[[]stream.Record] {
	args, err := stream.Range(key, opts...)
	return command(ctx, c, args, err, stream.Records)
}

// XRevRange is XRange newest first.
func (c *Client) XRevRange(ctx context.Context, key string, opts ...stream.Option) *Result[[]stream.Record] {
	args, err := stream.RevRange(key, opts...)
	return command(ctx, c, args, err, stream.Records)
}

// XRead reads from one or more streams. Streams without new records are
// absent from the map, and a read that matched nothing gives a nil map.
// With stream.WithBlock the call waits up to the given duration, or until
// ctx ends when the duration is zero; the channel's own read timeout does
// not cut it short.
func (c *Client) XRead(ctx context.Context, opts ...stream.Option) *Result[map[string][]stream.Record] {
	args, err := stream.Read(opts...)
	if err != nil {
		return failed[map[string][]stream.Record](err)
	}
	if stream.Blocking(opts...) {
		return submitBlocking(ctx, c, redis.NewCmd(ctx, args...), stream.Streams)
	}
	return submit(ctx, c, redis.NewCmd(ctx, args...), stream.Streams)
}

// XTrim keeps at most maxLen records and returns how many were removed.
func (c *Client) XTrim(ctx context.Context, key string, maxLen int, opts ...stream.Option) *Result[int64] {
	args, err := stream.Trim(key, maxLen, opts...)
	return command(ctx, c, args, err, decode.ToInt64)
}

// XDel removes records by id and returns how many existed.
func (c *Client) XDel(ctx context.Context, key string, ids ...string) *Result[int64] {
	args, err := stream.Del(key, ids...)
	return command(ctx, c, args, err, decode.ToInt64)
}

func (c *Client) XLen(ctx context.Context, key string) *Result[int64] {
	return command(ctx, c, stream.Len(key), nil, decode.ToInt64)
}
