package client

import (
	"context"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/script"
	"github.com/redis/go-redis/v9"
)

// ZMember is a sorted-set member with its score.
type ZMember struct {
	Member string
	Score  float64
}

// KeyedZMember is a member popped by a blocking pop, with the key it came
// from.
type KeyedZMember struct {
	Key string
	ZMember
}

// zpopStrategy builds the sorted-set pop commands. It is chosen once per
// client and never changes afterwards.
type zpopStrategy interface {
	name() string
	pop(ctx context.Context, c *Client, key string, count int, highest bool) *Result[[]ZMember]
	blockingPop(ctx context.Context, c *Client, timeout time.Duration, keys []string, highest bool) *Result[*KeyedZMember]
}

type nativeZPop struct{}

func (nativeZPop) name() string { return "native" }

func (nativeZPop) pop(ctx context.Context, c *Client, key string, count int, highest bool) *Result[[]ZMember] {
	op := "ZPOPMIN"
	if highest {
		op = "ZPOPMAX"
	}
	return submit(ctx, c, redis.NewCmd(ctx, op, key, strconv.Itoa(count)), decodeZMembers)
}

func (nativeZPop) blockingPop(ctx context.Context, c *Client, timeout time.Duration, keys []string, highest bool) *Result[*KeyedZMember] {
	op := "BZPOPMIN"
	if highest {
		op = "BZPOPMAX"
	}
	args := make([]any, 0, len(keys)+2)
	args = append(args, op)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))
	return submitBlocking(ctx, c, redis.NewCmd(ctx, args...), decodeKeyedPop)
}

// scriptedZPop composes the pop from ZRANGE and ZREM in a bundled script,
// for stores without ZPOPMIN.
type scriptedZPop struct {
	script *script.Script
}

func (scriptedZPop) name() string { return "scripted" }

func (s scriptedZPop) pop(ctx context.Context, c *Client, key string, count int, highest bool) *Result[[]ZMember] {
	side := "min"
	if highest {
		side = "max"
	}
	return runScript(ctx, c, s.script, []string{key}, []any{side, count}, decodeZMembers)
}

func (scriptedZPop) blockingPop(context.Context, *Client, time.Duration, []string, bool) *Result[*KeyedZMember] {
	return failed[*KeyedZMember](errs.Unsupportedf("blocking sorted-set pop needs native ZPOPMIN support"))
}

func (c *Client) selectZPop(ctx context.Context) (zpopStrategy, error) {
	var native bool
	if c.forceZPop != nil {
		native = *c.forceZPop
	} else {
		native = supportsZPop(ctx, c.rdb)
	}
	if native {
		c.logger.Debug("walrus: sorted-set pop strategy selected", "strategy", "native")
		return nativeZPop{}, nil
	}

	src, err := fs.ReadFile(script.Bundled(), "zpop.lua")
	if err != nil {
		return nil, err
	}
	s := script.New("zpop", string(src))
	if err := s.Register(ctx, c.rdb); err != nil {
		return nil, fmt.Errorf("client: register zpop fallback: %w", err)
	}
	c.logger.Warn("walrus: ZPOPMIN unavailable, using scripted sorted-set pop")
	return scriptedZPop{script: s}, nil
}

func supportsZPop(ctx context.Context, rdb redis.UniversalClient) bool {
	info, err := rdb.Do(ctx, "COMMAND", "INFO", "zpopmin").Slice()
	return err == nil && len(info) > 0 && info[0] != nil
}

// ZPopStrategy names the selected sorted-set pop strategy.
func (c *Client) ZPopStrategy() string {
	return c.zpop.name()
}

// ZPopMin removes and returns up to count lowest scored members.
func (c *Client) ZPopMin(ctx context.Context, key string, count int) *Result[[]ZMember] {
	if count < 1 {
		return failed[[]ZMember](errs.Invalidf("count must be a positive integer, got %d", count))
	}
	return c.zpop.pop(ctx, c, key, count, false)
}

// ZPopMax removes and returns up to count highest scored members.
func (c *Client) ZPopMax(ctx context.Context, key string, count int) *Result[[]ZMember] {
	if count < 1 {
		return failed[[]ZMember](errs.Invalidf("count must be a positive integer, got %d", count))
	}
	return c.zpop.pop(ctx, c, key, count, true)
}

// BZPopMin blocks until one of keys has a member or timeout elapses, in
// which case the value is nil. A zero timeout waits until ctx ends.
func (c *Client) BZPopMin(ctx context.Context, timeout time.Duration, keys ...string) *Result[*KeyedZMember] {
	if err := checkBlockingPop(timeout, keys); err != nil {
		return failed[*KeyedZMember](err)
	}
	return c.zpop.blockingPop(ctx, c, timeout, keys, false)
}

// BZPopMax is BZPopMin for the highest scored member.
func (c *Client) BZPopMax(ctx context.Context, timeout time.Duration, keys ...string) *Result[*KeyedZMember] {
	if err := checkBlockingPop(timeout, keys); err != nil {
		return failed[*KeyedZMember](err)
	}
	return c.zpop.blockingPop(ctx, c, timeout, keys, true)
}

func checkBlockingPop(timeout time.Duration, keys []string) error {
	if timeout < 0 {
		return errs.Invalidf("timeout must not be negative, got %s", timeout)
	}
	if len(keys) == 0 {
		return errs.Invalidf("at least one key is required")
	}
	return nil
}

// decodeZMembers accepts the flat member/score array of RESP2 and of the
// fallback script as well as the RESP3 array of pairs.
func decodeZMembers(reply any) ([]ZMember, error) {
	if reply == nil {
		return []ZMember{}, nil
	}
	items, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("zpop: unexpected reply %T", reply)
	}

	members := make([]ZMember, 0, len(items)/2)
	if len(items) > 0 {
		if _, nested := items[0].([]any); nested {
			for _, it := range items {
				pair, ok := it.([]any)
				if !ok || len(pair) != 2 {
					return nil, fmt.Errorf("zpop: malformed pair %v", it)
				}
				m, err := zmember(pair[0], pair[1])
				if err != nil {
					return nil, err
				}
				members = append(members, m)
			}
			return members, nil
		}
	}

	if len(items)%2 != 0 {
		return nil, fmt.Errorf("zpop: odd reply length %d", len(items))
	}
	for i := 0; i < len(items); i += 2 {
		m, err := zmember(items[i], items[i+1])
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func zmember(member, score any) (ZMember, error) {
	name, err := decode.ToString(member)
	if err != nil {
		return ZMember{}, err
	}
	s, err := decode.ToFloat64(score)
	if err != nil {
		return ZMember{}, err
	}
	return ZMember{Member: name, Score: s}, nil
}

func decodeKeyedPop(reply any) (*KeyedZMember, error) {
	if reply == nil {
		return nil, nil
	}
	items, ok := reply.([]any)
	if !ok || len(items) != 3 {
		return nil, fmt.Errorf("bzpop: unexpected reply %v", reply)
	}
	key, err := decode.ToString(items[0])
	if err != nil {
		return nil, err
	}
	m, err := zmember(items[1], items[2])
	if err != nil {
		return nil, err
	}
	return &KeyedZMember{Key: key, ZMember: m}, nil
}

func decodeZMembersAny(reply any) (any, error) {
	return decodeZMembers(reply)
}

func decodeKeyedPopAny(reply any) (any, error) {
	m, err := decodeKeyedPop(reply)
	if m == nil {
		return nil, err
	}
	return m, err
}
