package client

import (
	"context"

	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/mirkobrombin/go-walrus/pkg/script"
	"github.com/redis/go-redis/v9"
)

func (c *Client) loadScripts(ctx context.Context) error {
	if c.scriptFS != nil {
		return c.swapScripts(script.LoadFS(ctx, c.rdb, c.scriptFS, script.WithLogger(c.logger)))
	}
	return c.InitScripts(ctx, c.scriptDir)
}

// InitScripts registers the scripts in dir (the bundled ones when dir is
// empty) and replaces the active registry. On failure the previous
// registry stays active.
func (c *Client) InitScripts(ctx context.Context, dir string) error {
	return c.swapScripts(script.Load(ctx, c.rdb, dir, script.WithLogger(c.logger)))
}

func (c *Client) swapScripts(next *script.Registry, err error) error {
	if err != nil {
		return err
	}
	prev := c.scripts.Swap(next)
	if prev != nil {
		if changed := next.Changed(prev); len(changed) > 0 {
			c.logger.Info("walrus: scripts reloaded", "changed", changed)
		}
	}
	c.metrics.ScriptsRegistered(next.Len())
	c.logger.Debug("walrus: scripts registered", "scripts", next.Names())
	return nil
}

// RunScript invokes a registered script by name. Immediate calls fall back
// to EVAL when the store no longer knows the script; queued calls do not.
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...any) *Result[any] {
	s, err := c.Scripts().Lookup(name)
	if err != nil {
		return failed[any](err)
	}
	return runScript(ctx, c, s, keys, args, func(raw any) (any, error) { return raw, nil })
}

// CAS replaces the value at key with newValue when the current value
// starts with value. It reports whether the swap happened.
func (c *Client) CAS(ctx context.Context, key, value, newValue string) *Result[bool] {
	s, err := c.Scripts().Lookup("cas")
	if err != nil {
		return failed[bool](err)
	}
	return runScript(ctx, c, s, []string{key}, []any{value, newValue}, func(raw any) (bool, error) {
		n, err := decode.ToInt64(raw)
		return n == 1, err
	})
}

func runScript[T any](ctx context.Context, c *Client, s *script.Script, keys []string, args []any, convert func(any) (T, error)) *Result[T] {
	c.metrics.ScriptRun(s.Name())

	cmd := s.Command(ctx, keys, args...)
	if c.stack.Top(ctx) != nil {
		return submit(ctx, c, cmd, convert)
	}

	if err := c.rdb.Process(ctx, cmd); redis.HasErrorPrefix(err, "NOSCRIPT") {
		c.logger.Warn("walrus: script missing from store, sending source", "script", s.Name())
		cmd = s.EvalCommand(ctx, keys, args...)
		_ = c.rdb.Process(ctx, cmd)
	}
	r := &Result[T]{cmd: cmd, convert: convert}
	r.resolve()
	return r
}
