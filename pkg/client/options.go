package client

import (
	"io/fs"
	"log/slog"
	"time"

	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Client at construction.
type Option = options.Option[Client]

// WithScriptDir registers the scripts found in dir instead of the bundled
// ones.
func WithScriptDir(dir string) Option {
	return func(c *Client) {
		c.scriptDir = dir
		c.scriptFS = nil
	}
}

// WithScriptFS registers the scripts at the root of fsys.
func WithScriptFS(fsys fs.FS) Option {
	return func(c *Client) {
		c.scriptFS = fsys
		c.scriptDir = ""
	}
}

// WithDecoder overrides the reply decoder for one command name. A nil fn
// removes the entry.
func WithDecoder(name string, fn decode.Func) Option {
	return func(c *Client) {
		c.overrides = append(c.overrides, override{name: name, fn: fn})
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics registers the client's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}

// WithTypeCache keeps up to size key type hints for ttl. A size of zero
// disables the cache. Hints are dropped on this client's stream appends and
// on DEL, UNLINK, RENAME, RENAMENX, SET, GETSET, GETDEL and RESTORE sent
// through Do; writes by other clients or by other commands are only noticed
// once the ttl expires.
func WithTypeCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		c.typeCacheSize = size
		c.typeCacheTTL = ttl
	}
}

// WithNativeZPop skips capability detection and forces the native
// (true) or scripted (false) sorted-set pop strategy.
func WithNativeZPop(native bool) Option {
	return func(c *Client) {
		c.forceZPop = &native
	}
}

type override struct {
	name string
	fn   decode.Func
}
