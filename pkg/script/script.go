// Package script loads server-side scripts from a directory and exposes
// them by name.
//
// Every file in the directory is registered with the store once, under its
// base name without extension. A Registry never changes after Load returns;
// reloading builds a new one.
package script

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

//go:embed scripts/*.lua
var bundled embed.FS

// Bundled returns the scripts shipped with the package.
func Bundled() fs.FS {
	sub, err := fs.Sub(bundled, "scripts")
	if err != nil {
		panic(err)
	}
	return sub
}

// Script is a registered script.
type Script struct {
	name        string
	source      string
	fingerprint uint64
	inner       *redis.Script
}

// New wraps source under name without registering it.
func New(name, source string) *Script {
	return &Script{
		name:        name,
		source:      source,
		fingerprint: xxhash.Sum64String(source),
		inner:       redis.NewScript(source),
	}
}

func (s *Script) Name() string {
	return s.name
}

func (s *Script) Source() string {
	return s.source
}

// SHA is the handle the store assigned to the script body.
func (s *Script) SHA() string {
	return s.inner.Hash()
}

// Fingerprint identifies the script body.
func (s *Script) Fingerprint() uint64 {
	return s.fingerprint
}

// Register loads the body into the store's script cache.
func (s *Script) Register(ctx context.Context, c redis.Scripter) error {
	return s.inner.Load(ctx, c).Err()
}

// Command builds EVALSHA sha numkeys key... arg... without sending it.
func (s *Script) Command(ctx context.Context, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmd(ctx, invocation("EVALSHA", s.SHA(), keys, args)...)
}

// EvalCommand builds EVAL source numkeys key... arg..., used when the
// store lost its script cache.
func (s *Script) EvalCommand(ctx context.Context, keys []string, args ...any) *redis.Cmd {
	return redis.NewCmd(ctx, invocation("EVAL", s.source, keys, args)...)
}

func invocation(name, body string, keys []string, args []any) []any {
	cmd := make([]any, 0, 3+len(keys)+len(args))
	cmd = append(cmd, name, body, len(keys))
	for _, k := range keys {
		cmd = append(cmd, k)
	}
	return append(cmd, args...)
}

// Registry maps logical names to registered scripts.
type Registry struct {
	scripts map[string]*Script
}

type loadConfig struct {
	logger *slog.Logger
}

// Option configures Load and LoadFS.
type Option = options.Option[loadConfig]

func WithLogger(l *slog.Logger) Option {
	return func(c *loadConfig) {
		c.logger = l
	}
}

// Load registers every script in dir. An empty dir selects the bundled
// scripts.
func Load(ctx context.Context, c redis.Scripter, dir string, opts ...Option) (*Registry, error) {
	if dir == "" {
		return LoadFS(ctx, c, Bundled(), opts...)
	}
	return LoadFS(ctx, c, os.DirFS(dir), opts...)
}

// LoadFS registers every regular, non-hidden file at the root of fsys.
// Files are processed in name order; when two files share a base name the
// later one wins. Any failure aborts the load.
func LoadFS(ctx context.Context, c redis.Scripter, fsys fs.FS, opts ...Option) (*Registry, error) {
	cfg := loadConfig{logger: slog.Default()}
	options.Apply(&cfg, opts...)

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("script: read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, e.Name())
	}

	sources := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := fs.ReadFile(fsys, file)
			if err != nil {
				return fmt.Errorf("script: read %s: %w", file, err)
			}
			sources[i] = string(data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Registry{scripts: make(map[string]*Script, len(files))}
	registered := make(map[uint64]bool, len(files))
	for i, file := range files {
		name := strings.TrimSuffix(file, path.Ext(file))
		s := New(name, sources[i])

		if !registered[s.fingerprint] {
			if err := s.Register(ctx, c); err != nil {
				return nil, fmt.Errorf("script: register %s: %w", file, err)
			}
			registered[s.fingerprint] = true
		}

		if _, dup := r.scripts[name]; dup {
			cfg.logger.Warn("walrus: duplicate script name, keeping the later file", "script", name, "file", file)
		}
		r.scripts[name] = s
	}
	return r, nil
}

// Lookup returns the script registered under name.
func (r *Registry) Lookup(name string) (*Script, error) {
	if r != nil {
		if s, ok := r.scripts[name]; ok {
			return s, nil
		}
	}
	return nil, errs.UnknownScript(name)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.scripts))
	for name := range r.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.scripts)
}

// Changed lists the names that are new or whose body differs from prev.
func (r *Registry) Changed(prev *Registry) []string {
	var changed []string
	for _, name := range r.Names() {
		old, err := prev.Lookup(name)
		if err != nil || old.fingerprint != r.scripts[name].fingerprint {
			changed = append(changed, name)
		}
	}
	return changed
}
