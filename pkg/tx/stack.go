package tx

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/mirkobrombin/go-walrus/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// Factory creates the channel-side batch for a new pipeline.
type Factory func(mode Mode) redis.Pipeliner

// NewFactory returns a Factory backed by c.
func NewFactory(c redis.Cmdable) Factory {
	return func(mode Mode) redis.Pipeliner {
		if mode == Pipelined {
			return c.Pipeline()
		}
		return c.TxPipeline()
	}
}

// Stack owns the pipeline stacks of every session. The mutex guards the
// table structure only; sends happen after it is released.
type Stack struct {
	mu     sync.Mutex
	layers map[uint64][]*Pipeline

	factory  Factory
	decoders *decode.Table
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Stack.
type Option = options.Option[Stack]

// WithDecoders sets the table used to decode committed replies.
func WithDecoders(t *decode.Table) Option {
	return func(s *Stack) {
		s.decoders = t
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Stack) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Stack) {
		s.metrics = m
	}
}

type beginConfig struct {
	mode Mode
}

// BeginOption configures a single Begin call.
type BeginOption = options.Option[beginConfig]

// WithMode selects the pipeline mode (Transactional by default).
func WithMode(mode Mode) BeginOption {
	return func(c *beginConfig) {
		c.mode = mode
	}
}

func NewStack(factory Factory, opts ...Option) *Stack {
	s := &Stack{
		layers:  make(map[uint64][]*Pipeline),
		factory: factory,
		logger:  slog.Default(),
	}
	options.Apply(s, opts...)
	return s
}

// Begin pushes a new pipeline for the session of ctx and returns it. When
// ctx has no session one is bound and the derived context is returned;
// later calls must use that context.
func (s *Stack) Begin(ctx context.Context, opts ...BeginOption) (context.Context, *Pipeline) {
	id, ok := SessionID(ctx)
	if !ok {
		ctx = NewSession(ctx)
		id, _ = SessionID(ctx)
	}

	cfg := beginConfig{mode: Transactional}
	options.Apply(&cfg, opts...)
	p := newPipeline(cfg.mode, s.factory(cfg.mode), s.decoders)

	s.mu.Lock()
	s.layers[id] = append(s.layers[id], p)
	depth := len(s.layers[id])
	s.mu.Unlock()

	s.metrics.TxBegin()
	s.logger.Debug("walrus: transaction begun", "session", id, "depth", depth, "mode", cfg.mode)
	return ctx, p
}

// Commit pops the top pipeline and sends it as one round trip.
func (s *Stack) Commit(ctx context.Context) ([]any, error) {
	p, err := s.pop(ctx, nil)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, p)
}

// Abort pops the top pipeline and drops its commands.
func (s *Stack) Abort(ctx context.Context) error {
	p, err := s.pop(ctx, nil)
	if err != nil {
		return err
	}
	s.drop(ctx, p)
	return nil
}

// commitLayer is Commit restricted to p being the top layer.
func (s *Stack) commitLayer(ctx context.Context, p *Pipeline) ([]any, error) {
	if _, err := s.pop(ctx, p); err != nil {
		return nil, err
	}
	return s.send(ctx, p)
}

func (s *Stack) abortLayer(ctx context.Context, p *Pipeline) error {
	if _, err := s.pop(ctx, p); err != nil {
		return err
	}
	s.drop(ctx, p)
	return nil
}

// abortThrough drops p and every layer opened above it, innermost first,
// and returns how many layers were dropped.
func (s *Stack) abortThrough(ctx context.Context, p *Pipeline) (int, error) {
	id, ok := SessionID(ctx)
	if !ok {
		return 0, ErrNoActiveTransaction
	}

	s.mu.Lock()
	layers := s.layers[id]
	at := slices.Index(layers, p)
	if at < 0 {
		s.mu.Unlock()
		return 0, ErrOutOfOrder
	}
	dropped := slices.Clone(layers[at:])
	clear(layers[at:])
	if at == 0 {
		delete(s.layers, id)
	} else {
		s.layers[id] = layers[:at]
	}
	s.mu.Unlock()

	for i := len(dropped) - 1; i >= 0; i-- {
		s.drop(ctx, dropped[i])
	}
	return len(dropped), nil
}

func (s *Stack) send(ctx context.Context, p *Pipeline) ([]any, error) {
	n := p.Len()
	replies, err := p.exec(ctx)
	s.metrics.TxCommit(n, err)
	if err != nil {
		s.logger.Debug("walrus: transaction commit failed", "commands", n, "mode", p.mode, "error", err)
		return replies, err
	}
	s.logger.Debug("walrus: transaction committed", "commands", n, "mode", p.mode)
	return replies, nil
}

func (s *Stack) drop(ctx context.Context, p *Pipeline) {
	n := p.Len()
	p.discard()
	s.metrics.TxAbort()
	s.logger.Debug("walrus: transaction aborted", "commands", n)
}

func (s *Stack) pop(ctx context.Context, want *Pipeline) (*Pipeline, error) {
	id, ok := SessionID(ctx)
	if !ok {
		return nil, ErrNoActiveTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	layers := s.layers[id]
	if len(layers) == 0 {
		return nil, ErrNoActiveTransaction
	}
	top := layers[len(layers)-1]
	if want != nil && top != want {
		return nil, ErrOutOfOrder
	}

	layers[len(layers)-1] = nil
	layers = layers[:len(layers)-1]
	if len(layers) == 0 {
		delete(s.layers, id)
	} else {
		s.layers[id] = layers
	}
	return top, nil
}

// Top returns the pipeline commands issued with ctx should be queued into,
// or nil when no transaction is open.
func (s *Stack) Top(ctx context.Context) *Pipeline {
	id, ok := SessionID(ctx)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	layers := s.layers[id]
	if len(layers) == 0 {
		return nil
	}
	return layers[len(layers)-1]
}

// Depth returns the number of open layers for the session of ctx.
func (s *Stack) Depth(ctx context.Context) int {
	id, ok := SessionID(ctx)
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers[id])
}

// Sessions returns how many sessions currently hold an open layer.
func (s *Stack) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

var _ Transaction = (*Stack)(nil)
