// Package pubsub delivers channel and pattern messages to a handler on a
// dedicated subscription connection.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/mirkobrombin/go-walrus/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrStop is returned by a Handler to end the loop without an error.
	ErrStop = errors.New("walrus: stop listening")

	ErrAlreadyStarted = fmt.Errorf("%w: listener already started", errs.ErrUsage)
)

// Kind classifies a delivered Message.
type Kind string

const (
	KindSubscribe    Kind = "subscribe"
	KindPSubscribe   Kind = "psubscribe"
	KindUnsubscribe  Kind = "unsubscribe"
	KindPUnsubscribe Kind = "punsubscribe"
	KindMessage      Kind = "message"
	KindPMessage     Kind = "pmessage"
)

// Message is one event read from the subscription connection. Pattern is
// set for pattern messages only; Count is set for (un)subscribe
// confirmations only.
type Message struct {
	Kind    Kind
	Pattern string
	Channel string
	Payload string
	Count   int
}

// Handler receives every message in arrival order.
type Handler func(ctx context.Context, msg Message) error

// Subscriber opens subscription connections. *redis.Client and
// redis.UniversalClient satisfy it.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Listener runs a handler over one subscription connection. It runs at
// most once.
type Listener struct {
	sub      Subscriber
	handler  Handler
	channels []string
	patterns []string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	started atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Option configures a Listener.
type Option = options.Option[Listener]

func WithLogger(l *slog.Logger) Option {
	return func(li *Listener) {
		li.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(li *Listener) {
		li.metrics = m
	}
}

// New registers handler for the given channels and patterns.
func New(sub Subscriber, handler Handler, channels, patterns []string, opts ...Option) (*Listener, error) {
	if sub == nil {
		return nil, errs.Usagef("nil subscriber")
	}
	if handler == nil {
		return nil, errs.Usagef("nil handler")
	}
	if len(channels) == 0 && len(patterns) == 0 {
		return nil, errs.Usagef("listener needs at least one channel or pattern")
	}

	l := &Listener{
		sub:      sub,
		handler:  handler,
		channels: append([]string(nil), channels...),
		patterns: append([]string(nil), patterns...),
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	options.Apply(l, opts...)
	return l, nil
}

// Run subscribes and blocks until the handler returns ErrStop, ctx is done
// or the connection fails. The first two end the loop with a nil error.
func (l *Listener) Run(ctx context.Context) error {
	ctx, ps, err := l.begin(ctx)
	if err != nil {
		return err
	}
	return l.loop(ctx, ps)
}

// Start subscribes and runs the loop on a new goroutine. Subscription
// errors are returned directly.
func (l *Listener) Start(ctx context.Context) error {
	ctx, ps, err := l.begin(ctx)
	if err != nil {
		return err
	}
	go l.loop(ctx, ps)
	return nil
}

// Stop ends the loop and waits for it to return. It is a no-op on a
// listener that never started.
func (l *Listener) Stop() error {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-l.done
	return l.err
}

// Done is closed once the loop has returned.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Err is the loop's result, valid after Done is closed.
func (l *Listener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *Listener) begin(ctx context.Context) (context.Context, *redis.PubSub, error) {
	if !l.started.CompareAndSwap(false, true) {
		return nil, nil, ErrAlreadyStarted
	}

	ps := l.sub.Subscribe(ctx)
	var err error
	if len(l.channels) > 0 {
		err = ps.Subscribe(ctx, l.channels...)
	}
	if err == nil && len(l.patterns) > 0 {
		err = ps.PSubscribe(ctx, l.patterns...)
	}
	if err != nil {
		_ = ps.Close()
		l.err = err
		close(l.done)
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	return ctx, ps, nil
}

func (l *Listener) loop(ctx context.Context, ps *redis.PubSub) error {
	// Receive does not observe cancellation while blocked on a read;
	// closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer func() {
		stop()
		_ = ps.Close()
		close(l.done)
	}()

	l.logger.Debug("walrus: listener started", "channels", l.channels, "patterns", l.patterns)
	for msg, err := range messages(ctx, ps) {
		if err == nil {
			l.metrics.PubSubMessage()
			err = l.handler(ctx, msg)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, ErrStop) || ctx.Err() != nil {
			break
		}
		l.logger.Error("walrus: listener failed", "error", err)
		l.err = err
		return err
	}
	l.logger.Debug("walrus: listener stopped")
	return nil
}

// messages yields every subscription event until the connection fails.
func messages(ctx context.Context, ps *redis.PubSub) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for {
			raw, err := ps.Receive(ctx)
			if err != nil {
				yield(Message{}, err)
				return
			}
			msg, ok := convert(raw)
			if !ok {
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func convert(raw any) (Message, bool) {
	switch m := raw.(type) {
	case *redis.Subscription:
		return Message{Kind: Kind(m.Kind), Channel: m.Channel, Count: m.Count}, true
	case *redis.Message:
		if m.Pattern != "" {
			return Message{Kind: KindPMessage, Pattern: m.Pattern, Channel: m.Channel, Payload: m.Payload}, true
		}
		return Message{Kind: KindMessage, Channel: m.Channel, Payload: m.Payload}, true
	default:
		return Message{}, false
	}
}
