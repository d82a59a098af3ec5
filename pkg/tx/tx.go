package tx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/mirkobrombin/go-walrus/pkg/decode"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNoActiveTransaction = fmt.Errorf("%w: no transaction is currently active", errs.ErrUsage)
	ErrOutOfOrder          = fmt.Errorf("%w: transaction layer is not on top of the stack", errs.ErrUsage)
	ErrClosed              = fmt.Errorf("%w: pipeline already committed or aborted", errs.ErrUsage)
	ErrAborted             = fmt.Errorf("%w: pipeline was aborted before sending", errs.ErrUsage)
)

// Transaction defines the begin/commit/abort contract used by callers
// that batch commands.
type Transaction interface {
	Begin(ctx context.Context, opts ...BeginOption) (context.Context, *Pipeline)
	Commit(ctx context.Context) ([]any, error)
	Abort(ctx context.Context) error
}

// Mode selects how a pipeline is sent.
type Mode int

const (
	// Transactional pipelines are wrapped in MULTI/EXEC.
	Transactional Mode = iota
	// Pipelined pipelines keep order but are not isolated.
	Pipelined
)

func (m Mode) String() string {
	switch m {
	case Transactional:
		return "transactional"
	case Pipelined:
		return "pipelined"
	default:
		return "unknown"
	}
}

// op is a buffered command in a pipeline.
type op struct {
	cmd    redis.Cmder
	decode decode.Func
}

// Pipeline is an ordered batch of commands not yet sent to the store.
// A pipeline belongs to one session and is consumed exactly once.
type Pipeline struct {
	mode     Mode
	pipe     redis.Pipeliner
	decoders *decode.Table
	ops      []op
	executed atomic.Bool
	aborted  atomic.Bool
}

func newPipeline(mode Mode, pipe redis.Pipeliner, decoders *decode.Table) *Pipeline {
	return &Pipeline{mode: mode, pipe: pipe, decoders: decoders}
}

func (p *Pipeline) Mode() Mode {
	return p.mode
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int {
	return len(p.ops)
}

// Executed reports whether the pipeline was committed or aborted.
func (p *Pipeline) Executed() bool {
	return p.executed.Load()
}

// Aborted reports whether the pipeline was discarded without sending.
func (p *Pipeline) Aborted() bool {
	return p.aborted.Load()
}

// Queue appends cmd, decoded on commit by the table entry for its name.
func (p *Pipeline) Queue(ctx context.Context, cmd redis.Cmder) error {
	return p.QueueDecoded(ctx, cmd, nil)
}

// QueueDecoded appends cmd with an explicit decoder. A nil fn falls back
// to the decoder table.
func (p *Pipeline) QueueDecoded(ctx context.Context, cmd redis.Cmder, fn decode.Func) error {
	if p.executed.Load() {
		return ErrClosed
	}
	if fn == nil {
		fn, _ = p.decoders.Lookup(cmd.Name())
	}
	if err := p.pipe.Process(ctx, cmd); err != nil {
		return err
	}
	p.ops = append(p.ops, op{cmd: cmd, decode: fn})
	return nil
}

// exec sends the batch and decodes every reply. The error is the first
// failing command's error, or the channel error when no command carries one.
func (p *Pipeline) exec(ctx context.Context) ([]any, error) {
	defer p.executed.Store(true)

	if len(p.ops) == 0 {
		return []any{}, nil
	}

	_, execErr := p.pipe.Exec(ctx)

	replies := make([]any, len(p.ops))
	var first error
	for i, o := range p.ops {
		reply, err := Reply(o.cmd)
		if err == nil && o.decode != nil {
			reply, err = o.decode(reply)
		}
		if err != nil {
			replies[i] = err
			if first == nil {
				first = err
			}
			continue
		}
		replies[i] = reply
	}

	if first == nil && execErr != nil && !errors.Is(execErr, redis.Nil) {
		first = execErr
	}
	return replies, first
}

func (p *Pipeline) discard() {
	p.pipe.Discard()
	p.ops = nil
	p.aborted.Store(true)
	p.executed.Store(true)
}

// Reply extracts the raw reply of an executed command. A nil reply is not
// an error.
func Reply(cmd redis.Cmder) (any, error) {
	err := cmd.Err()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c, ok := cmd.(interface{ Val() any }); ok {
		return c.Val(), nil
	}
	return cmd, nil
}
