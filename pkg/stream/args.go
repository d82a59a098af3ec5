package stream

import (
	"sort"
	"strconv"
	"time"

	"github.com/mirkobrombin/go-foundation/pkg/options"
	"github.com/mirkobrombin/go-walrus/pkg/errs"
)

// Args collects the optional parts of a stream command. It is only
// populated through Option values.
type Args struct {
	id string

	maxLen      int
	hasMaxLen   bool
	approximate bool

	start, stop string
	hasStart    bool
	hasStop     bool

	count    int
	hasCount bool

	block    time.Duration
	hasBlock bool

	// read targets; exactly one shape may be set
	key     string
	hasKey  bool
	keyToID map[string]string
	hasIDs  bool
	keys    []string
	hasKeys bool
}

// Option configures a stream command.
type Option = options.Option[Args]

// WithID sets the record id for XADD (default AutoID).
func WithID(id string) Option {
	return func(a *Args) {
		a.id = id
	}
}

// WithMaxLen adds a MAXLEN trim clause to XADD.
func WithMaxLen(n int) Option {
	return func(a *Args) {
		a.maxLen = n
		a.hasMaxLen = true
	}
}

// WithApproximate controls the "~" marker of MAXLEN clauses (default true).
func WithApproximate(approximate bool) Option {
	return func(a *Args) {
		a.approximate = approximate
	}
}

// WithStart sets the first boundary of a range.
func WithStart(id string) Option {
	return func(a *Args) {
		a.start = id
		a.hasStart = true
	}
}

// WithStop sets the second boundary of a range.
func WithStop(id string) Option {
	return func(a *Args) {
		a.stop = id
		a.hasStop = true
	}
}

// WithCount caps the number of returned records.
func WithCount(n int) Option {
	return func(a *Args) {
		a.count = n
		a.hasCount = true
	}
}

// WithBlock makes XREAD block for up to d (0 blocks indefinitely).
// The store works in milliseconds; d is truncated accordingly, but never
// below one millisecond when positive.
func WithBlock(d time.Duration) Option {
	return func(a *Args) {
		a.block = d
		a.hasBlock = true
	}
}

// WithKey reads a single stream from the beginning.
func WithKey(key string) Option {
	return func(a *Args) {
		a.key = key
		a.hasKey = true
	}
}

// WithKeyIDs reads each stream after its exclusive minimum id.
// FromNow only returns records appended once the read started.
func WithKeyIDs(keyToID map[string]string) Option {
	return func(a *Args) {
		a.keyToID = keyToID
		a.hasIDs = true
	}
}

// WithKeys reads every listed stream from the beginning.
func WithKeys(keys ...string) Option {
	return func(a *Args) {
		a.keys = keys
		a.hasKeys = true
	}
}

func newArgs(opts []Option) *Args {
	a := &Args{id: AutoID, approximate: true}
	options.Apply(a, opts...)
	return a
}

func (a *Args) countArgs(cmd string) ([]any, error) {
	if !a.hasCount {
		return nil, nil
	}
	if a.count < 1 {
		return nil, errs.Invalidf("%s count must be a positive integer, got %d", cmd, a.count)
	}
	return []any{"COUNT", strconv.Itoa(a.count)}, nil
}

func (a *Args) maxLenArgs(n int) []any {
	parts := []any{"MAXLEN"}
	if a.approximate {
		parts = append(parts, "~")
	}
	return append(parts, strconv.Itoa(n))
}

// Add builds XADD key [MAXLEN [~] n] id field value [field value ...].
func Add(key string, fields Fields, opts ...Option) ([]any, error) {
	a := newArgs(opts)
	if len(fields) == 0 {
		return nil, errs.Invalidf("XADD requires at least one field")
	}

	cmd := make([]any, 0, 6+2*len(fields))
	cmd = append(cmd, "XADD", key)
	if a.hasMaxLen {
		if a.maxLen < 1 {
			return nil, errs.Invalidf("XADD maxlen must be a positive integer, got %d", a.maxLen)
		}
		cmd = append(cmd, a.maxLenArgs(a.maxLen)...)
	}
	cmd = append(cmd, a.id)
	for _, f := range fields {
		cmd = append(cmd, f.Name, f.Value)
	}
	return cmd, nil
}

// Range builds XRANGE key start stop [COUNT n], defaulting to the whole stream.
func Range(key string, opts ...Option) ([]any, error) {
	return rangeCmd("XRANGE", key, Oldest, Newest, opts)
}

// RevRange builds XREVRANGE key start stop [COUNT n], newest first.
func RevRange(key string, opts ...Option) ([]any, error) {
	return rangeCmd("XREVRANGE", key, Newest, Oldest, opts)
}

func rangeCmd(name, key, start, stop string, opts []Option) ([]any, error) {
	a := newArgs(opts)
	if a.hasStart {
		start = a.start
	}
	if a.hasStop {
		stop = a.stop
	}

	count, err := a.countArgs(name)
	if err != nil {
		return nil, err
	}
	cmd := []any{name, key, start, stop}
	return append(cmd, count...), nil
}

// Read builds XREAD [BLOCK ms] [COUNT n] STREAMS key... id...
//
// Exactly one of WithKey, WithKeyIDs or WithKeys must be given.
func Read(opts ...Option) ([]any, error) {
	a := newArgs(opts)

	shapes := 0
	for _, set := range []bool{a.hasKey, a.hasIDs, a.hasKeys} {
		if set {
			shapes++
		}
	}
	if shapes != 1 {
		return nil, errs.Usagef("XREAD requires exactly one of key, key-to-id map or key list, got %d", shapes)
	}

	var keys, ids []string
	switch {
	case a.hasKey:
		if a.key == "" {
			return nil, errs.Invalidf("XREAD key must not be empty")
		}
		keys, ids = []string{a.key}, []string{Beginning}
	case a.hasKeys:
		if len(a.keys) == 0 {
			return nil, errs.Invalidf("XREAD key list must not be empty")
		}
		keys = a.keys
		ids = make([]string, len(keys))
		for i := range ids {
			ids[i] = Beginning
		}
	default:
		if len(a.keyToID) == 0 {
			return nil, errs.Invalidf("XREAD key-to-id map must not be empty")
		}
		keys = make([]string, 0, len(a.keyToID))
		for k := range a.keyToID {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ids = make([]string, len(keys))
		for i, k := range keys {
			ids[i] = a.keyToID[k]
		}
	}

	cmd := make([]any, 0, 6+2*len(keys))
	cmd = append(cmd, "XREAD")
	if a.hasBlock {
		if a.block < 0 {
			return nil, errs.Invalidf("XREAD timeout must be >= 0, got %s", a.block)
		}
		ms := a.block.Milliseconds()
		if ms == 0 && a.block > 0 {
			ms = 1
		}
		cmd = append(cmd, "BLOCK", strconv.FormatInt(ms, 10))
	}
	count, err := a.countArgs("XREAD")
	if err != nil {
		return nil, err
	}
	cmd = append(cmd, count...)
	cmd = append(cmd, "STREAMS")
	for _, k := range keys {
		cmd = append(cmd, k)
	}
	for _, id := range ids {
		cmd = append(cmd, id)
	}
	return cmd, nil
}

// Blocking reports whether the options request a blocking read.
func Blocking(opts ...Option) bool {
	return newArgs(opts).hasBlock
}

// Trim builds XTRIM key MAXLEN [~] n.
func Trim(key string, maxLen int, opts ...Option) ([]any, error) {
	a := newArgs(opts)
	if maxLen < 0 {
		return nil, errs.Invalidf("XTRIM maxlen must be >= 0, got %d", maxLen)
	}
	cmd := []any{"XTRIM", key}
	return append(cmd, a.maxLenArgs(maxLen)...), nil
}

// Del builds XDEL key id [id ...].
func Del(key string, ids ...string) ([]any, error) {
	if len(ids) == 0 {
		return nil, errs.Invalidf("XDEL requires at least one id")
	}
	cmd := make([]any, 0, 2+len(ids))
	cmd = append(cmd, "XDEL", key)
	for _, id := range ids {
		cmd = append(cmd, id)
	}
	return cmd, nil
}

// Len builds XLEN key.
func Len(key string) []any {
	return []any{"XLEN", key}
}
