// Package decode holds the per-command response decoding table.
//
// A Table is assembled once through a Builder and never mutated afterwards,
// so it can be shared by any number of goroutines without locking. Each
// client builds its own table.
package decode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Func turns a raw reply into its decoded value.
type Func func(reply any) (any, error)

// Table maps upper-case command names to decoders.
type Table struct {
	funcs map[string]Func
}

// Lookup returns the decoder registered for name.
func (t *Table) Lookup(name string) (Func, bool) {
	if t == nil {
		return nil, false
	}
	fn, ok := t.funcs[strings.ToUpper(name)]
	return fn, ok
}

// Decode applies the decoder registered for name, or returns reply as is.
func (t *Table) Decode(name string, reply any) (any, error) {
	fn, ok := t.Lookup(name)
	if !ok {
		return reply, nil
	}
	return fn(reply)
}

// Names returns the registered command names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.funcs))
	for name := range t.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered decoders.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.funcs)
}

// Builder collects decoders before a Table is built.
type Builder struct {
	funcs map[string]Func
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{funcs: make(map[string]Func)}
}

// Register sets the decoder for name, replacing any earlier one.
// A nil fn removes the entry.
func (b *Builder) Register(name string, fn Func) *Builder {
	name = strings.ToUpper(name)
	if fn == nil {
		delete(b.funcs, name)
		return b
	}
	b.funcs[name] = fn
	return b
}

// Merge copies every entry of t into the builder.
func (b *Builder) Merge(t *Table) *Builder {
	if t == nil {
		return b
	}
	for name, fn := range t.funcs {
		b.funcs[name] = fn
	}
	return b
}

// Build returns an immutable Table. The builder can keep being used
// without affecting tables it already produced.
func (b *Builder) Build() *Table {
	funcs := make(map[string]Func, len(b.funcs))
	for name, fn := range b.funcs {
		funcs[name] = fn
	}
	return &Table{funcs: funcs}
}

// Int decodes an integer reply.
func Int(reply any) (any, error) {
	return ToInt64(reply)
}

// String decodes a bulk or simple string reply.
func String(reply any) (any, error) {
	if reply == nil {
		return "", nil
	}
	return ToString(reply)
}

// Bool decodes an integer reply as a boolean (non-zero is true).
func Bool(reply any) (any, error) {
	n, err := ToInt64(reply)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// ToInt64 converts the integer shapes produced by the channel.
func ToInt64(reply any) (int64, error) {
	switch v := reply.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("decode: unexpected integer reply %T", reply)
	}
}

// ToString converts the string shapes produced by the channel.
func ToString(reply any) (string, error) {
	switch v := reply.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", fmt.Errorf("decode: unexpected string reply %T", reply)
	}
}

// ToFloat64 converts score-like replies.
func ToFloat64(reply any) (float64, error) {
	switch v := reply.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	default:
		return 0, fmt.Errorf("decode: unexpected float reply %T", reply)
	}
}
