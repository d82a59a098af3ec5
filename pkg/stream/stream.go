// Package stream builds and parses the append-only log command family
// (XADD, XRANGE, XREVRANGE, XREAD, XTRIM, XDEL, XLEN).
//
// Builders return the full argument list, command name first, and validate
// every option before anything reaches the network. Decoders accept the
// reply shapes of both RESP2 and RESP3.
package stream

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Boundary and id tokens understood by the store.
const (
	AutoID    = "*"
	Oldest    = "-"
	Newest    = "+"
	FromNow   = "$"
	Beginning = "0-0"
)

// Field is a single name/value pair of a record.
type Field struct {
	Name  string
	Value string
}

// Fields is an ordered field list. Order is kept on the wire.
type Fields []Field

// F builds Fields from alternating names and values. A trailing name
// without a value gets an empty value.
func F(pairs ...string) Fields {
	fields := make(Fields, 0, (len(pairs)+1)/2)
	for i := 0; i < len(pairs); i += 2 {
		f := Field{Name: pairs[i]}
		if i+1 < len(pairs) {
			f.Value = pairs[i+1]
		}
		fields = append(fields, f)
	}
	return fields
}

// FieldsFromMap returns the map's pairs sorted by name.
func FieldsFromMap(m map[string]string) Fields {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(Fields, 0, len(names))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Value: m[name]})
	}
	return fields
}

// Map returns the fields as a map. Later duplicates win.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f))
	for _, field := range f {
		m[field.Name] = field.Value
	}
	return m
}

// Get returns the last value stored under name.
func (f Fields) Get(name string) (string, bool) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i].Name == name {
			return f[i].Value, true
		}
	}
	return "", false
}

// Record is one stream entry as returned by the store.
type Record struct {
	ID     string
	Fields Fields
}

// ID is a parsed record identifier: milliseconds and sequence number.
type ID struct {
	Millis uint64
	Seq    uint64
}

// ParseID parses "<ms>-<seq>" or a bare "<ms>" (sequence 0).
func ParseID(s string) (ID, error) {
	ms, seq, found := strings.Cut(s, "-")
	millis, err := strconv.ParseUint(ms, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("stream: invalid id %q: %w", s, err)
	}
	id := ID{Millis: millis}
	if found {
		id.Seq, err = strconv.ParseUint(seq, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("stream: invalid id %q: %w", s, err)
		}
	}
	return id, nil
}

func (id ID) String() string {
	return strconv.FormatUint(id.Millis, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or 1 ordering ids as the store does.
func (id ID) Compare(other ID) int {
	switch {
	case id.Millis < other.Millis:
		return -1
	case id.Millis > other.Millis:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	}
	return 0
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}
