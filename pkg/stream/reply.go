package stream

import (
	"fmt"

	"github.com/mirkobrombin/go-walrus/pkg/decode"
)

// Register installs the stream decoders into b.
func Register(b *decode.Builder) *decode.Builder {
	return b.
		Register("XADD", decode.String).
		Register("XDEL", decode.Int).
		Register("XLEN", decode.Int).
		Register("XTRIM", decode.Int).
		Register("XRANGE", DecodeRecords).
		Register("XREVRANGE", DecodeRecords).
		Register("XREAD", DecodeStreams)
}

// DecodeRecords is the decode.Func for XRANGE and XREVRANGE.
func DecodeRecords(reply any) (any, error) {
	return Records(reply)
}

// DecodeStreams is the decode.Func for XREAD.
func DecodeStreams(reply any) (any, error) {
	return Streams(reply)
}

// Records decodes a list of [id, [field, value, ...]] entries.
// A nil reply decodes to an empty list.
func Records(reply any) ([]Record, error) {
	if reply == nil {
		return []Record{}, nil
	}
	entries, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("stream: unexpected range reply %T", reply)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		rec, err := record(entry)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func record(entry any) (Record, error) {
	pair, ok := entry.([]any)
	if !ok || len(pair) != 2 {
		return Record{}, fmt.Errorf("stream: unexpected entry %T", entry)
	}
	id, err := decode.ToString(pair[0])
	if err != nil {
		return Record{}, err
	}
	fields, err := decodeFields(pair[1])
	if err != nil {
		return Record{}, fmt.Errorf("stream: entry %s: %w", id, err)
	}
	return Record{ID: id, Fields: fields}, nil
}

func decodeFields(raw any) (Fields, error) {
	if raw == nil {
		return Fields{}, nil
	}
	flat, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected field list %T", raw)
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd field list length %d", len(flat))
	}

	fields := make(Fields, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		name, err := decode.ToString(flat[i])
		if err != nil {
			return nil, err
		}
		value, err := decode.ToString(flat[i+1])
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	return fields, nil
}

// Streams decodes an XREAD reply into stream name -> records. Streams
// without new records are absent; a nil reply (timeout) gives a nil map.
func Streams(reply any) (map[string][]Record, error) {
	switch v := reply.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make(map[string][]Record, len(v))
		for _, item := range v {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("stream: unexpected read entry %T", item)
			}
			if err := addStream(out, pair[0], pair[1]); err != nil {
				return nil, err
			}
		}
		return out, nil
	case map[any]any:
		out := make(map[string][]Record, len(v))
		for name, records := range v {
			if err := addStream(out, name, records); err != nil {
				return nil, err
			}
		}
		return out, nil
	case map[string]any:
		out := make(map[string][]Record, len(v))
		for name, records := range v {
			if err := addStream(out, name, records); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("stream: unexpected read reply %T", reply)
	}
}

func addStream(out map[string][]Record, rawName, rawRecords any) error {
	name, err := decode.ToString(rawName)
	if err != nil {
		return err
	}
	records, err := Records(rawRecords)
	if err != nil {
		return fmt.Errorf("stream %s: %w", name, err)
	}
	if len(records) > 0 {
		out[name] = records
	}
	return nil
}
