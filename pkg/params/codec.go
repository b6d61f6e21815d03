package params

import (
	"encoding/json"
	"fmt"
)

const codecLogPrefix = "params:codec"

// wireEntry is one element of the JSON wire form.
type wireEntry struct {
	Key   string          `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the bag as an ordered array of {key, type, value}.
func (b *Bag) MarshalJSON() ([]byte, error) {
	entries := make([]wireEntry, 0, b.Len())
	var encErr error
	b.Range(func(k string, v Value) bool {
		var raw []byte
		if v.kind == KindObject {
			raw = v.v.(json.RawMessage)
		} else {
			data, err := json.Marshal(v.v)
			if err != nil {
				encErr = fmt.Errorf("%s - failed to encode %q: %w", codecLogPrefix, k, err)
				return false
			}
			raw = data
		}
		entries = append(entries, wireEntry{Key: k, Type: v.kind.String(), Value: raw})
		return true
	})
	if encErr != nil {
		return nil, encErr
	}
	return json.Marshal(entries)
}

// UnmarshalJSON decodes the ordered array form produced by MarshalJSON.
func (b *Bag) UnmarshalJSON(data []byte) error {
	var entries []wireEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%s - failed to decode bag: %w", codecLogPrefix, err)
	}
	b.keys = nil
	b.vals = make(map[string]Value, len(entries))
	for _, e := range entries {
		kind, ok := parseKind(e.Type)
		if !ok {
			return fmt.Errorf("%s - unknown type %q for key %q", codecLogPrefix, e.Type, e.Key)
		}
		v, err := decodeValue(kind, e.Value)
		if err != nil {
			return fmt.Errorf("%s - failed to decode %q: %w", codecLogPrefix, e.Key, err)
		}
		b.put(e.Key, v)
	}
	return nil
}

func decodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		return Value{kind, s}, nil
	case KindInt64:
		var i int64
		if err := json.Unmarshal(raw, &i); err != nil {
			return Value{}, err
		}
		return Value{kind, i}, nil
	case KindFloat64:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, err
		}
		return Value{kind, f}, nil
	case KindBool:
		var bv bool
		if err := json.Unmarshal(raw, &bv); err != nil {
			return Value{}, err
		}
		return Value{kind, bv}, nil
	case KindBytes:
		var bs []byte
		if err := json.Unmarshal(raw, &bs); err != nil {
			return Value{}, err
		}
		return Value{kind, bs}, nil
	case KindStringArray:
		var ss []string
		if err := json.Unmarshal(raw, &ss); err != nil {
			return Value{}, err
		}
		return Value{kind, ss}, nil
	case KindInt64Array:
		var is []int64
		if err := json.Unmarshal(raw, &is); err != nil {
			return Value{}, err
		}
		return Value{kind, is}, nil
	case KindFloat64Array:
		var fs []float64
		if err := json.Unmarshal(raw, &fs); err != nil {
			return Value{}, err
		}
		return Value{kind, fs}, nil
	case KindObject:
		return Value{kind, append(json.RawMessage(nil), raw...)}, nil
	}
	return Value{}, fmt.Errorf("unsupported kind %s", kind)
}
