// Package params provides the ordered, typed parameter bag carried by a navigation request.
package params

import (
	"encoding/json"
	"fmt"
)

const logPrefix = "params:bag"

// Kind tags the type of a stored value.
type Kind uint8

// Value kinds.
const (
	KindString Kind = iota + 1
	KindInt64
	KindFloat64
	KindBool
	KindBytes
	KindStringArray
	KindInt64Array
	KindFloat64Array
	KindObject
)

var kindNames = map[Kind]string{
	KindString:       "string",
	KindInt64:        "int64",
	KindFloat64:      "float64",
	KindBool:         "bool",
	KindBytes:        "bytes",
	KindStringArray:  "string[]",
	KindInt64Array:   "int64[]",
	KindFloat64Array: "float64[]",
	KindObject:       "object",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}
	return 0, false
}

// Value is a tagged parameter value.
type Value struct {
	kind Kind
	v    interface{}
}

// Kind returns the value's type tag.
func (v Value) Kind() Kind { return v.kind }

// Interface returns the underlying Go value. Objects are returned as json.RawMessage.
func (v Value) Interface() interface{} { return v.v }

func (v Value) clone() Value {
	switch x := v.v.(type) {
	case []byte:
		return Value{kind: v.kind, v: append([]byte(nil), x...)}
	case []string:
		return Value{kind: v.kind, v: append([]string(nil), x...)}
	case []int64:
		return Value{kind: v.kind, v: append([]int64(nil), x...)}
	case []float64:
		return Value{kind: v.kind, v: append([]float64(nil), x...)}
	case json.RawMessage:
		return Value{kind: v.kind, v: append(json.RawMessage(nil), x...)}
	}
	return v
}

// Bag is an ordered mapping from key to tagged value. Re-putting a key
// replaces its value but keeps its original position.
// A Bag is not safe for concurrent mutation; the dispatcher hands clones
// to anything that outlives the request.
type Bag struct {
	keys []string
	vals map[string]Value
}

// New returns an empty Bag.
func New() *Bag {
	return &Bag{vals: make(map[string]Value)}
}

func (b *Bag) put(key string, v Value) *Bag {
	if b.vals == nil {
		b.vals = make(map[string]Value)
	}
	if _, exists := b.vals[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.vals[key] = v
	return b
}

// PutString stores a string.
func (b *Bag) PutString(key, val string) *Bag { return b.put(key, Value{KindString, val}) }

// PutInt64 stores an int64.
func (b *Bag) PutInt64(key string, val int64) *Bag { return b.put(key, Value{KindInt64, val}) }

// PutFloat64 stores a float64.
func (b *Bag) PutFloat64(key string, val float64) *Bag { return b.put(key, Value{KindFloat64, val}) }

// PutBool stores a bool.
func (b *Bag) PutBool(key string, val bool) *Bag { return b.put(key, Value{KindBool, val}) }

// PutBytes stores a copy of val.
func (b *Bag) PutBytes(key string, val []byte) *Bag {
	return b.put(key, Value{KindBytes, append([]byte(nil), val...)})
}

// PutStrings stores a copy of val.
func (b *Bag) PutStrings(key string, val []string) *Bag {
	return b.put(key, Value{KindStringArray, append([]string(nil), val...)})
}

// PutInt64s stores a copy of val.
func (b *Bag) PutInt64s(key string, val []int64) *Bag {
	return b.put(key, Value{KindInt64Array, append([]int64(nil), val...)})
}

// PutFloat64s stores a copy of val.
func (b *Bag) PutFloat64s(key string, val []float64) *Bag {
	return b.put(key, Value{KindFloat64Array, append([]float64(nil), val...)})
}

// PutObject serializes val as an opaque object.
func (b *Bag) PutObject(key string, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("%s - failed to encode object %q: %w", logPrefix, key, err)
	}
	b.put(key, Value{KindObject, json.RawMessage(data)})
	return nil
}

// Get returns the tagged value stored under key.
func (b *Bag) Get(key string) (Value, bool) {
	if b == nil {
		return Value{}, false
	}
	v, ok := b.vals[key]
	return v, ok
}

// GetString returns the string stored under key.
func (b *Bag) GetString(key string) (string, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindString {
		return "", false
	}
	return v.v.(string), true
}

// GetInt64 returns the int64 stored under key.
func (b *Bag) GetInt64(key string) (int64, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindInt64 {
		return 0, false
	}
	return v.v.(int64), true
}

// GetFloat64 returns the float64 stored under key.
func (b *Bag) GetFloat64(key string) (float64, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindFloat64 {
		return 0, false
	}
	return v.v.(float64), true
}

// GetBool returns the bool stored under key.
func (b *Bag) GetBool(key string) (bool, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindBool {
		return false, false
	}
	return v.v.(bool), true
}

// GetBytes returns a copy of the bytes stored under key.
func (b *Bag) GetBytes(key string) ([]byte, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindBytes {
		return nil, false
	}
	return append([]byte(nil), v.v.([]byte)...), true
}

// GetStrings returns a copy of the string array stored under key.
func (b *Bag) GetStrings(key string) ([]string, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindStringArray {
		return nil, false
	}
	return append([]string(nil), v.v.([]string)...), true
}

// GetInt64s returns a copy of the int64 array stored under key.
func (b *Bag) GetInt64s(key string) ([]int64, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindInt64Array {
		return nil, false
	}
	return append([]int64(nil), v.v.([]int64)...), true
}

// GetFloat64s returns a copy of the float64 array stored under key.
func (b *Bag) GetFloat64s(key string) ([]float64, bool) {
	v, ok := b.Get(key)
	if !ok || v.kind != KindFloat64Array {
		return nil, false
	}
	return append([]float64(nil), v.v.([]float64)...), true
}

// GetObject decodes the object stored under key into out.
func (b *Bag) GetObject(key string, out interface{}) error {
	v, ok := b.Get(key)
	if !ok {
		return fmt.Errorf("%s - no value for key %q", logPrefix, key)
	}
	if v.kind != KindObject {
		return fmt.Errorf("%s - key %q holds %s, not object", logPrefix, key, v.kind)
	}
	if err := json.Unmarshal(v.v.(json.RawMessage), out); err != nil {
		return fmt.Errorf("%s - failed to decode object %q: %w", logPrefix, key, err)
	}
	return nil
}

// Has reports whether key is present.
func (b *Bag) Has(key string) bool {
	_, ok := b.Get(key)
	return ok
}

// Delete removes key.
func (b *Bag) Delete(key string) {
	if b == nil {
		return
	}
	if _, ok := b.vals[key]; !ok {
		return
	}
	delete(b.vals, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i], b.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of entries.
func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

// Keys returns the keys in insertion order.
func (b *Bag) Keys() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.keys...)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (b *Bag) Range(fn func(key string, v Value) bool) {
	if b == nil {
		return
	}
	for _, k := range b.keys {
		if !fn(k, b.vals[k]) {
			return
		}
	}
}

// Merge copies every entry of other into b.
func (b *Bag) Merge(other *Bag) *Bag {
	other.Range(func(k string, v Value) bool {
		b.put(k, v.clone())
		return true
	})
	return b
}

// Clone returns a deep copy. Cloning a nil Bag yields an empty Bag.
func (b *Bag) Clone() *Bag {
	c := New()
	if b == nil {
		return c
	}
	c.keys = make([]string, len(b.keys))
	copy(c.keys, b.keys)
	for k, v := range b.vals {
		c.vals[k] = v.clone()
	}
	return c
}

// Redacted returns a plain map view for logging; values of keys for which
// isSensitive returns true are replaced by "***".
func (b *Bag) Redacted(isSensitive func(key string) bool) map[string]interface{} {
	out := make(map[string]interface{}, b.Len())
	b.Range(func(k string, v Value) bool {
		switch {
		case isSensitive != nil && isSensitive(k):
			out[k] = "***"
		case v.kind == KindObject:
			out[k] = string(v.v.(json.RawMessage))
		default:
			out[k] = v.v
		}
		return true
	})
	return out
}
