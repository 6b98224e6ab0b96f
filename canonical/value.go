// Package canonical provides a closed JSON value type and its deterministic
// serialization. Canonical output is the hashing input for content-addressed
// identifiers such as product version ids.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
)

var (
	// ErrNonFinite is returned for NaN and infinite numbers, which have no
	// JSON representation.
	ErrNonFinite = errors.New("canonical: non-finite number")

	// ErrDuplicateKey is returned when a JSON object repeats a member key.
	ErrDuplicateKey = errors.New("canonical: duplicate object key")
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Member is one key/value pair of a map Value.
type Member struct {
	Key   string
	Value Value
}

// Value is a JSON value. The zero Value is null.
// Map members keep insertion order; canonical output ignores it.
type Value struct {
	kind    Kind
	b       bool
	n       float64
	s       string
	list    []Value
	members []Member
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int returns a numeric value from an integer.
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value holding items in order.
func List(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

// Map returns a map value. Later members replace earlier ones with the same key.
func Map(members ...Member) Value {
	v := Value{kind: KindMap, members: make([]Member, 0, len(members))}
	for _, m := range members {
		v = v.With(m.Key, m.Value)
	}
	return v
}

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number held by v.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Items returns the elements of a list value.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Members returns the members of a map value in insertion order.
func (v Value) Members() []Member {
	if v.kind != KindMap {
		return nil
	}
	return v.members
}

// Get looks up key in a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, m := range v.members {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy of the map value v with key set to val.
// Calling With on a non-map value starts a new map.
func (v Value) With(key string, val Value) Value {
	out := Value{kind: KindMap}
	if v.kind == KindMap {
		out.members = make([]Member, len(v.members), len(v.members)+1)
		copy(out.members, v.members)
	}
	for i := range out.members {
		if out.members[i].Key == key {
			out.members[i].Value = val
			return out
		}
	}
	out.members = append(out.members, Member{Key: key, Value: val})
	return out
}

// Equal reports whether a and b are the same logical value.
func Equal(a, b Value) bool {
	return Canonicalize(a) == Canonicalize(b)
}

// ──────────────────────────────────────────────────
// Decoding
// ──────────────────────────────────────────────────

// FromJSON decodes a single JSON document into a Value.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("canonical: decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("canonical: decode: trailing data after document")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case json.Delim:
		switch t {
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindList, list: items}, nil
		case '{':
			out := Value{kind: KindMap, members: make([]Member, 0)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("unexpected object key %v", keyTok)
				}
				if _, dup := out.Get(key); dup {
					return Value{}, fmt.Errorf("%w %q", ErrDuplicateKey, key)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				out.members = append(out.members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return out, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// FromAny converts a decoded Go value (as produced by encoding/json or
// gopkg.in/yaml.v3) into a Value. Structs are round-tripped through JSON.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return finiteNumber(t)
	case float32:
		return finiteNumber(float64(t))
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("canonical: number %q: %w", t, err)
		}
		return finiteNumber(f)
	case []any:
		items := make([]Value, len(t))
		for i, el := range t {
			v, err := FromAny(el)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := Value{kind: KindMap, members: make([]Member, 0, len(keys))}
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			out.members = append(out.members, Member{Key: k, Value: v})
		}
		return out, nil
	case map[any]any:
		converted := make(map[string]any, len(t))
		for k, el := range t {
			ks, ok := k.(string)
			if !ok {
				return Value{}, fmt.Errorf("canonical: non-string map key %v", k)
			}
			converted[ks] = el
		}
		return FromAny(converted)
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return Null(), nil
	}
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, fmt.Errorf("canonical: convert %T: %w", x, err)
	}
	return FromJSON(data)
}

// Interface converts v back into plain Go values (nil, bool, float64,
// string, []any, map[string]any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, el := range v.list {
			out[i] = el.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.members))
		for _, m := range v.members {
			out[m.Key] = m.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// ──────────────────────────────────────────────────
// JSON encoding
// ──────────────────────────────────────────────────

// MarshalJSON encodes v keeping map insertion order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	writeValue(&buf, v, false)
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func finiteNumber(n float64) (Value, error) {
	if !isFinite(n) {
		return Value{}, fmt.Errorf("%w: %v", ErrNonFinite, n)
	}
	return Number(n), nil
}

// Validate reports the first number in v that JSON cannot represent.
// Values built from FromJSON or FromAny always validate; values assembled
// with Number may not.
func (v Value) Validate() error {
	switch v.kind {
	case KindNumber:
		if !isFinite(v.n) {
			return fmt.Errorf("%w: %v", ErrNonFinite, v.n)
		}
	case KindList:
		for i, item := range v.list {
			if err := item.Validate(); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	case KindMap:
		for _, m := range v.members {
			if err := m.Value.Validate(); err != nil {
				return fmt.Errorf("%s: %w", m.Key, err)
			}
		}
	}
	return nil
}

// isFinite reports whether n can be represented in JSON.
func isFinite(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}
