// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package vbs implements the VBS wire value format used for quest and answer
// payloads.
//
// VBS is a tagged, self-describing binary encoding. Each value begins with a
// tag byte, optionally preceded by continuation bytes carrying the low-order
// bits of a number (a length, a magnitude, or a significand) in 7-bit groups,
// least significant first. The tag byte carries the value kind and, for
// integers and strings, the highest-order 5 bits of the number.
//
// Decoded values have the following Go types:
//
//   - integer: int64
//   - string: string
//   - blob: []byte
//   - boolean: bool
//   - floating point: float64
//   - decimal: [Decimal]
//   - null: nil
//   - list: []any
//   - dictionary: [Dict]
//
// On encoding, the other Go integer and float types, []string, and
// map[string]any are also accepted. Maps are encoded in sorted key order.
package vbs

import (
	"fmt"
	"slices"
)

// Tag values of the wire format.
const (
	tagTail     = 0x01
	tagList     = 0x02
	tagDict     = 0x03
	tagNull     = 0x0F
	tagDescr    = 0x10
	tagBool     = 0x18
	tagBlob     = 0x1B
	tagDecimal  = 0x1C
	tagFloating = 0x1E
	tagString   = 0x20
	tagInteger  = 0x40
	tagNegative = 0x60
)

// Exponent markers for zero significands of floating and decimal values.
const (
	expZero = 1
	expInf  = 2
	expNaN  = 3
)

// An Item is a single key/value entry of a [Dict].
type Item struct {
	Key   any
	Value any
}

// A Dict is an ordered dictionary. Entries retain the order in which they
// were added. A nil Dict is empty and ready for use.
type Dict []Item

// Get returns the value associated with key, and reports whether it was found.
// Integer keys of any width match the corresponding int64 key.
func (d Dict) Get(key any) (any, bool) {
	key = normKey(key)
	for _, it := range d {
		if keyEqual(it.Key, key) {
			return it.Value, true
		}
	}
	return nil, false
}

// Set associates value with key in d, replacing the value of an existing
// entry in place or appending a new entry.
func (d *Dict) Set(key, value any) {
	key = normKey(key)
	for i, it := range *d {
		if keyEqual(it.Key, key) {
			(*d)[i].Value = value
			return
		}
	}
	*d = append(*d, Item{Key: key, Value: value})
}

// Delete removes the entry for key, if any.
func (d *Dict) Delete(key any) {
	key = normKey(key)
	*d = slices.DeleteFunc(*d, func(it Item) bool { return keyEqual(it.Key, key) })
}

// Len reports the number of entries in d.
func (d Dict) Len() int { return len(d) }

// String returns the text rendering of d.
func (d Dict) String() string { return Text(d) }

// FromMap constructs a Dict from the entries of m, in sorted key order.
func FromMap(m map[string]any) Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	d := make(Dict, 0, len(m))
	for _, k := range keys {
		d = append(d, Item{Key: k, Value: m[k]})
	}
	return d
}

// keyEqual reports whether dictionary keys a and b are equal. Keys of
// composite types never match.
func keyEqual(a, b any) bool {
	switch a.(type) {
	case []any, Dict, []byte, map[string]any:
		return false
	}
	return a == b
}

// normKey converts integer keys to int64 so lookups by int and int64 agree,
// and blob keys to strings.
func normKey(key any) any {
	switch k := key.(type) {
	case int:
		return int64(k)
	case int32:
		return int64(k)
	case uint32:
		return int64(k)
	case []byte:
		return string(k)
	}
	return key
}

// A Decimal is a decimal floating-point value, Significand × 10^Exponent.
type Decimal struct {
	Significand int64
	Exponent    int
}

// String renders d in exponent notation, for example "12345E-4".
func (d Decimal) String() string {
	if d.Exponent == 0 {
		return fmt.Sprint(d.Significand)
	}
	return fmt.Sprintf("%dE%d", d.Significand, d.Exponent)
}

// TypeError is reported when a value cannot be encoded.
type TypeError struct {
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("vbs: cannot encode value of type %T", e.Value)
}

// DepthError is reported when a value is nested more deeply than the
// decoder accepts, as for a list that contains itself.
type DepthError struct {
	Value any
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("vbs: %T value nested deeper than %d levels", e.Value, maxDepth)
}

// Pack encodes each of vs in sequence and returns the concatenated encodings.
func Pack(vs ...any) ([]byte, error) {
	var b Builder
	for _, v := range vs {
		if err := b.Put(v); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// Encode encodes a single value.
func Encode(v any) ([]byte, error) { return Pack(v) }

// Unpack decodes up to count values from data starting at offset, and
// reports the values together with the number of bytes consumed after
// offset. If count ≤ 0, Unpack decodes values until the input is exhausted.
func Unpack(data []byte, offset, count int) ([]any, int, error) {
	if offset < 0 || offset > len(data) {
		return nil, 0, fmt.Errorf("vbs: offset %d out of range", offset)
	}
	s := NewScanner(data[offset:])
	var out []any
	for s.Len() != 0 && (count <= 0 || len(out) < count) {
		v, err := s.Next()
		if err != nil {
			return nil, s.Offset(), fmt.Errorf("vbs: value %d: %w", len(out)+1, err)
		}
		out = append(out, v)
	}
	return out, s.Offset(), nil
}

// Decode decodes a single value from the front of data, and reports the
// number of bytes consumed.
func Decode(data []byte) (any, int, error) {
	s := NewScanner(data)
	v, err := s.Next()
	if err != nil {
		return nil, s.Offset(), fmt.Errorf("vbs: %w", err)
	}
	return v, s.Offset(), nil
}
