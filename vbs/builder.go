// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package vbs

import (
	"math"
	"slices"

	"github.com/creachadair/mds/value"
)

// A Builder is a buffer that accumulates encoded values. The zero value is
// ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// Put appends the encoding of v to b. If v or any value it contains cannot
// be encoded, Put reports a *TypeError and the contents of b are unchanged.
func (b *Builder) Put(v any) error {
	n := len(b.buf)
	if err := b.put(v, 0); err != nil {
		b.buf = b.buf[:n]
		return err
	}
	return nil
}

func (b *Builder) put(v any, depth int) error {
	if depth > maxDepth {
		return &DepthError{Value: v}
	}
	switch t := v.(type) {
	case nil:
		b.buf = append(b.buf, tagNull)
	case bool:
		b.Bool(t)
	case int:
		b.Int(int64(t))
	case int8:
		b.Int(int64(t))
	case int16:
		b.Int(int64(t))
	case int32:
		b.Int(int64(t))
	case int64:
		b.Int(t)
	case uint8:
		b.Int(int64(t))
	case uint16:
		b.Int(int64(t))
	case uint32:
		b.Int(int64(t))
	case uint:
		if uint64(t) > math.MaxInt64 {
			return &TypeError{Value: v}
		}
		b.Int(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return &TypeError{Value: v}
		}
		b.Int(int64(t))
	case float32:
		b.Float(float64(t))
	case float64:
		b.Float(t)
	case string:
		b.String(t)
	case []byte:
		b.Blob(t)
	case Decimal:
		b.Decimal(t)
	case []any:
		b.buf = append(b.buf, tagList)
		for _, elt := range t {
			if err := b.put(elt, depth+1); err != nil {
				return err
			}
		}
		b.buf = append(b.buf, tagTail)
	case []string:
		b.buf = append(b.buf, tagList)
		for _, elt := range t {
			b.String(elt)
		}
		b.buf = append(b.buf, tagTail)
	case Dict:
		return b.putDict(t, depth)
	case *Dict:
		if t == nil {
			b.buf = append(b.buf, tagNull)
			return nil
		}
		return b.putDict(*t, depth)
	case map[string]any:
		return b.putDict(FromMap(t), depth)
	default:
		return &TypeError{Value: v}
	}
	return nil
}

func (b *Builder) putDict(d Dict, depth int) error {
	b.buf = append(b.buf, tagDict)
	for _, it := range d {
		if err := b.put(it.Key, depth+1); err != nil {
			return err
		}
		if err := b.put(it.Value, depth+1); err != nil {
			return err
		}
	}
	b.buf = append(b.buf, tagTail)
	return nil
}

// Bool appends a Boolean to b.
func (b *Builder) Bool(ok bool) { b.buf = append(b.buf, tagBool+value.Cond[byte](ok, 1, 0)) }

// Int appends an integer to b.
func (b *Builder) Int(v int64) {
	if v < 0 {
		n := uint64(-(v + 1)) // safe for math.MinInt64
		b.putNumber(tagNegative, n+1)
	} else {
		b.putNumber(tagInteger, uint64(v))
	}
}

// String appends a string to b.
func (b *Builder) String(s string) {
	b.putNumber(tagString, uint64(len(s)))
	b.buf = append(b.buf, s...)
}

// Blob appends a binary blob to b.
func (b *Builder) Blob(data []byte) {
	b.putPrefixed(tagBlob, uint64(len(data)))
	b.buf = append(b.buf, data...)
}

// Float appends a floating-point value to b.
func (b *Builder) Float(f float64) {
	switch {
	case math.IsNaN(f):
		b.putPrefixed(tagFloating, 0)
		b.Int(expNaN)
	case math.IsInf(f, 0):
		b.putPrefixed(tagFloating, 0)
		b.Int(value.Cond[int64](f > 0, expInf, -expInf))
	case f == 0:
		b.putPrefixed(tagFloating, 0)
		b.Int(value.Cond[int64](math.Signbit(f), -expZero, expZero))
	default:
		tag := byte(tagFloating)
		if f < 0 {
			tag++
			f = -f
		}
		bits := math.Float64bits(f)
		sig := bits & (1<<52 - 1)
		exp := int64(bits >> 52)
		if exp > 0 {
			sig |= 1 << 52
			exp -= 1023
		} else {
			exp = 1 - 1023
		}
		exp -= 52
		for sig&1 == 0 {
			sig >>= 1
			exp++
		}
		b.putPrefixed(tag, sig)
		b.Int(exp)
	}
}

// Decimal appends a decimal value to b.
func (b *Builder) Decimal(d Decimal) {
	if d.Significand == 0 {
		b.putPrefixed(tagDecimal, 0)
		b.Int(expZero)
		return
	}
	tag := byte(tagDecimal)
	sig := d.Significand
	if sig < 0 {
		tag++
	}
	mag := uint64(sig)
	if sig < 0 {
		mag = uint64(-(sig + 1)) + 1
	}
	b.putPrefixed(tag, mag)
	b.Int(int64(d.Exponent))
}

// putNumber writes a number whose high-order 5 bits are packed into the tag.
func (b *Builder) putNumber(tag byte, n uint64) {
	for n >= 0x20 {
		b.buf = append(b.buf, 0x80|byte(n&0x7f))
		n >>= 7
	}
	b.buf = append(b.buf, tag|byte(n))
}

// putPrefixed writes a number entirely in continuation bytes, followed by tag.
func (b *Builder) putPrefixed(tag byte, n uint64) {
	for n > 0 {
		b.buf = append(b.buf, 0x80|byte(n&0x7f))
		n >>= 7
	}
	b.buf = append(b.buf, tag)
}

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the reported slice, and the caller must not retain or modify
// its contents unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) { b.buf = slices.Grow(b.buf, n) }
