// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package vbs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
)

// maxDepth bounds the nesting of lists and dictionaries accepted on input.
const maxDepth = 256

var (
	errTail    = errors.New("unexpected tail marker")
	errTooBig  = errors.New("number too large")
	errTooDeep = errors.New("value nested too deeply")
)

// A Scanner decodes a sequence of values from the contents of a buffer.
// Its Next method returns [io.EOF] when no further input is available.
// Incomplete values report [io.ErrUnexpectedEOF].
type Scanner struct {
	input  []byte
	rest   []byte
	offset int // of rest from input
}

// NewScanner constructs a [Scanner] that consumes data from input.
// The scanner does not modify the contents of input.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	data := []byte(input)
	return &Scanner{input: data, rest: data}
}

// Next decodes the next complete value from the input.
func (s *Scanner) Next() (any, error) {
	if len(s.rest) == 0 {
		return nil, io.EOF
	}
	start := s.offset
	v, err := s.value(0)
	if err != nil {
		return nil, fmt.Errorf("at offset %d: %w", start, err)
	}
	return v, nil
}

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns a slice of the remaining unconsumed input of s.
// The reported slice is only valid until the next call to a method of s,
// and the caller must not modify its contents.
func (s *Scanner) Rest() []byte { return s.rest }

func (s *Scanner) take(n uint64) ([]byte, error) {
	if n > uint64(len(s.rest)) {
		return nil, fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	out := s.rest[:n]
	s.rest = s.rest[n:]
	s.offset += int(n)
	return out, nil
}

// header is the decoded form of a tag byte and its continuation prefix.
type header struct {
	tag byte
	num uint64
	neg bool
}

func (s *Scanner) header() (header, error) {
	for {
		var num uint64
		var shift int
		b, err := s.take(1)
		if err != nil {
			return header{}, err
		}
		x := b[0]
		for x >= 0x80 {
			if shift > 63 || shift == 63 && x&0x7e != 0 {
				return header{}, errTooBig
			}
			num |= uint64(x&0x7f) << shift
			shift += 7
			if b, err = s.take(1); err != nil {
				return header{}, err
			}
			x = b[0]
		}

		switch {
		case x >= tagString:
			hi := uint64(x & 0x1f)
			if hi != 0 && bits.Len64(hi)+shift > 64 {
				return header{}, errTooBig
			}
			num |= hi << shift
			tag := x & 0x60
			if tag == tagNegative {
				return header{tag: tagInteger, num: num, neg: true}, nil
			}
			return header{tag: tag, num: num}, nil

		case x >= tagBool:
			h := header{tag: x, num: num}
			if x != tagBlob {
				h.tag = x &^ 1
				h.neg = x&1 != 0
			}
			if x <= tagBool+1 {
				h.num = uint64(x & 1)
			}
			return h, nil

		case x >= tagDescr:
			continue // descriptors carry no value

		default:
			return header{tag: x}, nil
		}
	}
}

func (s *Scanner) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	h, err := s.header()
	if err != nil {
		return nil, err
	}
	switch h.tag {
	case tagInteger:
		return toInt(h)

	case tagString:
		data, err := s.take(h.num)
		if err != nil {
			return nil, err
		}
		return string(data), nil

	case tagBlob:
		data, err := s.take(h.num)
		if err != nil {
			return nil, err
		}
		return bytes.Clone(data), nil

	case tagBool:
		return h.num != 0, nil

	case tagNull:
		return nil, nil

	case tagFloating:
		exp, err := s.exponent()
		if err != nil {
			return nil, err
		}
		return makeFloat(h.num, h.neg, exp), nil

	case tagDecimal:
		exp, err := s.exponent()
		if err != nil {
			return nil, err
		}
		return makeDecimal(h.num, h.neg, exp)

	case tagList:
		out := []any{}
		for {
			v, err := s.value(depth + 1)
			if err == errTail {
				return out, nil
			} else if err != nil {
				return nil, err
			}
			out = append(out, v)
		}

	case tagDict:
		out := Dict{}
		for {
			k, err := s.value(depth + 1)
			if err == errTail {
				return out, nil
			} else if err != nil {
				return nil, err
			}
			v, err := s.value(depth + 1)
			if err == errTail {
				return nil, errors.New("dictionary key without value")
			} else if err != nil {
				return nil, err
			}
			out = append(out, Item{Key: k, Value: v})
		}

	case tagTail:
		return nil, errTail

	default:
		return nil, fmt.Errorf("invalid tag 0x%02x", h.tag)
	}
}

// exponent decodes the integer exponent that follows a floating or decimal
// significand.
func (s *Scanner) exponent() (int64, error) {
	h, err := s.header()
	if err != nil {
		return 0, err
	} else if h.tag != tagInteger {
		return 0, fmt.Errorf("invalid exponent tag 0x%02x", h.tag)
	}
	return toInt(h)
}

func toInt(h header) (int64, error) {
	if h.neg {
		if h.num > 1<<63 {
			return 0, errTooBig
		}
		return int64(-h.num), nil
	} else if h.num > math.MaxInt64 {
		return 0, errTooBig
	}
	return int64(h.num), nil
}

func makeFloat(sig uint64, neg bool, exp int64) float64 {
	if sig == 0 {
		if exp < 0 {
			neg = true
			exp = -exp
		}
		switch {
		case exp <= expZero:
			return math.Copysign(0, sign(neg))
		case exp == expInf:
			return math.Inf(int(sign(neg)))
		default:
			return math.NaN()
		}
	}
	if exp < math.MinInt32 || exp > math.MaxInt32 {
		exp = max(min(exp, math.MaxInt32), math.MinInt32)
	}
	f := math.Ldexp(float64(sig), int(exp))
	return math.Copysign(f, sign(neg))
}

func makeDecimal(sig uint64, neg bool, exp int64) (Decimal, error) {
	if sig == 0 {
		if exp < 0 {
			exp = -exp
		}
		if exp > expZero {
			return Decimal{}, errors.New("special decimal values are not supported")
		}
		return Decimal{}, nil
	} else if sig > math.MaxInt64 {
		return Decimal{}, errTooBig
	} else if exp < math.MinInt32 || exp > math.MaxInt32 {
		return Decimal{}, errTooBig
	}
	d := Decimal{Significand: int64(sig), Exponent: int(exp)}
	if neg {
		d.Significand = -d.Significand
	}
	return d, nil
}

func sign(neg bool) float64 {
	if neg {
		return -1
	}
	return 1
}
