// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package vbs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Text returns a human-readable rendering of v.
//
// Dictionaries are rendered as {key^value; ...} and lists as [a; b; ...].
// Booleans are ~T and ~F, null is ~N, and decimals carry a trailing D.
// Strings that begin with a letter or underscore are written bare; other
// strings are enclosed as ~!...~, and blobs as ~n|...~ where n is the length.
// Control bytes and the metacharacters ^~`;[]{} are escaped as `XX.
func Text(v any) string {
	var sb strings.Builder
	writeText(&sb, v, 0)
	return sb.String()
}

func writeText(w *strings.Builder, v any, depth int) {
	if depth > maxDepth {
		w.WriteString("~U")
		return
	}
	switch t := v.(type) {
	case nil:
		w.WriteString("~N")
	case bool:
		if t {
			w.WriteString("~T")
		} else {
			w.WriteString("~F")
		}
	case int64:
		w.WriteString(strconv.FormatInt(t, 10))
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		fmt.Fprint(w, t)
	case float64:
		w.WriteString(formatFloat(t))
	case float32:
		w.WriteString(formatFloat(float64(t)))
	case string:
		writeSeq(w, t, false)
	case []byte:
		writeSeq(w, string(t), true)
	case Decimal:
		w.WriteString(t.String())
		w.WriteByte('D')
	case []any:
		w.WriteByte('[')
		for i, elt := range t {
			if i > 0 {
				w.WriteString("; ")
			}
			writeText(w, elt, depth+1)
		}
		w.WriteByte(']')
	case []string:
		w.WriteByte('[')
		for i, elt := range t {
			if i > 0 {
				w.WriteString("; ")
			}
			writeSeq(w, elt, false)
		}
		w.WriteByte(']')
	case Dict:
		w.WriteByte('{')
		for i, it := range t {
			if i > 0 {
				w.WriteString("; ")
			}
			writeText(w, it.Key, depth+1)
			w.WriteByte('^')
			writeText(w, it.Value, depth+1)
		}
		w.WriteByte('}')
	case *Dict:
		if t == nil {
			w.WriteString("~N")
		} else {
			writeText(w, *t, depth)
		}
	case map[string]any:
		writeText(w, FromMap(t), depth)
	default:
		w.WriteString("~U")
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// writeSeq writes a string or blob, enclosing and escaping it as needed.
func writeSeq(w *strings.Builder, s string, isBlob bool) {
	switch {
	case s == "" && isBlob:
		w.WriteString("~|~")
	case s == "":
		w.WriteString("~!~")
	case isBlob:
		fmt.Fprintf(w, "~%d|", len(s))
		escape(w, s)
		w.WriteByte('~')
	case len(s) >= 100:
		fmt.Fprintf(w, "~%d!", len(s))
		escape(w, s)
		w.WriteByte('~')
	case isBare(s):
		escape(w, s)
	default:
		w.WriteString("~!")
		escape(w, s)
		w.WriteByte('~')
	}
}

func isBare(s string) bool {
	first, last := s[0], s[len(s)-1]
	isAlpha := first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z' || first == '_'
	return isAlpha && last > ' ' && last < 0x7f
}

const metaChars = "^~`;[]{}\x7f\xff"

func escape(w *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || strings.IndexByte(metaChars, c) >= 0 {
			fmt.Fprintf(w, "`%02X", c)
		} else {
			w.WriteByte(c)
		}
	}
}
