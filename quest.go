// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/creachadair/xgate/vbs"
)

// LocalTxID is the transaction ID of a quest that did not arrive over the
// wire, or whose wire encoding could not be read.
const LocalTxID = -1

// A Quest is an inbound call: a request to invoke a method of a service.
type Quest struct {
	TxID    int64
	Service string
	Method  string
	Context vbs.Dict
	Args    vbs.Dict
}

// NewQuest constructs a local quest for the given method and arguments.
func NewQuest(method string, args vbs.Dict) *Quest {
	return &Quest{TxID: LocalTxID, Method: method, Context: vbs.Dict{}, Args: args}
}

// ParseQuest decodes the wire form of a quest: the concatenated encodings of
// its transaction ID, service, method, context and arguments. Any other
// shape is reported as a *MarshalError.
func ParseQuest(raw []byte) (*Quest, error) {
	vs, _, err := vbs.Unpack(raw, 0, 0)
	if err != nil {
		return nil, &MarshalError{Message: "invalid quest encoding", Err: err}
	} else if len(vs) != 5 {
		return nil, &MarshalError{Message: fmt.Sprintf("quest has %d values, want 5", len(vs))}
	}
	txid, ok1 := vs[0].(int64)
	service, ok2 := vs[1].(string)
	method, ok3 := vs[2].(string)
	qctx, ok4 := vs[3].(vbs.Dict)
	args, ok5 := vs[4].(vbs.Dict)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return nil, &MarshalError{Message: fmt.Sprintf("malformed quest (%T, %T, %T, %T, %T)",
			vs[0], vs[1], vs[2], vs[3], vs[4])}
	}
	return &Quest{TxID: txid, Service: service, Method: method, Context: qctx, Args: args}, nil
}

// MarshalBinary encodes q in its wire form.
func (q *Quest) MarshalBinary() ([]byte, error) {
	return vbs.Pack(q.TxID, q.Service, q.Method, q.Context, q.Args)
}

// IsControl reports whether q is addressed to a control method, whose name
// begins with a NUL byte.
func (q *Quest) IsControl() bool { return strings.HasPrefix(q.Method, "\x00") }

func (q *Quest) String() string {
	return fmt.Sprintf("Quest(txid=%d, %q*%q, args=%s)", q.TxID, q.Method, q.Service, vbs.Text(q.Args))
}

// QuestFromArgs constructs a local quest from command-line arguments.
//
// The service name is the name of the directory containing program, after
// resolving symbolic links. Each token has the form key^value; tokens
// without a "^" are ignored. If key begins with "--", the remainder of the
// key names a context entry, otherwise an argument. Later tokens replace
// earlier ones with the same key. Values are converted by [ParseArgValue].
func QuestFromArgs(program, method string, tokens []string) *Quest {
	q := &Quest{
		TxID:    LocalTxID,
		Service: serviceName(program),
		Method:  method,
		Context: vbs.Dict{},
		Args:    vbs.Dict{},
	}
	for _, tok := range tokens {
		key, val, ok := strings.Cut(tok, "^")
		if !ok {
			continue
		}
		v := ParseArgValue(val)
		if ck, ok := strings.CutPrefix(key, "--"); ok {
			q.Context.Set(ck, v)
		} else {
			q.Args.Set(key, v)
		}
	}
	return q
}

func serviceName(program string) string {
	path, err := filepath.Abs(program)
	if err == nil {
		if real, err := filepath.EvalSymlinks(path); err == nil {
			path = real
		}
	} else {
		path = program
	}
	return filepath.Base(filepath.Dir(path))
}

// ParseArgValue converts the value part of a command-line token:
//
//	~T, ~F       true, false
//	~S...~       the string between the markers
//	~B...~       the bytes between the markers
//	1234         an integer
//	1.5, 2e3     a floating-point number
//
// A numeric value is one that begins with a digit and contains only digits,
// "." and exponent markers. Values of any other form, including numbers
// that do not parse, are returned as plain strings.
func ParseArgValue(s string) any {
	if len(s) >= 2 && s[0] == '~' {
		switch s[1] {
		case 'T':
			return true
		case 'F':
			return false
		case 'S':
			if len(s) >= 3 && s[len(s)-1] == '~' {
				return s[2 : len(s)-1]
			}
		case 'B':
			if len(s) >= 3 && s[len(s)-1] == '~' {
				return []byte(s[2 : len(s)-1])
			}
		}
		return s
	}
	if !isNumeric(s) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	} else if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func isNumeric(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if c := s[i]; (c < '0' || c > '9') && c != '.' && c != 'e' && c != 'E' {
			return false
		}
	}
	return true
}
