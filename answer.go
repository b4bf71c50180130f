// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate

import (
	"fmt"

	"github.com/creachadair/xgate/vbs"
)

// Answer status values.
const (
	StatusOK     = 0
	StatusFailed = -1
)

// An Answer is the reply to a quest.
type Answer struct {
	TxID   int64
	Status int64    // StatusOK or StatusFailed
	Result vbs.Dict // the result, or the wire form of Exception

	// When Status is StatusFailed, the exception reported by the answer.
	Exception *ExceptionRecord
}

// Failed reports whether a carries an exception.
func (a *Answer) Failed() bool { return a.Status != StatusOK }

// MarshalBinary encodes a in its wire form: the concatenated encodings of
// its transaction ID, status and result. A nil result is encoded as an
// empty dictionary.
func (a *Answer) MarshalBinary() ([]byte, error) {
	result := a.Result
	if result == nil {
		result = vbs.Dict{}
	}
	return vbs.Pack(a.TxID, a.Status, result)
}

// ParseAnswer decodes the wire form of an answer. If the answer reports a
// failure, its Exception field is populated from the result.
func ParseAnswer(data []byte) (*Answer, error) {
	vs, _, err := vbs.Unpack(data, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid answer encoding: %w", err)
	} else if len(vs) != 3 {
		return nil, fmt.Errorf("answer has %d values, want 3", len(vs))
	}
	txid, ok1 := vs[0].(int64)
	status, ok2 := vs[1].(int64)
	result, ok3 := vs[2].(vbs.Dict)
	if !(ok1 && ok2 && ok3) {
		return nil, fmt.Errorf("malformed answer (%T, %T, %T)", vs[0], vs[1], vs[2])
	}
	a := &Answer{TxID: txid, Status: status, Result: result}
	if a.Failed() {
		if rec, ok := ParseException(result); ok {
			a.Exception = &rec
		}
	}
	return a, nil
}

func (a *Answer) String() string {
	if a.Exception != nil {
		return fmt.Sprintf("Answer(txid=%d, status=%d, %s)", a.TxID, a.Status, a.Exception.Name)
	}
	return fmt.Sprintf("Answer(txid=%d, status=%d, %s)", a.TxID, a.Status, vbs.Text(a.Result))
}
