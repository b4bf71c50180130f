// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/creachadair/xgate/vbs"
)

// Codes reported for the exceptions raised by the pipeline itself.
const (
	CodeMarshal        = 400 // malformed quest encoding
	CodeMethodNotFound = 404 // unknown or unsupported method
	CodeServant        = 500 // servant returned an unusable result
)

// internalPrefix marks exception names in the framework's own namespace.
// Names with this prefix are reported with the prefix rewritten to "xic.".
const internalPrefix = "xic_"

// An Exception is one of the error kinds reported by the serving pipeline:
// *MarshalError, *MethodNotFoundError, *ServantError, or *UserError.
// Any other error returned by a handler is lifted into a *UserError.
type Exception interface {
	error
	record() ExceptionRecord
}

// MarshalError reports a quest whose wire encoding is malformed.
type MarshalError struct {
	Message string
	Err     error // the underlying decoding error, if any
}

func (e *MarshalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *MarshalError) Unwrap() error { return e.Err }

func (e *MarshalError) record() ExceptionRecord {
	return ExceptionRecord{Name: internalPrefix + "MarshalException", Code: CodeMarshal, Message: e.Error()}
}

// MethodNotFoundError reports a quest for a method the servant does not
// handle, or for an unsupported control method.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string { return fmt.Sprintf("method not found: %q", e.Method) }

func (e *MethodNotFoundError) record() ExceptionRecord {
	return ExceptionRecord{Name: internalPrefix + "MethodNotFoundException", Code: CodeMethodNotFound, Message: e.Method}
}

// ServantError reports a handler that completed without error, but whose
// result could not be used as an answer.
type ServantError struct {
	Message string
	Err     error
}

func (e *ServantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServantError) Unwrap() error { return e.Err }

func (e *ServantError) record() ExceptionRecord {
	return ExceptionRecord{Name: internalPrefix + "ServantException", Code: CodeServant, Message: e.Error()}
}

// UserError is an error raised by handler logic. A handler may return a
// *UserError directly to control the name, code, and tag reported to the
// caller; errors of other types are lifted into a UserError by [Lift].
type UserError struct {
	Name    string // if empty, the Go type of Err (or of the UserError)
	Code    int64
	Tag     string
	Message string

	File  string // source location where the error was raised, if known
	Line  int
	Trace []any // call trace entries, if known

	Err error // the original error, if lifted
}

// Raise constructs a *UserError with the given code, tag, and formatted
// message, recording the location and call trace of its caller.
func Raise(code int64, tag, format string, args ...any) *UserError {
	e := &UserError{Code: code, Tag: tag, Message: fmt.Sprintf(format, args...)}
	_, e.File, e.Line, _ = runtime.Caller(1)
	e.Trace = callTrace(2)
	return e
}

// Error implements the error interface.
func (e *UserError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Code != 0 && e.Tag != "":
		return fmt.Sprintf("[code %d, %s] %s", e.Code, e.Tag, msg)
	case e.Code != 0:
		return fmt.Sprintf("[code %d] %s", e.Code, msg)
	case e.Tag != "":
		return fmt.Sprintf("[%s] %s", e.Tag, msg)
	}
	return msg
}

// Unwrap reports the original error of e, or nil.
func (e *UserError) Unwrap() error { return e.Err }

func (e *UserError) record() ExceptionRecord {
	name := e.Name
	if name == "" {
		if e.Err != nil {
			name = typeName(e.Err)
		} else {
			name = typeName(e)
		}
	}
	return ExceptionRecord{
		Name:    name,
		Code:    e.Code,
		Tag:     e.Tag,
		Message: e.Message,
		Detail:  ExceptionDetail{File: e.File, Line: e.Line, Trace: e.Trace},
	}
}

// Lift converts err into a *UserError. If err is or wraps a *UserError, that
// value is returned. Otherwise the fields are populated from whichever of
// the following methods err (or an error it wraps) provides:
//
//	ExceptionName() string
//	ExceptionCode() int64
//	ExceptionTag() string
//	CallTrace() []any
//	Location() (file string, line int)
//
// Without these, the name is the Go type of err, the code is 0 and the tag
// is empty.
func Lift(err error) *UserError {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue
	}
	u := &UserError{Message: err.Error(), Err: err}
	var (
		name  interface{ ExceptionName() string }
		code  interface{ ExceptionCode() int64 }
		tag   interface{ ExceptionTag() string }
		trace interface{ CallTrace() []any }
		loc   interface{ Location() (string, int) }
	)
	if errors.As(err, &name) {
		u.Name = name.ExceptionName()
	}
	if errors.As(err, &code) {
		u.Code = code.ExceptionCode()
	}
	if errors.As(err, &tag) {
		u.Tag = tag.ExceptionTag()
	}
	if errors.As(err, &trace) {
		u.Trace = trace.CallTrace()
	}
	if errors.As(err, &loc) {
		u.File, u.Line = loc.Location()
	}
	return u
}

// Translate converts err into the exception record reported to the caller.
// The Raiser field of the result is not populated.
func Translate(err error) ExceptionRecord {
	var rec ExceptionRecord
	var ex Exception
	if errors.As(err, &ex) {
		rec = ex.record()
	} else {
		rec = Lift(err).record()
	}
	rec.Name = NormalizeName(rec.Name)
	return rec
}

var nameSeparators = strings.NewReplacer(`\`, ".", "/", ".", "::", ".")

// NormalizeName rewrites an exception name into its dotted wire form.
// A name in the internal namespace ("xic_Name") becomes "xic.Name"; in
// other names the namespace separators \, / and :: are replaced by ".".
func NormalizeName(name string) string {
	if rest, ok := strings.CutPrefix(name, internalPrefix); ok {
		return "xic." + rest
	}
	return nameSeparators.Replace(name)
}

// typeName reports the name of the concrete type of v, without pointers.
func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

// callTrace returns the call stack of its caller as a list of dictionaries,
// skipping the specified number of frames.
func callTrace(skip int) []any {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var out []any
	for {
		f, more := frames.Next()
		out = append(out, vbs.Dict{
			{Key: "function", Value: f.Function},
			{Key: "file", Value: f.File},
			{Key: "line", Value: int64(f.Line)},
		})
		if !more {
			break
		}
	}
	return out
}

// ExceptionRecord is the canonical form of an error reported in an answer.
type ExceptionRecord struct {
	Raiser  string // "method*service @endpoint"
	Name    string
	Code    int64
	Tag     string
	Message string
	Detail  ExceptionDetail
}

// ExceptionDetail records where an exception was raised.
type ExceptionDetail struct {
	File  string
	Line  int
	Trace []any // optional
}

// Dict returns the wire form of r. If withTrace is false, or r has no call
// trace, the "calltrace" entry of the detail is omitted.
func (r ExceptionRecord) Dict(withTrace bool) vbs.Dict {
	detail := vbs.Dict{
		{Key: "file", Value: r.Detail.File},
		{Key: "line", Value: int64(r.Detail.Line)},
	}
	if withTrace && r.Detail.Trace != nil {
		detail = append(detail, vbs.Item{Key: "calltrace", Value: r.Detail.Trace})
	}
	return vbs.Dict{
		{Key: "raiser", Value: r.Raiser},
		{Key: "exname", Value: r.Name},
		{Key: "code", Value: r.Code},
		{Key: "tag", Value: r.Tag},
		{Key: "message", Value: r.Message},
		{Key: "detail", Value: detail},
	}
}

// ParseException decodes the wire form of an exception record from d.
// It reports false if d lacks an exception name.
func ParseException(d vbs.Dict) (ExceptionRecord, bool) {
	var rec ExceptionRecord
	name, ok := d.Get("exname")
	if !ok {
		return rec, false
	}
	rec.Name, _ = name.(string)
	rec.Raiser = getString(d, "raiser")
	rec.Tag = getString(d, "tag")
	rec.Message = getString(d, "message")
	if v, ok := d.Get("code"); ok {
		rec.Code, _ = v.(int64)
	}
	if v, ok := d.Get("detail"); ok {
		if detail, ok := v.(vbs.Dict); ok {
			rec.Detail.File = getString(detail, "file")
			if line, ok := detail.Get("line"); ok {
				n, _ := line.(int64)
				rec.Detail.Line = int(n)
			}
			if trace, ok := detail.Get("calltrace"); ok {
				rec.Detail.Trace, _ = trace.([]any)
			}
		}
	}
	return rec, true
}

func getString(d vbs.Dict, key string) string {
	v, _ := d.Get(key)
	s, _ := v.(string)
	return s
}

// Error renders r as an error message.
func (r ExceptionRecord) Error() string {
	return fmt.Sprintf("%s (code %d, tag %q): %s", r.Name, r.Code, r.Tag, r.Message)
}
