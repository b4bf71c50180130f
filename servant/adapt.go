// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package servant

import (
	"context"
	"fmt"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/vbs"
)

// A DictUnmarshaler is a type that can populate itself from the arguments
// of a quest.
type DictUnmarshaler interface {
	UnmarshalDict(vbs.Dict) error
}

// A DictMarshaler is a type that can render itself as a result dictionary.
type DictMarshaler interface {
	MarshalDict() (vbs.Dict, error)
}

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to a Handler.
//
// Parameters are decoded from the quest arguments: P may be vbs.Dict or
// map[string]any, or a type whose pointer implements [DictUnmarshaler].
// Results may be vbs.Dict, *vbs.Dict or map[string]any, or a type that
// implements [DictMarshaler]. A parameter decoding error is reported to the
// caller as a [*xgate.UserError] with code 400 and tag "BAD_ARGS".
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) Handler {
	return func(ctx context.Context, q *xgate.Quest) (any, error) {
		var p P
		if err := unmarshal(q.Args, &p); err != nil {
			return nil, err
		}
		r, err := f(ctx, p)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R without error, to a Handler.
func ParamResult[P, R any](f func(context.Context, P) R) Handler {
	return func(ctx context.Context, q *xgate.Quest) (any, error) {
		var p P
		if err := unmarshal(q.Args, &p); err != nil {
			return nil, err
		}
		return marshal(f(ctx, p))
	}
}

// ParamError adapts a function f that accepts parameters of type P and returns
// an error with no result, to a Handler. On success the result is empty.
func ParamError[P any](f func(context.Context, P) error) Handler {
	return func(ctx context.Context, q *xgate.Quest) (any, error) {
		var p P
		if err := unmarshal(q.Args, &p); err != nil {
			return nil, err
		}
		return nil, f(ctx, p)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to a Handler.
func ResultError[R any](f func(context.Context) (R, error)) Handler {
	return func(ctx context.Context, q *xgate.Quest) (any, error) {
		r, err := f(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// unmarshal decodes args into v. The concrete type of v must be a pointer to
// a vbs.Dict or map[string]any, or must implement DictUnmarshaler.
func unmarshal(args vbs.Dict, v any) error {
	switch t := v.(type) {
	case *vbs.Dict:
		*t = args
	case *map[string]any:
		m := make(map[string]any, len(args))
		for _, it := range args {
			key, ok := it.Key.(string)
			if !ok {
				return badArgs("non-string key %v", it.Key)
			}
			m[key] = it.Value
		}
		*t = m
	case DictUnmarshaler:
		if err := t.UnmarshalDict(args); err != nil {
			return badArgs("%v", err)
		}
	default:
		return &xgate.ServantError{Message: fmt.Sprintf("cannot unmarshal into %T", v)}
	}
	return nil
}

func badArgs(format string, args ...any) error {
	return &xgate.UserError{Code: xgate.CodeMarshal, Tag: "BAD_ARGS", Message: fmt.Sprintf(format, args...)}
}

// marshal converts v into a result acceptable to xgate.Dispatch.
func marshal(v any) (any, error) {
	switch t := v.(type) {
	case vbs.Dict, *vbs.Dict, map[string]any:
		return t, nil
	case DictMarshaler:
		return t.MarshalDict()
	default:
		return nil, &xgate.ServantError{Message: fmt.Sprintf("cannot marshal %T", v)}
	}
}
