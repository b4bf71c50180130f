// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate

import (
	"context"
	"fmt"

	"github.com/creachadair/xgate/vbs"
)

// Ping is the name of the built-in liveness control method. A quest for Ping
// succeeds with an empty result without consulting the servant.
const Ping = "\x00ping"

// A Servant handles quests for a service. The method argument is the name
// of the method being invoked, equal to q.Method.
//
// A successful result must be a vbs.Dict, a *vbs.Dict, or a map[string]any.
// A nil or empty result is reported as an empty dictionary. To control the
// name, code and tag of an error reported to the caller, return a
// [*UserError] or an error providing the methods described by [Lift].
type Servant interface {
	Handle(ctx context.Context, method string, q *Quest) (any, error)
}

// ServantFunc adapts a function to the [Servant] interface. The function
// receives every quest regardless of its method.
type ServantFunc func(context.Context, *Quest) (any, error)

// Handle implements the [Servant] interface.
func (f ServantFunc) Handle(ctx context.Context, _ string, q *Quest) (any, error) { return f(ctx, q) }

// Dispatch routes q to s and returns the result as a dictionary.
//
// Control methods are handled directly: [Ping] reports an empty result, and
// any other control method reports a *MethodNotFoundError. A result of an
// unsupported type is reported as a *ServantError. Errors reported by s are
// returned unmodified.
func Dispatch(ctx context.Context, s Servant, q *Quest) (vbs.Dict, error) {
	if q.IsControl() {
		if q.Method == Ping {
			return vbs.Dict{}, nil
		}
		return nil, &MethodNotFoundError{Method: q.Method}
	}
	res, err := s.Handle(ctx, q.Method, q)
	if err != nil {
		return nil, err
	}
	return resultDict(res)
}

func resultDict(v any) (vbs.Dict, error) {
	switch t := v.(type) {
	case nil:
		return vbs.Dict{}, nil
	case vbs.Dict:
		if t == nil {
			return vbs.Dict{}, nil
		}
		return t, nil
	case *vbs.Dict:
		if t == nil {
			return vbs.Dict{}, nil
		}
		return resultDict(*t)
	case map[string]any:
		return vbs.FromMap(t), nil
	}
	return nil, &ServantError{Message: fmt.Sprintf("servant returned %T, want a dictionary", v)}
}
