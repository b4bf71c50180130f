// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package example implements a small demonstration servant.
//
// Its methods are:
//
//	foo      reports the callee and echoes the quest
//	bar      reports the runtime and process environment
//	fail     raises an error with code 999 and tag TEST_ERROR
//	oops     returns a result that cannot be encoded
//	methods  lists the methods
package example

import (
	"context"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/servant"
	"github.com/creachadair/xgate/vbs"
)

// New constructs a table with the example methods.
func New() *servant.Table {
	t := servant.New().
		Set("foo", foo).
		Set("bar", bar).
		Set("fail", fail).
		Set("oops", oops)
	return t.Set("methods", t.Describe)
}

func foo(ctx context.Context, q *xgate.Quest) (any, error) {
	return vbs.Dict{
		{Key: "callee", Value: q.Service},
		{Key: "quest", Value: vbs.Dict{
			{Key: "txid", Value: q.TxID},
			{Key: "service", Value: q.Service},
			{Key: "method", Value: q.Method},
			{Key: "context", Value: q.Context},
			{Key: "args", Value: q.Args},
		}},
		{Key: "build", Value: buildInfo()},
	}, nil
}

func bar(ctx context.Context, q *xgate.Quest) (any, error) {
	env := vbs.Dict{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env.Set(k, v)
		}
	}
	return vbs.Dict{
		{Key: "env", Value: env},
		{Key: "go", Value: runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH},
		{Key: "build", Value: buildInfo()},
	}, nil
}

func fail(ctx context.Context, q *xgate.Quest) (any, error) {
	return nil, xgate.Raise(999, "TEST_ERROR", "")
}

// oops returns a list that contains itself.
func oops(ctx context.Context, q *xgate.Quest) (any, error) {
	x := []any{nil, int64(123), "abc"}
	x[0] = x
	return vbs.Dict{{Key: "x", Value: x}}, nil
}

func buildInfo() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return bi.Main.Path + "@" + bi.Main.Version + " " + bi.GoVersion
}
