// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package servant provides a method table implementing xgate.Servant, and
// adapters from functions of other signatures to its handler type.
//
// # Usage
//
// Construct a new empty table and add handlers to it:
//
//	tab := servant.New().
//	  Set("foo", handleFoo).
//	  Set("bar", handleBar)
//
// Set will panic if given an empty method name, or a name beginning with a
// NUL byte, which is reserved for control methods.
//
// A table is a [xgate.Servant], so it can be served directly:
//
//	srv := xgate.NewServer(tab)
//
// Quests for methods not in the table are answered with a
// [xgate.MethodNotFoundError].
//
// A Table provides a Describe method that can be added as a handler to report
// the methods of the table:
//
//	tab.Set("methods", tab.Describe)
package servant

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/vbs"
)

// A Handler processes a quest for a single method. The result must be one
// of the types accepted by [xgate.Dispatch].
type Handler func(context.Context, *xgate.Quest) (any, error)

// A Table maps method names to handlers. A zero Table is empty and ready for
// use. The methods of a Table are safe for concurrent use.
type Table struct {
	μ       sync.RWMutex
	methods map[string]Handler
}

// New constructs a new empty table.
func New() *Table { return new(Table) }

// Set adds h as the handler for the named method, and returns t to allow
// chaining. If h == nil, any handler for the method is removed.
//
// Set will panic if name is empty or begins with a NUL byte.
func (t *Table) Set(name string, h Handler) *Table {
	if name == "" || strings.HasPrefix(name, "\x00") {
		panic(fmt.Sprintf("invalid method name %q", name))
	}
	t.μ.Lock()
	defer t.μ.Unlock()
	if h == nil {
		delete(t.methods, name)
	} else {
		if t.methods == nil {
			t.methods = make(map[string]Handler)
		}
		t.methods[name] = h
	}
	return t
}

// Lookup returns the handler for the named method, or nil.
func (t *Table) Lookup(name string) Handler {
	t.μ.RLock()
	defer t.μ.RUnlock()
	return t.methods[name]
}

// Methods returns the method names of t in lexicographic order.
func (t *Table) Methods() []string {
	t.μ.RLock()
	defer t.μ.RUnlock()
	names := make([]string, 0, len(t.methods))
	for name := range t.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handle implements the [xgate.Servant] interface.
func (t *Table) Handle(ctx context.Context, method string, q *xgate.Quest) (any, error) {
	h := t.Lookup(method)
	if h == nil {
		return nil, &xgate.MethodNotFoundError{Method: method}
	}
	return h(ctx, q)
}

// Describe is a Handler that reports the methods of t, as
//
//	{methods^[name; ...]}
func (t *Table) Describe(_ context.Context, _ *xgate.Quest) (any, error) {
	return vbs.Dict{{Key: "methods", Value: t.Methods()}}, nil
}
