// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package xgate implements a framework for serving quests behind a FastCGI
// (or plain CGI) front end, or from the command line.
//
// A quest is a remote call: a transaction ID, a service and method name, and
// dictionaries of context and arguments, encoded as a sequence of values in
// the vbs binary format. The framework decodes each quest, dispatches it to
// a [Servant], and encodes the outcome as an answer: the transaction ID, a
// status, and either the result dictionary or a description of the error.
//
// # Servants
//
// A [Servant] handles the quests for a service. The simplest servant is a
// function:
//
//	s := xgate.ServantFunc(func(ctx context.Context, q *xgate.Quest) (any, error) {
//	   return map[string]any{"echo": q.Args}, nil
//	})
//
// The servant package provides a table that routes quests to handlers by
// method name.
//
// # Servers
//
// A [Server] wraps a servant and guarantees that every quest produces
// exactly one well-formed answer:
//
//	srv := xgate.NewServer(s)
//	out := srv.ServeBytes(ctx, questBytes)
//
// Errors reported by the servant, including panics, are translated into
// exception records by [Translate]. Errors of concrete type [*UserError]
// control the exception name, code and tag; see [Lift] for the methods other
// error types may implement to do the same.
//
// # Control methods
//
// Method names beginning with a NUL byte are reserved for the framework.
// The only control method currently defined is [Ping], which reports an
// empty result without consulting the servant.
//
// # Transports
//
// The gateway package exposes a server over FastCGI or CGI and applies the
// response framing negotiated with the front end. The cli package runs a
// single quest constructed from command-line arguments.
package xgate
