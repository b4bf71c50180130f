// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package cli runs a single quest built from command-line arguments, for
// testing a servant locally without a gateway.
//
// The command line has the form
//
//	program <method> [key^value ...] [--ctxkey^value ...]
//
// where each value is converted as described by [xgate.ParseArgValue]. The
// answer is printed as
//
//	answer_status=<status>
//	answer_args=<result>
//
// with the result rendered by [vbs.Text].
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/guard"
	"github.com/creachadair/xgate/vbs"
	"github.com/rs/zerolog"
)

// UsageError is reported by Run when no method is given.
type UsageError struct {
	Program string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("Usage: %s <method> [k1^v1] ... [--ctx1^v1] ...", e.Program)
}

// Run executes the quest described by argv, in which argv[0] is the program
// name and argv[1] the method, and writes the rendered answer to out. If g
// is not nil, output written by the servant is captured by g while the quest
// runs. Run reports the answer as decoded from its wire encoding.
func Run(ctx context.Context, srv *xgate.Server, g *guard.Guard, argv []string, out io.Writer) (*xgate.Answer, error) {
	if len(argv) < 2 {
		program := "program"
		if len(argv) != 0 {
			program = argv[0]
		}
		return nil, &UsageError{Program: program}
	}
	q := xgate.QuestFromArgs(argv[0], argv[1], argv[2:])

	a, err := xgate.ParseAnswer(reply(ctx, srv, g, q))
	if err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if _, err := fmt.Fprintf(out, "answer_status=%d\nanswer_args=%s\n", a.Status, vbs.Text(a.Result)); err != nil {
		return nil, err
	}
	return a, nil
}

// reply runs q on srv, with output captured by g if it is not nil.
func reply(ctx context.Context, srv *xgate.Server, g *guard.Guard, q *xgate.Quest) []byte {
	if g == nil {
		return srv.Reply(ctx, q)
	}
	scope := g.Arm()
	defer scope.Release()
	return srv.Reply(xgate.WithOutput(ctx, scope), q)
}

// Main runs s as a command-line program with the arguments of the current
// process, and exits. Stray output and errors are logged to stderr. If no
// method is given, Main prints a usage message and exits with status 1.
func Main(s xgate.Servant) {
	program := filepath.Base(os.Args[0])
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("app", program).Logger()

	srv := xgate.NewServer(s)
	g := guard.New(log, &guard.Options{Stdio: true})
	if _, err := Run(context.Background(), srv, g, os.Args, os.Stdout); err != nil {
		var uerr *UsageError
		if errors.As(err, &uerr) {
			fmt.Println(uerr.Error())
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("run quest")
	}
	os.Exit(0)
}
