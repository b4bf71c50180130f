// Program xgate serves quests over FastCGI or CGI, and provides utilities for
// constructing and inspecting quest and answer encodings.
package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/cli"
	"github.com/creachadair/xgate/gateway"
	"github.com/creachadair/xgate/guard"
	"github.com/creachadair/xgate/servant/example"
	"github.com/creachadair/xgate/vbs"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var serveFlags struct {
	Config   string  `flag:"config,Configuration file (TOML)"`
	Listen   string  `flag:"listen,FastCGI listen address (overrides config)"`
	CGI      bool    `flag:"cgi,Serve a single CGI request from the environment"`
	Endpoint string  `flag:"endpoint,Endpoint name reported in exceptions"`
	LogLevel string  `flag:"log-level,Log level (overrides config)"`
	Metrics  string  `flag:"metrics,Metrics listen address (overrides config)"`
	Rate     float64 `flag:"rate,Quests admitted per second (0 means unlimited)"`
}

var encodeFlags struct {
	Service string `flag:"service,default=xgate,Service name of the quest"`
	TxID    int64  `flag:"txid,default=1,Transaction ID of the quest"`
}

var decodeFlags struct {
	Version int `flag:"version,default=0,Frame version of the input (0 for unframed)"`
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Serve and inspect quests.",
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "[--config path] [--listen addr] [--cgi]",
				Help: `Serve quests to the example servant.

By default, quests are served over FastCGI on the configured listen address
until the process is interrupted. With --cgi, a single CGI request is served
from the environment and the program exits.

Flag values override the settings of the configuration file.`,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			{
				Name:  "call",
				Usage: "<method> [k1^v1] ... [--ctx1^v1] ...",
				Help: `Call a method of the example servant and print its answer.

Each argument k^v adds an argument named k with value v. Arguments with a
"--" prefix are added to the quest context instead. Values are interpreted
as follows:

  ~T, ~F  : the Boolean constants true and false
  ~S...~  : a literal string
  ~B...~  : a byte string
  123     : an integer (digits only)
  1.5e3   : a floating-point number

Any other value is a string.`,
				Run: runCall,
			},
			{
				Name:  "encode",
				Usage: "<method> [k1^v1] ... [--ctx1^v1] ...",
				Help: `Encode a quest and write its binary form to stdout.

Arguments are interpreted as for the "call" command.`,
				SetFlags: command.Flags(flax.MustBind, &encodeFlags),
				Run:      runEncode,
			},
			{
				Name:  "decode",
				Usage: "< answer",
				Help: `Decode an answer from stdin and print it.

With --version 1 or 2, the input must carry the frame of that version.`,
				SetFlags: command.Flags(flax.MustBind, &decodeFlags),
				Run:      runDecode,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func loadConfig() (gateway.Config, error) {
	cfg := gateway.DefaultConfig()
	if serveFlags.Config != "" {
		var err error
		cfg, err = gateway.LoadConfig(serveFlags.Config)
		if err != nil {
			return cfg, err
		}
	}
	if serveFlags.CGI {
		cfg.Mode = gateway.ModeCGI
	}
	if serveFlags.Listen != "" {
		cfg.Listen = serveFlags.Listen
	}
	if serveFlags.Endpoint != "" {
		cfg.Endpoint = serveFlags.Endpoint
	}
	if serveFlags.LogLevel != "" {
		cfg.LogLevel = serveFlags.LogLevel
	}
	if serveFlags.Metrics != "" {
		cfg.Metrics = serveFlags.Metrics
	}
	if serveFlags.Rate > 0 {
		cfg.Rate = serveFlags.Rate
	}
	return cfg, cfg.Validate()
}

func runServe(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := zerolog.New(os.Stderr).Level(cfg.Level()).
		With().Timestamp().Str("mode", cfg.Mode).Logger()

	srv := xgate.NewServer(example.New())
	if cfg.Endpoint != "" {
		srv.Endpoint(cfg.Endpoint)
	}
	expvar.Publish("xgate", srv.Metrics())

	h := gateway.NewHandler(srv, log)
	if cfg.Stdio {
		h.Guard = guard.New(log, &guard.Options{Stdio: true})
	} else {
		h.Guard = guard.New(log, nil)
	}
	if cfg.Rate > 0 {
		h.Limiter = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
	}

	if cfg.Mode == gateway.ModeCGI {
		return gateway.ServeCGI(h)
	}

	ctx, cancel := signal.NotifyContext(env.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lst, err := gateway.Listen(ctx, cfg.Listen)
	if err != nil {
		return err
	}
	log.Info().Str("addr", lst.Addr().String()).Msg("serving FastCGI")

	g := taskgroup.New(func(error) { cancel() })
	if cfg.Metrics != "" {
		hs := &http.Server{Addr: cfg.Metrics, Handler: gateway.MetricsHandler()}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Metrics).Msg("serving metrics")
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return hs.Shutdown(sctx)
		})
	}
	g.Go(func() error { return gateway.Serve(ctx, lst, h) })
	err = g.Wait()
	log.Info().Err(err).Msg("server exited")
	return err
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing method name")
	}
	srv := xgate.NewServer(example.New())
	argv := append([]string{os.Args[0]}, env.Args...)
	_, err := cli.Run(env.Context(), srv, nil, argv, os.Stdout)
	return err
}

func runEncode(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing method name")
	}
	q := xgate.QuestFromArgs(os.Args[0], env.Args[0], env.Args[1:])
	q.Service = encodeFlags.Service
	q.TxID = encodeFlags.TxID
	data, err := q.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runDecode(env *command.Env) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	if v := decodeFlags.Version; v != 0 {
		if v < gateway.MinVersion || v > gateway.MaxVersion {
			return env.Usagef("Invalid frame version %d", v)
		}
		data, err = gateway.Unframe(data, v)
		if err != nil {
			return err
		}
	}
	a, err := xgate.ParseAnswer(data)
	if err != nil {
		return err
	}
	fmt.Printf("txid=%d status=%d\n", a.TxID, a.Status)
	fmt.Println(vbs.Text(a.Result))
	if a.Exception != nil {
		fmt.Printf("exception: %v\n", a.Exception.Error())
	}
	return nil
}
