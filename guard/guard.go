// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package guard diverts stray output produced while a quest is served to a
// side log, so that it never reaches the response stream.
//
// A [Guard] is armed at the start of each request, yielding a [Scope] that
// collects output until it is released:
//
//	s := g.Arm()
//	defer s.Release()
//	... // run the handler, directing incidental output to s
//
// Scopes of a guard are independent of one another, so one guard may serve
// concurrent requests. In stdio mode, where scopes are exclusive, arming a
// guard releases any scope left armed by an earlier request, so no state
// carries over from one request to the next.
package guard

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// maxLine is the longest partial line a scope buffers before logging it.
const maxLine = 4096

// Options control the behaviour of a [Guard]. A nil *Options provides
// default values.
type Options struct {
	// If true, each scope also captures writes to os.Stdout while it is
	// armed. Since os.Stdout is shared by the whole process, scopes of a
	// guard in this mode are exclusive: Arm blocks while another scope is
	// armed.
	Stdio bool
}

func (o *Options) stdio() bool { return o != nil && o.Stdio }

// A Guard arms capture scopes and logs what they collect. A Guard is safe
// for concurrent use by multiple goroutines.
type Guard struct {
	log   zerolog.Logger
	stdio bool

	excl sync.Mutex // held while a stdio scope is armed

	μ   sync.Mutex
	cur *Scope // in stdio mode, the armed scope, if unreleased
}

// New constructs a guard that writes captured output to log.
func New(log zerolog.Logger, opts *Options) *Guard {
	return &Guard{log: log, stdio: opts.stdio()}
}

// Arm starts a new capture scope. In stdio mode, any scope previously armed
// by g and not yet released is released first.
func (g *Guard) Arm() *Scope {
	s := &Scope{g: g}
	if !g.stdio {
		return s
	}

	g.μ.Lock()
	prev := g.cur
	g.cur = nil
	g.μ.Unlock()
	if prev != nil {
		prev.Release()
	}

	g.excl.Lock()
	if err := s.redirect(); err != nil {
		g.log.Error().Err(err).Msg("redirect stdout")
	}
	g.μ.Lock()
	g.cur = s
	g.μ.Unlock()
	return s
}

// A Scope collects output written during one request. Each complete line
// written to a scope is logged as it arrives; a trailing partial line is
// logged on release. A Scope is safe for concurrent use.
type Scope struct {
	g    *Guard
	once sync.Once

	μ        sync.Mutex
	buf      bytes.Buffer
	nbytes   int64
	nlines   int
	released bool

	// Populated when the scope redirects os.Stdout.
	saved *os.File
	pw    *os.File
	done  chan struct{}
}

// Write captures p. It never reports an error, including after the scope
// has been released.
func (s *Scope) Write(p []byte) (int, error) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.nbytes += int64(len(p))
	s.buf.Write(p)
	s.emitLocked(s.released)
	return len(p), nil
}

// emitLocked logs each complete line in the buffer. If all is true, or the
// buffered partial line is too long, the partial line is logged as well.
func (s *Scope) emitLocked(all bool) {
	for {
		line, err := s.buf.ReadBytes('\n')
		if err == nil {
			s.logLine(line[:len(line)-1])
			continue
		}
		// No newline remains: line holds whatever partial text was left.
		if len(line) != 0 {
			if all || len(line) >= maxLine {
				s.logLine(line)
			} else {
				s.buf.Write(line)
			}
		}
		return
	}
}

func (s *Scope) logLine(line []byte) {
	s.nlines++
	s.g.log.Warn().Bytes("output", bytes.TrimSuffix(line, []byte("\r"))).Msg("discarded stray output")
}

// Len reports the total number of bytes written to s.
func (s *Scope) Len() int64 {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.nbytes
}

// Lines reports the number of lines logged by s so far.
func (s *Scope) Lines() int {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.nlines
}

// Release ends the scope, restoring os.Stdout if it was redirected, and logs
// any output still buffered. Release is idempotent; output written to s
// after release is logged immediately.
func (s *Scope) Release() {
	s.once.Do(func() {
		if s.g.stdio {
			s.restore()
			s.g.excl.Unlock()
		}

		s.μ.Lock()
		s.released = true
		s.emitLocked(true)
		s.μ.Unlock()

		s.g.μ.Lock()
		if s.g.cur == s {
			s.g.cur = nil
		}
		s.g.μ.Unlock()
	})
}

// redirect replaces os.Stdout with a pipe whose contents are copied into s.
func (s *Scope) redirect() error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return err
	}
	s.saved, s.pw, s.done = os.Stdout, pw, make(chan struct{})
	os.Stdout = pw
	go func() {
		defer close(s.done)
		defer pr.Close()
		io.Copy(s, pr)
	}()
	return nil
}

// restore undoes redirect, and waits for the copy to finish.
func (s *Scope) restore() {
	if s.pw == nil {
		return
	}
	os.Stdout = s.saved
	s.pw.Close()
	<-s.done
}
