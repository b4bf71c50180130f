// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/creachadair/xgate/vbs"
)

// DefaultEndpoint is the endpoint reported by a server that has not been
// given one, as for quests served from the command line.
const DefaultEndpoint = "loopback"

// A QuestLogger logs a quest and the answer produced for it.
type QuestLogger func(QuestInfo)

// A QuestInfo combines a quest with its answer and the time taken to
// produce it.
type QuestInfo struct {
	*Quest                // the quest being logged
	Answer  *Answer       // the answer reported
	Elapsed time.Duration // time to dispatch and encode
}

func (q QuestInfo) String() string {
	return fmt.Sprintf("%v → %v [%v]", q.Quest, q.Answer, q.Elapsed)
}

// A Server runs quests through a [Servant] and produces answers. Every quest
// produces exactly one answer, regardless of how the servant fails.
//
// The methods of a Server are safe for concurrent use by multiple
// goroutines.
type Server struct {
	servant Servant

	μ        sync.Mutex
	endpoint string
	qlog     QuestLogger
}

// NewServer constructs a server that dispatches quests to s.
func NewServer(s Servant) *Server { return &Server{servant: s, endpoint: DefaultEndpoint} }

// Endpoint sets the endpoint reported in the raiser of exceptions, and
// returns s to permit chaining. A per-quest endpoint set by [WithEndpoint]
// takes precedence.
func (s *Server) Endpoint(ep string) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.endpoint = ep
	return s
}

// LogQuests registers a callback to be invoked after each quest is answered
// by [Server.Reply] or [Server.ServeBytes]. If log == nil, logging is
// disabled. It returns s to permit chaining.
//
// The callback is invoked synchronously before the encoded answer is
// returned to the caller.
func (s *Server) LogQuests(log QuestLogger) *Server {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.qlog = log
	return s
}

// Metrics returns a metrics map for the server. It is safe for the caller to
// add additional metrics to the map while the server is active.
func (s *Server) Metrics() *expvar.Map { return rootMetrics.emap }

// Exec dispatches q to the servant and returns its answer. A panic in the
// servant is recovered and reported as an exception.
func (s *Server) Exec(ctx context.Context, q *Quest) *Answer {
	rootMetrics.questIn.Add(1)
	rootMetrics.questActive.Add(1)
	defer rootMetrics.questActive.Add(-1)
	if q.IsControl() {
		rootMetrics.controlCalls.Add(1)
	}

	result, err := s.dispatch(context.WithValue(ctx, questContextKey{}, q), q)
	if err != nil {
		return s.failure(ctx, q, err)
	}
	return &Answer{TxID: q.TxID, Status: StatusOK, Result: result}
}

func (s *Server) dispatch(ctx context.Context, q *Quest) (_ vbs.Dict, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = panicError(x)
		}
	}()
	return Dispatch(ctx, s.servant, q)
}

// panicError converts a recovered panic value into an exception.
func panicError(x any) *UserError {
	return &UserError{
		Name:    "runtime.Panic",
		Code:    CodeServant,
		Message: fmt.Sprintf("handler panicked (recovered): %v", x),
		Trace:   callTrace(3),
	}
}

// failure constructs an exception answer to q reporting err.
func (s *Server) failure(ctx context.Context, q *Quest, err error) *Answer {
	rootMetrics.questFailed.Add(1)
	rec := translateSafe(err)
	rec.Raiser = fmt.Sprintf("%s*%s @%s", q.Method, q.Service, s.endpointFor(ctx))
	return &Answer{TxID: q.TxID, Status: StatusFailed, Result: rec.Dict(true), Exception: &rec}
}

// translateSafe is Translate, but reports a panic in the capability methods
// of err as an exception in its own right.
func translateSafe(err error) (rec ExceptionRecord) {
	defer func() {
		if x := recover(); x != nil {
			rec = panicError(x).record()
			rec.Name = NormalizeName(rec.Name)
		}
	}()
	return Translate(err)
}

func (s *Server) endpointFor(ctx context.Context) string {
	if ep, ok := ctx.Value(endpointContextKey{}).(string); ok && ep != "" {
		return ep
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.endpoint
}

// Reply executes q and returns the wire encoding of its answer.
//
// If a successful result cannot be encoded, the answer is replaced by a
// *ServantError exception. If an exception answer cannot be encoded, it is
// encoded again without its call trace.
func (s *Server) Reply(ctx context.Context, q *Quest) []byte {
	start := time.Now()
	a := s.Exec(ctx, q)
	return s.finish(ctx, q, a, start)
}

// ServeBytes decodes a quest from raw, executes it, and returns the wire
// encoding of its answer. If raw is not a valid quest, the answer reports a
// *MarshalError with transaction ID [LocalTxID].
func (s *Server) ServeBytes(ctx context.Context, raw []byte) []byte {
	start := time.Now()
	q, err := ParseQuest(raw)
	if err != nil {
		rootMetrics.questIn.Add(1)
		q = &Quest{TxID: LocalTxID}
		return s.finish(ctx, q, s.failure(ctx, q, err), start)
	}
	a := s.Exec(ctx, q)
	return s.finish(ctx, q, a, start)
}

func (s *Server) finish(ctx context.Context, q *Quest, a *Answer, start time.Time) []byte {
	data, a := s.encode(ctx, q, a)
	s.μ.Lock()
	qlog := s.qlog
	s.μ.Unlock()
	if qlog != nil {
		qlog(QuestInfo{Quest: q, Answer: a, Elapsed: time.Since(start)})
	}
	return data
}

// encode returns the wire encoding of a, along with the answer actually
// encoded.
func (s *Server) encode(ctx context.Context, q *Quest, a *Answer) ([]byte, *Answer) {
	data, err := a.MarshalBinary()
	if err == nil {
		return data, a
	}
	if !a.Failed() {
		a = s.failure(ctx, q, &ServantError{Message: "unencodable result", Err: err})
		if data, err = a.MarshalBinary(); err == nil {
			return data, a
		}
	}

	// Double fault: the exception record itself could not be encoded.
	rootMetrics.doubleFaults.Add(1)
	a.Result = a.Exception.Dict(false)
	data, err = a.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("xgate: encoding exception without trace: %v", err))
	}
	return data, a
}

type questContextKey struct{}

// ContextQuest returns the quest associated with the given context, or nil
// if none is defined. The context passed to a [Servant] has this value.
func ContextQuest(ctx context.Context) *Quest {
	if v := ctx.Value(questContextKey{}); v != nil {
		return v.(*Quest)
	}
	return nil
}

type endpointContextKey struct{}

// WithEndpoint returns a context that overrides the endpoint reported by a
// server for quests executed with it.
func WithEndpoint(ctx context.Context, ep string) context.Context {
	return context.WithValue(ctx, endpointContextKey{}, ep)
}

type outputContextKey struct{}

// WithOutput returns a context in which [Stdout] reports w.
func WithOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, outputContextKey{}, w)
}

// Stdout returns the writer to which a servant may direct incidental output
// for the quest being served. Output written here never reaches the answer
// stream. If the context has no writer, Stdout returns [io.Discard].
func Stdout(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(outputContextKey{}).(io.Writer); ok && w != nil {
		return w
	}
	return io.Discard
}
