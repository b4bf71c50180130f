// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package xgate_test

import (
	"context"
	"errors"
	"expvar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/vbs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// codedError implements the exception capability methods.
type codedError struct{}

func (codedError) Error() string           { return "coded failure" }
func (codedError) ExceptionName() string   { return `acme\storage\Missing` }
func (codedError) ExceptionCode() int64    { return 17 }
func (codedError) ExceptionTag() string    { return "NOT_FOUND" }
func (codedError) Location() (string, int) { return "store.go", 99 }

// badTraceError reports a call trace that cannot be encoded.
type badTraceError struct{}

func (badTraceError) Error() string    { return "bad trace" }
func (badTraceError) CallTrace() []any { return []any{make(chan int)} }

// panicNameError panics when asked for its name.
type panicNameError struct{}

func (panicNameError) Error() string         { return "unnamed" }
func (panicNameError) ExceptionName() string { panic("no name") }

func testServant(ctx context.Context, q *xgate.Quest) (any, error) {
	switch q.Method {
	case "ok":
		return map[string]any{"x": 1, "y": "two"}, nil
	case "dict":
		return vbs.Dict{{Key: "z", Value: true}, {Key: "a", Value: 2.5}}, nil
	case "empty":
		return nil, nil
	case "error":
		return nil, errors.New("bad")
	case "raise":
		return nil, xgate.Raise(999, "TEST_ERROR", "")
	case "named":
		return nil, &xgate.UserError{Name: `my\pkg\Oops`, Code: 7, Message: "oops"}
	case "internal":
		return nil, &xgate.UserError{Name: "xic_Custom", Message: "custom"}
	case "coded":
		return nil, codedError{}
	case "wrapped":
		return nil, errors.Join(errors.New("context"), codedError{})
	case "panic":
		panic("boom")
	case "badtype":
		return 42, nil
	case "unencodable":
		return map[string]any{"f": func() {}}, nil
	case "badtrace":
		return nil, badTraceError{}
	case "panicname":
		return nil, panicNameError{}
	}
	return nil, &xgate.MethodNotFoundError{Method: q.Method}
}

func metric(t *testing.T, s *xgate.Server, name string) int64 {
	t.Helper()
	return s.Metrics().Get(name).(*expvar.Int).Value()
}

func mustEncode(t *testing.T, q *xgate.Quest) []byte {
	t.Helper()
	raw, err := q.MarshalBinary()
	if err != nil {
		t.Fatalf("Encode quest: %v", err)
	}
	return raw
}

func TestServer(t *testing.T) {
	srv := xgate.NewServer(xgate.ServantFunc(testServant)).Endpoint("test-ep")

	type exc struct {
		Raiser, Name string
		Code         int64
		Tag, Message string
	}
	tests := []struct {
		method string
		want   vbs.Dict // for success
		exc    *exc     // for failure
	}{
		{"ok", vbs.Dict{{Key: "x", Value: int64(1)}, {Key: "y", Value: "two"}}, nil},
		{"dict", vbs.Dict{{Key: "z", Value: true}, {Key: "a", Value: 2.5}}, nil},
		{"empty", vbs.Dict{}, nil},
		{xgate.Ping, vbs.Dict{}, nil},

		{"error", nil, &exc{"error*svc @test-ep", "errors.errorString", 0, "", "bad"}},
		{"raise", nil, &exc{"raise*svc @test-ep", "xgate.UserError", 999, "TEST_ERROR", ""}},
		{"named", nil, &exc{"named*svc @test-ep", "my.pkg.Oops", 7, "", "oops"}},
		{"internal", nil, &exc{"internal*svc @test-ep", "xic.Custom", 0, "", "custom"}},
		{"coded", nil, &exc{"coded*svc @test-ep", "acme.storage.Missing", 17, "NOT_FOUND", "coded failure"}},
		{"wrapped", nil, &exc{"wrapped*svc @test-ep", "acme.storage.Missing", 17, "NOT_FOUND", "context\ncoded failure"}},
		{"panic", nil, &exc{"panic*svc @test-ep", "runtime.Panic", 500, "", "handler panicked (recovered): boom"}},
		{"panicname", nil, &exc{"panicname*svc @test-ep", "runtime.Panic", 500, "", "handler panicked (recovered): no name"}},
		{"nonesuch", nil, &exc{"nonesuch*svc @test-ep", "xic.MethodNotFoundException", 404, "", "nonesuch"}},
		{"\x00nope", nil, &exc{"\x00nope*svc @test-ep", "xic.MethodNotFoundException", 404, "", "\x00nope"}},
		{"badtype", nil, &exc{"badtype*svc @test-ep", "xic.ServantException", 500, "",
			"servant returned int, want a dictionary"}},
	}
	for _, tc := range tests {
		t.Run(strings.TrimPrefix(tc.method, "\x00"), func(t *testing.T) {
			raw := mustEncode(t, &xgate.Quest{TxID: 17, Service: "svc", Method: tc.method})
			out := srv.ServeBytes(context.Background(), raw)

			a, err := xgate.ParseAnswer(out)
			if err != nil {
				t.Fatalf("ParseAnswer: %v", err)
			}
			if a.TxID != 17 {
				t.Errorf("Answer txid: got %d, want 17", a.TxID)
			}
			if tc.exc == nil {
				if a.Status != xgate.StatusOK {
					t.Fatalf("Answer status: got %d, want 0 (%v)", a.Status, a.Exception)
				}
				if diff := cmp.Diff(tc.want, a.Result); diff != "" {
					t.Errorf("Answer result (-want, +got):\n%s", diff)
				}
				return
			}
			if a.Status != xgate.StatusFailed || a.Exception == nil {
				t.Fatalf("Answer: got status %d, exception %v; want failure", a.Status, a.Exception)
			}
			e := a.Exception
			got := &exc{e.Raiser, e.Name, e.Code, e.Tag, e.Message}
			if diff := cmp.Diff(tc.exc, got); diff != "" {
				t.Errorf("Exception (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestExceptionDetail(t *testing.T) {
	srv := xgate.NewServer(xgate.ServantFunc(testServant))
	ctx := context.Background()

	t.Run("Raise", func(t *testing.T) {
		a := srv.Exec(ctx, xgate.NewQuest("raise", nil))
		if !a.Failed() {
			t.Fatalf("Exec: got %v, want failure", a)
		}
		d := a.Exception.Detail
		if filepath.Base(d.File) != "xgate_test.go" || d.Line <= 0 {
			t.Errorf("Detail: got %s:%d, want xgate_test.go:>0", d.File, d.Line)
		}
		if len(d.Trace) == 0 {
			t.Error("Detail: missing call trace")
		}
		if a.Exception.Raiser != "raise* @loopback" {
			t.Errorf("Raiser: got %q, want %q", a.Exception.Raiser, "raise* @loopback")
		}
	})
	t.Run("Location", func(t *testing.T) {
		a := srv.Exec(ctx, xgate.NewQuest("coded", nil))
		if got := a.Exception.Detail; got.File != "store.go" || got.Line != 99 {
			t.Errorf("Detail: got %s:%d, want store.go:99", got.File, got.Line)
		}
	})
	t.Run("Foreign", func(t *testing.T) {
		a := srv.Exec(ctx, xgate.NewQuest("error", nil))
		if got := a.Exception.Detail; got.File != "" || got.Line != 0 || got.Trace != nil {
			t.Errorf("Detail: got %+v, want empty", got)
		}
	})
}

func TestDoubleFault(t *testing.T) {
	srv := xgate.NewServer(xgate.ServantFunc(testServant))
	before := metric(t, srv, "double_faults")

	out := srv.Reply(context.Background(), &xgate.Quest{TxID: 5, Method: "badtrace"})
	a, err := xgate.ParseAnswer(out)
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}
	if a.TxID != 5 || !a.Failed() {
		t.Fatalf("Answer: got %v, want failure for txid 5", a)
	}
	if a.Exception.Message != "bad trace" {
		t.Errorf("Message: got %q, want %q", a.Exception.Message, "bad trace")
	}
	detail, _ := a.Result.Get("detail")
	if _, ok := detail.(vbs.Dict).Get("calltrace"); ok {
		t.Errorf("Detail: got %v, want no calltrace", detail)
	}
	if got := metric(t, srv, "double_faults"); got != before+1 {
		t.Errorf("double_faults: got %d, want %d", got, before+1)
	}
}

func TestUnencodableResult(t *testing.T) {
	srv := xgate.NewServer(xgate.ServantFunc(testServant))
	out := srv.Reply(context.Background(), &xgate.Quest{TxID: 3, Method: "unencodable"})
	a, err := xgate.ParseAnswer(out)
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}
	if !a.Failed() || a.Exception.Name != "xic.ServantException" || a.Exception.Code != 500 {
		t.Errorf("Answer: got %v, want ServantException", a)
	}
}

func TestMalformedQuest(t *testing.T) {
	srv := xgate.NewServer(xgate.ServantFunc(func(context.Context, *xgate.Quest) (any, error) {
		t.Fatal("Servant called for malformed quest")
		return nil, nil
	}))
	enc := func(vs ...any) []byte {
		raw, err := vbs.Pack(vs...)
		if err != nil {
			t.Fatalf("Pack: %v", err)
		}
		return raw
	}
	tests := []struct {
		name string
		raw  []byte
	}{
		{"Empty", nil},
		{"Garbage", []byte("\xff\xff")},
		{"TooFew", enc(int64(1), "svc", "m", vbs.Dict{})},
		{"TooMany", enc(int64(1), "svc", "m", vbs.Dict{}, vbs.Dict{}, 0)},
		{"WrongTypes", enc("1", "svc", "m", vbs.Dict{}, vbs.Dict{})},
		{"ListArgs", enc(int64(1), "svc", "m", vbs.Dict{}, []any{})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var merr *xgate.MarshalError
			if _, err := xgate.ParseQuest(tc.raw); !errors.As(err, &merr) {
				t.Errorf("ParseQuest: got %v, want *MarshalError", err)
			}

			a, err := xgate.ParseAnswer(srv.ServeBytes(context.Background(), tc.raw))
			if err != nil {
				t.Fatalf("ParseAnswer: %v", err)
			}
			if a.TxID != xgate.LocalTxID || !a.Failed() {
				t.Fatalf("Answer: got %v, want failure with txid -1", a)
			}
			if a.Exception.Name != "xic.MarshalException" || a.Exception.Code != 400 {
				t.Errorf("Exception: got %s code %d, want xic.MarshalException code 400",
					a.Exception.Name, a.Exception.Code)
			}
		})
	}
}

func TestQuestRoundTrip(t *testing.T) {
	q := &xgate.Quest{
		TxID:    12345,
		Service: "svc",
		Method:  "frob",
		Context: vbs.Dict{{Key: "caller", Value: "me"}},
		Args:    vbs.Dict{{Key: "n", Value: int64(-3)}, {Key: "blob", Value: []byte{0, 1}}},
	}
	got, err := xgate.ParseQuest(mustEncode(t, q))
	if err != nil {
		t.Fatalf("ParseQuest: %v", err)
	}
	if diff := cmp.Diff(q, got); diff != "" {
		t.Errorf("Quest (-want, +got):\n%s", diff)
	}
}

func TestQuestFromArgs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "calc")
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	prog := filepath.Join(dir, "main")

	q := xgate.QuestFromArgs(prog, "add", []string{
		"a^1", "b^1.5", "c^2e3", "d^~T", "e^~F", "f^~Shello world~", "g^~Bhi~",
		"h^~Sunterminated", "i^12abc", "j^99999999999999999999", "k^1.2.3",
		"plain", "--trace^abc", "--depth^3", "a^2", "l^x^y", "m^",
	})
	want := &xgate.Quest{
		TxID:    xgate.LocalTxID,
		Service: "calc",
		Method:  "add",
		Context: vbs.Dict{{Key: "trace", Value: "abc"}, {Key: "depth", Value: int64(3)}},
		Args: vbs.Dict{
			{Key: "a", Value: int64(2)},
			{Key: "b", Value: 1.5},
			{Key: "c", Value: 2000.0},
			{Key: "d", Value: true},
			{Key: "e", Value: false},
			{Key: "f", Value: "hello world"},
			{Key: "g", Value: []byte("hi")},
			{Key: "h", Value: "~Sunterminated"},
			{Key: "i", Value: "12abc"},
			{Key: "j", Value: "99999999999999999999"},
			{Key: "k", Value: "1.2.3"},
			{Key: "l", Value: "x^y"},
			{Key: "m", Value: ""},
		},
	}
	if diff := cmp.Diff(want, q); diff != "" {
		t.Errorf("QuestFromArgs (-want, +got):\n%s", diff)
	}
}

func TestParseArgValue(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"", ""},
		{"~", "~"},
		{"~T", true},
		{"~F", false},
		{"~S~", ""},
		{"~B~", []byte{}},
		{"~X~", "~X~"},
		{"007", int64(7)},
		{"1E2", 100.0},
		{"abc", "abc"},
		{"-5", "-5"},
	}
	for _, tc := range tests {
		got := xgate.ParseArgValue(tc.input)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseArgValue(%q) (-want, +got):\n%s", tc.input, diff)
		}
	}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	calls := 0
	s := xgate.ServantFunc(func(_ context.Context, q *xgate.Quest) (any, error) {
		calls++
		switch q.Method {
		case "nil-dict":
			return vbs.Dict(nil), nil
		case "ptr":
			return &vbs.Dict{{Key: "k", Value: "v"}}, nil
		case "nil-ptr":
			return (*vbs.Dict)(nil), nil
		case "nil":
			return nil, nil
		}
		return map[string]any(nil), nil
	})

	tests := []struct {
		method  string
		want    vbs.Dict
		wantErr error
	}{
		{xgate.Ping, vbs.Dict{}, nil},
		{"\x00pong", nil, &xgate.MethodNotFoundError{}},
		{"nil-dict", vbs.Dict{}, nil},
		{"nil-map", vbs.Dict{}, nil},
		{"ptr", vbs.Dict{{Key: "k", Value: "v"}}, nil},
		{"nil-ptr", vbs.Dict{}, nil},
		{"nil", vbs.Dict{}, nil},
	}
	for _, tc := range tests {
		got, err := xgate.Dispatch(ctx, s, xgate.NewQuest(tc.method, nil))
		if tc.wantErr != nil {
			if errType(err) != errType(tc.wantErr) {
				t.Errorf("Dispatch %q: got (%v, %v), want %T", tc.method, got, err, tc.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("Dispatch %q: unexpected error: %v", tc.method, err)
		} else if got == nil {
			t.Errorf("Dispatch %q: got nil result, want non-nil", tc.method)
		} else if diff := cmp.Diff(tc.want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("Dispatch %q (-want, +got):\n%s", tc.method, diff)
		}
	}
	if calls != 5 {
		t.Errorf("Servant calls: got %d, want 5", calls)
	}
}

func errType(err error) string {
	switch err.(type) {
	case *xgate.MethodNotFoundError:
		return "MethodNotFound"
	case *xgate.ServantError:
		return "Servant"
	}
	return "other"
}

func TestServerHooks(t *testing.T) {
	var logged []xgate.QuestInfo
	var sawQuest *xgate.Quest
	var sawOut io.Writer
	srv := xgate.NewServer(xgate.ServantFunc(func(ctx context.Context, q *xgate.Quest) (any, error) {
		sawQuest = xgate.ContextQuest(ctx)
		sawOut = xgate.Stdout(ctx)
		return nil, errors.New("nope")
	})).LogQuests(func(qi xgate.QuestInfo) { logged = append(logged, qi) })

	var buf strings.Builder
	ctx := xgate.WithOutput(xgate.WithEndpoint(context.Background(), "10.0.0.1:80"), &buf)
	q := &xgate.Quest{TxID: 9, Service: "svc", Method: "m"}
	a, err := xgate.ParseAnswer(srv.Reply(ctx, q))
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}

	if sawQuest != q {
		t.Errorf("ContextQuest: got %v, want %v", sawQuest, q)
	}
	if sawOut != &buf {
		t.Errorf("Stdout: got %T, want the context writer", sawOut)
	}
	if got, want := a.Exception.Raiser, "m*svc @10.0.0.1:80"; got != want {
		t.Errorf("Raiser: got %q, want %q", got, want)
	}
	if len(logged) != 1 {
		t.Fatalf("Logged %d quests, want 1", len(logged))
	}
	if logged[0].Quest != q || !logged[0].Answer.Failed() {
		t.Errorf("Logged: got %v, want failed answer to %v", logged[0], q)
	}

	if got := xgate.Stdout(context.Background()); got != io.Discard {
		t.Errorf("Default Stdout: got %T, want io.Discard", got)
	}
	if got := xgate.ContextQuest(context.Background()); got != nil {
		t.Errorf("Default ContextQuest: got %v, want nil", got)
	}
}

func TestMetrics(t *testing.T) {
	srv := xgate.NewServer(xgate.ServantFunc(testServant))
	in, failed, ctl := metric(t, srv, "quests_in"), metric(t, srv, "quests_failed"), metric(t, srv, "control_calls")

	ctx := context.Background()
	srv.Exec(ctx, xgate.NewQuest("ok", nil))
	srv.Exec(ctx, xgate.NewQuest("error", nil))
	srv.Exec(ctx, xgate.NewQuest(xgate.Ping, nil))

	if got := metric(t, srv, "quests_in"); got != in+3 {
		t.Errorf("quests_in: got %d, want %d", got, in+3)
	}
	if got := metric(t, srv, "quests_failed"); got != failed+1 {
		t.Errorf("quests_failed: got %d, want %d", got, failed+1)
	}
	if got := metric(t, srv, "control_calls"); got != ctl+1 {
		t.Errorf("control_calls: got %d, want %d", got, ctl+1)
	}
	if got := metric(t, srv, "quests_active"); got != 0 {
		t.Errorf("quests_active: got %d, want 0", got)
	}
}

func TestAnswerEncoding(t *testing.T) {
	// An empty result is encoded as an explicit empty dictionary.
	out, err := (&xgate.Answer{TxID: 1}).MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if got, want := string(out), "\x41\x40\x03\x01"; got != want {
		t.Errorf("Encoding: got %q, want %q", got, want)
	}
}
