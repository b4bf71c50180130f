// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package gateway_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/gateway"
	"github.com/fortytw2/leaktest"
)

// FastCGI record types used by fcgiCall.
const (
	fcgiBeginRequest = 1
	fcgiEndRequest   = 3
	fcgiParams       = 4
	fcgiStdin        = 5
	fcgiStdout       = 6
)

func writeRecord(t *testing.T, w io.Writer, rtype byte, content []byte) {
	t.Helper()
	hdr := [8]byte{1, rtype, 0, 1}
	binary.BigEndian.PutUint16(hdr[4:], uint16(len(content)))
	if _, err := w.Write(append(hdr[:], content...)); err != nil {
		t.Fatalf("Write record: %v", err)
	}
}

// fcgiCall sends a single FastCGI responder request on conn and returns the
// raw standard output of the response.
func fcgiCall(t *testing.T, conn net.Conn, params map[string]string, body []byte) []byte {
	t.Helper()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	writeRecord(t, conn, fcgiBeginRequest, []byte{0, 1, 0, 0, 0, 0, 0, 0})
	var pbuf bytes.Buffer
	for k, v := range params {
		pbuf.WriteByte(byte(len(k)))
		pbuf.WriteByte(byte(len(v)))
		pbuf.WriteString(k)
		pbuf.WriteString(v)
	}
	writeRecord(t, conn, fcgiParams, pbuf.Bytes())
	writeRecord(t, conn, fcgiParams, nil)
	writeRecord(t, conn, fcgiStdin, body)
	writeRecord(t, conn, fcgiStdin, nil)

	var out []byte
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			t.Fatalf("Read record header: %v", err)
		}
		content := make([]byte, int(binary.BigEndian.Uint16(hdr[4:]))+int(hdr[6]))
		if _, err := io.ReadFull(conn, content); err != nil {
			t.Fatalf("Read record content: %v", err)
		}
		content = content[:len(content)-int(hdr[6])]
		switch hdr[1] {
		case fcgiStdout:
			out = append(out, content...)
		case fcgiEndRequest:
			return out
		}
	}
}

func TestServe(t *testing.T) {
	defer leaktest.Check(t)()

	lst, err := gateway.Listen(context.Background(), "localhost:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	tg := newTestGateway()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gateway.Serve(ctx, lst, tg.h) }()

	conn, err := net.Dial("tcp", lst.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	body := questBody(t, 77, "fail", nil)
	resp := fcgiCall(t, conn, map[string]string{
		"REQUEST_METHOD":      "POST",
		"SERVER_PROTOCOL":     "HTTP/1.1",
		"REQUEST_URI":         "/quest",
		"CONTENT_LENGTH":      strconv.Itoa(len(body)),
		gateway.VersionParam:  "2",
		gateway.EndpointParam: "fcgi-test",
	}, body)

	br := bufio.NewReader(bytes.NewReader(resp))
	hdr, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil {
		t.Fatalf("Response header: %v", err)
	}
	if got := hdr.Get(gateway.VersionParam); got != "2" {
		t.Errorf("Response header %s: got %q, want 2", gateway.VersionParam, got)
	}
	framed, err := io.ReadAll(br)
	if err != nil {
		t.Fatalf("Response body: %v", err)
	}
	payload, err := gateway.Unframe(framed, 2)
	if err != nil {
		t.Fatalf("Unframe: %v", err)
	}
	a, err := xgate.ParseAnswer(payload)
	if err != nil {
		t.Fatalf("ParseAnswer: %v", err)
	}
	if a.TxID != 77 || !a.Failed() {
		t.Errorf("Answer: got %v, want failure for txid 77", a)
	} else if got, want := a.Exception.Raiser, "fail*gw @fcgi-test"; got != want {
		t.Errorf("Raiser: got %q, want %q", got, want)
	}

	conn.Close()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}
}

func TestServeClosed(t *testing.T) {
	defer leaktest.Check(t)()

	lst, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	lst.Close()
	if err := gateway.Serve(context.Background(), lst, newTestGateway().h); err != nil {
		t.Errorf("Serve on a closed listener: got %v, want nil", err)
	}
}

func TestListen(t *testing.T) {
	ctx := context.Background()

	t.Run("TCP", func(t *testing.T) {
		lst, err := gateway.Listen(ctx, "localhost:0")
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		defer lst.Close()
		if got := lst.Addr().Network(); got != "tcp" {
			t.Errorf("Network: got %q, want tcp", got)
		}
	})

	t.Run("Unix", func(t *testing.T) {
		// Socket paths are short on some platforms, so avoid t.TempDir.
		dir, err := os.MkdirTemp("", "xgate")
		if err != nil {
			t.Fatalf("MkdirTemp: %v", err)
		}
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "fcgi.sock")
		lst, err := gateway.Listen(ctx, path)
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		defer lst.Close()
		if got := lst.Addr().Network(); got != "unix" {
			t.Errorf("Network: got %q, want unix", got)
		}
		if got := lst.Addr().String(); got != path {
			t.Errorf("Addr: got %q, want %q", got, path)
		}
	})
}
