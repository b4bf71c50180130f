// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/cgi"
	"net/http/fcgi"
	"strings"

	"github.com/creachadair/taskgroup"
)

// Serve accepts FastCGI connections from lst and serves their requests with
// h, until ctx ends or lst closes. Serve closes lst before returning. It
// reports nil if it stopped because ctx ended.
func Serve(ctx context.Context, lst net.Listener, h http.Handler) error {
	// fcgi.Serve does not obey a context, so simulate it by closing the
	// listener when ctx ends. The ok channel releases the watcher if Serve
	// returns first.
	ok := make(chan struct{})
	g := taskgroup.New(nil)
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-ok:
		}
		lst.Close()
		return nil
	})

	err := fcgi.Serve(lst, h)
	close(ok)
	g.Wait()
	if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// ServeCGI serves the single CGI request described by the environment of
// the current process with h.
func ServeCGI(h http.Handler) error { return cgi.Serve(h) }

// Listen opens a listener for the given address. The network is chosen by
// SplitAddress.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	network, address := SplitAddress(addr)
	var lc net.ListenConfig
	return lc.Listen(ctx, network, address)
}

// SplitAddress reports the network and address to listen on for a FastCGI
// listen address. An address of the form [host]:port, where port is a number
// or a service name and host has no "/", is "tcp". Anything else is taken as
// the path of a "unix" socket. The address is not otherwise checked.
func SplitAddress(addr string) (network, address string) {
	host, port, ok := cutPort(addr)
	if !ok || !isServiceName(port) || strings.Contains(host, "/") {
		return "unix", addr
	}
	return "tcp", addr
}

// cutPort splits addr at its last colon, and reports false if there is none
// or the port is empty.
func cutPort(addr string) (host, port string, ok bool) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 || i == len(addr)-1 {
		return addr, "", false
	}
	return addr[:i], addr[i+1:], true
}

// isServiceName reports whether port is made of ASCII letters, digits and "-",
// as numeric ports and services(5) names are.
func isServiceName(port string) bool {
	return strings.IndexFunc(port, func(r rune) bool {
		return !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) < 0
}
