// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package gateway serves an [xgate.Server] behind a FastCGI or CGI front
// end.
//
// Each request body carries one encoded quest. The response carries the
// encoded answer, framed according to the version requested by the front
// end in the XIC4FCGI_VERSION parameter (see [NegotiateVersion]):
//
//	version 1:  payload
//	version 2:  header(16) payload footer(16)
//
// A response is written for every request, whatever the outcome of the
// quest.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/fcgi"
	"os"
	"strconv"

	"github.com/creachadair/xgate"
	"github.com/creachadair/xgate/guard"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// EndpointParam is the name of the request parameter carrying the endpoint
// that received the quest, as set by the front end.
const EndpointParam = "XIC_ENDPOINT"

// versionHeader is the HTTP form of VersionParam, as forwarded by front
// ends that pass it as a request header.
const versionHeader = "Xic4fcgi-Version"

// A Handler is an http.Handler that serves quests.
type Handler struct {
	srv *xgate.Server
	log zerolog.Logger

	// If set, stray output written by servants during a request is
	// captured and logged by Guard; otherwise it is discarded.
	Guard *guard.Guard

	// If set, requests wait for Limiter before they are served.
	Limiter *rate.Limiter

	// Used to look up the version parameter when the request does not
	// carry it. If nil, os.Getenv is used.
	Getenv func(string) string
}

// NewHandler constructs a handler that serves quests with srv, and installs
// a quest logger on srv that records each quest to log.
func NewHandler(srv *xgate.Server, log zerolog.Logger) *Handler {
	h := &Handler{srv: srv, log: log}
	srv.LogQuests(h.logQuest)
	return h
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Limiter != nil {
		if err := h.Limiter.Wait(ctx); err != nil {
			h.log.Warn().Err(err).Msg("rate limit wait failed, serving anyway")
		}
	}

	version := NegotiateVersion(h.param(r, VersionParam, versionHeader))
	if ep := h.param(r, EndpointParam, ""); ep != "" {
		ctx = xgate.WithEndpoint(ctx, ep)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		// A truncated body will not decode, so the answer reports the failure.
		h.log.Error().Err(err).Msg("read request body")
	}

	out := h.serve(ctx, body)

	hdr := w.Header()
	hdr[VersionParam] = []string{strconv.Itoa(version)}
	hdr.Set("Content-Type", ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(out)+frameSize(version)))
	if _, err := WriteFrame(w, version, out); err != nil {
		h.log.Error().Err(err).Int("version", version).Msg("write response")
	}
	recordFrame(h.srv.Metrics(), version)
}

// serve runs one quest with its output guard armed.
func (h *Handler) serve(ctx context.Context, body []byte) []byte {
	if h.Guard == nil {
		return h.srv.ServeBytes(ctx, body)
	}
	scope := h.Guard.Arm()
	defer scope.Release()
	return h.srv.ServeBytes(xgate.WithOutput(ctx, scope), body)
}

// param returns the value of the named request parameter. FastCGI
// parameters take precedence, then the given HTTP header if any, then the
// process environment.
func (h *Handler) param(r *http.Request, name, header string) string {
	if v, ok := fcgi.ProcessEnv(r)[name]; ok {
		return v
	}
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	if h.Getenv != nil {
		return h.Getenv(name)
	}
	return os.Getenv(name)
}

func frameSize(version int) int {
	if version == 2 {
		return FrameOverhead
	}
	return 0
}

func (h *Handler) logQuest(qi xgate.QuestInfo) {
	recordQuest(qi.Service, qi.Method, qi.Answer.Status, qi.Elapsed)

	ev := h.log.Info()
	if qi.Answer.Failed() {
		ev = h.log.Warn()
		if exc := qi.Answer.Exception; exc != nil {
			ev = ev.Str("exname", exc.Name).Int64("code", exc.Code).Str("tag", exc.Tag)
		}
	}
	ev.Int64("txid", qi.TxID).
		Str("service", qi.Service).
		Str("method", qi.Method).
		Int64("status", qi.Answer.Status).
		Dur("duration", qi.Elapsed).
		Msg("quest")
}
