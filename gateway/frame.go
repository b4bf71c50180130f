// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// VersionParam is the name of the request parameter carrying the
	// framing version requested by the front end, and of the response
	// header echoing the version applied.
	VersionParam = "XIC4FCGI_VERSION"

	// ContentType is the content type of every response.
	ContentType = "application/octet-stream"

	// MinVersion and MaxVersion bound the supported framing versions.
	MinVersion = 1
	MaxVersion = 2

	frameHeader = "\x00\x00\x00\x00XiC4fCgI\x00\x00\x00\x00"
	frameFooter = "\x00\x00\x00\x00xIc4FcGi\x00\x00\x00\x00"
)

// FrameOverhead is the number of bytes framing adds to a payload in version 2.
const FrameOverhead = len(frameHeader) + len(frameFooter)

// NegotiateVersion selects the framing version for a request indicator.
// The indicator must be a decimal integer, possibly surrounded by spaces;
// any other value, including an empty one, selects version 1. Integers
// outside the supported range, even those too large for an int, are clamped
// into it.
func NegotiateVersion(indicator string) int {
	v, err := strconv.Atoi(strings.TrimSpace(indicator))
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return MinVersion
	}
	return max(MinVersion, min(MaxVersion, v))
}

// AppendFrame appends payload to buf with the framing for version, and
// returns the extended slice. Versions other than 2 add no framing.
func AppendFrame(buf []byte, version int, payload []byte) []byte {
	if version != 2 {
		return append(buf, payload...)
	}
	buf = append(buf, frameHeader...)
	buf = append(buf, payload...)
	return append(buf, frameFooter...)
}

// WriteFrame writes payload to w with the framing for version. It reports
// the number of bytes written.
func WriteFrame(w io.Writer, version int, payload []byte) (int64, error) {
	if version != 2 {
		nw, err := w.Write(payload)
		return int64(nw), err
	}
	var nw int64
	for _, part := range [][]byte{[]byte(frameHeader), payload, []byte(frameFooter)} {
		n, err := w.Write(part)
		nw += int64(n)
		if err != nil {
			return nw, err
		}
	}
	return nw, nil
}

// ErrBadFrame is reported by ReadFrame for a response with missing or
// corrupt version 2 framing.
var ErrBadFrame = errors.New("invalid response frame")

// ReadFrame reads a complete response from r and returns its payload,
// removing the framing for version.
func ReadFrame(r io.Reader, version int) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Unframe(data, version)
}

// Unframe returns the payload of a complete response, removing the framing
// for version. The result shares storage with data.
func Unframe(data []byte, version int) ([]byte, error) {
	if version != 2 {
		return data, nil
	}
	if len(data) < FrameOverhead {
		return nil, fmt.Errorf("%w: short response (%d bytes)", ErrBadFrame, len(data))
	}
	rest, ok := bytes.CutPrefix(data, []byte(frameHeader))
	if !ok {
		return nil, fmt.Errorf("%w: header %q", ErrBadFrame, data[:len(frameHeader)])
	}
	payload, ok := bytes.CutSuffix(rest, []byte(frameFooter))
	if !ok {
		return nil, fmt.Errorf("%w: missing footer", ErrBadFrame)
	}
	return payload, nil
}
