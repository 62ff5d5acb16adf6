// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import (
	"errors"
	"fmt"
)

// An ErrCode is an unsigned 32-bit error code as defined in the HTTP/2 spec.
type ErrCode uint32

const (
	ErrCodeNo                 ErrCode = 0x0
	ErrCodeProtocol           ErrCode = 0x1
	ErrCodeInternal           ErrCode = 0x2
	ErrCodeFlowControl        ErrCode = 0x3
	ErrCodeSettingsTimeout    ErrCode = 0x4
	ErrCodeStreamClosed       ErrCode = 0x5
	ErrCodeFrameSize          ErrCode = 0x6
	ErrCodeRefusedStream      ErrCode = 0x7
	ErrCodeCancel             ErrCode = 0x8
	ErrCodeCompression        ErrCode = 0x9
	ErrCodeConnect            ErrCode = 0xa
	ErrCodeEnhanceYourCalm    ErrCode = 0xb
	ErrCodeInadequateSecurity ErrCode = 0xc
	ErrCodeHTTP11Required     ErrCode = 0xd
)

var errCodeName = map[ErrCode]string{
	ErrCodeNo:                 "NO_ERROR",
	ErrCodeProtocol:           "PROTOCOL_ERROR",
	ErrCodeInternal:           "INTERNAL_ERROR",
	ErrCodeFlowControl:        "FLOW_CONTROL_ERROR",
	ErrCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrCodeStreamClosed:       "STREAM_CLOSED",
	ErrCodeFrameSize:          "FRAME_SIZE_ERROR",
	ErrCodeRefusedStream:      "REFUSED_STREAM",
	ErrCodeCancel:             "CANCEL",
	ErrCodeCompression:        "COMPRESSION_ERROR",
	ErrCodeConnect:            "CONNECT_ERROR",
	ErrCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrCodeInadequateSecurity: "INADEQUATE_SECURITY",
	ErrCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (e ErrCode) String() string {
	if s, ok := errCodeName[e]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code 0x%x", uint32(e))
}

// ConnectionError is a fault that terminates the whole connection.
// The dispatch loop answers it with a GOAWAY carrying the code.
type ConnectionError ErrCode

func (e ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s", ErrCode(e))
}

// StreamError is a fault scoped to a single stream. The dispatch loop
// answers it with a RST_STREAM and keeps the connection alive.
type StreamError struct {
	StreamID uint32
	Code     ErrCode
}

func (e StreamError) Error() string {
	return fmt.Sprintf("stream error on stream %d: %s", e.StreamID, e.Code)
}

// GoAwayError is the terminal error surfaced to callers after the peer
// tore the connection down with a GOAWAY.
type GoAwayError struct {
	LastStreamID uint32
	ErrCode      ErrCode
	DebugData    string
}

func (e GoAwayError) Error() string {
	return fmt.Sprintf("connection closed by peer: GOAWAY last_stream=%d code=%s debug=%q",
		e.LastStreamID, e.ErrCode, e.DebugData)
}

var (
	// ErrClientConnClosed is returned for requests issued on, or
	// interrupted by, a closed connection.
	ErrClientConnClosed = errors.New("h2wire: client connection closed")

	// ErrClientConnUnusable is returned when the connection refuses new
	// streams (GOAWAY received, stream ids exhausted, or the peer's
	// concurrency limit is reached) but in-flight work continues.
	ErrClientConnUnusable = errors.New("h2wire: client connection not usable for new streams")

	// ErrMaxConcurrentStreams is returned when opening one more stream
	// would exceed the peer's advertised MAX_CONCURRENT_STREAMS. The
	// refusal is local; the connection is untouched.
	ErrMaxConcurrentStreams = errors.New("h2wire: peer's MAX_CONCURRENT_STREAMS limit reached")

	errStreamID    = errors.New("h2wire: invalid stream ID")
	errDepStreamID = errors.New("h2wire: invalid dependent stream ID")
)

// errFrameTooLarge is returned by Framer write methods for an oversized
// outbound frame. Oversized inbound frames surface as oversizeFrameError.
var errFrameTooLarge = errors.New("h2wire: frame too large")

// oversizeFrameError reports an inbound frame whose declared length
// exceeds the local SETTINGS_MAX_FRAME_SIZE. The framer has already
// discarded the payload, so the connection is still readable; the
// dispatch loop decides whether the fault is stream- or
// connection-scoped from the header.
type oversizeFrameError struct {
	FrameHeader
}

func (e oversizeFrameError) Error() string {
	return fmt.Sprintf("frame too large: %v bytes of %v for stream %d", e.Length, e.Type, e.StreamID)
}
