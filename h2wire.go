// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package h2wire implements the client side of the HTTP/2 wire protocol
// (RFC 7540): the frame codec, the per-stream state machine, flow-control
// accounting and connection-level SETTINGS/PING/GOAWAY handling.
//
// The package deliberately stops at the stream abstraction. Header
// compression is delegated to golang.org/x/net/http2/hpack, transport
// setup to the caller-supplied net.Conn (DialTLS negotiates ALPN "h2"),
// and connection pooling or admission control to layers above; a
// ClientConn exposes CanTakeNewRequest and Close for them.
package h2wire

const (
	// ClientPreface is the string that must be sent by new
	// connections from clients.
	ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

	// NextProtoTLS is the NPN/ALPN protocol negotiated during
	// HTTP/2's TLS setup.
	NextProtoTLS = "h2"
)

var clientPreface = []byte(ClientPreface)

const (
	// https://httpwg.org/specs/rfc7540.html#SettingValues
	initialHeaderTableSize = 4096
	initialWindowSize      = 65535 // 6.9.2 Initial Flow Control Window Size
	initialMaxFrameSize    = 16384

	minMaxFrameSize = 1 << 14
	maxFrameSize    = 1<<24 - 1

	// maxWindow is the largest flow-control window either side may
	// hold: 2^31-1. Anything pushing a window past it is a
	// FLOW_CONTROL_ERROR.
	maxWindow = 1<<31 - 1

	maxStreamID = 1<<31 - 1
)

type streamState int

const (
	stateIdle streamState = iota
	stateOpen
	stateHalfClosedLocal
	stateHalfClosedRemote
	stateClosed
)

var stateName = [...]string{
	stateIdle:             "Idle",
	stateOpen:             "Open",
	stateHalfClosedLocal:  "HalfClosedLocal",
	stateHalfClosedRemote: "HalfClosedRemote",
	stateClosed:           "Closed",
}

func (st streamState) String() string {
	return stateName[st]
}
