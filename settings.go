// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import "fmt"

// A SettingID is an HTTP/2 setting as defined in
// https://httpwg.org/specs/rfc7540.html#iana-settings
type SettingID uint16

const (
	SettingHeaderTableSize      SettingID = 0x1
	SettingEnablePush           SettingID = 0x2
	SettingMaxConcurrentStreams SettingID = 0x3
	SettingInitialWindowSize    SettingID = 0x4
	SettingMaxFrameSize         SettingID = 0x5
	SettingMaxHeaderListSize    SettingID = 0x6
)

var settingName = map[SettingID]string{
	SettingHeaderTableSize:      "HEADER_TABLE_SIZE",
	SettingEnablePush:           "ENABLE_PUSH",
	SettingMaxConcurrentStreams: "MAX_CONCURRENT_STREAMS",
	SettingInitialWindowSize:    "INITIAL_WINDOW_SIZE",
	SettingMaxFrameSize:         "MAX_FRAME_SIZE",
	SettingMaxHeaderListSize:    "MAX_HEADER_LIST_SIZE",
}

func (s SettingID) String() string {
	if v, ok := settingName[s]; ok {
		return v
	}
	return fmt.Sprintf("UNKNOWN_SETTING_%d", uint16(s))
}

// Setting is a setting parameter: which setting it is, and its value.
type Setting struct {
	// ID is which setting is being set.
	ID SettingID

	// Val is the value.
	Val uint32
}

func (s Setting) String() string {
	return fmt.Sprintf("[%v = %d]", s.ID, s.Val)
}

// Valid reports whether the setting is valid to accept from the peer.
// The returned error is always a ConnectionError with the code RFC
// 7540 §6.5.2 prescribes for the violation.
func (s Setting) Valid() error {
	switch s.ID {
	case SettingEnablePush:
		if s.Val != 1 && s.Val != 0 {
			return ConnectionError(ErrCodeProtocol)
		}
	case SettingInitialWindowSize:
		if s.Val > maxWindow {
			return ConnectionError(ErrCodeFlowControl)
		}
	case SettingMaxFrameSize:
		if s.Val < minMaxFrameSize || s.Val > maxFrameSize {
			return ConnectionError(ErrCodeProtocol)
		}
	}
	return nil
}

// peerSettings tracks the values the peer advertised over SETTINGS
// frames for the life of a connection. Defaults are the RFC 7540
// §6.5.2 initial values; unknown identifiers are retained opaquely and
// never treated as an error.
type peerSettings struct {
	headerTableSize      uint32
	enablePush           bool
	maxConcurrentStreams uint32
	hasMaxConcurrent     bool // until the peer says, treat as unlimited
	initialWindowSize    uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32
	hasMaxHeaderList     bool

	unknown map[SettingID]uint32
}

func defaultPeerSettings() peerSettings {
	return peerSettings{
		headerTableSize:   initialHeaderTableSize,
		enablePush:        true,
		initialWindowSize: initialWindowSize,
		maxFrameSize:      initialMaxFrameSize,
	}
}

// apply validates s and folds it into the tracked values. Settings are
// never deleted; later frames only overwrite.
func (ps *peerSettings) apply(s Setting) error {
	if err := s.Valid(); err != nil {
		return err
	}
	switch s.ID {
	case SettingHeaderTableSize:
		ps.headerTableSize = s.Val
	case SettingEnablePush:
		ps.enablePush = s.Val == 1
	case SettingMaxConcurrentStreams:
		ps.maxConcurrentStreams = s.Val
		ps.hasMaxConcurrent = true
	case SettingInitialWindowSize:
		ps.initialWindowSize = s.Val
	case SettingMaxFrameSize:
		ps.maxFrameSize = s.Val
	case SettingMaxHeaderListSize:
		ps.maxHeaderListSize = s.Val
		ps.hasMaxHeaderList = true
	default:
		if ps.unknown == nil {
			ps.unknown = make(map[SettingID]uint32)
		}
		ps.unknown[s.ID] = s.Val
	}
	return nil
}

// canOpenStream reports whether opening one more stream stays within
// the peer's advertised MAX_CONCURRENT_STREAMS.
func (ps *peerSettings) canOpenStream(active int) bool {
	if !ps.hasMaxConcurrent {
		return true
	}
	return uint32(active) < ps.maxConcurrentStreams
}
