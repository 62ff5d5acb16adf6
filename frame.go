// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

const frameHeaderLen = 9

var padZeros = make([]byte, 255) // zeros for padding

// A FrameType is a registered frame type as defined in
// https://httpwg.org/specs/rfc7540.html#rfc.section.11.2
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

var frameName = map[FrameType]string{
	FrameData:         "DATA",
	FrameHeaders:      "HEADERS",
	FramePriority:     "PRIORITY",
	FrameRSTStream:    "RST_STREAM",
	FrameSettings:     "SETTINGS",
	FramePushPromise:  "PUSH_PROMISE",
	FramePing:         "PING",
	FrameGoAway:       "GOAWAY",
	FrameWindowUpdate: "WINDOW_UPDATE",
	FrameContinuation: "CONTINUATION",
}

func (t FrameType) String() string {
	if s, ok := frameName[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint8(t))
}

// Flags is a bitmask of HTTP/2 flags. The meaning of flags varies
// depending on the frame type. Bits with no defined meaning for a
// frame type are carried but never interpreted.
type Flags uint8

// Has reports whether f contains all (0 or more) flags in v.
func (f Flags) Has(v Flags) bool {
	return (f & v) == v
}

// Frame-specific FrameHeader flag bits.
const (
	// DATA
	FlagDataEndStream Flags = 0x1
	FlagDataPadded    Flags = 0x8

	// HEADERS
	FlagHeadersEndStream  Flags = 0x1
	FlagHeadersEndHeaders Flags = 0x4
	FlagHeadersPadded     Flags = 0x8
	FlagHeadersPriority   Flags = 0x20

	// SETTINGS
	FlagSettingsAck Flags = 0x1

	// PUSH_PROMISE
	FlagPushPromiseEndHeaders Flags = 0x4
	FlagPushPromisePadded     Flags = 0x8

	// PING
	FlagPingAck Flags = 0x1

	// CONTINUATION
	FlagContinuationEndHeaders Flags = 0x4
)

// A FrameHeader is the 9-byte header of every HTTP/2 frame.
//
// See https://httpwg.org/specs/rfc7540.html#FrameHeader
type FrameHeader struct {
	// Type is the 1-byte frame type. Unregistered values decode into
	// an UnknownFrame.
	Type FrameType

	// Flags are the 8 potential bit flags per frame. They are specific
	// to the frame type.
	Flags Flags

	// Length is the length of the frame payload, not including the
	// 9-byte header.
	Length uint32

	// StreamID is which stream this frame is for. Certain frames are
	// not stream-specific, in which case this field is 0. The reserved
	// top bit of the wire field is masked off on read and never set on
	// write.
	StreamID uint32
}

// Header returns h. It exists so FrameHeaders can be embedded in other
// specific frame types and implement the Frame interface.
func (h FrameHeader) Header() FrameHeader { return h }

func (h FrameHeader) String() string {
	return fmt.Sprintf("[FrameHeader %v flags=0x%x stream=%d len=%d]",
		h.Type, uint8(h.Flags), h.StreamID, h.Length)
}

func readFrameHeader(buf []byte, r io.Reader) (FrameHeader, error) {
	if _, err := io.ReadFull(r, buf[:frameHeaderLen]); err != nil {
		return FrameHeader{}, err
	}
	return FrameHeader{
		Length:   uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]),
		Type:     FrameType(buf[3]),
		Flags:    Flags(buf[4]),
		StreamID: binary.BigEndian.Uint32(buf[5:]) & (1<<31 - 1),
	}, nil
}

// A Frame is the base interface implemented by all frame types.
// Callers generally type-assert the specific frame type: *HeadersFrame,
// *SettingsFrame, *WindowUpdateFrame, etc.
//
// Frames and their payload slices are only valid until the next call
// to Framer.ReadFrame.
type Frame interface {
	Header() FrameHeader
}

// A Framer reads and writes Frames on an underlying byte stream.
// It is not safe for concurrent use by multiple goroutines.
type Framer struct {
	r io.Reader
	w io.Writer

	// maxReadSize is the local SETTINGS_MAX_FRAME_SIZE: the largest
	// payload ReadFrame accepts before reporting oversizeFrameError.
	maxReadSize uint32

	// maxWriteSize is the peer's SETTINGS_MAX_FRAME_SIZE.
	maxWriteSize uint32

	headerBuf [frameHeaderLen]byte
	readBuf   []byte
	wbuf      []byte
}

// NewFramer returns a Framer that writes frames to w and reads them
// from r.
func NewFramer(w io.Writer, r io.Reader) *Framer {
	return &Framer{
		w:            w,
		r:            r,
		maxReadSize:  initialMaxFrameSize,
		maxWriteSize: initialMaxFrameSize,
	}
}

// SetMaxReadFrameSize sets the largest payload the framer accepts on
// read: the value this side advertised as SETTINGS_MAX_FRAME_SIZE.
func (fr *Framer) SetMaxReadFrameSize(v uint32) {
	if v > maxFrameSize {
		v = maxFrameSize
	}
	fr.maxReadSize = v
}

// SetMaxWriteFrameSize records the peer's SETTINGS_MAX_FRAME_SIZE.
func (fr *Framer) SetMaxWriteFrameSize(v uint32) {
	if v >= minMaxFrameSize && v <= maxFrameSize {
		fr.maxWriteSize = v
	}
}

// MaxWriteFrameSize reports the largest payload the peer accepts.
func (fr *Framer) MaxWriteFrameSize() uint32 { return fr.maxWriteSize }

func (fr *Framer) getReadBuf(size uint32) []byte {
	if cap(fr.readBuf) >= int(size) {
		return fr.readBuf[:size]
	}
	fr.readBuf = make([]byte, size)
	return fr.readBuf
}

// ReadFrame reads a single frame. The returned Frame is only valid
// until the next call to ReadFrame.
//
// A frame whose declared length exceeds the configured maximum read
// size has its payload discarded and is reported as an
// oversizeFrameError; the stream of frames stays readable and the
// caller decides the fault's scope.
func (fr *Framer) ReadFrame() (Frame, error) {
	fh, err := readFrameHeader(fr.headerBuf[:], fr.r)
	if err != nil {
		return nil, err
	}
	if fh.Length > fr.maxReadSize {
		if _, err := io.CopyN(io.Discard, fr.r, int64(fh.Length)); err != nil {
			return nil, err
		}
		return nil, oversizeFrameError{fh}
	}
	payload := fr.getReadBuf(fh.Length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	return parseFrame(fh, payload)
}

// a frameParser parses a frame given its FrameHeader and payload bytes.
// The length of payload always equals fh.Length (which might be 0).
type frameParser func(fh FrameHeader, payload []byte) (Frame, error)

var frameParsers = map[FrameType]frameParser{
	FrameData:         parseDataFrame,
	FrameHeaders:      parseHeadersFrame,
	FramePriority:     parsePriorityFrame,
	FrameRSTStream:    parseRSTStreamFrame,
	FrameSettings:     parseSettingsFrame,
	FramePushPromise:  parsePushPromiseFrame,
	FramePing:         parsePingFrame,
	FrameGoAway:       parseGoAwayFrame,
	FrameWindowUpdate: parseWindowUpdateFrame,
	FrameContinuation: parseContinuationFrame,
}

func parseFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if p, ok := frameParsers[fh.Type]; ok {
		return p(fh, payload)
	}
	return parseUnknownFrame(fh, payload)
}

// A DataFrame conveys arbitrary, variable-length sequences of octets
// associated with a stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.1
type DataFrame struct {
	FrameHeader
	data []byte
}

func (f *DataFrame) StreamEnded() bool {
	return f.FrameHeader.Flags.Has(FlagDataEndStream)
}

// Data returns the frame's data octets, not including any padding
// size byte or padding suffix bytes.
func (f *DataFrame) Data() []byte { return f.data }

// PadLength reports the number of padding octets the frame carried,
// including the pad-length octet itself. Padding counts against flow
// control even though it carries no data.
func (f *DataFrame) PadLength() int {
	if !f.FrameHeader.Flags.Has(FlagDataPadded) {
		return 0
	}
	return int(f.FrameHeader.Length) - len(f.data)
}

func parseDataFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID == 0 {
		// DATA frames MUST be associated with a stream.
		return nil, ConnectionError(ErrCodeProtocol)
	}
	f := &DataFrame{FrameHeader: fh}
	var padSize byte
	if fh.Flags.Has(FlagDataPadded) {
		var err error
		payload, padSize, err = readByte(payload)
		if err != nil {
			return nil, err
		}
	}
	if int(padSize) > len(payload) {
		// "If the length of the padding is the length of the frame
		// payload or greater, the recipient MUST treat this as a
		// connection error of type PROTOCOL_ERROR."
		return nil, ConnectionError(ErrCodeProtocol)
	}
	f.data = payload[:len(payload)-int(padSize)]
	return f, nil
}

// A HeadersFrame is used to open a stream and additionally carries a
// header block fragment.
type HeadersFrame struct {
	FrameHeader

	// Priority is set if FlagHeadersPriority is set in the FrameHeader.
	Priority PriorityParam

	headerFragBuf []byte // not owned
}

func (f *HeadersFrame) HeaderBlockFragment() []byte { return f.headerFragBuf }

func (f *HeadersFrame) HeadersEnded() bool {
	return f.FrameHeader.Flags.Has(FlagHeadersEndHeaders)
}

func (f *HeadersFrame) StreamEnded() bool {
	return f.FrameHeader.Flags.Has(FlagHeadersEndStream)
}

func (f *HeadersFrame) HasPriority() bool {
	return f.FrameHeader.Flags.Has(FlagHeadersPriority)
}

func parseHeadersFrame(fh FrameHeader, p []byte) (Frame, error) {
	hf := &HeadersFrame{FrameHeader: fh}
	if fh.StreamID == 0 {
		// HEADERS frames MUST be associated with a stream.
		return nil, ConnectionError(ErrCodeProtocol)
	}
	var padLength uint8
	if fh.Flags.Has(FlagHeadersPadded) {
		var err error
		if p, padLength, err = readByte(p); err != nil {
			return nil, err
		}
	}
	if fh.Flags.Has(FlagHeadersPriority) {
		var v uint32
		var err error
		if p, v, err = readUint32(p); err != nil {
			return nil, err
		}
		hf.Priority.StreamDep = v & 0x7fffffff
		hf.Priority.Exclusive = v != hf.Priority.StreamDep // high bit was set
		if p, hf.Priority.Weight, err = readByte(p); err != nil {
			return nil, err
		}
		if hf.Priority.StreamDep == fh.StreamID {
			// A stream cannot depend on itself.
			return nil, ConnectionError(ErrCodeProtocol)
		}
	}
	if int(padLength) > len(p) {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	hf.headerFragBuf = p[:len(p)-int(padLength)]
	return hf, nil
}

// PriorityParam are the stream prioritization parameters.
type PriorityParam struct {
	// StreamDep is a 31-bit stream identifier for the stream that this
	// stream depends on. Zero means no dependency.
	StreamDep uint32

	// Exclusive is whether the dependency is exclusive.
	Exclusive bool

	// Weight is the stream's zero-indexed weight. It should be set
	// together with StreamDep, or neither should be set. Per the spec,
	// "Add one to the value to obtain a weight between 1 and 256."
	Weight uint8
}

func (p PriorityParam) IsZero() bool {
	return p == PriorityParam{}
}

// A PriorityFrame specifies the sender-advised priority of a stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.3
type PriorityFrame struct {
	FrameHeader
	PriorityParam
}

func parsePriorityFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	if len(payload) != 5 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	v := binary.BigEndian.Uint32(payload[:4])
	streamID := v & 0x7fffffff // mask off high bit
	if streamID == fh.StreamID {
		// A stream cannot depend on itself.
		return nil, ConnectionError(ErrCodeProtocol)
	}
	return &PriorityFrame{
		FrameHeader: fh,
		PriorityParam: PriorityParam{
			Weight:    payload[4],
			StreamDep: streamID,
			Exclusive: streamID != v,
		},
	}, nil
}

// A RSTStreamFrame allows for abnormal termination of a stream.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.4
type RSTStreamFrame struct {
	FrameHeader
	ErrCode ErrCode
}

func parseRSTStreamFrame(fh FrameHeader, p []byte) (Frame, error) {
	if len(p) != 4 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	if fh.StreamID == 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	return &RSTStreamFrame{fh, ErrCode(binary.BigEndian.Uint32(p[:4]))}, nil
}

// A SettingsFrame conveys configuration parameters.
// See https://httpwg.org/specs/rfc7540.html#SETTINGS
type SettingsFrame struct {
	FrameHeader
	p []byte
}

func parseSettingsFrame(fh FrameHeader, p []byte) (Frame, error) {
	if fh.Flags.Has(FlagSettingsAck) && fh.Length > 0 {
		// "Receipt of a SETTINGS frame with the ACK flag set and a
		// length field value other than 0 MUST be treated as a
		// connection error of type FRAME_SIZE_ERROR."
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	if fh.StreamID != 0 {
		// SETTINGS frames always apply to a connection, never a
		// single stream.
		return nil, ConnectionError(ErrCodeProtocol)
	}
	if len(p)%6 != 0 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	return &SettingsFrame{fh, p}, nil
}

func (f *SettingsFrame) IsAck() bool {
	return f.FrameHeader.Flags.Has(FlagSettingsAck)
}

// NumSettings reports the number of settings carried by the frame.
func (f *SettingsFrame) NumSettings() int { return len(f.p) / 6 }

// Setting returns the i'th setting, 0-based.
func (f *SettingsFrame) Setting(i int) Setting {
	buf := f.p
	return Setting{
		ID:  SettingID(binary.BigEndian.Uint16(buf[i*6 : i*6+2])),
		Val: binary.BigEndian.Uint32(buf[i*6+2 : i*6+6]),
	}
}

// ForeachSetting runs fn for each setting, stopping at the first error.
func (f *SettingsFrame) ForeachSetting(fn func(Setting) error) error {
	for i := 0; i < f.NumSettings(); i++ {
		if err := fn(f.Setting(i)); err != nil {
			return err
		}
	}
	return nil
}

// A PushPromiseFrame is used to initiate a server-pushed stream. This
// engine does not support push, so the dispatch loop answers any
// received PUSH_PROMISE with a connection-level PROTOCOL_ERROR; the
// codec still decodes it so the fault can be reported precisely.
type PushPromiseFrame struct {
	FrameHeader
	PromiseID     uint32
	headerFragBuf []byte
}

func (f *PushPromiseFrame) HeaderBlockFragment() []byte { return f.headerFragBuf }

func parsePushPromiseFrame(fh FrameHeader, p []byte) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	f := &PushPromiseFrame{FrameHeader: fh}
	var padLength uint8
	if fh.Flags.Has(FlagPushPromisePadded) {
		var err error
		if p, padLength, err = readByte(p); err != nil {
			return nil, err
		}
	}
	var v uint32
	var err error
	if p, v, err = readUint32(p); err != nil {
		return nil, err
	}
	f.PromiseID = v & 0x7fffffff
	if int(padLength) > len(p) {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	f.headerFragBuf = p[:len(p)-int(padLength)]
	return f, nil
}

// A PingFrame is a mechanism for measuring a minimal round trip time
// from the sender, as well as determining whether an idle connection
// is still functional.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.7
type PingFrame struct {
	FrameHeader
	Data [8]byte
}

func (f *PingFrame) IsAck() bool { return f.Flags.Has(FlagPingAck) }

func parsePingFrame(fh FrameHeader, payload []byte) (Frame, error) {
	if len(payload) != 8 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	if fh.StreamID != 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	f := &PingFrame{FrameHeader: fh}
	copy(f.Data[:], payload)
	return f, nil
}

// A GoAwayFrame informs the remote peer to stop creating streams on
// this connection.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.8
type GoAwayFrame struct {
	FrameHeader
	LastStreamID uint32
	ErrCode      ErrCode
	debugData    []byte
}

// DebugData returns any debug data in the GOAWAY frame. Its contents
// are not defined and carry no semantics.
func (f *GoAwayFrame) DebugData() []byte { return f.debugData }

func parseGoAwayFrame(fh FrameHeader, p []byte) (Frame, error) {
	if fh.StreamID != 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	if len(p) < 8 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	return &GoAwayFrame{
		FrameHeader:  fh,
		LastStreamID: binary.BigEndian.Uint32(p[:4]) & (1<<31 - 1),
		ErrCode:      ErrCode(binary.BigEndian.Uint32(p[4:8])),
		debugData:    p[8:],
	}, nil
}

// An UnknownFrame is the frame type returned when decoding an
// unregistered frame type. The dispatch loop discards these silently,
// per RFC 7540 §4.1.
type UnknownFrame struct {
	FrameHeader
	p []byte
}

// Payload returns the frame's undefined payload bytes, valid until the
// next ReadFrame call.
func (f *UnknownFrame) Payload() []byte { return f.p }

func parseUnknownFrame(fh FrameHeader, p []byte) (Frame, error) {
	return &UnknownFrame{fh, p}, nil
}

// A WindowUpdateFrame is used to implement flow control.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.9
type WindowUpdateFrame struct {
	FrameHeader
	Increment uint32 // never read with high bit set
}

func parseWindowUpdateFrame(fh FrameHeader, p []byte) (Frame, error) {
	if len(p) != 4 {
		return nil, ConnectionError(ErrCodeFrameSize)
	}
	inc := binary.BigEndian.Uint32(p[:4]) & 0x7fffffff // mask reserved bit
	if inc == 0 {
		// "A receiver MUST treat the receipt of a WINDOW_UPDATE frame
		// with an flow control window increment of 0 as a stream error
		// of type PROTOCOL_ERROR; errors on the connection flow
		// control window MUST be treated as a connection error."
		if fh.StreamID == 0 {
			return nil, ConnectionError(ErrCodeProtocol)
		}
		return nil, StreamError{fh.StreamID, ErrCodeProtocol}
	}
	return &WindowUpdateFrame{fh, inc}, nil
}

// A ContinuationFrame continues a sequence of header block fragments.
// See https://httpwg.org/specs/rfc7540.html#rfc.section.6.10
type ContinuationFrame struct {
	FrameHeader
	headerFragBuf []byte
}

func (f *ContinuationFrame) HeaderBlockFragment() []byte { return f.headerFragBuf }

func (f *ContinuationFrame) HeadersEnded() bool {
	return f.FrameHeader.Flags.Has(FlagContinuationEndHeaders)
}

func parseContinuationFrame(fh FrameHeader, p []byte) (Frame, error) {
	if fh.StreamID == 0 {
		return nil, ConnectionError(ErrCodeProtocol)
	}
	return &ContinuationFrame{fh, p}, nil
}

func validStreamID(streamID uint32) bool {
	return streamID != 0 && streamID&(1<<31) == 0
}

// startWrite appends the frame header to wbuf; the 3 length bytes are
// filled in by endWrite once the payload size is known.
func (fr *Framer) startWrite(ftype FrameType, flags Flags, streamID uint32) {
	fr.wbuf = append(fr.wbuf[:0],
		0, // 3 bytes of length, filled in in endWrite
		0,
		0,
		byte(ftype),
		byte(flags),
		byte(streamID>>24),
		byte(streamID>>16),
		byte(streamID>>8),
		byte(streamID))
}

func (fr *Framer) endWrite() error {
	// Now that we know the final size, fill in the FrameHeader in
	// the space previously reserved for it. Abuse append.
	length := len(fr.wbuf) - frameHeaderLen
	if length >= (1 << 24) {
		return errFrameTooLarge
	}
	_ = append(fr.wbuf[:0],
		byte(length>>16),
		byte(length>>8),
		byte(length))
	n, err := fr.w.Write(fr.wbuf)
	if err == nil && n != len(fr.wbuf) {
		err = io.ErrShortWrite
	}
	return err
}

func (fr *Framer) writeByte(v byte)     { fr.wbuf = append(fr.wbuf, v) }
func (fr *Framer) writeBytes(v []byte)  { fr.wbuf = append(fr.wbuf, v...) }
func (fr *Framer) writeUint16(v uint16) { fr.wbuf = append(fr.wbuf, byte(v>>8), byte(v)) }
func (fr *Framer) writeUint32(v uint32) {
	fr.wbuf = append(fr.wbuf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteData writes a DATA frame.
//
// It is the caller's responsibility not to violate the maximum frame
// size and to not call other Write methods concurrently.
func (fr *Framer) WriteData(streamID uint32, endStream bool, data []byte) error {
	if !validStreamID(streamID) {
		return errStreamID
	}
	var flags Flags
	if endStream {
		flags |= FlagDataEndStream
	}
	fr.startWrite(FrameData, flags, streamID)
	fr.writeBytes(data)
	return fr.endWrite()
}

// HeadersFrameParam are the parameters for writing a HEADERS frame.
type HeadersFrameParam struct {
	// StreamID is the required Stream ID to initiate.
	StreamID uint32

	// BlockFragment is part (or all) of a Header Block.
	BlockFragment []byte

	// EndStream indicates that the header block is the last that
	// the endpoint will send for the identified stream.
	EndStream bool

	// EndHeaders indicates that this frame contains an entire
	// header block and is not followed by any CONTINUATION frames.
	EndHeaders bool

	// PadLength is the optional number of bytes of zeros to add
	// to this frame.
	PadLength uint8

	// Priority, if non-zero, includes stream priority information
	// in the HEADERS frame.
	Priority PriorityParam
}

// WriteHeaders writes a single HEADERS frame.
//
// This is a low-level header writing method. Encoding the actual
// header block is the header codec's job.
func (fr *Framer) WriteHeaders(p HeadersFrameParam) error {
	if !validStreamID(p.StreamID) {
		return errStreamID
	}
	var flags Flags
	if p.PadLength != 0 {
		flags |= FlagHeadersPadded
	}
	if p.EndStream {
		flags |= FlagHeadersEndStream
	}
	if p.EndHeaders {
		flags |= FlagHeadersEndHeaders
	}
	if !p.Priority.IsZero() {
		flags |= FlagHeadersPriority
	}
	fr.startWrite(FrameHeaders, flags, p.StreamID)
	if p.PadLength != 0 {
		fr.writeByte(p.PadLength)
	}
	if !p.Priority.IsZero() {
		v := p.Priority.StreamDep
		if !validStreamID(v) {
			return errDepStreamID
		}
		if p.Priority.Exclusive {
			v |= 1 << 31
		}
		fr.writeUint32(v)
		fr.writeByte(p.Priority.Weight)
	}
	fr.writeBytes(p.BlockFragment)
	fr.writeBytes(padZeros[:p.PadLength])
	return fr.endWrite()
}

// WritePriority writes a PRIORITY frame.
func (fr *Framer) WritePriority(streamID uint32, p PriorityParam) error {
	if !validStreamID(streamID) {
		return errStreamID
	}
	if !validStreamID(p.StreamDep) {
		return errDepStreamID
	}
	fr.startWrite(FramePriority, 0, streamID)
	v := p.StreamDep
	if p.Exclusive {
		v |= 1 << 31
	}
	fr.writeUint32(v)
	fr.writeByte(p.Weight)
	return fr.endWrite()
}

// WriteRSTStream writes a RST_STREAM frame.
func (fr *Framer) WriteRSTStream(streamID uint32, code ErrCode) error {
	if !validStreamID(streamID) {
		return errStreamID
	}
	fr.startWrite(FrameRSTStream, 0, streamID)
	fr.writeUint32(uint32(code))
	return fr.endWrite()
}

// WriteSettings writes a SETTINGS frame with zero or more settings
// specified and the ACK bit not set.
func (fr *Framer) WriteSettings(settings ...Setting) error {
	fr.startWrite(FrameSettings, 0, 0)
	for _, s := range settings {
		fr.writeUint16(uint16(s.ID))
		fr.writeUint32(s.Val)
	}
	return fr.endWrite()
}

// WriteSettingsAck writes an empty SETTINGS frame with the ACK bit set.
func (fr *Framer) WriteSettingsAck() error {
	fr.startWrite(FrameSettings, FlagSettingsAck, 0)
	return fr.endWrite()
}

// WritePing writes a PING frame, with or without the ACK bit.
func (fr *Framer) WritePing(ack bool, data [8]byte) error {
	var flags Flags
	if ack {
		flags = FlagPingAck
	}
	fr.startWrite(FramePing, flags, 0)
	fr.writeBytes(data[:])
	return fr.endWrite()
}

// WriteGoAway writes a GOAWAY frame announcing maxStreamID as the
// highest stream id the sender will still process.
func (fr *Framer) WriteGoAway(maxStreamID uint32, code ErrCode, debugData []byte) error {
	fr.startWrite(FrameGoAway, 0, 0)
	fr.writeUint32(maxStreamID & (1<<31 - 1))
	fr.writeUint32(uint32(code))
	fr.writeBytes(debugData)
	return fr.endWrite()
}

// WriteWindowUpdate writes a WINDOW_UPDATE frame.
// The increment value must be between 1 and 2,147,483,647, inclusive.
// If the Stream ID is zero, the window update applies to the
// connection as a whole.
func (fr *Framer) WriteWindowUpdate(streamID, incr uint32) error {
	if incr < 1 || incr > 2147483647 {
		return fmt.Errorf("h2wire: invalid window increment %d", incr)
	}
	fr.startWrite(FrameWindowUpdate, 0, streamID)
	fr.writeUint32(incr)
	return fr.endWrite()
}

// WriteContinuation writes a CONTINUATION frame.
func (fr *Framer) WriteContinuation(streamID uint32, endHeaders bool, headerBlockFragment []byte) error {
	if !validStreamID(streamID) {
		return errStreamID
	}
	var flags Flags
	if endHeaders {
		flags |= FlagContinuationEndHeaders
	}
	fr.startWrite(FrameContinuation, flags, streamID)
	fr.writeBytes(headerBlockFragment)
	return fr.endWrite()
}

func readByte(p []byte) (remain []byte, b byte, err error) {
	if len(p) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return p[1:], p[0], nil
}

func readUint32(p []byte) (remain []byte, v uint32, err error) {
	if len(p) < 4 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return p[4:], binary.BigEndian.Uint32(p[:4]), nil
}
