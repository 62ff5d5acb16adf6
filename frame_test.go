// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"
)

func testFramer() (*Framer, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return NewFramer(buf, buf), buf
}

func TestWriteRST(t *testing.T) {
	fr, buf := testFramer()
	var streamID uint32 = 1<<24 + 2<<16 + 3<<8 + 4
	var errCode uint32 = 7<<24 + 6<<16 + 5<<8 + 4
	fr.WriteRSTStream(streamID, ErrCode(errCode))
	const wantEnc = "\x00\x00\x04\x03\x00\x01\x02\x03\x04\x07\x06\x05\x04"
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	want := &RSTStreamFrame{
		FrameHeader: FrameHeader{
			Type:     0x3,
			Flags:    0x0,
			Length:   0x4,
			StreamID: 0x1020304,
		},
		ErrCode: 0x7060504,
	}
	if !reflect.DeepEqual(f, want) {
		t.Errorf("parsed back %#v; want %#v", f, want)
	}
}

func TestWriteData(t *testing.T) {
	fr, buf := testFramer()
	var streamID uint32 = 1<<24 + 2<<16 + 3<<8 + 4
	data := []byte("ABC")
	fr.WriteData(streamID, true, data)
	const wantEnc = "\x00\x00\x03\x00\x01\x01\x02\x03\x04ABC"
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	df, ok := f.(*DataFrame)
	if !ok {
		t.Fatalf("got %T; want *DataFrame", f)
	}
	if !bytes.Equal(df.Data(), data) {
		t.Errorf("got %q; want %q", df.Data(), data)
	}
	if !df.StreamEnded() {
		t.Errorf("didn't see END_STREAM flag")
	}
	if df.StreamID != streamID {
		t.Errorf("StreamID = %d; want %d", df.StreamID, streamID)
	}
}

func TestDataPadding(t *testing.T) {
	fr, buf := testFramer()
	// Hand-build a padded DATA frame: pad length 2, body "hi", 2 pad
	// zeros.
	buf.Write([]byte("\x00\x00\x05\x00\x08\x00\x00\x00\x01" + "\x02hi\x00\x00"))
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	df := f.(*DataFrame)
	if got := string(df.Data()); got != "hi" {
		t.Errorf("Data() = %q; want %q", got, "hi")
	}
	if got, want := df.PadLength(), 3; got != want {
		// pad-length octet plus two zeros
		t.Errorf("PadLength() = %d; want %d", got, want)
	}

	// Padding longer than the remaining payload is a connection error.
	buf.Write([]byte("\x00\x00\x02\x00\x08\x00\x00\x00\x01" + "\x05h"))
	_, err = fr.ReadFrame()
	if err != ConnectionError(ErrCodeProtocol) {
		t.Errorf("excessive padding: got %v; want PROTOCOL_ERROR", err)
	}
}

func TestWriteHeaders(t *testing.T) {
	tests := []struct {
		name      string
		p         HeadersFrameParam
		wantEnc   string
		wantFrame *HeadersFrame
	}{
		{
			"basic",
			HeadersFrameParam{
				StreamID:      42,
				BlockFragment: []byte("abc"),
			},
			"\x00\x00\x03\x01\x00\x00\x00\x00\x2aabc",
			&HeadersFrame{
				FrameHeader: FrameHeader{
					Type:     FrameHeaders,
					Length:   3,
					StreamID: 42,
				},
				headerFragBuf: []byte("abc"),
			},
		},
		{
			"end stream",
			HeadersFrameParam{
				StreamID:      42,
				BlockFragment: []byte("abc"),
				EndStream:     true,
				EndHeaders:    true,
			},
			"\x00\x00\x03\x01\x05\x00\x00\x00\x2aabc",
			&HeadersFrame{
				FrameHeader: FrameHeader{
					Type:     FrameHeaders,
					Flags:    FlagHeadersEndStream | FlagHeadersEndHeaders,
					Length:   3,
					StreamID: 42,
				},
				headerFragBuf: []byte("abc"),
			},
		},
		{
			"with priority",
			HeadersFrameParam{
				StreamID:      42,
				BlockFragment: []byte("abc"),
				EndHeaders:    true,
				Priority: PriorityParam{
					StreamDep: 15,
					Exclusive: true,
					Weight:    127,
				},
			},
			"\x00\x00\x08\x01\x24\x00\x00\x00\x2a\x80\x00\x00\x0f\x7fabc",
			&HeadersFrame{
				FrameHeader: FrameHeader{
					Type:     FrameHeaders,
					Flags:    FlagHeadersEndHeaders | FlagHeadersPriority,
					Length:   8,
					StreamID: 42,
				},
				Priority: PriorityParam{
					StreamDep: 15,
					Exclusive: true,
					Weight:    127,
				},
				headerFragBuf: []byte("abc"),
			},
		},
	}
	for _, tt := range tests {
		fr, buf := testFramer()
		if err := fr.WriteHeaders(tt.p); err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if buf.String() != tt.wantEnc {
			t.Errorf("%s: encoded %q; want %q", tt.name, buf.Bytes(), tt.wantEnc)
		}
		f, err := fr.ReadFrame()
		if err != nil {
			t.Errorf("%s: failed to parse frame: %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(f, tt.wantFrame) {
			t.Errorf("%s: parsed back:\n%#v\nwant:\n%#v", tt.name, f, tt.wantFrame)
		}
	}
}

func TestWriteContinuation(t *testing.T) {
	const streamID = 42
	tests := []struct {
		name string
		end  bool
		frag []byte

		wantFrame *ContinuationFrame
	}{
		{
			"not end",
			false,
			[]byte("abc"),
			&ContinuationFrame{
				FrameHeader: FrameHeader{
					Type:     FrameContinuation,
					Length:   3,
					StreamID: streamID,
				},
				headerFragBuf: []byte("abc"),
			},
		},
		{
			"end",
			true,
			[]byte("def"),
			&ContinuationFrame{
				FrameHeader: FrameHeader{
					Type:     FrameContinuation,
					Flags:    FlagContinuationEndHeaders,
					Length:   3,
					StreamID: streamID,
				},
				headerFragBuf: []byte("def"),
			},
		},
	}
	for _, tt := range tests {
		fr, _ := testFramer()
		if err := fr.WriteContinuation(streamID, tt.end, tt.frag); err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		f, err := fr.ReadFrame()
		if err != nil {
			t.Errorf("%s: failed to parse frame: %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(f, tt.wantFrame) {
			t.Errorf("%s: parsed back %#v; want %#v", tt.name, f, tt.wantFrame)
		}
	}
}

func TestWritePriority(t *testing.T) {
	const streamID = 42
	tests := []struct {
		name      string
		priority  PriorityParam
		wantFrame *PriorityFrame
	}{
		{
			"not exclusive",
			PriorityParam{
				StreamDep: 2,
				Exclusive: false,
				Weight:    127,
			},
			&PriorityFrame{
				FrameHeader{
					Type:     FramePriority,
					Length:   5,
					StreamID: streamID,
				},
				PriorityParam{
					StreamDep: 2,
					Exclusive: false,
					Weight:    127,
				},
			},
		},
		{
			"exclusive",
			PriorityParam{
				StreamDep: 3,
				Exclusive: true,
				Weight:    77,
			},
			&PriorityFrame{
				FrameHeader{
					Type:     FramePriority,
					Length:   5,
					StreamID: streamID,
				},
				PriorityParam{
					StreamDep: 3,
					Exclusive: true,
					Weight:    77,
				},
			},
		},
	}
	for _, tt := range tests {
		fr, _ := testFramer()
		if err := fr.WritePriority(streamID, tt.priority); err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		f, err := fr.ReadFrame()
		if err != nil {
			t.Errorf("%s: failed to parse frame: %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(f, tt.wantFrame) {
			t.Errorf("%s: parsed back %#v; want %#v", tt.name, f, tt.wantFrame)
		}
	}
}

func TestPrioritySelfDependency(t *testing.T) {
	fr, buf := testFramer()
	// PRIORITY on stream 1 depending on stream 1.
	buf.Write([]byte("\x00\x00\x05\x02\x00\x00\x00\x00\x01" + "\x00\x00\x00\x01\x10"))
	_, err := fr.ReadFrame()
	if err != ConnectionError(ErrCodeProtocol) {
		t.Errorf("got %v; want PROTOCOL_ERROR", err)
	}
}

func TestWriteSettings(t *testing.T) {
	fr, buf := testFramer()
	settings := []Setting{{1, 2}, {3, 4}}
	fr.WriteSettings(settings...)
	const wantEnc = "\x00\x00\x0c\x04\x00\x00\x00\x00\x00\x00\x01\x00\x00\x00\x02\x00\x03\x00\x00\x00\x04"
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	sf, ok := f.(*SettingsFrame)
	if !ok {
		t.Fatalf("got %T; want *SettingsFrame", f)
	}
	if sf.NumSettings() != len(settings) {
		t.Fatalf("NumSettings = %d; want %d", sf.NumSettings(), len(settings))
	}
	var got []Setting
	sf.ForeachSetting(func(s Setting) error {
		got = append(got, s)
		if v := sf.Setting(len(got) - 1); v != s {
			t.Errorf("Setting(%d) = %v; want %v", len(got)-1, v, s)
		}
		return nil
	})
	if !reflect.DeepEqual(settings, got) {
		t.Errorf("settings = %v; want %v", got, settings)
	}
}

func TestWriteSettingsAck(t *testing.T) {
	fr, buf := testFramer()
	fr.WriteSettingsAck()
	const wantEnc = "\x00\x00\x00\x04\x01\x00\x00\x00\x00"
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if sf, ok := f.(*SettingsFrame); !ok || !sf.IsAck() {
		t.Errorf("parsed back %#v; want settings ack", f)
	}
}

func TestWritePing(t *testing.T) {
	fr, buf := testFramer()
	data := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	fr.WritePing(true, data)
	const wantEnc = "\x00\x00\x08\x06\x01\x00\x00\x00\x00" + "\x01\x02\x03\x04\x05\x06\x07\x08"
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	pf, ok := f.(*PingFrame)
	if !ok {
		t.Fatalf("got %T; want *PingFrame", f)
	}
	if !pf.IsAck() || pf.Data != data {
		t.Errorf("parsed back %#v; want ack with data %v", pf, data)
	}
}

func TestWriteGoAway(t *testing.T) {
	const debug = "can't keep up"
	fr, buf := testFramer()
	fr.WriteGoAway(0x01020304, 0x05060708, []byte(debug))
	const wantEnc = "\x00\x00\x15\x07\x00\x00\x00\x00\x00" + "\x01\x02\x03\x04" + "\x05\x06\x07\x08" + debug
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	gf, ok := f.(*GoAwayFrame)
	if !ok {
		t.Fatalf("got %T; want *GoAwayFrame", f)
	}
	if gf.LastStreamID != 0x01020304 || gf.ErrCode != 0x05060708 || string(gf.DebugData()) != debug {
		t.Errorf("parsed back %#v; want last=0x01020304 code=0x05060708 debug=%q", gf, debug)
	}
}

func TestWriteWindowUpdate(t *testing.T) {
	fr, buf := testFramer()
	const streamID = 1<<24 + 2<<16 + 3<<8 + 4
	const incr = 7<<24 + 6<<16 + 5<<8 + 4
	if err := fr.WriteWindowUpdate(streamID, incr); err != nil {
		t.Fatal(err)
	}
	const wantEnc = "\x00\x00\x04\x08\x00\x01\x02\x03\x04\x07\x06\x05\x04"
	if buf.String() != wantEnc {
		t.Errorf("encoded as %q; want %q", buf.Bytes(), wantEnc)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	want := &WindowUpdateFrame{
		FrameHeader: FrameHeader{
			Type:     0x8,
			Flags:    0x0,
			Length:   0x4,
			StreamID: 0x1020304,
		},
		Increment: 0x7060504,
	}
	if !reflect.DeepEqual(f, want) {
		t.Errorf("parsed back %#v; want %#v", f, want)
	}

	for _, bad := range []uint32{0, 1 << 31} {
		fr, _ := testFramer()
		if err := fr.WriteWindowUpdate(1, bad); err == nil {
			t.Errorf("WriteWindowUpdate(1, %d): no error", bad)
		}
	}
}

func TestWindowUpdateZeroIncrement(t *testing.T) {
	// Increment zero is stream-scoped PROTOCOL_ERROR on a stream,
	// connection-scoped on the connection window.
	fr, buf := testFramer()
	buf.Write([]byte("\x00\x00\x04\x08\x00\x00\x00\x00\x01" + "\x00\x00\x00\x00"))
	_, err := fr.ReadFrame()
	if want := (StreamError{1, ErrCodeProtocol}); err != want {
		t.Errorf("stream window: got %v; want %v", err, want)
	}

	fr, buf = testFramer()
	buf.Write([]byte("\x00\x00\x04\x08\x00\x00\x00\x00\x00" + "\x00\x00\x00\x00"))
	_, err = fr.ReadFrame()
	if err != ConnectionError(ErrCodeProtocol) {
		t.Errorf("conn window: got %v; want PROTOCOL_ERROR", err)
	}
}

func TestReadFrameHeaderReservedBit(t *testing.T) {
	// The reserved high bit of the stream id must be masked off.
	fh, err := readFrameHeader(make([]byte, frameHeaderLen), strings.NewReader("\x00\x00\x00\x00\x00\xff\xff\xff\xff"))
	if err != nil {
		t.Fatal(err)
	}
	if fh.StreamID != 1<<31-1 {
		t.Errorf("StreamID = %#x; want %#x", fh.StreamID, uint32(1<<31-1))
	}
}

func TestReadFrameOversize(t *testing.T) {
	fr, buf := testFramer()
	fr.SetMaxReadFrameSize(minMaxFrameSize)

	// One byte past the limit: reported as oversize, payload discarded,
	// and the next frame still parses.
	payload := make([]byte, minMaxFrameSize+1)
	buf.Write([]byte{0x00, 0x40, 0x01, byte(FrameData), 0, 0, 0, 0, 1})
	buf.Write(payload)
	fr2 := NewFramer(buf, nil)
	fr2.WritePing(false, [8]byte{})

	_, err := fr.ReadFrame()
	ofe, ok := err.(oversizeFrameError)
	if !ok {
		t.Fatalf("got %v (%T); want oversizeFrameError", err, err)
	}
	if ofe.Type != FrameData || ofe.StreamID != 1 || ofe.Length != minMaxFrameSize+1 {
		t.Errorf("oversize header = %+v", ofe.FrameHeader)
	}
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("frame after oversize: %v", err)
	}
	if _, ok := f.(*PingFrame); !ok {
		t.Errorf("frame after oversize = %T; want *PingFrame", f)
	}

	// Exactly at the limit is fine.
	fr, buf = testFramer()
	fr.SetMaxReadFrameSize(minMaxFrameSize)
	if err := fr.WriteData(1, false, make([]byte, minMaxFrameSize)); err != nil {
		t.Fatal(err)
	}
	if _, err := fr.ReadFrame(); err != nil {
		t.Errorf("frame at limit: %v", err)
	}
}

// Fixed-length and stream-association rules from RFC 7540 §6.
func TestReadMalformedFrames(t *testing.T) {
	tests := []struct {
		name string
		enc  string
		want error
	}{
		{
			"RST_STREAM with 3-byte payload",
			"\x00\x00\x03\x03\x00\x00\x00\x00\x01\x00\x00\x00",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"RST_STREAM on stream 0",
			"\x00\x00\x04\x03\x00\x00\x00\x00\x00\x00\x00\x00\x00",
			ConnectionError(ErrCodeProtocol),
		},
		{
			"PRIORITY with 4-byte payload",
			"\x00\x00\x04\x02\x00\x00\x00\x00\x01\x00\x00\x00\x02",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"PING with 7-byte payload",
			"\x00\x00\x07\x06\x00\x00\x00\x00\x00" + "1234567",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"PING on a stream",
			"\x00\x00\x08\x06\x00\x00\x00\x00\x01" + "12345678",
			ConnectionError(ErrCodeProtocol),
		},
		{
			"WINDOW_UPDATE with 5-byte payload",
			"\x00\x00\x05\x08\x00\x00\x00\x00\x00\x00\x00\x00\x01\x00",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"SETTINGS with length not a multiple of 6",
			"\x00\x00\x05\x04\x00\x00\x00\x00\x00\x00\x01\x00\x00\x00",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"SETTINGS ack with payload",
			"\x00\x00\x06\x04\x01\x00\x00\x00\x00\x00\x01\x00\x00\x00\x00",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"SETTINGS on a stream",
			"\x00\x00\x00\x04\x00\x00\x00\x00\x01",
			ConnectionError(ErrCodeProtocol),
		},
		{
			"GOAWAY with 4-byte payload",
			"\x00\x00\x04\x07\x00\x00\x00\x00\x00\x00\x00\x00\x00",
			ConnectionError(ErrCodeFrameSize),
		},
		{
			"GOAWAY on a stream",
			"\x00\x00\x08\x07\x00\x00\x00\x00\x01" + "\x00\x00\x00\x00\x00\x00\x00\x00",
			ConnectionError(ErrCodeProtocol),
		},
		{
			"DATA on stream 0",
			"\x00\x00\x01\x00\x00\x00\x00\x00\x00" + "x",
			ConnectionError(ErrCodeProtocol),
		},
		{
			"HEADERS on stream 0",
			"\x00\x00\x01\x01\x00\x00\x00\x00\x00" + "x",
			ConnectionError(ErrCodeProtocol),
		},
		{
			"CONTINUATION on stream 0",
			"\x00\x00\x01\x09\x00\x00\x00\x00\x00" + "x",
			ConnectionError(ErrCodeProtocol),
		},
	}
	for _, tt := range tests {
		fr, buf := testFramer()
		buf.WriteString(tt.enc)
		_, err := fr.ReadFrame()
		if err != tt.want {
			t.Errorf("%s: got %v; want %v", tt.name, err, tt.want)
		}
	}
}

func TestReadUnknownFrameType(t *testing.T) {
	fr, buf := testFramer()
	buf.Write([]byte("\x00\x00\x03\xee\x07\x00\x00\x00\x05" + "xyz"))
	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	uf, ok := f.(*UnknownFrame)
	if !ok {
		t.Fatalf("got %T; want *UnknownFrame", f)
	}
	if uf.Type != 0xee || uf.StreamID != 5 || string(uf.Payload()) != "xyz" {
		t.Errorf("parsed back %#v", uf)
	}
}

func TestWriteTo(t *testing.T) {
	// Writes to a failing writer surface the error.
	fr := NewFramer(brokenWriter{}, nil)
	if err := fr.WriteSettingsAck(); err == nil {
		t.Errorf("want error writing to broken writer")
	}
}

type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestSetMaxWriteFrameSize(t *testing.T) {
	fr, _ := testFramer()
	fr.SetMaxWriteFrameSize(1 << 20)
	if got := fr.MaxWriteFrameSize(); got != 1<<20 {
		t.Errorf("MaxWriteFrameSize = %d; want %d", got, 1<<20)
	}
	// Out-of-range values are ignored.
	fr.SetMaxWriteFrameSize(100)
	if got := fr.MaxWriteFrameSize(); got != 1<<20 {
		t.Errorf("MaxWriteFrameSize after bad set = %d; want %d", got, 1<<20)
	}
}
