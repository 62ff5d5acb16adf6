// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import (
	"io"
	"sync"
)

// A clientStream is one client-initiated stream on a ClientConn.
//
// Lifecycle: created Open by ClientConn.newStream (ids odd, strictly
// increasing), moves to HalfClosedLocal once the request's END_STREAM
// is written and to HalfClosedRemote once the peer's END_STREAM is
// read, and is Closed (removed from the table, id stays used) when
// both directions ended or either side reset it.
type clientStream struct {
	cc *ClientConn
	ID uint32

	// state is guarded by cc.mu and only advanced by the dispatch
	// side or the request goroutine holding cc.mu.
	state streamState

	// sentEndStream and recvEndStream record which directions have
	// ended; both set means Closed.
	sentEndStream bool
	recvEndStream bool

	flow   outflow // our send quota for this stream; guarded by cc.mu
	inflow inflow  // peer's data allowance; guarded by cc.mu

	resc    chan resAndError // response headers delivery, buffered 1
	bufPipe pipe             // inbound DATA; closed at END_STREAM or reset

	peerReset chan struct{} // closed on peer RST_STREAM
	resetErr  error         // set before peerReset is closed

	abortOnce sync.Once
	abortErr  error
	abortc    chan struct{} // closed on local abort (timeout, conn teardown)

	// delivered records that response headers were handed to the
	// caller; later HEADERS on the stream are trailers. Owned by the
	// dispatch goroutine.
	delivered bool
}

// checkDelivered reports whether response headers were already
// delivered. Dispatch goroutine only.
func (cs *clientStream) checkDelivered() bool { return cs.delivered }

// markDelivered records the response headers hand-off. Dispatch
// goroutine only.
func (cs *clientStream) markDelivered() { cs.delivered = true }

type resAndError struct {
	res *Response
	err error
}

// checkReset reports the peer-reset error, if the stream was reset.
func (cs *clientStream) checkReset() error {
	select {
	case <-cs.peerReset:
		return cs.resetErr
	default:
		return nil
	}
}

// abortStream fails the stream locally: the response waiter and body
// reader both observe err. Idempotent.
func (cs *clientStream) abortStream(err error) {
	cs.abortOnce.Do(func() {
		cs.abortErr = err
		close(cs.abortc)
		cs.bufPipe.CloseWithError(err)
	})
}

// noteLocalEndStream records that we wrote END_STREAM.
// Requires cc.mu. Reports whether the stream is now fully closed.
func (cs *clientStream) noteLocalEndStream() bool {
	cs.sentEndStream = true
	switch cs.state {
	case stateOpen:
		cs.state = stateHalfClosedLocal
	case stateHalfClosedRemote:
		cs.state = stateClosed
	}
	return cs.state == stateClosed
}

// noteRemoteEndStream records that we read the peer's END_STREAM.
// Requires cc.mu. Reports whether the stream is now fully closed.
func (cs *clientStream) noteRemoteEndStream() bool {
	cs.recvEndStream = true
	switch cs.state {
	case stateOpen:
		cs.state = stateHalfClosedRemote
	case stateHalfClosedLocal:
		cs.state = stateClosed
	}
	return cs.state == stateClosed
}

// acceptsFrames reports whether the peer may still send HEADERS, DATA
// or CONTINUATION on this stream. False once the peer half-closed its
// direction; such frames are a stream-scoped STREAM_CLOSED fault.
func (cs *clientStream) acceptsFrames() bool {
	return cs.state == stateOpen || cs.state == stateHalfClosedLocal
}

// transportResponseBody is the io.ReadCloser handed out as
// Response.Body. Reads drain the stream's buffered DATA and credit the
// consumed bytes back to the peer through the batched inflow path;
// Close resets the stream if the peer is still sending.
type transportResponseBody struct {
	cs *clientStream
}

func (b transportResponseBody) Read(p []byte) (n int, err error) {
	cs := b.cs
	n, err = cs.bufPipe.Read(p)
	if n > 0 {
		cs.cc.creditConsumed(cs, n)
	}
	return n, err
}

func (b transportResponseBody) Close() error {
	cs := b.cs
	cc := cs.cc

	cs.bufPipe.CloseWithError(io.EOF) // no-op if already ended

	cc.mu.Lock()
	active := cs.state != stateClosed && cs.checkReset() == nil
	unread := cs.bufPipe.Len()
	cc.mu.Unlock()

	if active {
		// Peer may still be sending; tell it to stop.
		cc.resetStream(cs, ErrCodeCancel)
	}
	if unread > 0 {
		// Bytes the application never read still consumed window.
		cc.creditConsumed(cs, unread)
	}
	cc.forgetStream(cs.ID)
	return nil
}
