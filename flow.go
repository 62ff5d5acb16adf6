// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Flow control

package h2wire

// outflow is the send-side flow control window accounting.
//
// Every stream outflow is linked to the connection outflow via
// setConnFlow, so taking stream credit takes connection credit too.
// Accesses are guarded by the ClientConn mutex.
type outflow struct {
	// n is the number of DATA bytes we're allowed to send.
	// A outflow is kept both on a conn and a per-stream.
	n int32

	// conn points to the shared connection-level outflow that n is
	// also decremented by. nil for the connection-level outflow itself.
	conn *outflow
}

func (f *outflow) setConnFlow(cf *outflow) { f.conn = cf }

// available reports how many bytes may currently be sent: the
// minimum of the stream and connection windows.
func (f *outflow) available() int32 {
	n := f.n
	if f.conn != nil && f.conn.n < n {
		n = f.conn.n
	}
	return n
}

func (f *outflow) take(n int32) {
	if n > f.available() {
		panic("internal error: took too much")
	}
	f.n -= n
	if f.conn != nil {
		f.conn.n -= n
	}
}

// add adds n bytes (positive or negative) to the flow control window.
// It returns false if the sum would exceed 2^31-1.
func (f *outflow) add(n int32) bool {
	sum := f.n + n
	if (sum > n) == (f.n > 0) {
		f.n = sum
		return true
	}
	return false
}

// inflow is the receive-side accounting for one flow control window
// (stream or connection).
//
// Received DATA bytes, padding included, are taken from the window;
// consumed bytes accumulate in unsent and are refunded to the peer in
// batches: add returns a nonzero WINDOW_UPDATE increment only once the
// pending refund crosses the configured threshold, bounding update
// frame volume to at most one per window per flush instead of one per
// read.
type inflow struct {
	avail  int32
	unsent int32

	// thresh is the pending-refund level that triggers a
	// WINDOW_UPDATE, derived from a fraction of the advertised
	// window. Guarded against zero in init.
	thresh int32
}

// inflowMinThreshold floors the refund threshold so tiny windows don't
// degenerate into an update per byte.
const inflowMinThreshold = 4 << 10

// init sets the initial advertised window and the refund threshold.
func (f *inflow) init(n, thresh int32) {
	f.avail = n
	if thresh < 1 {
		thresh = 1
	}
	f.thresh = thresh
}

// add adds n consumed bytes to the pending refund, and reports any
// WINDOW_UPDATE increment now due to the peer. n must be non-negative.
func (f *inflow) add(n int32) (refund int32) {
	if n < 0 {
		panic("negative inflow increment")
	}
	unsent := int64(f.unsent) + int64(n)
	if unsent+int64(f.avail) > maxWindow {
		panic("flow control update exceeds maximum window size")
	}
	f.unsent = int32(unsent)
	if f.unsent < f.thresh {
		// Not enough to warrant an update frame yet.
		return 0
	}
	f.avail += f.unsent
	f.unsent = 0
	return int32(unsent)
}

// take attempts to take n bytes from the peer's flow control window.
// It reports whether the window has available capacity.
func (f *inflow) take(n uint32) bool {
	if n > uint32(f.avail) {
		return false
	}
	f.avail -= int32(n)
	return true
}

// takeInflows attempts to take n bytes from two inflows (typically the
// connection-level and stream-level flows). It reports whether both
// windows have available capacity.
func takeInflows(f1, f2 *inflow, n uint32) bool {
	if n > uint32(f1.avail) || n > uint32(f2.avail) {
		return false
	}
	f1.avail -= int32(n)
	f2.avail -= int32(n)
	return true
}
