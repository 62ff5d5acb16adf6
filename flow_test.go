// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import "testing"

func TestOutflow(t *testing.T) {
	var st outflow
	var conn outflow
	st.add(3)
	conn.add(2)

	if got, want := st.available(), int32(3); got != want {
		t.Errorf("available = %d; want %d", got, want)
	}
	st.setConnFlow(&conn)
	if got, want := st.available(), int32(2); got != want {
		t.Errorf("after setConnFlow, available = %d; want %d", got, want)
	}
	st.take(2)
	if got, want := st.available(), int32(0); got != want {
		t.Errorf("after take, available = %d; want %d", got, want)
	}
	if got, want := st.n, int32(1); got != want {
		t.Errorf("stream window = %d; want %d", got, want)
	}
	if got, want := conn.n, int32(0); got != want {
		t.Errorf("conn window = %d; want %d", got, want)
	}
}

func TestOutflowAdd(t *testing.T) {
	var f outflow
	if !f.add(1) {
		t.Fatal("failed to add 1")
	}
	if !f.add(-1) {
		t.Fatal("failed to add -1")
	}
	if got, want := f.available(), int32(0); got != want {
		t.Fatalf("size = %d; want %d", got, want)
	}
	if !f.add(1<<31 - 1) {
		t.Fatal("failed to add 2^31-1")
	}
	if got, want := f.available(), int32(1<<31-1); got != want {
		t.Fatalf("size = %d; want %d", got, want)
	}
	if f.add(1) {
		t.Fatal("adding 1 to max window size was allowed")
	}
}

func TestOutflowAddOverflow(t *testing.T) {
	var f outflow
	if !f.add(0) {
		t.Fatal("failed to add 0")
	}
	if !f.add(-1) {
		t.Fatal("failed to add -1")
	}
	if !f.add(0) {
		t.Fatal("failed to add 0")
	}
	if !f.add(1) {
		t.Fatal("failed to add 1")
	}
	if !f.add(1) {
		t.Fatal("failed to add 1")
	}
	if !f.add(0) {
		t.Fatal("failed to add 0")
	}
	if f.add(-3) != true {
		t.Fatal("failed to add -3")
	}
	if got, want := f.available(), int32(-2); got != want {
		t.Fatalf("size = %d; want %d", got, want)
	}
	if !f.add(1<<31 - 1) {
		t.Fatal("failed to add 2^31-1")
	}
	if got, want := f.available(), int32(1+-3+(1<<31-1)); got != want {
		t.Fatalf("size = %d; want %d", got, want)
	}
}

func TestInflowTake(t *testing.T) {
	var f inflow
	f.init(100, 10)
	if !f.take(40) {
		t.Fatalf("f.take(40) from 100: got false, want true")
	}
	if !f.take(40) {
		t.Fatalf("f.take(40) from 60: got false, want true")
	}
	if f.take(40) {
		t.Fatalf("f.take(40) from 20: got true, want false")
	}
	if !f.take(20) {
		t.Fatalf("f.take(20) from 20: got false, want true")
	}
}

func TestTakeInflows(t *testing.T) {
	var connFlow, streamFlow inflow
	connFlow.init(10, 1)
	streamFlow.init(20, 1)
	if !takeInflows(&connFlow, &streamFlow, 10) {
		t.Fatalf("takeInflows(10): got false, want true")
	}
	if takeInflows(&connFlow, &streamFlow, 1) {
		t.Fatalf("takeInflows(1) with conn window drained: got true, want false")
	}
	if streamFlow.avail != 10 {
		t.Fatalf("failed takeInflows changed stream window: avail = %d, want 10", streamFlow.avail)
	}
}

// Consumed bytes are refunded in batches: nothing until the pending
// refund crosses the threshold, then the whole accumulation at once.
func TestInflowBatchedRefund(t *testing.T) {
	var f inflow
	f.init(100, 30)
	f.take(60)

	if got := f.add(10); got != 0 {
		t.Errorf("refund after 10/30: got %d, want 0", got)
	}
	if got := f.add(19); got != 0 {
		t.Errorf("refund after 29/30: got %d, want 0", got)
	}
	if got := f.add(1); got != 30 {
		t.Errorf("refund after 30/30: got %d, want 30", got)
	}
	// Counter reset after the flush.
	if got := f.add(29); got != 0 {
		t.Errorf("refund after flush + 29: got %d, want 0", got)
	}
	if got := f.add(2); got != 31 {
		t.Errorf("refund after flush + 31: got %d, want 31", got)
	}
}

func TestInflowInitThresholdFloor(t *testing.T) {
	var f inflow
	f.init(100, 0)
	if f.thresh != 1 {
		t.Errorf("thresh = %d; want 1", f.thresh)
	}
	// A threshold at least 1 means a refund is always eventually due.
	if got := f.add(1); got != 1 {
		t.Errorf("refund = %d; want 1", got)
	}
}

func TestInflowAddOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic pushing the window past 2^31-1")
		}
	}()
	var f inflow
	f.init(maxWindow, 1)
	f.add(1)
}
