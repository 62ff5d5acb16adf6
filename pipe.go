// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package h2wire

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// pipe is a goroutine-safe io.Reader/io.Writer pair. It's like
// io.Pipe except there are no PipeReader/PipeWriter halves, and the
// underlying buffer is an interface. (io.Pipe is always unbuffered)
//
// The dispatch goroutine writes inbound DATA into it; the response
// body consumer reads from it.
type pipe struct {
	mu  sync.Mutex
	c   sync.Cond     // c.L lazily initialized to &p.mu
	b   *bytes.Buffer // nil when done reading
	err error         // read error once empty. non-nil means closed.
}

var errClosedPipeWrite = errors.New("write on closed buffer")

func (p *pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.b == nil {
		return 0
	}
	return p.b.Len()
}

// Read waits until data is available and copies bytes
// from the buffer into p.
func (p *pipe) Read(d []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c.L == nil {
		p.c.L = &p.mu
	}
	for {
		if p.b != nil && p.b.Len() > 0 {
			return p.b.Read(d)
		}
		if p.err != nil {
			p.b = nil // lose reference to the buffer
			return 0, p.err
		}
		p.c.Wait()
	}
}

// Write copies bytes from d into the buffer and wakes a reader.
// It is an error to write more data than the buffer can hold.
func (p *pipe) Write(d []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c.L == nil {
		p.c.L = &p.mu
	}
	defer p.c.Signal()
	if p.err != nil {
		return 0, errClosedPipeWrite
	}
	if p.b == nil {
		p.b = new(bytes.Buffer)
	}
	return p.b.Write(d)
}

// CloseWithError causes the next Read (waking up a current blocked
// Read if needed) to return the provided err after all data has been
// read. The first CloseWithError wins; later calls are no-ops, which
// makes closing idempotent.
func (p *pipe) CloseWithError(err error) {
	if err == nil {
		panic("err must be non-nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c.L == nil {
		p.c.L = &p.mu
	}
	defer p.c.Signal()
	if p.err != nil {
		// Already closed; keep the first error.
		return
	}
	p.err = err
}

var _ io.ReadWriter = (*pipe)(nil)
