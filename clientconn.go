// Copyright 2026 The h2wire Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Client connection code: the dispatch loop owning the stream table,
// the settings negotiator and the flow-control windows.

package h2wire

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2/hpack"
	"golang.org/x/sync/errgroup"
)

const (
	// transportDefaultConnFlow is how many connection-level flow control
	// tokens we give the server at start-up, past the default 64k.
	transportDefaultConnFlow = 1 << 30

	// transportDefaultStreamFlow is how many stream-level flow
	// control tokens we announce to the peer, and how many bytes
	// we buffer per stream.
	transportDefaultStreamFlow = 4 << 20

	// defaultWindowUpdateFraction is the share of an advertised window
	// that may sit consumed-but-unrefunded before a WINDOW_UPDATE is
	// flushed. Tunable per connection; not a protocol constant.
	defaultWindowUpdateFraction = 0.5
)

// A Header is one name/value pair of an ordered header list.
type Header struct {
	Name  string
	Value string
}

// A Request describes one HTTP/2 request to issue over a ClientConn.
type Request struct {
	Method    string // defaults to GET
	Scheme    string // must be https (or empty, meaning https)
	Authority string
	Path      string   // defaults to /
	Header    []Header // ordered; names lower-cased on the wire
	Body      io.Reader
}

// A Response is the engine-level result of a request: the decoded
// response headers plus a flow-controlled streaming body. Body must be
// closed to release the stream.
type Response struct {
	StatusCode int
	Header     []Header
	Body       io.ReadCloser
}

type connPhase int

const (
	// phaseConnected: transport established, preface and initial
	// SETTINGS written, no goroutines running yet.
	phaseConnected connPhase = iota
	// phaseActive: reader and writer tasks running.
	phaseActive
	phaseClosed
)

// A ClientConn is the state of a single HTTP/2 client connection.
//
// The stream table and both window ledgers are owned by the dispatch
// (reader) goroutine plus cc.mu for the few caller-visible reads;
// request goroutines communicate with the connection through channels.
type ClientConn struct {
	nc net.Conn
	lg *zap.Logger

	readerDone chan struct{} // closed when the dispatch loop exits
	readerErr  error         // set before readerDone is closed

	donec     chan struct{} // closed by closeForError
	closeOnce sync.Once

	wch   chan writeReq // consumed by the writer goroutine
	group *errgroup.Group

	// Owned by the writer goroutine (and by NewClientConn before
	// activation):
	bw   *bufio.Writer
	fr   *Framer
	werr error

	mu              sync.Mutex // guards following
	cond            *sync.Cond // broadcast on flow/closed changes
	phase           connPhase
	closed          bool
	closing         bool // Shutdown in progress; no new streams
	closedErr       error
	goAway          *GoAwayFrame // non-nil once a GOAWAY was received
	goAwayDebug     string
	streams         map[uint32]*clientStream
	nextStreamID    uint32
	flow            outflow // conn-level send quota
	inflow          inflow  // conn-level receive accounting
	peer            peerSettings
	wantSettingsAck bool
	pings           map[[8]byte]chan struct{} // in-flight local PINGs

	// Immutable after construction:
	localMaxFrameSize    uint32
	localStreamWindow    int32
	updateFraction       float64
	extraInitialSettings []Setting

	hbuf bytes.Buffer // HPACK encoder writes into this
	henc *hpack.Encoder
}

// An Option configures a ClientConn at construction.
type Option func(*ClientConn)

// WithLogger sets the structured logger. The default is a nop logger.
func WithLogger(lg *zap.Logger) Option {
	return func(cc *ClientConn) { cc.lg = lg }
}

// WithWindowUpdateFraction sets the share of an advertised receive
// window consumed before a batched WINDOW_UPDATE is flushed to the
// peer. Values outside (0, 1] are ignored.
func WithWindowUpdateFraction(frac float64) Option {
	return func(cc *ClientConn) {
		if frac > 0 && frac <= 1 {
			cc.updateFraction = frac
		}
	}
}

// WithInitialSettings appends settings to the client's initial
// SETTINGS frame. A SETTINGS_MAX_FRAME_SIZE entry also raises the
// local read limit.
func WithInitialSettings(settings ...Setting) Option {
	return func(cc *ClientConn) {
		cc.extraInitialSettings = append(cc.extraInitialSettings, settings...)
	}
}

type stickyErrWriter struct {
	w   io.Writer
	err *error
}

func (sew stickyErrWriter) Write(p []byte) (n int, err error) {
	if *sew.err != nil {
		return 0, *sew.err
	}
	n, err = sew.w.Write(p)
	*sew.err = err
	return
}

// Dial opens a TLS connection to addr ("host:port"), negotiates ALPN
// "h2" and returns a ClientConn with the preface already written.
// Connect-phase timeouts come from ctx.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config, opts ...Option) (*ClientConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("h2wire: invalid address %q: %w", addr, err)
	}
	var cfg *tls.Config
	if tlsCfg != nil {
		cfg = tlsCfg.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if !strContains(cfg.NextProtos, NextProtoTLS) {
		cfg.NextProtos = append([]string{NextProtoTLS}, cfg.NextProtos...)
	}
	d := &tls.Dialer{Config: cfg}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("h2wire: dial %s: %w", addr, err)
	}
	tc := nc.(*tls.Conn)
	if p := tc.ConnectionState().NegotiatedProtocol; p != NextProtoTLS {
		tc.Close()
		return nil, fmt.Errorf("h2wire: unexpected ALPN protocol %q; want %q", p, NextProtoTLS)
	}
	return NewClientConn(nc, opts...)
}

func strContains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// NewClientConn wraps an established transport connection. It writes
// the connection preface, the initial SETTINGS frame and the
// connection-level window grant, then returns with the connection in
// the connected phase; the reader and writer tasks start on the first
// request (or Ping).
func NewClientConn(nc net.Conn, opts ...Option) (*ClientConn, error) {
	cc := &ClientConn{
		nc:                nc,
		lg:                zap.NewNop(),
		readerDone:        make(chan struct{}),
		donec:             make(chan struct{}),
		wch:               make(chan writeReq, 64),
		nextStreamID:      1,
		streams:           make(map[uint32]*clientStream),
		pings:             make(map[[8]byte]chan struct{}),
		peer:              defaultPeerSettings(),
		localMaxFrameSize: initialMaxFrameSize,
		localStreamWindow: transportDefaultStreamFlow,
		updateFraction:    defaultWindowUpdateFraction,
	}
	for _, o := range opts {
		o(cc)
	}
	cc.cond = sync.NewCond(&cc.mu)
	cc.flow.add(initialWindowSize)
	cc.inflow.init(transportDefaultConnFlow+initialWindowSize,
		cc.updateThreshold(transportDefaultConnFlow))

	cc.bw = bufio.NewWriter(stickyErrWriter{nc, &cc.werr})
	cc.fr = NewFramer(cc.bw, bufio.NewReader(nc))
	cc.henc = hpack.NewEncoder(&cc.hbuf)

	initialSettings := []Setting{
		{ID: SettingEnablePush, Val: 0},
		{ID: SettingInitialWindowSize, Val: transportDefaultStreamFlow},
	}
	for _, s := range cc.extraInitialSettings {
		initialSettings = append(initialSettings, s)
		if s.ID == SettingMaxFrameSize && s.Val >= minMaxFrameSize && s.Val <= maxFrameSize {
			cc.localMaxFrameSize = s.Val
		}
	}
	cc.fr.SetMaxReadFrameSize(cc.localMaxFrameSize)

	cc.bw.Write(clientPreface)
	cc.fr.WriteSettings(initialSettings...)
	cc.fr.WriteWindowUpdate(0, transportDefaultConnFlow)
	cc.bw.Flush()
	if cc.werr != nil {
		nc.Close()
		return nil, fmt.Errorf("h2wire: writing preface: %w", cc.werr)
	}
	cc.wantSettingsAck = true
	cc.lg.Debug("connection established",
		zap.String("remote", nc.RemoteAddr().String()))
	return cc, nil
}

func (cc *ClientConn) updateThreshold(window int32) int32 {
	t := int32(float64(window) * cc.updateFraction)
	if t < inflowMinThreshold {
		t = inflowMinThreshold
	}
	if t > window {
		t = window
	}
	return t
}

// activate starts the reader and writer tasks. It is the explicit
// connected → active transition and runs at most once.
func (cc *ClientConn) activate() {
	cc.mu.Lock()
	if cc.phase != phaseConnected {
		cc.mu.Unlock()
		return
	}
	cc.phase = phaseActive
	g := new(errgroup.Group)
	cc.group = g
	cc.mu.Unlock()

	g.Go(cc.readLoop)
	g.Go(cc.writeLoop)
}

// group is read by Shutdown; guard with mu.
func (cc *ClientConn) taskGroup() *errgroup.Group {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.group
}

// writeReq is one unit of work for the writer task. fn runs on the
// writer goroutine with exclusive ownership of the framer; done, if
// non-nil, receives the write result.
type writeReq struct {
	fn   func(fr *Framer) error
	done chan error
}

// writeLoop is the writer task: it owns the framer for the life of
// the connection and serializes every outbound frame, flushing when
// the queue drains.
func (cc *ClientConn) writeLoop() error {
	for {
		select {
		case <-cc.donec:
			return nil
		case wr := <-cc.wch:
			err := wr.fn(cc.fr)
			if err == nil && len(cc.wch) == 0 {
				err = cc.bw.Flush()
			}
			if err == nil && cc.werr != nil {
				err = cc.werr
			}
			if wr.done != nil {
				wr.done <- err
			}
			if err != nil {
				cc.closeForError(fmt.Errorf("h2wire: write error: %w", err))
				return err
			}
		}
	}
}

// writeFrame hands fn to the writer task and waits for the result.
func (cc *ClientConn) writeFrame(ctx context.Context, fn func(fr *Framer) error) error {
	done := make(chan error, 1)
	select {
	case cc.wch <- writeReq{fn, done}:
	case <-cc.donec:
		return ErrClientConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-cc.donec:
		return ErrClientConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueFrame hands fn to the writer task without waiting. Used by
// the dispatch loop for control-frame responses (ACKs, RST_STREAM,
// WINDOW_UPDATE) so reading never blocks on writing.
func (cc *ClientConn) enqueueFrame(fn func(fr *Framer) error) {
	select {
	case cc.wch <- writeReq{fn, nil}:
	case <-cc.donec:
	}
}

// CanTakeNewRequest reports whether the connection may open one more
// stream: the pool-facing usability query.
func (cc *ClientConn) CanTakeNewRequest() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.canTakeNewRequestLocked() == nil
}

func (cc *ClientConn) canTakeNewRequestLocked() error {
	if cc.closed {
		return ErrClientConnClosed
	}
	if cc.closing || cc.goAway != nil {
		return ErrClientConnUnusable
	}
	if cc.nextStreamID > maxStreamID {
		// Stream ids are never reused; the connection is spent.
		return ErrClientConnUnusable
	}
	if !cc.peer.canOpenStream(len(cc.streams)) {
		return ErrMaxConcurrentStreams
	}
	return nil
}

// newStream assigns the next odd stream id and registers the stream.
// Requires cc.mu.
func (cc *ClientConn) newStream() *clientStream {
	cs := &clientStream{
		cc:        cc,
		ID:        cc.nextStreamID,
		state:     stateOpen,
		resc:      make(chan resAndError, 1),
		peerReset: make(chan struct{}),
		abortc:    make(chan struct{}),
	}
	cs.flow.add(int32(cc.peer.initialWindowSize))
	cs.flow.setConnFlow(&cc.flow)
	cs.inflow.init(cc.localStreamWindow, cc.updateThreshold(cc.localStreamWindow))
	cc.nextStreamID += 2
	cc.streams[cs.ID] = cs
	return cs
}

func (cc *ClientConn) streamByID(id uint32) *clientStream {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.streams[id]
}

// forgetStream drops a stream from the table. Its id stays used for
// monotonicity. Completes the GOAWAY drain when the table empties.
func (cc *ClientConn) forgetStream(id uint32) {
	cc.mu.Lock()
	delete(cc.streams, id)
	drained := cc.goAway != nil && len(cc.streams) == 0
	var gerr error
	if drained {
		gerr = GoAwayError{
			LastStreamID: cc.goAway.LastStreamID,
			ErrCode:      cc.goAway.ErrCode,
			DebugData:    cc.goAwayDebug,
		}
	}
	cc.cond.Broadcast()
	cc.mu.Unlock()
	if drained {
		cc.closeForError(gerr)
	}
}

// resetStream asks the peer to stop a stream and marks it closed
// locally.
func (cc *ClientConn) resetStream(cs *clientStream, code ErrCode) {
	cc.mu.Lock()
	cs.state = stateClosed
	cc.mu.Unlock()
	id := cs.ID
	cc.enqueueFrame(func(fr *Framer) error {
		return fr.WriteRSTStream(id, code)
	})
}

// creditConsumed returns n consumed DATA bytes to the peer's windows,
// batched per the configured update fraction. cs may be nil for bytes
// charged only against the connection window.
func (cc *ClientConn) creditConsumed(cs *clientStream, n int) {
	if n == 0 {
		return
	}
	cc.mu.Lock()
	var streamRefund, connRefund int32
	var streamID uint32
	if cs != nil && cs.state != stateClosed {
		streamRefund = cs.inflow.add(int32(n))
		streamID = cs.ID
	}
	connRefund = cc.inflow.add(int32(n))
	closed := cc.closed
	cc.mu.Unlock()
	if closed {
		return
	}
	if streamRefund > 0 || connRefund > 0 {
		cc.enqueueFrame(func(fr *Framer) error {
			if connRefund > 0 {
				if err := fr.WriteWindowUpdate(0, uint32(connRefund)); err != nil {
					return err
				}
			}
			if streamRefund > 0 {
				if err := fr.WriteWindowUpdate(streamID, uint32(streamRefund)); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// Close tears the connection down immediately. It is idempotent and
// unblocks every pending request, body read and flow-control wait with
// ErrClientConnClosed.
func (cc *ClientConn) Close() error {
	cc.closeForError(ErrClientConnClosed)
	return nil
}

// Shutdown closes gracefully: no new streams are admitted, in-flight
// streams drain, then the connection closes. ctx bounds the wait.
func (cc *ClientConn) Shutdown(ctx context.Context) error {
	cc.mu.Lock()
	cc.closing = true
	idle := len(cc.streams) == 0
	cc.mu.Unlock()
	if idle {
		return cc.Close()
	}
	done := make(chan struct{})
	go func() {
		cc.mu.Lock()
		for len(cc.streams) > 0 && !cc.closed {
			cc.cond.Wait()
		}
		cc.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		err := cc.Close()
		if g := cc.taskGroup(); g != nil {
			g.Wait()
		}
		return err
	case <-ctx.Done():
		cc.Close()
		return ctx.Err()
	}
}

// closeForError is the single teardown path. The first error wins and
// becomes the terminal error observed by all waiters.
func (cc *ClientConn) closeForError(err error) {
	cc.closeOnce.Do(func() {
		cc.mu.Lock()
		cc.phase = phaseClosed
		cc.closed = true
		cc.closedErr = err
		streams := make([]*clientStream, 0, len(cc.streams))
		for _, cs := range cc.streams {
			streams = append(streams, cs)
		}
		cc.streams = make(map[uint32]*clientStream)
		pings := cc.pings
		cc.pings = make(map[[8]byte]chan struct{})
		cc.cond.Broadcast()
		cc.mu.Unlock()

		close(cc.donec)
		cc.nc.Close()
		for _, cs := range streams {
			cs.abortStream(err)
			select {
			case cs.resc <- resAndError{err: err}:
			default:
			}
		}
		for _, ch := range pings {
			close(ch)
		}
		cc.lg.Debug("connection closed", zap.Error(err))
	})
}

// Ping sends a PING and waits for the matching ACK (identical
// payload), ctx, or connection teardown.
func (cc *ClientConn) Ping(ctx context.Context) error {
	cc.activate()
	var p [8]byte
	if _, err := rand.Read(p[:]); err != nil {
		return err
	}
	ch := make(chan struct{})
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return ErrClientConnClosed
	}
	cc.pings[p] = ch
	cc.mu.Unlock()

	if err := cc.writeFrame(ctx, func(fr *Framer) error {
		return fr.WritePing(false, p)
	}); err != nil {
		cc.mu.Lock()
		delete(cc.pings, p)
		cc.mu.Unlock()
		return err
	}
	select {
	case <-ch:
		select {
		case <-cc.donec:
			return ErrClientConnClosed
		default:
		}
		return nil
	case <-cc.donec:
		return ErrClientConnClosed
	case <-ctx.Done():
		cc.mu.Lock()
		delete(cc.pings, p)
		cc.mu.Unlock()
		return ctx.Err()
	}
}

// Do issues a request and waits for the response headers. The response
// body streams; closing it releases the stream. Network-level faults
// come back as wrapped errors, never panics; argument misuse is
// rejected before any I/O.
func (cc *ClientConn) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Scheme != "" && req.Scheme != "https" {
		return nil, fmt.Errorf("h2wire: unsupported scheme %q", req.Scheme)
	}
	if req.Authority == "" {
		return nil, errors.New("h2wire: request has no authority")
	}
	cc.activate()

	cc.mu.Lock()
	if err := cc.canTakeNewRequestLocked(); err != nil {
		cc.mu.Unlock()
		return nil, err
	}
	cs := cc.newStream()
	hasBody := req.Body != nil
	hdrs := cc.encodeHeaders(req)
	maxFrame := int(cc.peer.maxFrameSize)
	cc.mu.Unlock()

	// The whole HEADERS[+CONTINUATION] block goes out as one writer
	// unit so no other stream's frames can interleave with it.
	endStream := !hasBody
	err := cc.writeFrame(ctx, func(fr *Framer) error {
		first := true
		for len(hdrs) > 0 {
			chunk := hdrs
			if len(chunk) > maxFrame {
				chunk = chunk[:maxFrame]
			}
			hdrs = hdrs[len(chunk):]
			endHeaders := len(hdrs) == 0
			if first {
				first = false
				if err := fr.WriteHeaders(HeadersFrameParam{
					StreamID:      cs.ID,
					BlockFragment: chunk,
					EndStream:     endStream,
					EndHeaders:    endHeaders,
				}); err != nil {
					return err
				}
			} else if err := fr.WriteContinuation(cs.ID, endHeaders, chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cc.forgetStream(cs.ID)
		return nil, err
	}
	if endStream {
		cc.mu.Lock()
		cs.noteLocalEndStream()
		cc.mu.Unlock()
	}

	if hasBody {
		if err := cc.writeRequestBody(ctx, cs, req.Body); err != nil {
			cc.resetStream(cs, ErrCodeCancel)
			cc.forgetStream(cs.ID)
			return nil, err
		}
	}

	select {
	case re := <-cs.resc:
		if re.err != nil {
			return nil, re.err
		}
		return re.res, nil
	case <-cs.peerReset:
		cc.forgetStream(cs.ID)
		return nil, cs.resetErr
	case <-cs.abortc:
		return nil, cs.abortErr
	case <-cc.donec:
		return nil, cc.terminalError()
	case <-ctx.Done():
		// Timeout or cancellation for this caller only; other
		// streams are untouched.
		cc.resetStream(cs, ErrCodeCancel)
		cc.forgetStream(cs.ID)
		return nil, fmt.Errorf("h2wire: request aborted: %w", ctx.Err())
	}
}

func (cc *ClientConn) terminalError() error {
	select {
	case <-cc.readerDone:
		// The dispatch loop's own verdict is the most precise account
		// of why the connection died.
		if err := cc.readerErr; err != nil {
			return err
		}
	default:
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closedErr != nil {
		return cc.closedErr
	}
	return ErrClientConnClosed
}

// writeRequestBody streams the request body as DATA frames, gated on
// both send windows, and finishes with an empty END_STREAM frame.
func (cc *ClientConn) writeRequestBody(ctx context.Context, cs *clientStream, body io.Reader) error {
	// awaitFlowControl waits on a condition variable and cannot select
	// on ctx; aborting the stream on expiry wakes it instead.
	stop := context.AfterFunc(ctx, func() {
		cs.abortStream(ctx.Err())
		cc.mu.Lock()
		cc.cond.Broadcast()
		cc.mu.Unlock()
	})
	defer stop()

	cc.mu.Lock()
	buf := make([]byte, cc.peer.maxFrameSize)
	cc.mu.Unlock()
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			remain := buf[:n]
			for len(remain) > 0 {
				allowed, err := cc.awaitFlowControl(cs, int32(len(remain)))
				if err != nil {
					return err
				}
				chunk := remain[:allowed]
				remain = remain[allowed:]
				if err := cc.writeFrame(ctx, func(fr *Framer) error {
					return fr.WriteData(cs.ID, false, chunk)
				}); err != nil {
					return err
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("h2wire: reading request body: %w", rerr)
		}
	}
	if err := cc.writeFrame(ctx, func(fr *Framer) error {
		return fr.WriteData(cs.ID, true, nil)
	}); err != nil {
		return err
	}
	cc.mu.Lock()
	cs.noteLocalEndStream()
	cc.mu.Unlock()
	return nil
}

// awaitFlowControl blocks until up to n bytes of send window are
// available on both the stream and the connection, and takes them.
func (cc *ClientConn) awaitFlowControl(cs *clientStream, n int32) (int32, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for {
		if cc.closed {
			return 0, cc.closedErrLocked()
		}
		if err := cs.checkReset(); err != nil {
			return 0, err
		}
		select {
		case <-cs.abortc:
			return 0, cs.abortErr
		default:
		}
		if a := cs.flow.available(); a > 0 {
			take := n
			if take > a {
				take = a
			}
			cs.flow.take(take)
			return take, nil
		}
		cc.cond.Wait()
	}
}

func (cc *ClientConn) closedErrLocked() error {
	if cc.closedErr != nil {
		return cc.closedErr
	}
	return ErrClientConnClosed
}

// encodeHeaders builds the request's header block: pseudo-headers
// first, then the ordered caller list, names lower-cased. Requires
// cc.mu (the encoder and its buffer are shared).
func (cc *ClientConn) encodeHeaders(req *Request) []byte {
	cc.hbuf.Reset()
	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	cc.writeHeader(":method", method)
	cc.writeHeader(":scheme", "https")
	cc.writeHeader(":authority", req.Authority)
	cc.writeHeader(":path", path)
	for _, h := range req.Header {
		name := strings.ToLower(h.Name)
		if name == "host" || name == "connection" {
			continue
		}
		cc.writeHeader(name, h.Value)
	}
	out := make([]byte, cc.hbuf.Len())
	copy(out, cc.hbuf.Bytes())
	return out
}

func (cc *ClientConn) writeHeader(name, value string) {
	cc.henc.WriteField(hpack.HeaderField{Name: name, Value: value})
}

// clientConnReadLoop is the state owned by the ClientConn's dispatch
// goroutine.
type clientConnReadLoop struct {
	cc   *ClientConn
	hdec *hpack.Decoder

	sawFirstSettings bool

	// continueStreamID is nonzero while a header block is open: only
	// CONTINUATION frames for that stream are legal until END_HEADERS.
	continueStreamID  uint32
	continueEndStream bool

	// discarding is set while an open block belongs to a stream that
	// was reset or closed: the fragments still advance the shared
	// decode context, but the fields go nowhere.
	discarding bool

	// Fields reset at each HEADERS:
	nextRes      *Response
	sawRegHeader bool
	resMalformed error
	isTrailer    bool
}

// readLoop runs in its own goroutine and reads and dispatches frames.
func (cc *ClientConn) readLoop() error {
	rl := &clientConnReadLoop{cc: cc}
	rl.hdec = hpack.NewDecoder(initialHeaderTableSize, rl.onNewHeaderField)

	err := rl.run()
	cc.readerErr = err
	if ce, ok := err.(ConnectionError); ok {
		// Best-effort GOAWAY with the fault's code before teardown.
		gctx, cancel := context.WithTimeout(context.Background(), time.Second)
		cc.writeFrame(gctx, func(fr *Framer) error {
			return fr.WriteGoAway(0, ErrCode(ce), nil)
		})
		cancel()
	}
	cc.closeForError(err)
	close(cc.readerDone)
	return nil
}

func (rl *clientConnReadLoop) run() error {
	cc := rl.cc
	for {
		f, err := cc.fr.ReadFrame()
		if err != nil {
			switch e := err.(type) {
			case StreamError:
				if cont := rl.streamFault(e.StreamID, e.Code); cont != nil {
					return cont
				}
				continue
			case oversizeFrameError:
				if cont := rl.oversizeFault(e); cont != nil {
					return cont
				}
				continue
			case ConnectionError:
				return e
			default:
				select {
				case <-cc.donec:
					return ErrClientConnClosed
				default:
				}
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return err
			}
		}
		cc.lg.Debug("read frame", zap.Stringer("frame", f.Header()))

		if !rl.sawFirstSettings {
			sf, ok := f.(*SettingsFrame)
			if !ok || sf.IsAck() {
				// The server preface must be a SETTINGS frame.
				return ConnectionError(ErrCodeProtocol)
			}
			rl.sawFirstSettings = true
		}

		// Header block contiguity: while a block is open, only
		// CONTINUATION for the same stream is legal; outside one, any
		// CONTINUATION is.
		if rl.continueStreamID != 0 {
			cf, ok := f.(*ContinuationFrame)
			if !ok || cf.StreamID != rl.continueStreamID {
				return ConnectionError(ErrCodeProtocol)
			}
		} else if _, ok := f.(*ContinuationFrame); ok {
			return ConnectionError(ErrCodeProtocol)
		}

		err = rl.processFrame(f)
		if err == nil {
			continue
		}
		if se, ok := err.(StreamError); ok {
			if cont := rl.streamFault(se.StreamID, se.Code); cont != nil {
				return cont
			}
			continue
		}
		return err
	}
}

func (rl *clientConnReadLoop) processFrame(f Frame) error {
	switch f := f.(type) {
	case *HeadersFrame:
		return rl.processHeaders(f)
	case *ContinuationFrame:
		return rl.processContinuation(f)
	case *DataFrame:
		return rl.processData(f)
	case *SettingsFrame:
		return rl.processSettings(f)
	case *WindowUpdateFrame:
		return rl.processWindowUpdate(f)
	case *RSTStreamFrame:
		return rl.processResetStream(f)
	case *PingFrame:
		return rl.processPing(f)
	case *GoAwayFrame:
		return rl.processGoAway(f)
	case *PushPromiseFrame:
		// Push is disabled and unsupported; receiving one at all is a
		// connection-level fault.
		return ConnectionError(ErrCodeProtocol)
	case *PriorityFrame:
		// Advisory only; self-dependency was rejected by the codec.
		return nil
	case *UnknownFrame:
		rl.cc.lg.Debug("ignoring unknown frame type",
			zap.Uint8("type", uint8(f.Header().Type)))
		return nil
	default:
		rl.cc.lg.Warn("unhandled frame type", zap.Stringer("frame", f.Header()))
		return nil
	}
}

// idleStreamID reports whether the peer referenced a stream id this
// client never opened: even ids (push is disabled) or odd ids above
// the highest assigned. Frames for such streams are connection-fatal.
func (cc *ClientConn) idleStreamID(id uint32) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return id%2 == 0 || id >= cc.nextStreamID
}

// streamFault resolves a stream-scoped fault: RST_STREAM, deliver the
// error to the stream's waiters, drop the stream, keep the connection.
// A fault naming an idle stream escalates to a connection error.
func (rl *clientConnReadLoop) streamFault(id uint32, code ErrCode) error {
	cc := rl.cc
	if cc.idleStreamID(id) {
		return ConnectionError(ErrCodeProtocol)
	}
	cc.lg.Debug("stream fault",
		zap.Uint32("stream", id), zap.Stringer("code", code))
	if cs := cc.streamByID(id); cs != nil {
		err := StreamError{id, code}
		cs.abortStream(err)
		select {
		case cs.resc <- resAndError{err: err}:
		default:
		}
		cc.mu.Lock()
		cs.state = stateClosed
		cc.mu.Unlock()
	}
	cc.enqueueFrame(func(fr *Framer) error {
		return fr.WriteRSTStream(id, code)
	})
	cc.forgetStream(id)
	// If the stream had a header block open it stays open: the peer's
	// remaining CONTINUATION frames are legal and still feed the
	// shared decode context (see processContinuation).
	return nil
}

// oversizeFault scopes an over-limit frame: stream-scoped for
// DATA/HEADERS attributable to a live stream, connection-fatal
// otherwise.
func (rl *clientConnReadLoop) oversizeFault(e oversizeFrameError) error {
	cc := rl.cc
	if e.Type != FrameData && e.Type != FrameHeaders {
		return ConnectionError(ErrCodeFrameSize)
	}
	if e.StreamID == 0 || cc.idleStreamID(e.StreamID) || cc.streamByID(e.StreamID) == nil {
		return ConnectionError(ErrCodeFrameSize)
	}
	return rl.streamFault(e.StreamID, ErrCodeFrameSize)
}

func (rl *clientConnReadLoop) processHeaders(f *HeadersFrame) error {
	cc := rl.cc
	id := f.StreamID
	if cc.idleStreamID(id) {
		// HEADERS for a stream we never opened (including any even
		// id): the peer referenced a nonexistent stream.
		return ConnectionError(ErrCodeProtocol)
	}
	cs := cc.streamByID(id)
	var accepts bool
	if cs != nil {
		cc.mu.Lock()
		accepts = cs.acceptsFrames()
		cc.mu.Unlock()
	}
	if cs == nil || !accepts {
		// Previously used and since closed or reset. The header block
		// still advances the shared decode context, so decode and
		// discard it; the fault stays scoped to the stream.
		rl.discarding = true
		if err := rl.discardHeaderBlockFragment(id, f.HeaderBlockFragment(), f.HeadersEnded()); err != nil {
			return err
		}
		return StreamError{id, ErrCodeStreamClosed}
	}
	rl.discarding = false
	rl.sawRegHeader = false
	rl.resMalformed = nil
	rl.isTrailer = cs.checkDelivered()
	if !rl.isTrailer {
		rl.nextRes = &Response{}
	}
	rl.continueEndStream = f.StreamEnded()
	return rl.processHeaderBlockFragment(cs, f.HeaderBlockFragment(), f.HeadersEnded())
}

func (rl *clientConnReadLoop) processContinuation(f *ContinuationFrame) error {
	cs := rl.cc.streamByID(f.StreamID)
	if cs == nil {
		// The stream vanished mid block (reset, or a local cancel).
		// The peer's remaining fragments are still legal and still
		// part of the shared decode context: decode and discard them,
		// closing the block only at END_HEADERS.
		rl.discarding = true
		return rl.discardHeaderBlockFragment(f.StreamID, f.HeaderBlockFragment(), f.HeadersEnded())
	}
	return rl.processHeaderBlockFragment(cs, f.HeaderBlockFragment(), f.HeadersEnded())
}

// discardHeaderBlockFragment runs a dead stream's block fragment
// through the decoder so the dynamic table stays in sync with the
// peer, without surfacing any field.
func (rl *clientConnReadLoop) discardHeaderBlockFragment(id uint32, frag []byte, headersEnded bool) error {
	if _, err := rl.hdec.Write(frag); err != nil {
		return ConnectionError(ErrCodeCompression)
	}
	if !headersEnded {
		rl.continueStreamID = id
		return nil
	}
	rl.continueStreamID = 0
	rl.discarding = false
	if err := rl.hdec.Close(); err != nil {
		return ConnectionError(ErrCodeCompression)
	}
	return nil
}

func (rl *clientConnReadLoop) processHeaderBlockFragment(cs *clientStream, frag []byte, headersEnded bool) error {
	if _, err := rl.hdec.Write(frag); err != nil {
		// Header compression faults poison the shared decode context.
		return ConnectionError(ErrCodeCompression)
	}
	if !headersEnded {
		rl.continueStreamID = cs.ID
		return nil
	}
	rl.continueStreamID = 0
	if err := rl.hdec.Close(); err != nil {
		return ConnectionError(ErrCodeCompression)
	}

	streamEnded := rl.continueEndStream
	if rl.resMalformed != nil {
		err := rl.resMalformed
		select {
		case cs.resc <- resAndError{err: err}:
		default:
		}
		return StreamError{cs.ID, ErrCodeProtocol}
	}

	if !rl.isTrailer {
		res := rl.nextRes
		rl.nextRes = nil
		res.Body = transportResponseBody{cs}
		cs.markDelivered()
		cs.resc <- resAndError{res: res}
	}

	if streamEnded {
		rl.endStreamRemote(cs)
	}
	return nil
}

func (rl *clientConnReadLoop) endStreamRemote(cs *clientStream) {
	cc := rl.cc
	cs.bufPipe.CloseWithError(io.EOF)
	cc.mu.Lock()
	closed := cs.noteRemoteEndStream()
	cc.mu.Unlock()
	if closed {
		cc.forgetStream(cs.ID)
	}
}

func (rl *clientConnReadLoop) processData(f *DataFrame) error {
	cc := rl.cc
	id := f.StreamID
	if cc.idleStreamID(id) {
		// DATA for a stream that never existed.
		return ConnectionError(ErrCodeProtocol)
	}
	cs := cc.streamByID(id)

	// The frame consumes connection window whether or not the stream
	// still accepts it.
	size := f.Length
	cc.mu.Lock()
	if cs == nil || !cs.acceptsFrames() {
		if size > 0 && !cc.inflow.take(size) {
			cc.mu.Unlock()
			return ConnectionError(ErrCodeFlowControl)
		}
		cc.mu.Unlock()
		// Hand the connection-level tokens straight back; nobody will
		// read this data.
		cc.creditConsumed(nil, int(size))
		return StreamError{id, ErrCodeStreamClosed}
	}
	if size > 0 && !takeInflows(&cc.inflow, &cs.inflow, size) {
		cc.mu.Unlock()
		return ConnectionError(ErrCodeFlowControl)
	}
	cc.mu.Unlock()

	if pad := f.PadLength(); pad > 0 {
		// Padding counted against both windows but carries nothing.
		cc.creditConsumed(cs, pad)
	}
	if len(f.Data()) > 0 {
		if _, err := cs.bufPipe.Write(f.Data()); err != nil {
			// Body was closed locally; the reset is already on its way.
			cc.creditConsumed(nil, len(f.Data()))
		}
	}
	if f.StreamEnded() {
		rl.endStreamRemote(cs)
	}
	return nil
}

func (rl *clientConnReadLoop) processSettings(f *SettingsFrame) error {
	cc := rl.cc
	if f.IsAck() {
		cc.mu.Lock()
		defer cc.mu.Unlock()
		if !cc.wantSettingsAck {
			return ConnectionError(ErrCodeProtocol)
		}
		cc.wantSettingsAck = false
		return nil
	}

	cc.mu.Lock()
	err := f.ForeachSetting(func(s Setting) error {
		old := cc.peer
		if err := cc.peer.apply(s); err != nil {
			return err
		}
		switch s.ID {
		case SettingInitialWindowSize:
			// Retroactively resize every open stream's send window by
			// the delta, preserving in-flight accounting.
			delta := int32(s.Val) - int32(old.initialWindowSize)
			for _, cs := range cc.streams {
				if !cs.flow.add(delta) {
					return ConnectionError(ErrCodeFlowControl)
				}
			}
			cc.cond.Broadcast()
		case SettingMaxFrameSize:
			v := s.Val
			cc.enqueueFrame(func(fr *Framer) error {
				fr.SetMaxWriteFrameSize(v)
				return nil
			})
		}
		return nil
	})
	cc.mu.Unlock()
	if err != nil {
		return err
	}

	// Every non-ACK SETTINGS frame gets exactly one prompt ACK, even
	// when empty.
	cc.enqueueFrame(func(fr *Framer) error {
		return fr.WriteSettingsAck()
	})
	return nil
}

func (rl *clientConnReadLoop) processWindowUpdate(f *WindowUpdateFrame) error {
	cc := rl.cc
	if f.StreamID == 0 {
		cc.mu.Lock()
		ok := cc.flow.add(int32(f.Increment))
		cc.cond.Broadcast()
		cc.mu.Unlock()
		if !ok {
			return ConnectionError(ErrCodeFlowControl)
		}
		return nil
	}
	if cc.idleStreamID(f.StreamID) {
		return ConnectionError(ErrCodeProtocol)
	}
	cs := cc.streamByID(f.StreamID)
	if cs == nil {
		// Legal on closed streams; ignore.
		return nil
	}
	cc.mu.Lock()
	ok := cs.flow.add(int32(f.Increment))
	cc.cond.Broadcast()
	cc.mu.Unlock()
	if !ok {
		return StreamError{f.StreamID, ErrCodeFlowControl}
	}
	return nil
}

func (rl *clientConnReadLoop) processResetStream(f *RSTStreamFrame) error {
	cc := rl.cc
	if cc.idleStreamID(f.StreamID) {
		// RST_STREAM for a stream that was never opened.
		return ConnectionError(ErrCodeProtocol)
	}
	cs := cc.streamByID(f.StreamID)
	if cs == nil {
		return nil
	}
	select {
	case <-cs.peerReset:
		// Already reset; only this goroutine closes it, no race.
	default:
		err := StreamError{cs.ID, f.ErrCode}
		cs.resetErr = err
		close(cs.peerReset)
		cs.abortStream(err)
		cc.mu.Lock()
		cs.state = stateClosed
		cc.mu.Unlock()
	}
	cc.forgetStream(cs.ID)
	return nil
}

func (rl *clientConnReadLoop) processPing(f *PingFrame) error {
	cc := rl.cc
	if f.IsAck() {
		cc.mu.Lock()
		ch, ok := cc.pings[f.Data]
		if ok {
			delete(cc.pings, f.Data)
		}
		cc.mu.Unlock()
		if ok {
			close(ch)
		}
		// An unsolicited ACK is ignored, never answered.
		return nil
	}
	data := f.Data
	cc.enqueueFrame(func(fr *Framer) error {
		return fr.WritePing(true, data)
	})
	return nil
}

func (rl *clientConnReadLoop) processGoAway(f *GoAwayFrame) error {
	cc := rl.cc
	cc.lg.Info("received GOAWAY",
		zap.Uint32("last_stream", f.LastStreamID),
		zap.Stringer("code", f.ErrCode),
		zap.ByteString("debug", f.DebugData()))

	cc.mu.Lock()
	cc.goAway = f
	cc.goAwayDebug = string(f.DebugData())
	gerr := GoAwayError{
		LastStreamID: f.LastStreamID,
		ErrCode:      f.ErrCode,
		DebugData:    cc.goAwayDebug,
	}
	var aborted []*clientStream
	for id, cs := range cc.streams {
		if id > f.LastStreamID {
			// The peer won't process these; they are safe to retry
			// elsewhere.
			aborted = append(aborted, cs)
			delete(cc.streams, id)
		}
	}
	drained := len(cc.streams) == 0
	cc.cond.Broadcast()
	cc.mu.Unlock()

	for _, cs := range aborted {
		cs.abortStream(gerr)
		select {
		case cs.resc <- resAndError{err: gerr}:
		default:
		}
	}
	if drained {
		// Nothing in flight below the fence; tear down now.
		return gerr
	}
	// In-flight streams at or below LastStreamID drain; forgetStream
	// finishes the close once the table empties.
	return nil
}

// onNewHeaderField runs on the dispatch goroutine for every decoded
// header field of the current block.
func (rl *clientConnReadLoop) onNewHeaderField(f hpack.HeaderField) {
	if rl.discarding || rl.resMalformed != nil {
		return
	}
	if strings.HasPrefix(f.Name, ":") {
		if rl.sawRegHeader || rl.isTrailer {
			rl.resMalformed = errors.New("h2wire: pseudo-header after regular header")
			return
		}
		switch f.Name {
		case ":status":
			code, err := strconv.Atoi(f.Value)
			if err != nil {
				rl.resMalformed = errors.New("h2wire: invalid :status")
				return
			}
			rl.nextRes.StatusCode = code
		default:
			rl.resMalformed = fmt.Errorf("h2wire: unknown response pseudo-header %q", f.Name)
		}
		return
	}
	rl.sawRegHeader = true
	if rl.isTrailer {
		// Trailer fields are decoded (the HPACK context must advance)
		// but not surfaced.
		return
	}
	rl.nextRes.Header = append(rl.nextRes.Header, Header{Name: f.Name, Value: f.Value})
}
