// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package syncrpc

import (
	"bufio"
	"errors"
	"expvar"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/creachadair/mds/value"
	"github.com/creachadair/syncrpc/subproc"
)

// readBufSize is the size of the buffer on the read half of a channel,
// chosen so that decoding a small frame does not issue a syscall per
// segment.
const readBufSize = 64 * 1024

// A CallbackFunc services a callback invoked by the child during a
// request. It receives the callback name and the payload from the
// child's Call frame, and returns the payload for the CallResponse.
// An error reported by a CallbackFunc is delivered to the child as a
// CallError, and the request fails with the same message.
//
// Payloads at this boundary are string-typed; a Go string may carry
// arbitrary bytes, so no transcoding is applied in either direction.
type CallbackFunc func(name, payload string) (string, error)

// A FrameInfo combines a frame and a flag indicating whether the frame
// was sent or received.
type FrameInfo struct {
	*Frame      // the frame being logged
	Sent   bool // whether the frame was sent (true) or received (false)
}

func (f FrameInfo) dir() string { return value.Cond(f.Sent, "send", "recv") }

func (f FrameInfo) String() string { return fmt.Sprintf("%s %v", f.dir(), f.Frame) }

// A FrameLogger logs a frame exchanged with the child.
type FrameLogger func(fi FrameInfo)

// A Channel is a synchronous RPC connection to a child process.
//
// Requests are serialized: a request monopolizes the channel until its
// terminating response arrives, and the calling goroutine services any
// callbacks the child invokes along the way.  All other methods are
// safe for concurrent use; in particular [Channel.Close] may be called
// from another goroutine to break a stuck request.
type Channel struct {
	reqMu sync.Mutex // serializes requests; held for a full exchange
	rd    *bufio.Reader
	wr    *bufio.Writer

	wc   io.WriteCloser // underlying write half, closed by Close
	proc *subproc.Proc  // nil when the channel was built over explicit pipes

	mu     sync.Mutex // guards the fields below
	cbs    map[string]CallbackFunc
	flog   FrameLogger
	closed bool
	broken error // non-nil once the channel is poisoned
}

// New constructs a channel over explicit pipe halves: frames are read
// from r and written to w. The channel takes ownership of w and closes
// it when the channel is closed. New panics if r or w is nil.
//
// Most callers should use [Open], which spawns a child process and
// supervises it for the life of the channel.
func New(r io.Reader, w io.WriteCloser) *Channel {
	if r == nil || w == nil {
		panic("syncrpc: nil channel pipe")
	}
	return &Channel{
		rd:  bufio.NewReaderSize(r, readBufSize),
		wr:  bufio.NewWriter(w),
		wc:  w,
		cbs: make(map[string]CallbackFunc),
	}
}

// Open spawns exe with the given arguments and returns a channel
// connected to its standard input and output. The child inherits the
// parent's stderr. If the process cannot be started, Open reports an
// error of [KindSpawn].
func Open(exe string, args ...string) (*Channel, error) {
	p, err := subproc.Spawn(exe, args...)
	if err != nil {
		return nil, &Error{Kind: KindSpawn, Message: fmt.Sprintf("spawn %s", exe), Err: err}
	}
	ch := New(p.Stdout(), p.Stdin())
	ch.proc = p
	return ch, nil
}

// RegisterCallback installs fn as the callback for the given name,
// replacing any previous binding. Passing a nil fn removes the
// binding. It is safe to call RegisterCallback at any time, but
// registrations made while a request is in flight are not guaranteed
// to be visible to that request.
func (c *Channel) RegisterCallback(name string, fn CallbackFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.cbs, name)
	} else {
		c.cbs[name] = fn
	}
}

// LogFrames registers a callback that will be invoked for each frame
// exchanged with the child. The logger runs synchronously with the
// exchange, on the goroutine performing the request. Passing a nil
// callback disables frame logging.
func (c *Channel) LogFrames(fn FrameLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flog = fn
}

// Metrics returns a metrics map for the channel. Metrics are shared
// globally among all channels in the process. It is safe for the
// caller to add additional metrics to the map.
func (c *Channel) Metrics() *expvar.Map { return metrics.emap }

// Request sends a request to the child and blocks until the child
// delivers its response, servicing any callbacks the child invokes in
// the interim. The method and payload are sent as UTF-8 text, and the
// response payload is returned as a string. If the response is not
// valid UTF-8, Request reports an error of [KindEncoding]; the channel
// remains usable.
func (c *Channel) Request(method, payload string) (string, error) {
	data, err := c.RequestBinary(method, []byte(payload))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		metrics.reqFailed.Add(1)
		return "", &Error{Kind: KindEncoding,
			Message: fmt.Sprintf("response for %q is not valid UTF-8", method)}
	}
	return string(data), nil
}

// RequestBinary sends a request to the child and blocks until the
// child delivers its response, servicing any callbacks the child
// invokes in the interim. The payload is passed through untouched in
// both directions and may contain arbitrary bytes.
func (c *Channel) RequestBinary(method string, payload []byte) ([]byte, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	metrics.reqOut.Add(1)
	data, err := c.exchange(method, payload)
	if err != nil {
		metrics.reqFailed.Add(1)
	}
	return data, err
}

// Close shuts down the channel: the child's stdin is closed to signal
// EOF, and if the channel owns a child process the process is given a
// grace period to exit before it is killed. Close is idempotent, and
// may be called from another goroutine while a request is in flight;
// the pending read then fails and the request reports an error of
// [KindIO].
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.wc.Close()
	if c.proc != nil {
		c.proc.Close()
	}
	return nil
}

// exchange drives one complete request exchange. The caller must hold
// reqMu.
func (c *Channel) exchange(method string, payload []byte) ([]byte, error) {
	if err := c.state(); err != nil {
		return nil, err
	}
	if err := c.send(&Frame{Tag: TagRequest, Name: []byte(method), Payload: payload}); err != nil {
		return nil, c.fail(&Error{Kind: KindIO, Message: "write request", Err: err})
	}

	// The first host-side callback failure, if any. It takes precedence
	// over the terminator so that the original cause is not masked by
	// the child's reaction to it.
	var cbErr error

	for {
		fr, err := c.recv()
		if err != nil {
			kind := KindIO
			if errors.Is(err, ErrUnknownTag) || errors.Is(err, ErrSegmentSize) {
				kind = KindProtocol
			}
			return nil, c.fail(&Error{Kind: kind, Message: "read frame", Err: err})
		}

		switch fr.Tag {
		case TagResponse, TagError:
			if string(fr.Name) != method {
				return nil, c.fail(&Error{Kind: KindProtocol, Message: fmt.Sprintf(
					"name mismatch for response: expected %q, got %q", method, fr.Name)})
			}
			if cbErr != nil {
				return nil, cbErr
			}
			if fr.Tag == TagError {
				return nil, &Error{Kind: KindRemote, Message: string(fr.Payload)}
			}
			return fr.Payload, nil

		case TagCall:
			if err := c.serveCall(fr, &cbErr); err != nil {
				return nil, c.fail(err)
			}

		default:
			return nil, c.fail(&Error{Kind: KindProtocol,
				Message: fmt.Sprintf("unexpected %v frame from child", fr.Tag)})
		}
	}
}

// serveCall dispatches one Call frame to the registry and writes the
// reply. An error return is protocol fatal; callback failures are
// recorded through firstErr and do not poison the channel.
func (c *Channel) serveCall(fr *Frame, firstErr *error) error {
	metrics.callbackIn.Add(1)
	name := string(fr.Name)

	fn := c.callback(name)
	if fn == nil {
		metrics.callbackErr.Add(1)
		return c.reply(TagCallError, fr.Name, []byte("no such callback: "+name))
	}

	res, err := invoke(fn, name, string(fr.Payload))
	if err != nil {
		metrics.callbackErr.Add(1)
		if *firstErr == nil {
			*firstErr = &Error{Kind: KindRemote, Message: err.Error()}
		}
		return c.reply(TagCallError, fr.Name, []byte(err.Error()))
	}
	return c.reply(TagCallResponse, fr.Name, []byte(res))
}

// invoke runs fn, converting a panic into an error.
func invoke(fn CallbackFunc, name, payload string) (_ string, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("callback %q panicked (recovered): %v", name, x)
		}
	}()
	return fn(name, payload)
}

func (c *Channel) reply(tag Tag, name, payload []byte) error {
	if err := c.send(&Frame{Tag: tag, Name: name, Payload: payload}); err != nil {
		return &Error{Kind: KindIO, Message: "write " + tag.String(), Err: err}
	}
	return nil
}

// send writes fr and flushes it to the underlying pipe, so that no
// frame is ever held back in the write buffer.
func (c *Channel) send(fr *Frame) error {
	if flog := c.frameLog(); flog != nil {
		flog(FrameInfo{Frame: fr, Sent: true})
	}
	if _, err := fr.WriteTo(c.wr); err != nil {
		return err
	}
	if err := c.wr.Flush(); err != nil {
		return err
	}
	metrics.framesSent.Add(1)
	return nil
}

func (c *Channel) recv() (*Frame, error) {
	var fr Frame
	if _, err := fr.ReadFrom(c.rd); err != nil {
		return nil, err
	}
	metrics.framesRecv.Add(1)
	if flog := c.frameLog(); flog != nil {
		flog(FrameInfo{Frame: &fr, Sent: false})
	}
	return &fr, nil
}

// state reports an error if the channel is closed or poisoned.
func (c *Channel) state() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return &Error{Kind: KindClosed, Message: "channel poisoned", Err: c.broken}
	}
	if c.closed {
		return &Error{Kind: KindClosed, Message: "channel closed"}
	}
	return nil
}

// fail poisons the channel and returns err.
func (c *Channel) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = err
	}
	return err
}

func (c *Channel) callback(name string) CallbackFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cbs[name]
}

func (c *Channel) frameLog() FrameLogger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flog
}
