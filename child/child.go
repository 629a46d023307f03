// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package child implements the child-process side of the syncrpc
// protocol.
//
// A child program constructs a [Service], registers a handler for each
// method it exposes, and calls [Service.RunStdio] to service requests
// from the host on its standard input and output:
//
//	svc := child.New().Handle("echo", func(ctx context.Context, req *child.Request) ([]byte, error) {
//	   return req.Payload, nil
//	})
//	if err := svc.RunStdio(); err != nil {
//	   log.Fatalf("Service failed: %v", err)
//	}
//
// While servicing a request, a handler may invoke callbacks registered
// on the host. The handler obtains the connection from its context
// with [ContextConn] and uses [Conn.Call]:
//
//	v, err := child.ContextConn(ctx).Call("lookup", req.Payload)
//
// The service is strictly sequential: one request is serviced at a
// time, and each host callback completes before the next frame is
// exchanged, as the protocol requires.
package child

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creachadair/syncrpc"
)

// A Handler services one request from the host. The data it returns
// becomes the payload of the terminating Response frame; an error is
// reported to the host as an Error frame carrying the error text.
type Handler func(ctx context.Context, req *Request) ([]byte, error)

// A Request is a parsed request from the host.
type Request struct {
	Method  string // the requested method
	Payload []byte // the request payload, opaque bytes
}

// A Service dispatches requests from the host to registered handlers.
// A zero-valued Service is ready for use, but most callers should use
// [New].
type Service struct {
	mu  sync.Mutex
	mux map[string]Handler
}

// New constructs a new, empty service.
func New() *Service { return new(Service) }

// Handle registers a handler for the specified method name. It is safe
// to call Handle while the service is running. Passing a nil handler
// removes any handler for the method. Handle returns s to permit
// chaining.
//
// As a special case, a handler registered for the empty method name is
// called for any request whose method has no more specific handler.
func (s *Service) Handle(method string, h Handler) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mux == nil {
		s.mux = make(map[string]Handler)
	}
	if h == nil {
		delete(s.mux, method)
	} else {
		s.mux[method] = h
	}
	return s
}

// Run services requests read from r, writing replies to w, until r
// reaches EOF at a frame boundary or the exchange fails. A clean EOF
// is reported as nil; any other failure is returned, including frames
// the host is not permitted to send between requests.
func (s *Service) Run(r io.Reader, w io.Writer) error {
	conn := &Conn{rd: bufio.NewReaderSize(r, 64*1024), wr: bufio.NewWriter(w)}
	for {
		var fr syncrpc.Frame
		if _, err := fr.ReadFrom(conn.rd); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if fr.Tag != syncrpc.TagRequest {
			return fmt.Errorf("unexpected %v frame from host", fr.Tag)
		}
		if err := s.serve(conn, &fr); err != nil {
			return err
		}
	}
}

// RunStdio services requests on the process's standard input and
// output. It is shorthand for Run(os.Stdin, os.Stdout).
func (s *Service) RunStdio() error { return s.Run(os.Stdin, os.Stdout) }

// serve dispatches one request and writes its terminator. An error
// return is fatal to the exchange.
func (s *Service) serve(conn *Conn, fr *syncrpc.Frame) error {
	method := string(fr.Name)
	h := s.handler(method)
	if h == nil {
		return conn.send(syncrpc.TagError, fr.Name, []byte("unknown method: "+method))
	}

	ctx := context.WithValue(context.Background(), connContextKey{}, conn)
	data, err := safeCall(ctx, h, &Request{Method: method, Payload: fr.Payload})

	// If a callback exchange broke the connection, the terminator can no
	// longer be delivered in sequence; surface the original failure.
	if conn.fatal != nil {
		return conn.fatal
	}
	if err != nil {
		return conn.send(syncrpc.TagError, fr.Name, []byte(err.Error()))
	}
	return conn.send(syncrpc.TagResponse, fr.Name, data)
}

func (s *Service) handler(method string) Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.mux[method]; ok {
		return h
	}
	return s.mux[""]
}

// safeCall invokes h, converting a panic into an error.
func safeCall(ctx context.Context, h Handler, req *Request) (_ []byte, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("handler panicked (recovered): %v", x)
		}
	}()
	return h(ctx, req)
}

// A Conn is the child's half of an open exchange with the host. It is
// owned by the service loop and must only be used from the goroutine
// running the handler.
type Conn struct {
	rd    *bufio.Reader
	wr    *bufio.Writer
	fatal error // non-nil once the exchange cannot continue
}

// Call invokes the named host callback with the given payload and
// blocks until the host replies. If the host reports a callback
// failure, the error has concrete type [*CallError] and the connection
// remains usable; any other error is fatal to the exchange.
func (c *Conn) Call(name string, payload []byte) ([]byte, error) {
	if c.fatal != nil {
		return nil, c.fatal
	}
	if err := c.send(syncrpc.TagCall, []byte(name), payload); err != nil {
		return nil, c.fail(err)
	}

	var fr syncrpc.Frame
	if _, err := fr.ReadFrom(c.rd); err != nil {
		return nil, c.fail(fmt.Errorf("read callback reply: %w", err))
	}
	if fr.Tag != syncrpc.TagCallResponse && fr.Tag != syncrpc.TagCallError {
		return nil, c.fail(fmt.Errorf("unexpected %v frame from host", fr.Tag))
	}
	if string(fr.Name) != name {
		return nil, c.fail(fmt.Errorf(
			"name mismatch for callback reply: expected %q, got %q", name, fr.Name))
	}
	if fr.Tag == syncrpc.TagCallError {
		return nil, &CallError{Name: name, Message: string(fr.Payload)}
	}
	return fr.Payload, nil
}

// send writes a frame and flushes it to the host.
func (c *Conn) send(tag syncrpc.Tag, name, payload []byte) error {
	fr := &syncrpc.Frame{Tag: tag, Name: name, Payload: payload}
	if _, err := fr.WriteTo(c.wr); err != nil {
		return err
	}
	return c.wr.Flush()
}

func (c *Conn) fail(err error) error {
	if c.fatal == nil {
		c.fatal = err
	}
	return err
}

// CallError is the concrete type of errors reported by [Conn.Call]
// when the host delivers a CallError frame. The Message is exactly the
// payload of that frame.
type CallError struct {
	Name    string // the callback that failed
	Message string // the host's error text
}

// Error satisfies the error interface.
func (c *CallError) Error() string { return c.Message }

type connContextKey struct{}

// ContextConn returns the Conn associated with the given context, or
// nil if none is defined. The context passed to a [Handler] has this
// value.
func ContextConn(ctx context.Context) *Conn {
	if v := ctx.Value(connContextKey{}); v != nil {
		return v.(*Conn)
	}
	return nil
}
