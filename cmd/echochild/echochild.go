// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Program echochild is a reference child process for the syncrpc
// protocol. It services requests on its standard input and output,
// and is used for manual testing and as the default target of the
// syncrpc command-line tool.
//
// Methods:
//
//	echo           reply with the request payload
//	callback-echo  invoke the host callback "echo" with the request
//	               payload and reply with its result
//	concat         invoke the host callbacks "one", "two", "three" in
//	               order and reply with their concatenated results
//	error          fail with a fixed error message
//	throw          invoke the host callback "throw" and propagate its
//	               failure
//	count          streaming: emit each byte of the payload as its own
//	               chunk, then reply with "done" (see the stream
//	               package)
package main

import (
	"bytes"
	"context"
	"errors"
	"os"

	"github.com/creachadair/syncrpc/child"
	"github.com/creachadair/syncrpc/stream"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("prog", "echochild").Logger()

	svc := child.New().
		Handle("echo", func(_ context.Context, req *child.Request) ([]byte, error) {
			return req.Payload, nil
		}).
		Handle("callback-echo", func(ctx context.Context, req *child.Request) ([]byte, error) {
			return child.ContextConn(ctx).Call("echo", req.Payload)
		}).
		Handle("concat", func(ctx context.Context, req *child.Request) ([]byte, error) {
			conn := child.ContextConn(ctx)
			var buf bytes.Buffer
			for _, name := range []string{"one", "two", "three"} {
				v, err := conn.Call(name, nil)
				if err != nil {
					return nil, err
				}
				buf.Write(v)
			}
			return buf.Bytes(), nil
		}).
		Handle("error", func(context.Context, *child.Request) ([]byte, error) {
			return nil, errors.New(`"something went wrong"`)
		}).
		Handle("throw", func(ctx context.Context, req *child.Request) ([]byte, error) {
			return child.ContextConn(ctx).Call("throw", req.Payload)
		})

	stream.Handle(svc, "count", func(_ context.Context, req *child.Request, emit func([]byte) error) ([]byte, error) {
		for _, b := range req.Payload {
			if err := emit([]byte{b}); err != nil {
				return nil, err
			}
		}
		return []byte("done"), nil
	})

	if err := svc.RunStdio(); err != nil {
		logger.Fatal().Err(err).Msg("service failed")
	}
}
