// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package syncrpc implements a synchronous, bidirectional RPC channel
// between a host process and a spawned child process.
//
// The host issues blocking requests to the child over the child's
// standard input and output.  While a request is in flight, the child
// may synchronously invoke callbacks registered on the host, each a
// complete round trip, before delivering the terminating response.
// The calling goroutine services those callbacks itself; there are no
// background readers and no multiplexing of concurrent requests.
//
// # Channels
//
// The core type defined by this package is the [Channel].  To spawn a
// child process and obtain a channel connected to it:
//
//	ch, err := syncrpc.Open("/path/to/child", "arg1", "arg2")
//	if err != nil {
//	   log.Fatalf("Open failed: %v", err)
//	}
//	defer ch.Close()
//
// A channel may also be constructed over explicit pipe halves with
// [New], which is how the tests in this module attach an in-process
// counterpart.
//
// To issue a request and block until the child responds:
//
//	rsp, err := ch.Request("echo", `"hello"`)
//
// [Channel.Request] carries UTF-8 text; [Channel.RequestBinary] passes
// payloads through as uninterpreted bytes, which may include newlines
// and NUL.
//
// # Callbacks
//
// The child may invoke host code in the middle of servicing a request.
// Use [Channel.RegisterCallback] to install a callback by name:
//
//	ch.RegisterCallback("greet", func(name, payload string) (string, error) {
//	   return "hello, " + payload, nil
//	})
//
// Callbacks run synchronously on the goroutine blocked in the request,
// in exactly the order the child invokes them.  A callback error is
// reported to the child, and the request fails with the callback's
// message even if the child subsequently reports success.  A callback
// must not issue requests on its own channel.
//
// # Wire format
//
// Each message on the wire is a [Frame], encoded as a tag byte and two
// length-prefixed segments with all integers in little-endian order:
//
//	tag(1) || name_len(4) || name || payload_len(4) || payload
//
// The tag values are enumerated by [Tag].  Within a request, the host
// writes a Request frame and then reads frames until the terminating
// Response or Error arrives; each intervening Call frame is answered
// with exactly one CallResponse or CallError before the next frame is
// read, so the exchange is a strict ping-pong.
//
// # Errors
//
// Errors reported by a channel have concrete type [*Error], carrying a
// [Kind].  I/O failures and protocol violations poison the channel:
// every subsequent request fails immediately with [KindClosed].
// Logical failures, such as an Error frame from the child or a
// callback error, leave the channel usable for further requests.
//
// # Metrics
//
// Channels maintain a collection of counters while running.  Use the
// [Channel.Metrics] method to obtain an [expvar.Map] containing the
// metrics exported by this package.  Metrics are shared globally among
// all channels.
//
// The metrics currently exported include:
//
//   - frames_sent: counter of frames written to the child
//   - frames_received: counter of frames read from the child
//   - requests_out: counter of requests issued
//   - requests_failed: counter of requests resulting in errors
//   - callbacks_in: counter of callback invocations received
//   - callbacks_failed: counter of callback invocations reporting errors
//
// Use [Channel.LogFrames] to observe individual frames as they are
// exchanged.
//
// # The child side
//
// The child package implements the counterpart state machine for
// programs that service requests on their standard input and output.
package syncrpc
