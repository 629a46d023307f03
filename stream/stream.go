// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package stream provides helpers for streaming request results, where
// a single method call delivers a sequence of payload chunks before
// its terminating response.
//
// The chunks travel through an ordinary host callback whose name is a
// random capability generated per request, so the core channel and the
// wire protocol are unchanged: every chunk is a Call/CallResponse
// round trip inside the blocking request, and delivery remains
// strictly ordered and synchronous.
//
// The host and child halves of a streaming method must both use this
// package: [Request] appends the capability to the request payload,
// and [Handle] removes it again on the child side.
package stream

import (
	"context"
	"crypto/rand"
	"errors"
	"slices"

	"github.com/creachadair/syncrpc"
	"github.com/creachadair/syncrpc/child"
)

// A 24-byte random value acts as a capability when registered as a
// callback name. The value is not brute-forceable in reasonable time,
// and has negligible probability of collision.
const capabilityLen = 24

// mkCapability returns a random capability.
func mkCapability() string {
	var ret [capabilityLen]byte
	rand.Read(ret[:])
	return string(ret[:])
}

// getCapability removes a capability from the end of req.Payload and
// returns it.
func getCapability(req *child.Request) (string, error) {
	if len(req.Payload) < capabilityLen {
		return "", errors.New("payload too short")
	}
	ret := string(req.Payload[len(req.Payload)-capabilityLen:])
	// Trim the slice capacity so the handler cannot grow the slice and
	// recover the capability.
	req.Payload = slices.Clip(req.Payload[:len(req.Payload)-capabilityLen])
	return ret, nil
}

// Request issues a streaming request for the given method and payload
// on ch. Each chunk the child emits before the terminator is passed to
// deliver, synchronously on the calling goroutine and in emission
// order. Request returns the payload of the terminating response.
//
// If deliver reports an error, the stream is aborted: the child
// observes a callback failure for the in-flight chunk, and Request
// returns the error from deliver.
func Request(ch *syncrpc.Channel, method string, payload []byte, deliver func([]byte) error) ([]byte, error) {
	capability := mkCapability()
	defer ch.RegisterCallback(capability, nil)

	var derr error
	ch.RegisterCallback(capability, func(_, chunk string) (string, error) {
		if derr != nil {
			return "", derr
		}
		if err := deliver([]byte(chunk)); err != nil {
			derr = err
			return "", err
		}
		return "", nil
	})

	req := append(slices.Clone(payload), capability...)
	data, err := ch.RequestBinary(method, req)
	if derr != nil {
		// The channel reports the delivery failure as a remote error;
		// surface the original instead so the caller can test for it.
		return nil, derr
	}
	return data, err
}

// A HandlerFunc services a streaming request on the child side. It may
// call emit any number of times to deliver chunks to the host, then
// returns the payload for the terminating response. An error from emit
// means the host aborted the stream; the handler should stop emitting
// and return it.
type HandlerFunc func(ctx context.Context, req *child.Request, emit func([]byte) error) ([]byte, error)

// Handle registers fn on s as a handler for the given method. The
// resulting method must be invoked with [Request].
func Handle(s *child.Service, method string, fn HandlerFunc) {
	s.Handle(method, func(ctx context.Context, req *child.Request) ([]byte, error) {
		capability, err := getCapability(req)
		if err != nil {
			return nil, err
		}
		conn := child.ContextConn(ctx)
		emit := func(chunk []byte) error {
			_, err := conn.Call(capability, chunk)
			return err
		}
		return fn(ctx, req, emit)
	})
}
