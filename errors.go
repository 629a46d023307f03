// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package syncrpc

import (
	"errors"
	"fmt"
)

// A Kind classifies the failure reported by an [*Error].
type Kind int

const (
	KindNone     Kind = iota // not a channel error
	KindSpawn                // the child process could not be started
	KindIO                   // read or write failure on the child pipes
	KindProtocol             // the framing protocol was violated
	KindEncoding             // a text response was not valid UTF-8
	KindRemote               // the child or a host callback reported an error
	KindClosed               // the channel is closed or poisoned
)

func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "SPAWN"
	case KindIO:
		return "IO"
	case KindProtocol:
		return "PROTOCOL"
	case KindEncoding:
		return "ENCODING"
	case KindRemote:
		return "REMOTE"
	case KindClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("kind %d", int(k))
	}
}

// Error is the concrete type of errors reported by the methods of a
// [Channel].
//
// For [KindRemote] errors, Message is exactly the text supplied by the
// child's Error frame or by the failed host callback. For other kinds
// the Err field, when set, carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error // nil if there is no underlying error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap reports the underlying error of e, or nil.
func (e *Error) Unwrap() error { return e.Err }

// GetKind reports the Kind of err, or [KindNone] if err is not an
// [*Error] and does not wrap one.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
