// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package callback provides adapters to the syncrpc.CallbackFunc type
// for functions with other signatures.
//
// Parameters may be []byte or string, or a type whose pointer supports
// one of the encoding.BinaryUnmarshaler or encoding.TextUnmarshaler
// interfaces.
//
// Results may be []byte or string, or any type that supports one of
// the encoding.BinaryMarshaler or encoding.TextMarshaler interfaces.
package callback

import (
	"encoding"
	"fmt"

	"github.com/creachadair/syncrpc"
)

// Func adapts a function f that accepts a parameter of type P and
// returns a result of type R and an error, to a syncrpc.CallbackFunc.
// The callback name is discarded; use [NameFunc] to receive it.
func Func[P, R any](f func(P) (R, error)) syncrpc.CallbackFunc {
	return NameFunc(func(_ string, p P) (R, error) { return f(p) })
}

// NameFunc adapts a function f that accepts the callback name and a
// parameter of type P and returns a result of type R and an error, to
// a syncrpc.CallbackFunc.
func NameFunc[P, R any](f func(string, P) (R, error)) syncrpc.CallbackFunc {
	return func(name, payload string) (string, error) {
		var p P
		if err := unmarshal(payload, &p); err != nil {
			return "", err
		}
		r, err := f(name, p)
		if err != nil {
			return "", err
		}
		return marshal(r)
	}
}

// Reply returns a callback that ignores its input and replies with the
// fixed payload s.
func Reply(s string) syncrpc.CallbackFunc {
	return func(string, string) (string, error) { return s, nil }
}

// unmarshal decodes payload into v. The concrete type of v must be a
// pointer to a []byte or string, or must implement either the
// encoding.BinaryUnmarshaler interface or the encoding.TextUnmarshaler
// interface. If v implements both, BinaryUnmarshaler is preferred.
func unmarshal(payload string, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = []byte(payload)
	case *string:
		*t = payload
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary([]byte(payload))
	case encoding.TextUnmarshaler:
		return t.UnmarshalText([]byte(payload))
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

// marshal encodes v into a payload string. The concrete type of v must
// be a []byte or string, or must implement either the
// encoding.BinaryMarshaler interface or the encoding.TextMarshaler
// interface. If v implements both, BinaryMarshaler is preferred.
func marshal(v any) (string, error) {
	switch t := v.(type) {
	case []byte:
		return string(t), nil
	case string:
		return t, nil
	case encoding.BinaryMarshaler:
		data, err := t.MarshalBinary()
		return string(data), err
	case encoding.TextMarshaler:
		data, err := t.MarshalText()
		return string(data), err
	default:
		return "", fmt.Errorf("cannot marshal %T", v)
	}
}
