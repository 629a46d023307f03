// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package syncrpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// A Tag identifies the role of a [Frame] within a request exchange.
//
// The set of tags is closed: a frame bearing any other value is a
// protocol violation.
type Tag byte

const (
	TagRequest      Tag = 0 // host to child: begin a request
	TagResponse     Tag = 1 // child to host: successful terminator
	TagError        Tag = 2 // child to host: failure terminator
	TagCall         Tag = 3 // child to host: invoke a host callback
	TagCallResponse Tag = 4 // host to child: callback result
	TagCallError    Tag = 5 // host to child: callback failure

	maxTag = TagCallError
)

func (t Tag) String() string {
	switch t {
	case TagRequest:
		return "REQUEST"
	case TagResponse:
		return "RESPONSE"
	case TagError:
		return "ERROR"
	case TagCall:
		return "CALL"
	case TagCallResponse:
		return "CALL_RESPONSE"
	case TagCallError:
		return "CALL_ERROR"
	default:
		return fmt.Sprintf("TAG:%d", byte(t))
	}
}

// MaxSegmentLen is the maximum length in bytes of the name or payload
// of a single frame. A received length field exceeding this bound is a
// protocol violation.
const MaxSegmentLen = 1<<31 - 1

// Sentinel errors reported by [Frame.ReadFrom]. Both denote protocol
// violations rather than I/O failures.
var (
	ErrUnknownTag  = errors.New("unknown frame tag")
	ErrSegmentSize = errors.New("frame segment too large")
)

// Frame is the parsed format of one message on the wire.
//
// The encoding is a tag byte followed by two length-prefixed segments,
// with length fields in little-endian order:
//
//	tag(1) || name_len(4) || name || payload_len(4) || payload
//
// Names are UTF-8 by convention, but the codec treats both segments as
// opaque byte strings; either may be empty, and payloads may contain
// any bytes including newlines and NUL.
type Frame struct {
	Tag     Tag
	Name    []byte
	Payload []byte
}

// WriteTo writes the frame to w in binary format. It satisfies
// io.WriterTo. A short write is reported as an error; nothing is
// retried.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	if len(f.Name) > MaxSegmentLen {
		return 0, fmt.Errorf("%w: name is %d bytes", ErrSegmentSize, len(f.Name))
	} else if len(f.Payload) > MaxSegmentLen {
		return 0, fmt.Errorf("%w: payload is %d bytes", ErrSegmentSize, len(f.Payload))
	}

	hdr := [5]byte{byte(f.Tag)}
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(f.Name)))
	nw, err := w.Write(hdr[:])
	if err == nil && len(f.Name) != 0 {
		var nn int
		nn, err = w.Write(f.Name)
		nw += nn
	}
	if err == nil {
		var plen [4]byte
		binary.LittleEndian.PutUint32(plen[:], uint32(len(f.Payload)))
		var np int
		np, err = w.Write(plen[:])
		nw += np
	}
	if err == nil && len(f.Payload) != 0 {
		var np int
		np, err = w.Write(f.Payload)
		nw += np
	}
	return int64(nw), err
}

// ReadFrom reads a frame from r in binary format. It satisfies
// io.ReaderFrom. An EOF at a frame boundary is reported as io.EOF;
// an EOF after the first byte of a frame is a truncation and is
// reported as io.ErrUnexpectedEOF.
func (f *Frame) ReadFrom(r io.Reader) (int64, error) {
	var tag [1]byte
	nr, err := io.ReadFull(r, tag[:])
	if err != nil {
		return int64(nr), err
	}
	if Tag(tag[0]) > maxTag {
		return int64(nr), fmt.Errorf("%w %d", ErrUnknownTag, tag[0])
	}
	f.Tag = Tag(tag[0])

	name, nn, err := readSegment(r)
	nr += nn
	if err != nil {
		return int64(nr), fmt.Errorf("frame name: %w", err)
	}
	f.Name = name

	payload, np, err := readSegment(r)
	nr += np
	if err != nil {
		return int64(nr), fmt.Errorf("frame payload: %w", err)
	}
	f.Payload = payload
	return int64(nr), nil
}

// readSegment reads one length-prefixed segment from r. A nil slice is
// returned for a zero-length segment.
func readSegment(r io.Reader) ([]byte, int, error) {
	var lbuf [4]byte
	nr, err := io.ReadFull(r, lbuf[:])
	if err != nil {
		return nil, nr, noEOF(err)
	}
	slen := binary.LittleEndian.Uint32(lbuf[:])
	if slen > MaxSegmentLen {
		return nil, nr, fmt.Errorf("%w: %d bytes", ErrSegmentSize, slen)
	} else if slen == 0 {
		return nil, nr, nil
	}
	buf := make([]byte, int(slen))
	np, err := io.ReadFull(r, buf)
	nr += np
	if err != nil {
		return nil, nr, noEOF(err)
	}
	return buf, nr, nil
}

// noEOF converts io.EOF to io.ErrUnexpectedEOF. An EOF inside a frame
// means the stream was truncated mid-message.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// String returns a human-friendly rendering of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame(%v, %s, %s)", f.Tag, fmtSegment(f.Name), fmtSegment(f.Payload))
}

// fmtSegment renders a segment as a quoted string if it is short,
// valid UTF-8, or as a byte count otherwise.
func fmtSegment(seg []byte) string {
	if len(seg) <= 32 && utf8.Valid(seg) {
		return fmt.Sprintf("%q", seg)
	}
	return fmt.Sprintf("[%d bytes]", len(seg))
}
