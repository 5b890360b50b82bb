// Copyright 2024 The dexunpacker Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package dex

import "errors"

// ErrorKind classifies the recoverable error conditions the scanner and
// parser can hit. The scanner swallows every kind; the parser surfaces one
// only when a top-level index table cannot be read. The unrecoverable
// managed-runtime state is vm.ErrFatal, not a kind here.
type ErrorKind int

const (
	// KindNone is the zero value; never surfaced on an actual error.
	KindNone ErrorKind = iota

	// KindBadAddress means a remote-memory read faulted.
	KindBadAddress

	// KindShort means fewer bytes were read than requested, but at least
	// one byte came back. Source.ReadAt never reports a short read as an
	// error; readExact, which needs a complete record, returns this kind.
	KindShort

	// KindOther covers every other remote-read failure (e.g. ESRCH).
	KindOther

	// KindMalformed means a structural DEX invariant was violated
	// (header bounds, table-size overflow, bad map-list size, ...).
	KindMalformed

	// KindIndexOutOfRange means a cross-reference index pointed past a
	// table's declared size. Recovered to a sentinel, never fatal.
	KindIndexOutOfRange
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadAddress:
		return "bad address"
	case KindShort:
		return "short read"
	case KindOther:
		return "other"
	case KindMalformed:
		return "malformed"
	case KindIndexOutOfRange:
		return "index out of range"
	default:
		return "none"
	}
}

// Error wraps a lower-level cause with the ErrorKind callers switch on.
type Error struct {
	Kind ErrorKind
	Addr uintptr
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// test with errors.Is(err, &Error{Kind: KindBadAddress}).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinel errors for conditions that carry no useful address or cause.
var (
	// ErrOutsideBoundary is returned when a read or index lies outside a
	// table's declared bounds.
	ErrOutsideBoundary = errors.New("dex: read outside declared boundary")

	// ErrOverflow is returned when a table-size computation would overflow
	// or exceed the parser's sanity cap.
	ErrOverflow = errors.New("dex: size computation overflow or too large")

	// ErrNotMapped is returned when an address does not fall inside any
	// readable mapping in the current snapshot.
	ErrNotMapped = errors.New("dex: address not inside a readable mapping")

	// ErrBadMapList is returned when a candidate's map-list size field is
	// zero or implausibly large.
	ErrBadMapList = errors.New("dex: map list size out of accepted range")
)
