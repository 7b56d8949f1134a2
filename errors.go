package cstruct

import (
	"errors"
	"fmt"
)

var (
	// ErrParse is returned for malformed definition text.
	ErrParse = errors.New("parse error")
	// ErrUnknownType is returned when a definition references an undeclared type.
	ErrUnknownType = errors.New("unknown type")
	// ErrRedefinition is returned when a name is redefined incompatibly.
	ErrRedefinition = errors.New("redefinition")
	// ErrDuplicateField is returned when two fields, including promoted
	// anonymous ones, share a name.
	ErrDuplicateField = errors.New("duplicate field")
	// ErrBadExpression is returned for division by zero, oversized shifts,
	// unknown identifiers or non-integer results in constant expressions.
	ErrBadExpression = errors.New("bad expression")
	// ErrTruncated is returned when the cursor is exhausted during a read.
	ErrTruncated = errors.New("truncated")
	// ErrInvalidBitfield is returned for bitfield widths larger than their
	// storage type or non-integer storage types.
	ErrInvalidBitfield = errors.New("invalid bitfield")
	// ErrValueOutOfRange is returned when writing a value that does not fit
	// its declared width.
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrNullDereference is returned when a pointer is dereferenced without
	// a resolver or with a zero address.
	ErrNullDereference = errors.New("null pointer dereference")
)

// Pos is a line/column position in definition text.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// posError wraps an error with the definition position it occurred at.
type posError struct {
	Pos Pos
	Err error
}

func (e posError) Unwrap() error { return e.Err }

func (e posError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Err)
}

// fieldError wraps a codec error with the path of the field being read or
// written, e.g. "pkt.hdr.len".
type fieldError struct {
	Path string
	Err  error
}

func (e fieldError) Unwrap() error { return e.Err }

func (e fieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

func fieldErrorf(path string, err error) error {
	if err == nil {
		return nil
	}
	var fe fieldError
	if errors.As(err, &fe) {
		return fieldError{Path: path + "." + fe.Path, Err: fe.Err}
	}
	return fieldError{Path: path, Err: err}
}
