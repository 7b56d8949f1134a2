package cstruct

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// WcharType is a 2-byte wide character decoded as UTF-16. The registry
// endianness picks the byte order; there is no platform-sized wchar.
type WcharType struct {
	name   string
	endian binary.ByteOrder
}

func (t *WcharType) Name() string   { return t.name }
func (t *WcharType) Size() int      { return 2 }
func (t *WcharType) Alignment() int { return 2 }
func (t *WcharType) Default() any   { return "\x00" }

func (t *WcharType) utf16() encoding.Encoding {
	e := unicode.LittleEndian
	if t.endian == binary.BigEndian {
		e = unicode.BigEndian
	}
	return unicode.UTF16(e, unicode.IgnoreBOM)
}

func (t *WcharType) decode(b []byte) (string, error) {
	s, err := t.utf16().NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("utf-16 decode: %w", err)
	}
	return string(s), nil
}

func (t *WcharType) encode(s string) ([]byte, error) {
	b, err := t.utf16().NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("utf-16 encode: %w", err)
	}
	return b, nil
}

func (t *WcharType) Read(c *Cursor, sc *Scope) (any, error) {
	b, err := c.ReadExact(2)
	if err != nil {
		return nil, err
	}
	return t.decode(b)
}

func (t *WcharType) Write(c *Cursor, v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: cannot encode %T as wchar", ErrValueOutOfRange, v)
	}
	b, err := t.encode(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 2 {
		return 0, fmt.Errorf("%w: wchar wants exactly one UTF-16 unit", ErrValueOutOfRange)
	}
	return c.Write(b)
}
