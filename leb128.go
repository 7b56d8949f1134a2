package cstruct

import "fmt"

// LEB128Type is a variable-length integer. Reads consume bytes until the
// continuation bit is clear; writes emit the minimum-length encoding.
type LEB128Type struct {
	name   string
	signed bool
}

func (t *LEB128Type) Name() string   { return t.name }
func (t *LEB128Type) Size() int      { return DynamicSize }
func (t *LEB128Type) Alignment() int { return 1 }

func (t *LEB128Type) Default() any {
	if t.signed {
		return int64(0)
	}
	return uint64(0)
}

func (t *LEB128Type) Read(c *Cursor, sc *Scope) (any, error) {
	var result uint64
	var shift uint
	var b byte
	for {
		var err error
		b, err = c.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated leb128", ErrTruncated)
		}
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if t.signed {
		v := int64(result)
		if shift < 64 && b&0x40 != 0 {
			v |= ^int64(0) << shift
		}
		return v, nil
	}
	return result, nil
}

func (t *LEB128Type) Write(c *Cursor, v any) (int, error) {
	if t.signed {
		iv, ok := toInt64(v)
		if !ok {
			return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.name)
		}
		var out []byte
		for {
			b := byte(iv & 0x7f)
			iv >>= 7
			if (iv == 0 && b&0x40 == 0) || (iv == -1 && b&0x40 != 0) {
				out = append(out, b)
				break
			}
			out = append(out, b|0x80)
		}
		return c.Write(out)
	}

	var uv uint64
	switch v := v.(type) {
	case uint64:
		uv = v
	default:
		iv, ok := toInt64(v)
		if !ok || iv < 0 {
			return 0, fmt.Errorf("%w: cannot encode %v as %s", ErrValueOutOfRange, v, t.name)
		}
		uv = uint64(iv)
	}
	var out []byte
	for {
		b := byte(uv & 0x7f)
		uv >>= 7
		if uv == 0 {
			out = append(out, b)
			break
		}
		out = append(out, b|0x80)
	}
	return c.Write(out)
}
