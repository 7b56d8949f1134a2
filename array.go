package cstruct

import (
	"fmt"

	"github.com/structparse/cstruct/internal/cexpr"
)

// Array is an element type with a count. The count is fixed, an expression
// evaluated against the parse scope, or a sentinel (read until the element
// type's zero value).
type Array struct {
	elem     Type
	count    int
	expr     *cexpr.Expr
	sentinel bool
}

// ArrayOf returns a fixed-count array of elem.
func ArrayOf(elem Type, count int) *Array {
	return &Array{elem: elem, count: count}
}

// SentinelArrayOf returns a zero-terminated array of elem.
func SentinelArrayOf(elem Type) *Array {
	return &Array{elem: elem, count: -1, sentinel: true}
}

func newExprArray(elem Type, expr *cexpr.Expr) *Array {
	return &Array{elem: elem, count: -1, expr: expr}
}

func (t *Array) Name() string {
	switch {
	case t.sentinel:
		return t.elem.Name() + "[]"
	case t.expr != nil:
		return fmt.Sprintf("%s[%s]", t.elem.Name(), t.expr.Str)
	}
	return fmt.Sprintf("%s[%d]", t.elem.Name(), t.count)
}

func (t *Array) Size() int {
	if t.sentinel || t.expr != nil || isDynamic(t.elem) {
		return DynamicSize
	}
	return t.count * t.elem.Size()
}

func (t *Array) Alignment() int { return t.elem.Alignment() }

// Elem returns the element type.
func (t *Array) Elem() Type { return t.elem }

func (t *Array) Default() any {
	switch t.elem.(type) {
	case *CharType:
		if t.count > 0 {
			return make([]byte, t.count)
		}
		return []byte{}
	case *WcharType:
		if t.count > 0 {
			return string(make([]rune, t.count))
		}
		return ""
	}
	if t.count > 0 {
		vs := make([]any, t.count)
		for i := range vs {
			vs[i] = t.elem.Default()
		}
		return vs
	}
	return []any{}
}

// zeroOf is the element zero value used as the sentinel. Unlike Default,
// enum zeros are the numeric zero even when no member has value 0.
func zeroOf(t Type) any {
	switch t := t.(type) {
	case *Enum:
		return EnumValue{Enum: t}
	case *Flag:
		return FlagValue{Flag: t}
	}
	return t.Default()
}

func (t *Array) Read(c *Cursor, sc *Scope) (any, error) {
	n := t.count
	if t.expr != nil {
		ev, err := evalExpr(t.expr, sc)
		if err != nil {
			return nil, err
		}
		if ev < 0 {
			return nil, fmt.Errorf("%w: array count %d is negative", ErrBadExpression, ev)
		}
		n = int(ev)
	}

	switch elem := t.elem.(type) {
	case *CharType:
		if t.sentinel {
			var buf []byte
			for {
				b, err := c.ReadByte()
				if err != nil {
					return nil, err
				}
				if b == 0 {
					break
				}
				buf = append(buf, b)
			}
			if buf == nil {
				buf = []byte{}
			}
			return buf, nil
		}
		b, err := c.ReadExact(n)
		if err != nil {
			return nil, err
		}
		out := make([]byte, n)
		copy(out, b)
		return out, nil

	case *WcharType:
		if t.sentinel {
			var buf []byte
			for {
				u, err := c.ReadExact(2)
				if err != nil {
					return nil, err
				}
				if u[0] == 0 && u[1] == 0 {
					break
				}
				buf = append(buf, u...)
			}
			return elem.decode(buf)
		}
		b, err := c.ReadExact(n * 2)
		if err != nil {
			return nil, err
		}
		return elem.decode(b)
	}

	if t.sentinel {
		zero := zeroOf(t.elem)
		var vs []any
		for {
			v, err := t.elem.Read(c, sc)
			if err != nil {
				return nil, err
			}
			if valueEqual(v, zero) {
				break
			}
			vs = append(vs, v)
		}
		if vs == nil {
			vs = []any{}
		}
		return vs, nil
	}

	vs := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := t.elem.Read(c, sc)
		if err != nil {
			return nil, fieldErrorf(fmt.Sprintf("[%d]", i), err)
		}
		vs = append(vs, v)
	}
	return vs, nil
}

func (t *Array) Write(c *Cursor, v any) (int, error) {
	switch elem := t.elem.(type) {
	case *CharType:
		var b []byte
		switch v := v.(type) {
		case []byte:
			b = v
		case string:
			b = []byte(v)
		default:
			return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.Name())
		}
		if t.count >= 0 && t.expr == nil {
			if len(b) > t.count {
				return 0, fmt.Errorf("%w: %d bytes do not fit %s", ErrValueOutOfRange, len(b), t.Name())
			}
			if len(b) < t.count {
				padded := make([]byte, t.count)
				copy(padded, b)
				b = padded
			}
		}
		n, err := c.Write(b)
		if err != nil {
			return 0, err
		}
		if t.sentinel {
			sn, err := c.Write([]byte{0})
			if err != nil {
				return 0, err
			}
			n += sn
		}
		return n, nil

	case *WcharType:
		s, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.Name())
		}
		b, err := elem.encode(s)
		if err != nil {
			return 0, err
		}
		if t.count >= 0 && t.expr == nil {
			if len(b) > t.count*2 {
				return 0, fmt.Errorf("%w: %d UTF-16 units do not fit %s", ErrValueOutOfRange, len(b)/2, t.Name())
			}
			if len(b) < t.count*2 {
				padded := make([]byte, t.count*2)
				copy(padded, b)
				b = padded
			}
		}
		n, err := c.Write(b)
		if err != nil {
			return 0, err
		}
		if t.sentinel {
			sn, err := c.Write([]byte{0, 0})
			if err != nil {
				return 0, err
			}
			n += sn
		}
		return n, nil
	}

	vs, ok := v.([]any)
	if !ok {
		return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.Name())
	}
	if t.count >= 0 && t.expr == nil && len(vs) > t.count {
		return 0, fmt.Errorf("%w: %d elements do not fit %s", ErrValueOutOfRange, len(vs), t.Name())
	}

	total := 0
	for i, ev := range vs {
		n, err := t.elem.Write(c, ev)
		if err != nil {
			return 0, fieldErrorf(fmt.Sprintf("[%d]", i), err)
		}
		total += n
	}
	if t.count >= 0 && t.expr == nil {
		for i := len(vs); i < t.count; i++ {
			n, err := t.elem.Write(c, t.elem.Default())
			if err != nil {
				return 0, err
			}
			total += n
		}
	}
	if t.sentinel {
		n, err := t.elem.Write(c, zeroOf(t.elem))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
