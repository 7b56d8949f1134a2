package cstruct

import (
	"fmt"
	"io"
)

// Pointer is an integer of the registry's pointer width holding an address
// into the cursor the value was read from.
type Pointer struct {
	target Type
	word   *IntType
}

// PointerTo returns a pointer type to target using reg's pointer width.
func PointerTo(reg *Registry, target Type) *Pointer {
	return &Pointer{target: target, word: reg.pointerWord()}
}

func (t *Pointer) Name() string   { return t.target.Name() + "*" }
func (t *Pointer) Size() int      { return t.word.Size() }
func (t *Pointer) Alignment() int { return t.word.Alignment() }

// Target returns the pointed-to type.
func (t *Pointer) Target() Type { return t.target }

func (t *Pointer) Default() any {
	return &PointerValue{typ: t}
}

func (t *Pointer) Read(c *Cursor, sc *Scope) (any, error) {
	raw, err := t.word.Read(c, sc)
	if err != nil {
		return nil, err
	}
	addr, _ := raw.(uint64)
	pv := &PointerValue{typ: t, Addr: addr}
	if c.Seekable() {
		pv.cur = c
		pv.sc = sc
	}
	return pv, nil
}

func (t *Pointer) Write(c *Cursor, v any) (int, error) {
	switch v := v.(type) {
	case *PointerValue:
		return t.word.Write(c, v.Addr)
	case nil:
		return t.word.Write(c, uint64(0))
	}
	if iv, ok := toInt64(v); ok {
		return t.word.Write(c, uint64(iv))
	}
	return 0, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.Name())
}

// PointerValue is a parsed pointer: an address plus the cursor it can be
// resolved against. A pointer read from a non-seekable stream has no
// resolver and fails to dereference.
type PointerValue struct {
	typ  *Pointer
	cur  *Cursor
	sc   *Scope
	Addr uint64

	value any
}

func (v *PointerValue) String() string {
	return fmt.Sprintf("<%s @ %#x>", v.typ.Name(), v.Addr)
}

// IsNull reports whether the address is zero.
func (v *PointerValue) IsNull() bool { return v.Addr == 0 }

// Bind attaches a resolver to dereference against, replacing the cursor the
// pointer was read from. Useful when addresses refer to a separate memory
// image rather than the parsed buffer.
func (v *PointerValue) Bind(c *Cursor) {
	v.cur = c
	v.value = nil
}

// Add returns a pointer of the same type offset by n bytes.
func (v *PointerValue) Add(n int64) *PointerValue {
	return &PointerValue{typ: v.typ, cur: v.cur, sc: v.sc, Addr: uint64(int64(v.Addr) + n)}
}

// Sub returns a pointer of the same type offset backwards by n bytes.
func (v *PointerValue) Sub(n int64) *PointerValue {
	return v.Add(-n)
}

// Diff returns the byte distance v - o.
func (v *PointerValue) Diff(o *PointerValue) int64 {
	return int64(v.Addr) - int64(o.Addr)
}

// Cmp compares addresses: -1 if v < o, 0 if equal, 1 if v > o.
func (v *PointerValue) Cmp(o *PointerValue) int {
	switch {
	case v.Addr < o.Addr:
		return -1
	case v.Addr > o.Addr:
		return 1
	}
	return 0
}

// Dereference reads the target value at the pointer's address. A char
// target reads a null-terminated byte string. The cursor position is
// restored afterwards and the value is cached.
func (v *PointerValue) Dereference() (any, error) {
	if v.Addr == 0 || v.cur == nil {
		return nil, ErrNullDereference
	}
	if v.value != nil {
		return v.value, nil
	}

	pos := v.cur.Tell()
	if _, err := v.cur.Seek(int(v.Addr), io.SeekStart); err != nil {
		return nil, err
	}
	defer v.cur.Seek(pos, io.SeekStart)

	var val any
	var err error
	if _, isChar := v.typ.target.(*CharType); isChar {
		val, err = SentinelArrayOf(v.typ.target).Read(v.cur, v.sc)
	} else {
		val, err = v.typ.target.Read(v.cur, v.sc)
	}
	if err != nil {
		return nil, err
	}
	v.value = val
	return val, nil
}
