package cstruct

import (
	"fmt"
	"io"
)

// Union overlays its fields at the same offset; its size is the largest
// member's size. Every member is parsed from the same starting position and
// the members share one backing byte region.
type Union struct {
	Structure
}

// NewUnion builds a union type from fields.
func NewUnion(reg *Registry, name string, fields []*Field) (*Union, error) {
	for _, f := range fields {
		if f.Bits > 0 {
			return nil, fmt.Errorf("%w: bitfields are not supported in unions", ErrInvalidBitfield)
		}
	}
	u := &Union{Structure: Structure{name: name, reg: reg}}
	if err := u.setFields(fields); err != nil {
		return nil, err
	}

	// members overlay at the union start
	size := 0
	for _, f := range fields {
		f.Offset = 0
		if size >= 0 {
			if isDynamic(f.Type) {
				size = DynamicSize
			} else if f.Type.Size() > size {
				size = f.Type.Size()
			}
		}
	}
	u.size = size
	return u, nil
}

func (t *Union) Size() int { return t.size }

func (t *Union) Default() any {
	inst := newInstance(t)
	for _, f := range t.fields {
		inst.values[f.storageName()] = defaultFieldValue(f)
	}
	if t.size > 0 {
		inst.buf = make([]byte, t.size)
	}
	return inst
}

func (t *Union) Read(c *Cursor, sc *Scope) (any, error) {
	if t.size >= 0 {
		buf, err := c.ReadExact(t.size)
		if err != nil {
			return nil, err
		}
		inst, err := t.readMembers(NewCursor(buf), t.size)
		if err != nil {
			return nil, err
		}
		inst.buf = append([]byte{}, buf...)
		inst.readSize = t.size
		return inst, nil
	}

	// dynamic union: every member re-reads the same region, so the cursor
	// must be seekable
	if !c.Seekable() {
		return nil, fmt.Errorf("%w: dynamic union %s needs a seekable cursor", ErrTruncated, t.name)
	}

	start := c.Tell()
	inst := newInstance(t)
	inner := newScope(t.reg)
	end := start
	for _, f := range t.fields {
		name := f.storageName()
		if _, err := c.Seek(start, io.SeekStart); err != nil {
			return nil, err
		}
		v, err := f.Type.Read(c, inner)
		if err != nil {
			return nil, fieldErrorf(name, err)
		}
		inst.values[name] = v
		inst.sizes[name] = c.Tell() - start
		inner.set(name, v)
		if c.Tell() > end {
			end = c.Tell()
		}
	}
	if _, err := c.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	buf, err := c.ReadExact(end - start)
	if err != nil {
		return nil, err
	}
	inst.buf = append([]byte{}, buf...)
	inst.readSize = end - start
	return inst, nil
}

// readMembers parses every member from position 0 of sub.
func (t *Union) readMembers(sub *Cursor, size int) (*Instance, error) {
	inst := newInstance(t)
	inner := newScope(t.reg)
	for _, f := range t.fields {
		name := f.storageName()
		if _, err := sub.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		v, err := f.Type.Read(sub, inner)
		if err != nil {
			return nil, fieldErrorf(name, err)
		}
		inst.values[name] = v
		inst.sizes[name] = sub.Tell()
		inner.set(name, v)
	}
	return inst, nil
}

// instanceFor shadows the structure version so map and nil values produce
// union-shaped instances.
func (t *Union) instanceFor(v any) (*Instance, error) {
	switch v := v.(type) {
	case *Instance:
		return v, nil
	case map[string]any:
		inst := t.Default().(*Instance)
		for name, val := range v {
			if err := inst.Set(name, val); err != nil {
				return nil, err
			}
		}
		return inst, nil
	case nil:
		return t.Default().(*Instance), nil
	}
	return nil, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.name)
}

func (t *Union) Write(c *Cursor, v any) (int, error) {
	if t.size < 0 {
		return 0, fmt.Errorf("writing dynamic union %s is unsupported", t.name)
	}

	inst, err := t.instanceFor(v)
	if err != nil {
		return 0, err
	}

	if inst.buf != nil && len(inst.buf) == t.size {
		return c.Write(inst.buf)
	}

	// emit the last-assigned member zero-padded to the union size
	buf := make([]byte, t.size)
	member := inst.lastSet
	if member == "" && len(t.fields) > 0 {
		member = t.fields[0].storageName()
	}
	if member != "" {
		f, ok := t.byName[member]
		if !ok {
			return 0, fmt.Errorf("%w: %s has no member %s", ErrValueOutOfRange, t.name, member)
		}
		sub := newWriteCursor()
		if _, err := f.Type.Write(sub, inst.values[member]); err != nil {
			return 0, fieldErrorf(member, err)
		}
		if len(sub.Bytes()) > t.size {
			return 0, fmt.Errorf("%w: member %s overflows union %s", ErrValueOutOfRange, member, t.name)
		}
		copy(buf, sub.Bytes())
	}
	return c.Write(buf)
}

// rebuild re-derives every member after name was assigned: the new value is
// written into the shared buffer and all members re-read from it.
func (t *Union) rebuild(inst *Instance, name string) error {
	if t.size < 0 {
		return fmt.Errorf("modifying dynamic union %s is unsupported", t.name)
	}
	f, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s has no member %s", ErrValueOutOfRange, t.name, name)
	}

	buf := inst.buf
	if len(buf) != t.size {
		buf = make([]byte, t.size)
	}
	sub := NewCursor(buf)
	if _, err := f.Type.Write(sub, inst.values[name]); err != nil {
		return fieldErrorf(name, err)
	}
	if len(sub.Bytes()) > t.size {
		return fmt.Errorf("%w: member %s overflows union %s", ErrValueOutOfRange, name, t.name)
	}
	rebuilt := sub.Bytes()[:t.size]

	fresh, err := t.readMembers(NewCursor(rebuilt), t.size)
	if err != nil {
		return err
	}
	inst.values = fresh.values
	inst.sizes = fresh.sizes
	inst.buf = append([]byte{}, rebuilt...)
	return nil
}
