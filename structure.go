package cstruct

import (
	"fmt"
)

// Field is one member of a structure or union. Name is "" for anonymous
// inner structs/unions, whose fields are promoted to the enclosing type.
// Bits is 0 for non-bitfields. Offset is filled by the layout algorithm,
// -1 once a preceding field made the layout dynamic.
type Field struct {
	Name   string
	Type   Type
	Bits   int
	Offset int
}

// storageName is the key the field's value is stored under: the field name,
// or the type name for anonymous members.
func (f *Field) storageName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Type.Name()
}

// bitfieldStorage returns the integer storage type behind a bitfield, or an
// error for non-integer storage.
func bitfieldStorage(t Type) (*IntType, error) {
	switch t := t.(type) {
	case *IntType:
		return t, nil
	case *Enum:
		return t.base, nil
	case *Flag:
		return t.base, nil
	}
	return nil, fmt.Errorf("%w: %s is not an integer type", ErrInvalidBitfield, t.Name())
}

// Structure is an ordered sequence of fields with C-like packed layout.
type Structure struct {
	name      string
	fields    []*Field
	size      int
	align     int
	reg       *Registry
	anonymous bool

	// incomplete marks a forward declaration awaiting its definition
	incomplete bool

	// effective name -> promotion path of storage names, for fields of
	// anonymous inner structs/unions
	promoted map[string][]string
	byName   map[string]*Field
}

// NewStructure builds a structure type from fields. Field offsets are
// resolved and promoted names checked for duplicates.
func NewStructure(reg *Registry, name string, fields []*Field) (*Structure, error) {
	t := &Structure{name: name, reg: reg}
	if err := t.setFields(fields); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Structure) setFields(fields []*Field) error {
	t.fields = fields
	t.incomplete = false

	size, align, err := computeLayout(fields)
	if err != nil {
		return err
	}
	t.size = size
	t.align = align

	t.byName = map[string]*Field{}
	t.promoted = map[string][]string{}
	for _, f := range fields {
		sn := f.storageName()
		if _, ok := t.byName[sn]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateField, sn)
		}
		t.byName[sn] = f

		if f.Name == "" {
			inner, ok := innerStructure(f.Type)
			if !ok {
				return fmt.Errorf("%w: anonymous field must be a struct or union, got %s",
					ErrParse, f.Type.Name())
			}
			for _, en := range inner.effectiveNames() {
				if _, dup := t.promoted[en]; dup {
					return fmt.Errorf("%w: %s", ErrDuplicateField, en)
				}
				t.promoted[en] = append([]string{sn}, inner.promotionPath(en)...)
			}
		}
	}
	for en := range t.promoted {
		if _, clash := t.byName[en]; clash {
			return fmt.Errorf("%w: %s", ErrDuplicateField, en)
		}
	}
	return nil
}

func innerStructure(t Type) (*Structure, bool) {
	switch t := t.(type) {
	case *Structure:
		return t, true
	case *Union:
		return &t.Structure, true
	}
	return nil, false
}

// effectiveNames are the names reachable on an instance: named fields plus
// promoted names of anonymous members.
func (t *Structure) effectiveNames() []string {
	var names []string
	for _, f := range t.fields {
		if f.Name != "" {
			names = append(names, f.Name)
			continue
		}
		if inner, ok := innerStructure(f.Type); ok {
			names = append(names, inner.effectiveNames()...)
		}
	}
	return names
}

// promotionPath returns the storage-name path from this structure down to
// the effective name, excluding this structure itself.
func (t *Structure) promotionPath(name string) []string {
	if path, ok := t.promoted[name]; ok {
		return path
	}
	return []string{name}
}

// computeLayout resolves field offsets, packing consecutive bitfields of
// the same storage type into shared units. Returns DynamicSize once any
// field has no static size.
func computeLayout(fields []*Field) (int, int, error) {
	offset := 0
	align := 1

	var bitsType *IntType
	bitsRemaining := 0
	bitsOffset := 0

	for _, f := range fields {
		if a := f.Type.Alignment(); a > align {
			align = a
		}

		if f.Bits > 0 {
			storage, err := bitfieldStorage(f.Type)
			if err != nil {
				return 0, 0, err
			}
			if f.Bits > storage.bits() {
				return 0, 0, fmt.Errorf("%w: %d bits in %s storage", ErrInvalidBitfield, f.Bits, storage.name)
			}

			sameRun := bitsType != nil &&
				bitsType.size == storage.size && bitsType.endian == storage.endian
			if !sameRun || bitsRemaining < f.Bits {
				bitsType = storage
				bitsRemaining = storage.bits()
				bitsOffset = offset
				if offset >= 0 {
					offset += storage.size
				}
			}
			f.Offset = bitsOffset
			bitsRemaining -= f.Bits
			continue
		}

		bitsType = nil
		bitsRemaining = 0

		f.Offset = offset
		if offset >= 0 {
			if isDynamic(f.Type) {
				offset = DynamicSize
			} else {
				offset += f.Type.Size()
			}
		}
	}

	if offset < 0 {
		return DynamicSize, align, nil
	}
	return offset, align, nil
}

func (t *Structure) Name() string   { return t.name }
func (t *Structure) Size() int      { return t.size }
func (t *Structure) Alignment() int { return t.align }

// Fields returns the declared fields in order.
func (t *Structure) Fields() []*Field { return t.fields }

// Field looks up a field by its storage name.
func (t *Structure) Field(name string) (*Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

func (t *Structure) Default() any {
	inst := newInstance(t)
	for _, f := range t.fields {
		inst.values[f.storageName()] = defaultFieldValue(f)
	}
	return inst
}

// defaultFieldValue is the zero-equivalent for a field; bitfields default
// to a plain zero of their storage signedness.
func defaultFieldValue(f *Field) any {
	if f.Bits > 0 {
		storage, err := bitfieldStorage(f.Type)
		if err == nil && storage.signed {
			return int64(0)
		}
		switch f.Type.(type) {
		case *Enum, *Flag:
			return f.Type.Default()
		}
		return uint64(0)
	}
	return f.Type.Default()
}

func (t *Structure) Read(c *Cursor, sc *Scope) (any, error) {
	if t.incomplete {
		return nil, fmt.Errorf("%w: %s is only forward declared", ErrUnknownType, t.name)
	}

	start := c.Tell()
	inst := newInstance(t)
	inner := newScope(t.reg)
	bb := newBitBuffer(c)

	for _, f := range t.fields {
		name := f.storageName()
		fieldStart := c.Tell()

		if f.Bits > 0 {
			storage, err := bitfieldStorage(f.Type)
			if err != nil {
				return nil, fieldErrorf(name, err)
			}
			raw, err := bb.read(storage, f.Bits)
			if err != nil {
				return nil, fieldErrorf(name, err)
			}
			v := bitfieldValue(f.Type, storage, raw)
			inst.values[name] = v
			inst.sizes[name] = 0
			inner.set(name, v)
			continue
		}

		bb.reset()

		v, err := f.Type.Read(c, inner)
		if err != nil {
			return nil, fieldErrorf(name, err)
		}
		inst.values[name] = v
		inst.sizes[name] = c.Tell() - fieldStart
		inner.set(name, v)
	}

	inst.readSize = c.Tell() - start
	return inst, nil
}

// bitfieldValue wraps extracted bits in the field's declared type.
func bitfieldValue(t Type, storage *IntType, raw uint64) any {
	switch t := t.(type) {
	case *Enum:
		return EnumValue{Enum: t, Value: int64(raw)}
	case *Flag:
		return FlagValue{Flag: t, Value: int64(raw)}
	}
	if storage.signed {
		return int64(raw)
	}
	return raw
}

func (t *Structure) Write(c *Cursor, v any) (int, error) {
	inst, err := t.instanceFor(v)
	if err != nil {
		return 0, err
	}

	start := c.Tell()
	bb := newBitBuffer(c)

	for _, f := range t.fields {
		name := f.storageName()
		fv, ok := inst.values[name]
		if !ok || fv == nil {
			fv = defaultFieldValue(f)
		}

		if f.Bits > 0 {
			storage, err := bitfieldStorage(f.Type)
			if err != nil {
				return 0, fieldErrorf(name, err)
			}
			iv, ok := toInt64(fv)
			if !ok {
				return 0, fieldErrorf(name, fmt.Errorf("%w: cannot encode %T as bitfield", ErrValueOutOfRange, fv))
			}
			var u uint64
			if iv < 0 {
				if f.Bits == 64 || iv < -(int64(1)<<(f.Bits-1)) {
					return 0, fieldErrorf(name, fmt.Errorf("%w: %d does not fit %d bits", ErrValueOutOfRange, iv, f.Bits))
				}
				u = uint64(iv) & maskBits(f.Bits)
			} else {
				u = uint64(iv)
				if u > maskBits(f.Bits) {
					return 0, fieldErrorf(name, fmt.Errorf("%w: %d does not fit %d bits", ErrValueOutOfRange, iv, f.Bits))
				}
			}
			if err := bb.write(storage, u, f.Bits); err != nil {
				return 0, fieldErrorf(name, err)
			}
			continue
		}

		if bb.active() {
			if err := bb.flush(); err != nil {
				return 0, err
			}
		}

		if _, err := f.Type.Write(c, fv); err != nil {
			return 0, fieldErrorf(name, err)
		}
	}

	if err := bb.flush(); err != nil {
		return 0, err
	}
	return c.Tell() - start, nil
}

// instanceFor coerces a write value to an instance of this type: an
// *Instance as-is, or a field-name map.
func (t *Structure) instanceFor(v any) (*Instance, error) {
	switch v := v.(type) {
	case *Instance:
		return v, nil
	case map[string]any:
		return t.build(v)
	case nil:
		return t.Default().(*Instance), nil
	}
	return nil, fmt.Errorf("%w: cannot encode %T as %s", ErrValueOutOfRange, v, t.name)
}

// build constructs an instance from named values, defaulting missing
// fields. Promoted names are routed into their anonymous inner instance.
func (t *Structure) build(values map[string]any) (*Instance, error) {
	inst := t.Default().(*Instance)
	for name, v := range values {
		if err := inst.Set(name, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}
