package cstruct

import (
	"fmt"
	"strings"

	"github.com/mitchellh/copystructure"
	"github.com/mitchellh/mapstructure"
)

// Instance is a parsed structure or union value: an ordered mapping from
// field name to value. Values are the kinds produced by Type.Read:
//
//	integer types    int64 (signed) / uint64 (unsigned)
//	floating types   float64
//	char, char[n]    []byte
//	wchar, wchar[n]  string
//	enum / flag      EnumValue / FlagValue
//	arrays           []any
//	pointers         *PointerValue
//	struct / union   *Instance
//	void             nil
//
// Fields of anonymous inner structs/unions are promoted: reachable by their
// bare name directly on this instance.
type Instance struct {
	typ    Type
	values map[string]any
	// consumed byte size per field from parsing, kept so dynamic fields
	// re-emit faithfully
	sizes map[string]int
	// unions: the shared backing bytes
	buf     []byte
	lastSet string
	// total bytes consumed when this instance was parsed
	readSize int
}

func newInstance(t Type) *Instance {
	return &Instance{
		typ:    t,
		values: map[string]any{},
		sizes:  map[string]int{},
	}
}

// NewInstance constructs a default-valued instance of t, which must be a
// structure or union type. Field defaults are built fresh for each instance,
// so instances never share backing storage.
func NewInstance(t Type, values map[string]any) (*Instance, error) {
	st, ok := innerStructure(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a structure or union", ErrUnknownType, t.Name())
	}
	var inst *Instance
	switch tt := t.(type) {
	case *Union:
		inst = tt.Default().(*Instance)
	default:
		inst = st.Default().(*Instance)
	}
	// Default builds fresh values on every call. Byte strings are deep-copied
	// on top of that; enum, flag, pointer, array and nested instance values
	// are kept as built, since a deep copy would also clone the types they
	// refer to and drop those types' unexported state.
	for name, v := range inst.values {
		if b, ok := v.([]byte); ok {
			if copied, err := copystructure.Copy(b); err == nil {
				inst.values[name] = copied
			}
		}
	}
	for name, v := range values {
		if err := inst.Set(name, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Type returns the instance's type.
func (i *Instance) Type() Type { return i.typ }

func (i *Instance) structure() *Structure {
	st, _ := innerStructure(i.typ)
	return st
}

// Has reports whether name is a field or promoted field of this instance.
func (i *Instance) Has(name string) bool {
	st := i.structure()
	if _, ok := st.byName[name]; ok {
		return true
	}
	_, ok := st.promoted[name]
	return ok
}

// Get returns the value of a field or promoted field.
func (i *Instance) Get(name string) any {
	v, err := i.get(name)
	if err != nil {
		return nil
	}
	return v
}

func (i *Instance) get(name string) (any, error) {
	if v, ok := i.values[name]; ok {
		return v, nil
	}
	st := i.structure()
	if path, ok := st.promoted[name]; ok {
		cur := i
		for _, seg := range path[:len(path)-1] {
			next, ok := cur.values[seg].(*Instance)
			if !ok {
				return nil, fmt.Errorf("%w: broken promotion path at %s", ErrUnknownType, seg)
			}
			cur = next
		}
		return cur.values[path[len(path)-1]], nil
	}
	return nil, fmt.Errorf("%w: %s has no field %s", ErrUnknownType, i.typ.Name(), name)
}

// Path resolves a dotted field path like "hdr.len".
func (i *Instance) Path(path string) any {
	cur := any(i)
	for _, seg := range strings.Split(path, ".") {
		inst, ok := cur.(*Instance)
		if !ok {
			return nil
		}
		cur = inst.Get(seg)
	}
	return cur
}

// Set assigns a field or promoted field. Assigning a union member rebuilds
// the union's backing bytes and re-derives every member.
func (i *Instance) Set(name string, v any) error {
	st := i.structure()

	if path, ok := st.promoted[name]; ok {
		cur := i
		for _, seg := range path[:len(path)-1] {
			next, ok := cur.values[seg].(*Instance)
			if !ok {
				return fmt.Errorf("%w: broken promotion path at %s", ErrUnknownType, seg)
			}
			cur = next
		}
		return cur.Set(path[len(path)-1], v)
	}

	if _, ok := st.byName[name]; !ok {
		return fmt.Errorf("%w: %s has no field %s", ErrUnknownType, i.typ.Name(), name)
	}

	i.values[name] = v
	i.lastSet = name
	// parse-time size no longer matches a replaced value
	delete(i.sizes, name)

	if u, ok := i.typ.(*Union); ok {
		return u.rebuild(i, name)
	}
	return nil
}

// FieldNames returns the storage names in declaration order.
func (i *Instance) FieldNames() []string {
	st := i.structure()
	names := make([]string, 0, len(st.fields))
	for _, f := range st.fields {
		names = append(names, f.storageName())
	}
	return names
}

// Size returns the bytes this instance occupies: the bytes consumed at
// parse time, or the emitted length for constructed instances.
func (i *Instance) Size() int {
	if i.readSize > 0 {
		return i.readSize
	}
	b, err := i.Dumps()
	if err != nil {
		return 0
	}
	return len(b)
}

// FieldSize returns the bytes field name consumed when parsed. Bitfields
// report 0; their storage unit is accounted to the run.
func (i *Instance) FieldSize(name string) (int, bool) {
	n, ok := i.sizes[name]
	return n, ok
}

// Dumps emits the instance back to bytes.
func (i *Instance) Dumps() ([]byte, error) {
	c := newWriteCursor()
	if _, err := i.typ.Write(c, i); err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

// Equal compares two instances structurally, field by field.
func (i *Instance) Equal(o *Instance) bool {
	if i == nil || o == nil {
		return i == o
	}
	if i.typ != o.typ {
		return false
	}
	for _, name := range i.FieldNames() {
		if !valueEqual(i.values[name], o.values[name]) {
			return false
		}
	}
	return true
}

func (i *Instance) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(i.typ.Name())
	for _, name := range i.FieldNames() {
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(renderValue(i.values[name]))
	}
	b.WriteByte('>')
	return b.String()
}

// plain converts the instance to nested plain Go values for mapstructure.
func (i *Instance) plain() map[string]any {
	out := map[string]any{}
	for _, name := range i.FieldNames() {
		out[name] = plainValue(i.values[name])
	}
	return out
}

func plainValue(v any) any {
	switch v := v.(type) {
	case *Instance:
		return v.plain()
	case EnumValue:
		return v.Value
	case FlagValue:
		return v.Value
	case *PointerValue:
		return v.Addr
	case []any:
		out := make([]any, len(v))
		for j, e := range v {
			out[j] = plainValue(e)
		}
		return out
	}
	return v
}

// Decode maps the instance's fields onto a Go struct pointed to by out,
// matching field names case-insensitively.
func (i *Instance) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(i.plain())
}
