package cstruct

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Flag is a named integer subtype whose values are OR-combinations of
// members.
type Flag struct {
	name    string
	base    *IntType
	members []EnumMember
	byName  map[string]int64
}

func newFlag(name string, base *IntType, members []EnumMember) *Flag {
	f := &Flag{
		name:    name,
		base:    base,
		members: members,
		byName:  map[string]int64{},
	}
	for _, m := range members {
		f.byName[m.Name] = m.Value
	}
	return f
}

func (f *Flag) Name() string          { return f.name }
func (f *Flag) Size() int             { return f.base.Size() }
func (f *Flag) Alignment() int        { return f.base.Alignment() }
func (f *Flag) Default() any          { return FlagValue{Flag: f} }
func (f *Flag) Members() []EnumMember { return f.members }

// Value wraps an integer in this flag type.
func (f *Flag) Value(v int64) FlagValue {
	return FlagValue{Flag: f, Value: v}
}

// Member looks up a declared member by name.
func (f *Flag) Member(name string) (FlagValue, bool) {
	v, ok := f.byName[name]
	if !ok {
		return FlagValue{}, false
	}
	return FlagValue{Flag: f, Value: v}, true
}

func (f *Flag) Read(c *Cursor, sc *Scope) (any, error) {
	raw, err := f.base.Read(c, sc)
	if err != nil {
		return nil, err
	}
	v, _ := toInt64(raw)
	return FlagValue{Flag: f, Value: v}, nil
}

func (f *Flag) Write(c *Cursor, v any) (int, error) {
	if fv, ok := v.(FlagValue); ok {
		if fv.Flag != nil && fv.Flag != f {
			return 0, fmt.Errorf("%w: %s value written as %s", ErrValueOutOfRange, fv.Flag.name, f.name)
		}
		return f.base.Write(c, fv.Value)
	}
	return f.base.Write(c, v)
}

// FlagValue is a parsed flag value. Bitwise operators preserve the flag
// type.
type FlagValue struct {
	Flag  *Flag
	Value int64
}

func (v FlagValue) Or(o FlagValue) FlagValue  { return FlagValue{v.Flag, v.Value | o.Value} }
func (v FlagValue) And(o FlagValue) FlagValue { return FlagValue{v.Flag, v.Value & o.Value} }
func (v FlagValue) Xor(o FlagValue) FlagValue { return FlagValue{v.Flag, v.Value ^ o.Value} }
func (v FlagValue) Not() FlagValue {
	masked := ^v.Value
	if v.Flag != nil {
		masked &= int64(maskBits(v.Flag.base.bits()))
	}
	return FlagValue{v.Flag, masked}
}

// Has reports whether all bits of member name are set.
func (v FlagValue) Has(name string) bool {
	if v.Flag == nil {
		return false
	}
	m, ok := v.Flag.byName[name]
	return ok && m != 0 && v.Value&m == m
}

// String decomposes the value into member names greedily from the highest
// bit down, preferring single-bit members, with any unnamed residual
// rendered in hex: "A|B|0x10".
func (v FlagValue) String() string {
	if v.Value == 0 {
		if v.Flag != nil {
			if name, ok := memberName(v.Flag.members, 0); ok {
				return name
			}
		}
		return "0"
	}

	if v.Flag == nil {
		return fmt.Sprintf("%#x", uint64(v.Value))
	}
	members := make([]EnumMember, 0, len(v.Flag.members))
	members = append(members, v.Flag.members...)
	sort.SliceStable(members, func(i, j int) bool {
		si := bits.OnesCount64(uint64(members[i].Value)) == 1
		sj := bits.OnesCount64(uint64(members[j].Value)) == 1
		if si != sj {
			return si
		}
		return uint64(members[i].Value) > uint64(members[j].Value)
	})

	remaining := v.Value
	selected := map[string]bool{}
	for _, m := range members {
		if m.Value == 0 || remaining&m.Value != m.Value {
			continue
		}
		selected[m.Name] = true
		remaining &^= m.Value
		if remaining == 0 {
			break
		}
	}

	// render selected members in declaration order, residual bits last
	var parts []string
	for _, m := range v.Flag.members {
		if selected[m.Name] {
			parts = append(parts, m.Name)
		}
	}
	if remaining != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(remaining)))
	}
	return strings.Join(parts, "|")
}

func memberName(members []EnumMember, value int64) (string, bool) {
	for _, m := range members {
		if m.Value == value {
			return m.Name, true
		}
	}
	return "", false
}
