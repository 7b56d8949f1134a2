package cstruct

import (
	"fmt"
	"strconv"
)

// EnumMember is one name/value pair of an enum or flag, in declaration
// order.
type EnumMember struct {
	Name  string
	Value int64
}

// Enum is a named integer subtype whose values render by member name.
type Enum struct {
	name    string
	base    *IntType
	members []EnumMember
	byName  map[string]int64
	byValue map[int64]string
}

func newEnum(name string, base *IntType, members []EnumMember) *Enum {
	e := &Enum{
		name:    name,
		base:    base,
		members: members,
		byName:  map[string]int64{},
		byValue: map[int64]string{},
	}
	for _, m := range members {
		e.byName[m.Name] = m.Value
		if _, ok := e.byValue[m.Value]; !ok {
			e.byValue[m.Value] = m.Name
		}
	}
	return e
}

func (e *Enum) Name() string   { return e.name }
func (e *Enum) Size() int      { return e.base.Size() }
func (e *Enum) Alignment() int { return e.base.Alignment() }

// Default is the first declared member, or the zero value for memberless
// enums.
func (e *Enum) Default() any {
	if len(e.members) > 0 {
		return EnumValue{Enum: e, Value: e.members[0].Value}
	}
	return EnumValue{Enum: e}
}

// Members returns the declared members in order.
func (e *Enum) Members() []EnumMember { return e.members }

// Value wraps an integer in this enum, named or not.
func (e *Enum) Value(v int64) EnumValue {
	return EnumValue{Enum: e, Value: v}
}

// Member looks up a declared member by name.
func (e *Enum) Member(name string) (EnumValue, bool) {
	v, ok := e.byName[name]
	if !ok {
		return EnumValue{}, false
	}
	return EnumValue{Enum: e, Value: v}, true
}

func (e *Enum) Read(c *Cursor, sc *Scope) (any, error) {
	raw, err := e.base.Read(c, sc)
	if err != nil {
		return nil, err
	}
	v, _ := toInt64(raw)
	return EnumValue{Enum: e, Value: v}, nil
}

func (e *Enum) Write(c *Cursor, v any) (int, error) {
	if ev, ok := v.(EnumValue); ok {
		if ev.Enum != nil && ev.Enum != e {
			return 0, fmt.Errorf("%w: %s value written as %s", ErrValueOutOfRange, ev.Enum.name, e.name)
		}
		return e.base.Write(c, ev.Value)
	}
	return e.base.Write(c, v)
}

// EnumValue is a parsed enum value. Equality compares enum identity and
// value; plain integers compare by value alone.
type EnumValue struct {
	Enum  *Enum
	Value int64
}

// Name returns the matching member name, or "" for unnamed values.
func (v EnumValue) Name() string {
	if v.Enum == nil {
		return ""
	}
	return v.Enum.byValue[v.Value]
}

func (v EnumValue) String() string {
	if name := v.Name(); name != "" {
		return v.Enum.name + "." + name
	}
	return strconv.FormatInt(v.Value, 10)
}
