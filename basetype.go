package cstruct

import (
	"bytes"
	"fmt"

	"github.com/structparse/cstruct/internal/cexpr"
)

// DynamicSize is the Size result of types whose byte length is only known
// while reading (LEB128, sentinel arrays, structures containing either).
const DynamicSize = -1

// Type is a runtime type: it describes layout and acts as a codec.
//
// Read returns one of the value kinds documented on Instance. Write accepts
// the same kinds plus convenient Go equivalents (any integer kind for
// integer types, string for char arrays) and returns the number of bytes
// written. Custom types registered with AddCustomType implement exactly
// this contract.
type Type interface {
	Name() string
	// Size is the static byte size, or DynamicSize.
	Size() int
	Alignment() int
	Read(c *Cursor, sc *Scope) (any, error)
	Write(c *Cursor, v any) (int, error)
	// Default returns the zero-equivalent value used when constructing
	// instances with missing fields.
	Default() any
}

func isDynamic(t Type) bool { return t.Size() == DynamicSize }

// Scope is the parse-time scope visible to expressions: sibling field values
// already read, then registry constants, then enum and flag members.
type Scope struct {
	reg    *Registry
	fields map[string]any
}

func newScope(reg *Registry) *Scope {
	return &Scope{reg: reg, fields: map[string]any{}}
}

func (s *Scope) set(name string, v any) {
	s.fields[name] = v
}

// LookupIdent implements cexpr.Scope.
func (s *Scope) LookupIdent(name string) (int64, bool) {
	if s == nil {
		return 0, false
	}
	if v, ok := s.fields[name]; ok {
		if iv, ok := toInt64(v); ok {
			return iv, true
		}
		return 0, false
	}
	if s.reg != nil {
		return s.reg.lookupExprIdent(name)
	}
	return 0, false
}

// Sizeof implements cexpr.Scope.
func (s *Scope) Sizeof(name string) (int64, bool) {
	if s == nil || s.reg == nil {
		return 0, false
	}
	t, err := s.reg.Lookup(name)
	if err != nil || isDynamic(t) {
		return 0, false
	}
	return int64(t.Size()), true
}

var _ cexpr.Scope = (*Scope)(nil)

// toInt64 coerces a parsed or user-provided value to int64.
func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint:
		return int64(v), true
	case byte:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case EnumValue:
		return v.Value, true
	case FlagValue:
		return v.Value, true
	case *PointerValue:
		return int64(v.Addr), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// valueEqual compares two parsed values structurally. Integer kinds compare
// numerically regardless of representation.
func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case *Instance:
		bv, ok := b.(*Instance)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case EnumValue:
		if bv, ok := b.(EnumValue); ok {
			return av.Enum == bv.Enum && av.Value == bv.Value
		}
		bi, ok := toInt64(b)
		return ok && av.Value == bi
	case FlagValue:
		if bv, ok := b.(FlagValue); ok {
			return av.Flag == bv.Flag && av.Value == bv.Value
		}
		bi, ok := toInt64(b)
		return ok && av.Value == bi
	case *PointerValue:
		bv, ok := b.(*PointerValue)
		return ok && av.Addr == bv.Addr
	case nil:
		return b == nil
	}
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	return aok && bok && ai == bi
}

// renderValue renders a parsed value the way Instance.String does: integers
// in decimal, char arrays as quoted byte strings, composites recursively.
func renderValue(v any) string {
	switch v := v.(type) {
	case []byte:
		return fmt.Sprintf("%q", v)
	case string:
		return fmt.Sprintf("%q", v)
	case []any:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(renderValue(e))
		}
		b.WriteByte(']')
		return b.String()
	case nil:
		return "void"
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

// evalExpr evaluates a stored count or bitfield expression against sc,
// mapping evaluator failures to ErrBadExpression.
func evalExpr(e *cexpr.Expr, sc *Scope) (int64, error) {
	var v int64
	var err error
	if sc == nil {
		v, err = e.Eval(cexpr.EmptyScope{})
	} else {
		v, err = e.Eval(sc)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	return v, nil
}
