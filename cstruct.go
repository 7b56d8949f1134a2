// Package cstruct parses C-like type definitions into a runtime type
// universe in which every declared type can decode bytes into structured
// values and encode them back.
package cstruct

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"golang.org/x/exp/maps"

	"github.com/structparse/cstruct/internal/cexpr"
)

// Options configures a Registry.
type Options struct {
	// Endian is the default byte order: "<" little, ">" big.
	Endian string `default:"<"`
	// Pointer is the integer type name used for pointer storage.
	Pointer string `default:"uint64"`
}

// Registry owns the name→type map, default endianness, pointer width and
// preprocessor constants. A registry is single-writer: Load mutates it,
// published types are immutable and safe for concurrent reads.
type Registry struct {
	opts   Options
	endian binary.ByteOrder

	// name -> Type, or -> string for transparent aliases
	typedefs map[string]any
	// name -> int64 or string
	consts map[string]any

	includes  []string
	anonCount int
}

// New returns a registry with default options: little-endian, 8-byte
// pointers.
func New() *Registry {
	r, err := NewWithOptions(Options{})
	if err != nil {
		panic("unreachable")
	}
	return r
}

// NewWithOptions returns a registry configured by opts; zero fields take
// their defaults.
func NewWithOptions(opts Options) (*Registry, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, err
	}
	var endian binary.ByteOrder
	switch opts.Endian {
	case "<":
		endian = binary.LittleEndian
	case ">":
		endian = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid endian %q", opts.Endian)
	}

	r := &Registry{
		opts:     opts,
		endian:   endian,
		typedefs: map[string]any{},
		consts:   map[string]any{},
	}
	r.registerBuiltins()

	if _, err := r.Lookup(opts.Pointer); err != nil {
		return nil, fmt.Errorf("invalid pointer type %q: %w", opts.Pointer, err)
	}
	if _, ok := r.mustLookup(opts.Pointer).(*IntType); !ok {
		return nil, fmt.Errorf("pointer type %q is not an integer type", opts.Pointer)
	}
	return r, nil
}

func (r *Registry) registerBuiltins() {
	e := r.endian
	intType := func(name string, size int, signed bool, align int) *IntType {
		return &IntType{name: name, size: size, signed: signed, align: align, endian: e}
	}

	for _, t := range []Type{
		intType("int8", 1, true, 1),
		intType("uint8", 1, false, 1),
		intType("int16", 2, true, 2),
		intType("uint16", 2, false, 2),
		intType("int32", 4, true, 4),
		intType("uint32", 4, false, 4),
		intType("int64", 8, true, 8),
		intType("uint64", 8, false, 8),
		intType("int24", 3, true, 4),
		intType("uint24", 3, false, 4),
		intType("int48", 6, true, 8),
		intType("uint48", 6, false, 8),
		&FloatType{name: "float16", size: 2, endian: e},
		&FloatType{name: "float", size: 4, endian: e},
		&FloatType{name: "double", size: 8, endian: e},
		&CharType{name: "char"},
		&WcharType{name: "wchar", endian: e},
		&LEB128Type{name: "uleb128", signed: false},
		&LEB128Type{name: "ileb128", signed: true},
		&VoidType{},
	} {
		r.typedefs[t.Name()] = t
	}

	for alias, target := range builtinAliases {
		r.typedefs[alias] = target
	}
}

// builtinAliases are the common C, Windows, GNU, IDA and convenience
// spellings of the internal types.
var builtinAliases = map[string]string{
	"signed char":        "int8",
	"unsigned char":      "char",
	"short":              "int16",
	"signed short":       "int16",
	"unsigned short":     "uint16",
	"int":                "int32",
	"signed int":         "int32",
	"unsigned int":       "uint32",
	"long":               "int32",
	"signed long":        "int32",
	"unsigned long":      "uint32",
	"long long":          "int64",
	"signed long long":   "int64",
	"unsigned long long": "uint64",

	"BYTE":     "uint8",
	"CHAR":     "char",
	"SHORT":    "int16",
	"WORD":     "uint16",
	"DWORD":    "uint32",
	"LONG":     "int32",
	"LONG32":   "int32",
	"LONG64":   "int64",
	"LONGLONG": "int64",
	"QWORD":    "uint64",
	"WCHAR":    "wchar",

	"UCHAR":     "uint8",
	"USHORT":    "uint16",
	"ULONG":     "uint32",
	"ULONG64":   "uint64",
	"ULONGLONG": "uint64",

	"INT":   "int32",
	"INT8":  "int8",
	"INT16": "int16",
	"INT32": "int32",
	"INT64": "int64",

	"UINT":   "uint32",
	"UINT8":  "uint8",
	"UINT16": "uint16",
	"UINT32": "uint32",
	"UINT64": "uint64",

	"__int8":  "int8",
	"__int16": "int16",
	"__int32": "int32",
	"__int64": "int64",

	"unsigned __int8":  "uint8",
	"unsigned __int16": "uint16",
	"unsigned __int32": "uint32",
	"unsigned __int64": "uint64",

	"wchar_t": "wchar",

	"int8_t":  "int8",
	"int16_t": "int16",
	"int32_t": "int32",
	"int64_t": "int64",

	"uint8_t":  "uint8",
	"uint16_t": "uint16",
	"uint32_t": "uint32",
	"uint64_t": "uint64",

	"_BYTE":  "uint8",
	"_WORD":  "uint16",
	"_DWORD": "uint32",
	"_QWORD": "uint64",

	"u1":     "uint8",
	"u2":     "uint16",
	"u4":     "uint32",
	"u8":     "uint64",
	"__u8":   "uint8",
	"__u16":  "uint16",
	"__u32":  "uint32",
	"__u64":  "uint64",
	"uchar":  "uint8",
	"ushort": "uint16",
	"uint":   "uint32",
	"ulong":  "uint32",
}

// Endian returns the registry's default byte order.
func (r *Registry) Endian() binary.ByteOrder { return r.endian }

// PointerSize returns the byte width of pointers.
func (r *Registry) PointerSize() int { return r.pointerWord().Size() }

func (r *Registry) pointerWord() *IntType {
	return r.mustLookup(r.opts.Pointer).(*IntType)
}

func (r *Registry) mustLookup(name string) Type {
	t, err := r.Lookup(name)
	if err != nil {
		panic("unreachable")
	}
	return t
}

// Lookup resolves a type name, following transparent aliases.
func (r *Registry) Lookup(name string) (Type, error) {
	cur := name
	for i := 0; i < 10; i++ {
		v, ok := r.typedefs[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
		}
		switch v := v.(type) {
		case Type:
			return v, nil
		case string:
			cur = v
		}
	}
	return nil, fmt.Errorf("%w: alias loop resolving %s", ErrUnknownType, name)
}

// Resolve evaluates a constant expression against the registry's constants
// and enum members.
func (r *Registry) Resolve(expr string) (int64, error) {
	e, err := cexpr.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	v, err := e.Eval(&Scope{reg: r})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadExpression, err)
	}
	return v, nil
}

// Constant returns a #define'd constant.
func (r *Registry) Constant(name string) (any, bool) {
	v, ok := r.consts[name]
	return v, ok
}

// Includes returns the #include targets that were seen and skipped.
func (r *Registry) Includes() []string { return r.includes }

// AddType registers t under name, failing with ErrRedefinition if name is
// already bound to a structurally different type.
func (r *Registry) AddType(name string, t Type) error {
	if existing, ok := r.typedefs[name]; ok {
		if et, isType := existing.(Type); isType && et == t {
			return nil
		}
		et, err := r.Lookup(name)
		if err == nil && sigString(et) == sigString(t) {
			r.typedefs[name] = t
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRedefinition, name)
	}
	r.typedefs[name] = t
	return nil
}

// AddAlias registers name as a transparent alias for target.
func (r *Registry) AddAlias(name string, target string) error {
	if _, ok := r.typedefs[name]; ok {
		return fmt.Errorf("%w: %s", ErrRedefinition, name)
	}
	r.typedefs[name] = target
	return nil
}

// AddCustomType registers a user codec. t must honor the Type contract:
// name, static size or DynamicSize, alignment, Read, Write and Default.
func (r *Registry) AddCustomType(name string, t Type) error {
	return r.AddType(name, t)
}

// Load parses definition text and registers its declarations. Load is
// transactional: on error no names or constants are committed.
func (r *Registry) Load(text string) error {
	savedTypes := maps.Clone(r.typedefs)
	savedConsts := maps.Clone(r.consts)
	savedAnon := r.anonCount

	if err := r.load(text); err != nil {
		r.typedefs = savedTypes
		r.consts = savedConsts
		r.anonCount = savedAnon
		return err
	}
	return nil
}

func (r *Registry) load(text string) error {
	toks, err := lex(text)
	if err != nil {
		return err
	}
	p := &parser{reg: r, src: text, toks: toks}
	return p.parseFile()
}

// LoadFile reads and loads a definition file.
func (r *Registry) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.Load(string(b))
}

// Read resolves name and parses data with it.
func (r *Registry) Read(name string, data []byte) (any, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return ParseBytes(t, data)
}

// ParseBytes parses data with t from offset 0.
func ParseBytes(t Type, data []byte) (any, error) {
	return t.Read(NewCursor(data), nil)
}

// Dumps emits v with t.
func Dumps(t Type, v any) ([]byte, error) {
	c := newWriteCursor()
	if _, err := t.Write(c, v); err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}

func (r *Registry) anonName() string {
	name := fmt.Sprintf("__anonymous_%d__", r.anonCount)
	r.anonCount++
	return name
}

// lookupExprIdent resolves an expression identifier: constants first, then
// enum and flag members.
func (r *Registry) lookupExprIdent(name string) (int64, bool) {
	if v, ok := r.consts[name]; ok {
		iv, ok := toInt64(v)
		return iv, ok
	}
	for _, v := range r.typedefs {
		switch t := v.(type) {
		case *Enum:
			if m, ok := t.byName[name]; ok {
				return m, true
			}
		case *Flag:
			if m, ok := t.byName[name]; ok {
				return m, true
			}
		}
	}
	return 0, false
}

// sigString renders a type's structural signature for redefinition checks.
func sigString(t Type) string {
	switch t := t.(type) {
	case *Structure:
		return structSig("struct", t)
	case *Union:
		return structSig("union", &t.Structure)
	case *Enum:
		return enumSig("enum", t.base, t.members)
	case *Flag:
		return enumSig("flag", t.base, t.members)
	case *Array:
		return "array:" + t.Name()
	case *Pointer:
		return "pointer:" + t.Name()
	}
	return fmt.Sprintf("%s:%d", t.Name(), t.Size())
}

func structSig(kind string, t *Structure) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('{')
	for _, f := range t.fields {
		fmt.Fprintf(&b, "%s %s:%d;", f.Type.Name(), f.Name, f.Bits)
	}
	b.WriteByte('}')
	return b.String()
}

func enumSig(kind string, base *IntType, members []EnumMember) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte(':')
	b.WriteString(base.name)
	b.WriteByte('{')
	for _, m := range members {
		fmt.Fprintf(&b, "%s=%d,", m.Name, m.Value)
	}
	b.WriteByte('}')
	return b.String()
}
