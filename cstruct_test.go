package cstruct

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

func TestRegistryDefaults(t *testing.T) {
	reg := New()
	assert.Equal(t, 8, reg.PointerSize())
	assert.Equal(t, "<", reg.opts.Endian)
}

func TestRegistryBigEndian(t *testing.T) {
	reg, err := NewWithOptions(Options{Endian: ">"})
	require.NoError(t, err)
	require.NoError(t, reg.Load(`struct s { uint32 v; };`))

	obj := parseStruct(t, reg, "s", []byte{0x12, 0x34, 0x56, 0x78})
	assert.Equal(t, uint64(0x12345678), obj.Get("v"))
}

func TestRegistryBadOptions(t *testing.T) {
	_, err := NewWithOptions(Options{Endian: "?"})
	assert.Error(t, err)
	_, err = NewWithOptions(Options{Pointer: "double"})
	assert.Error(t, err)
	_, err = NewWithOptions(Options{Pointer: "nope"})
	assert.Error(t, err)
}

func TestRegistryAliases(t *testing.T) {
	reg := New()
	for alias, want := range map[string]int{
		"BYTE": 1, "WORD": 2, "DWORD": 4, "QWORD": 8,
		"uint8_t": 1, "u4": 4, "wchar_t": 2, "ulong": 4,
		"unsigned long long": 8,
	} {
		typ, err := reg.Lookup(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, want, typ.Size(), alias)
	}
}

func TestRegistryAddAlias(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddAlias("word", "uint16"))
	assert.Equal(t, 2, mustLookupT(t, reg, "word").Size())

	assert.ErrorIs(t, reg.AddAlias("word", "uint32"), ErrRedefinition)
}

func TestRegistryResolve(t *testing.T) {
	reg := loadReg(t, `
		#define BASE 0x100
		enum E : uint8 { A = 2 };
	`)

	v, err := reg.Resolve("BASE + A")
	require.NoError(t, err)
	assert.Equal(t, int64(0x102), v)

	v, err = reg.Resolve("sizeof(uint32) * 2")
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)

	_, err = reg.Resolve("NOPE")
	assert.ErrorIs(t, err, ErrBadExpression)
	_, err = reg.Resolve("1 / 0")
	assert.ErrorIs(t, err, ErrBadExpression)
}

// guidType is a custom 16-byte codec exercising the plugin contract.
type guidType struct{}

func (guidType) Name() string   { return "GUID" }
func (guidType) Size() int      { return 16 }
func (guidType) Alignment() int { return 4 }
func (guidType) Default() any   { return make([]byte, 16) }

func (guidType) Read(c *Cursor, sc *Scope) (any, error) {
	return c.ReadExact(16)
}

func (guidType) Write(c *Cursor, v any) (int, error) {
	b, ok := v.([]byte)
	if !ok || len(b) != 16 {
		return 0, ErrValueOutOfRange
	}
	return c.Write(b)
}

func TestCustomType(t *testing.T) {
	reg := New()
	require.NoError(t, reg.AddCustomType("GUID", guidType{}))
	require.NoError(t, reg.Load(`
		struct volume {
			GUID   id;
			uint16 rev;
		};
	`))

	typ := mustLookupT(t, reg, "volume")
	assert.Equal(t, 18, typ.Size())

	data := append(bytes.Repeat([]byte{0xaa}, 16), 0x02, 0x00)
	obj := parseStruct(t, reg, "volume", data)
	assert.Len(t, obj.Get("id"), 16)
	assert.Equal(t, uint64(2), obj.Get("rev"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestRegistryRead(t *testing.T) {
	reg := loadReg(t, `struct s { uint16 v; };`)
	v, err := reg.Read("s", []byte{0x2a, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v.(*Instance).Get("v"))

	_, err = reg.Read("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestStreamReading(t *testing.T) {
	reg := loadReg(t, `struct s { uint8 a; char b[a]; };`)
	typ := mustLookupT(t, reg, "s")

	r := bytes.NewReader([]byte{0x02, 'h', 'i', 0xff})
	c := NewStreamCursor(r)
	v, err := typ.Read(c, nil)
	require.NoError(t, err)
	obj := v.(*Instance)
	assert.Equal(t, []byte("hi"), obj.Get("b"))
	// the trailing byte is still unread
	assert.Equal(t, 3, c.Tell())
}

func TestProfileNew(t *testing.T) {
	doc := `
endian: big
pointer: uint32
consts:
  HDR_SIZE: 4
defs:
  - |
    struct hdr {
      char  magic[HDR_SIZE];
      uint32 count;
    };
`
	reg, err := NewFromProfile(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 4, reg.PointerSize())

	obj := parseStruct(t, reg, "hdr", []byte("ELF!\x00\x00\x00\x07"))
	assert.Equal(t, []byte("ELF!"), obj.Get("magic"))
	assert.Equal(t, uint64(7), obj.Get("count"))
}

func TestProfileLoadIntoExisting(t *testing.T) {
	reg := New()
	doc := `
consts:
  N: 2
defs:
  - "struct s { uint16 v[N]; };"
`
	require.NoError(t, reg.LoadProfile(strings.NewReader(doc)))
	assert.Equal(t, 4, mustLookupT(t, reg, "s").Size())

	// conflicting options are rejected
	err := reg.LoadProfile(strings.NewReader("endian: big\n"))
	assert.Error(t, err)
}

func TestProfileErrors(t *testing.T) {
	_, err := NewFromProfile(strings.NewReader("endian: middle\n"))
	assert.Error(t, err)

	_, err = NewFromProfile(strings.NewReader("unknown_key: 1\n"))
	assert.ErrorIs(t, err, ErrParse)

	// a failing definition rolls the whole profile back
	reg := New()
	err = reg.LoadProfile(strings.NewReader(`
defs:
  - "struct ok { uint8 a; };"
  - "struct bad { mystery m; };"
`))
	require.Error(t, err)
	_, lerr := reg.Lookup("ok")
	assert.ErrorIs(t, lerr, ErrUnknownType)
}

func TestBuiltinNamesComplete(t *testing.T) {
	reg := New()
	for _, name := range []string{
		"int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64",
		"int24", "uint24", "int48", "uint48",
		"float16", "float", "double", "char", "wchar",
		"uleb128", "ileb128", "void",
	} {
		_, err := reg.Lookup(name)
		assert.NoError(t, err, name)
	}

	names := make([]string, 0, len(builtinAliases))
	for alias := range builtinAliases {
		names = append(names, alias)
	}
	slices.Sort(names)
	for _, alias := range names {
		_, err := reg.Lookup(alias)
		assert.NoError(t, err, alias)
	}
}
