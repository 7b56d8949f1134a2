package cstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadReg(t *testing.T, def string) *Registry {
	t.Helper()
	reg := New()
	require.NoError(t, reg.Load(def))
	return reg
}

func parseStruct(t *testing.T, reg *Registry, name string, data []byte) *Instance {
	t.Helper()
	v, err := reg.Read(name, data)
	require.NoError(t, err)
	return v.(*Instance)
}

func TestStructBasic(t *testing.T) {
	reg := loadReg(t, `
		struct test {
			uint8  a;
			uint16 b;
			uint32 c;
		};
	`)

	typ, err := reg.Lookup("test")
	require.NoError(t, err)
	assert.Equal(t, 7, typ.Size())

	obj := parseStruct(t, reg, "test", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	assert.Equal(t, uint64(0x01), obj.Get("a"))
	assert.Equal(t, uint64(0x0302), obj.Get("b"))
	assert.Equal(t, uint64(0x07060504), obj.Get("c"))
	assert.Equal(t, 7, obj.Size())

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, out)
}

func TestStructSizeAdditivity(t *testing.T) {
	reg := loadReg(t, `
		struct s {
			uint8  a;
			uint32 b;
			uint16 c[3];
			char   d[2];
		};
	`)
	typ, err := reg.Lookup("s")
	require.NoError(t, err)
	assert.Equal(t, 1+4+6+2, typ.Size())
}

func TestStructExpressionSizedArray(t *testing.T) {
	reg := loadReg(t, `
		struct S {
			uint8  a;
			char   b[5];
			char   c[(a & 1) * 5];
			uint16 d;
		};
	`)

	obj := parseStruct(t, reg, "S", []byte("\x01helloworld\x00\x00"))
	assert.Equal(t, uint64(1), obj.Get("a"))
	assert.Equal(t, []byte("hello"), obj.Get("b"))
	assert.Equal(t, []byte("world"), obj.Get("c"))
	assert.Equal(t, uint64(0), obj.Get("d"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte("\x01helloworld\x00\x00"), out)

	// even a is 0: c collapses to zero length
	obj = parseStruct(t, reg, "S", []byte("\x02hello\x06\x00"))
	assert.Equal(t, []byte{}, obj.Get("c"))
	assert.Equal(t, uint64(6), obj.Get("d"))
}

func TestStructBitfields(t *testing.T) {
	reg := loadReg(t, `
		struct B {
			uint16 a:1;
			uint16 b:1;
			uint32 c;
			uint16 d:2;
			uint16 e:3;
		};
	`)

	typ, err := reg.Lookup("B")
	require.NoError(t, err)
	// two uint16 storage units plus the uint32
	assert.Equal(t, 8, typ.Size())

	data := []byte{0x03, 0x00, 0xff, 0x00, 0x00, 0x00, 0x1f, 0x00}
	obj := parseStruct(t, reg, "B", data)
	assert.Equal(t, uint64(1), obj.Get("a"))
	assert.Equal(t, uint64(1), obj.Get("b"))
	assert.Equal(t, uint64(0xff), obj.Get("c"))
	assert.Equal(t, uint64(0b11), obj.Get("d"))
	assert.Equal(t, uint64(0b111), obj.Get("e"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestStructBitfieldsBigEndian(t *testing.T) {
	reg, err := NewWithOptions(Options{Endian: ">"})
	require.NoError(t, err)
	require.NoError(t, reg.Load(`
		struct B {
			uint16 a:4;
			uint16 b:12;
		};
	`))

	// big-endian packs from the MSB downward
	obj := parseStruct(t, reg, "B", []byte{0xab, 0xcd})
	assert.Equal(t, uint64(0xa), obj.Get("a"))
	assert.Equal(t, uint64(0xbcd), obj.Get("b"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xab, 0xcd}, out)
}

func TestStructBitfieldRunOverflowStartsNewUnit(t *testing.T) {
	reg := loadReg(t, `
		struct B {
			uint8 a:5;
			uint8 b:5;
		};
	`)
	typ, err := reg.Lookup("B")
	require.NoError(t, err)
	assert.Equal(t, 2, typ.Size())

	obj := parseStruct(t, reg, "B", []byte{0x1f, 0x15})
	assert.Equal(t, uint64(0x1f), obj.Get("a"))
	assert.Equal(t, uint64(0x15), obj.Get("b"))
}

func TestStructBitfieldMixedStorageFlushes(t *testing.T) {
	reg := loadReg(t, `
		struct B {
			uint16 a:8;
			uint32 b:8;
		};
	`)
	typ, err := reg.Lookup("B")
	require.NoError(t, err)
	assert.Equal(t, 6, typ.Size())
}

func TestStructBitfieldTooWide(t *testing.T) {
	reg := New()
	err := reg.Load(`struct B { uint16 a:17; };`)
	assert.ErrorIs(t, err, ErrInvalidBitfield)

	err = reg.Load(`struct B { char a:2; };`)
	assert.ErrorIs(t, err, ErrInvalidBitfield)
}

func TestAnonymousPromotion(t *testing.T) {
	reg := loadReg(t, `
		struct outer {
			uint8 before;
			struct {
				uint16 inner_a;
				uint16 inner_b;
			};
			uint8 after;
		};
	`)

	typ, err := reg.Lookup("outer")
	require.NoError(t, err)
	assert.Equal(t, 6, typ.Size())

	obj := parseStruct(t, reg, "outer", []byte{0x01, 0x02, 0x00, 0x03, 0x00, 0x04})
	assert.Equal(t, uint64(1), obj.Get("before"))
	assert.Equal(t, uint64(2), obj.Get("inner_a"))
	assert.Equal(t, uint64(3), obj.Get("inner_b"))
	assert.Equal(t, uint64(4), obj.Get("after"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x03, 0x00, 0x04}, out)

	// promoted names assign through to the inner instance
	require.NoError(t, obj.Set("inner_b", 0x1234))
	out, err = obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x34, 0x12, 0x04}, out)
}

func TestDuplicatePromotedField(t *testing.T) {
	reg := New()
	err := reg.Load(`
		struct outer {
			uint8 a;
			struct {
				uint16 a;
			};
		};
	`)
	assert.ErrorIs(t, err, ErrDuplicateField)
}

func TestStructDefaultConstruction(t *testing.T) {
	reg := loadReg(t, `
		enum color : uint8 { RED = 1, GREEN, BLUE };
		struct s {
			uint8 a;
			char  name[4];
			color c;
		};
	`)

	typ, err := reg.Lookup("s")
	require.NoError(t, err)

	inst, err := NewInstance(typ, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), inst.Get("a"))
	assert.Equal(t, []byte{0, 0, 0, 0}, inst.Get("name"))
	// enum default is the first declared member
	assert.Equal(t, "color.RED", renderValue(inst.Get("c")))

	out, err := inst.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}, out)
}

func TestStructConstructionWithValues(t *testing.T) {
	reg := loadReg(t, `
		struct s {
			uint8  a;
			uint16 b;
			char   tag[2];
		};
	`)
	typ, err := reg.Lookup("s")
	require.NoError(t, err)

	inst, err := NewInstance(typ, map[string]any{"a": 7, "tag": []byte("hi")})
	require.NoError(t, err)

	out, err := inst.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0x00, 0x00, 'h', 'i'}, out)
}

func TestStructRoundTripValues(t *testing.T) {
	reg := loadReg(t, `
		struct s {
			uint8  a;
			uint16 b;
		};
	`)
	typ, err := reg.Lookup("s")
	require.NoError(t, err)

	inst, err := NewInstance(typ, map[string]any{"a": 1, "b": 0x1234})
	require.NoError(t, err)

	b, err := inst.Dumps()
	require.NoError(t, err)

	back, err := ParseBytes(typ, b)
	require.NoError(t, err)
	assert.True(t, inst.Equal(back.(*Instance)))
}

func TestStructTruncated(t *testing.T) {
	reg := loadReg(t, `struct s { uint32 a; uint32 b; };`)
	_, err := reg.Read("s", []byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrTruncated)
	// codec errors carry the field path
	assert.Contains(t, err.Error(), "b")
}

func TestNestedStructFieldPath(t *testing.T) {
	reg := loadReg(t, `
		struct inner { uint32 v; };
		struct outer { uint8 tag; inner in; };
	`)
	_, err := reg.Read("outer", []byte{1, 2})
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Contains(t, err.Error(), "in.v")
}
