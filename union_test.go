package cstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnionOverlay(t *testing.T) {
	reg := loadReg(t, `
		struct U {
			char magic[4];
			union {
				struct {
					uint32 a;
					uint32 b;
				} a;
				struct {
					char b[8];
				} b;
			} c;
		};
	`)

	typ, err := reg.Lookup("U")
	require.NoError(t, err)
	assert.Equal(t, 12, typ.Size())

	obj := parseStruct(t, reg, "U", []byte("ohaideadbeef"))
	assert.Equal(t, []byte("ohai"), obj.Get("magic"))

	c := obj.Get("c").(*Instance)
	assert.Equal(t, uint64(0x64616564), c.Path("a.a"))
	assert.Equal(t, uint64(0x66656562), c.Path("a.b"))
	assert.Equal(t, []byte("deadbeef"), c.Path("b.b"))

	assert.Equal(t, uint64(0x64616564), obj.Path("c.a.a"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte("ohaideadbeef"), out)
}

func TestUnionSizeIsMaxMember(t *testing.T) {
	reg := loadReg(t, `
		union u {
			uint8  small;
			uint32 big;
			uint16 mid;
		};
	`)
	typ, err := reg.Lookup("u")
	require.NoError(t, err)
	assert.Equal(t, 4, typ.Size())
}

func TestUnionMembersShareBytes(t *testing.T) {
	reg := loadReg(t, `
		union u {
			uint32 dword;
			uint16 words[2];
			uint8  bytes[4];
		};
	`)

	obj := parseStruct(t, reg, "u", []byte{0x01, 0x02, 0x03, 0x04})
	assert.Equal(t, uint64(0x04030201), obj.Get("dword"))
	assert.Equal(t, []any{uint64(0x0201), uint64(0x0403)}, obj.Get("words"))
	assert.Equal(t, []any{uint64(1), uint64(2), uint64(3), uint64(4)}, obj.Get("bytes"))
}

func TestUnionAssignRebuilds(t *testing.T) {
	reg := loadReg(t, `
		union u {
			uint32 dword;
			uint16 words[2];
		};
	`)

	obj := parseStruct(t, reg, "u", []byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, obj.Set("dword", 0x11223344))

	// all members re-derive from the rebuilt bytes
	assert.Equal(t, []any{uint64(0x3344), uint64(0x1122)}, obj.Get("words"))

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, out)
}

func TestUnionConstructedWritePadded(t *testing.T) {
	reg := loadReg(t, `
		union u {
			uint8  small;
			uint32 big;
		};
	`)
	typ, err := reg.Lookup("u")
	require.NoError(t, err)

	inst, err := NewInstance(typ, map[string]any{"small": 0xaa})
	require.NoError(t, err)
	out, err := inst.Dumps()
	require.NoError(t, err)
	// last-assigned member, zero-padded to the union size
	assert.Equal(t, []byte{0xaa, 0x00, 0x00, 0x00}, out)
}

func TestUnionAnonymousPromoted(t *testing.T) {
	reg := loadReg(t, `
		struct s {
			uint8 tag;
			union {
				uint32 num;
				char   raw[4];
			};
		};
	`)

	obj := parseStruct(t, reg, "s", []byte{0x07, 0x01, 0x00, 0x00, 0x00})
	assert.Equal(t, uint64(7), obj.Get("tag"))
	assert.Equal(t, uint64(1), obj.Get("num"))
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, obj.Get("raw"))
}

func TestUnionEquality(t *testing.T) {
	reg := loadReg(t, `
		union u {
			uint32 dword;
			uint16 words[2];
		};
	`)
	a := parseStruct(t, reg, "u", []byte{1, 2, 3, 4})
	b := parseStruct(t, reg, "u", []byte{1, 2, 3, 4})
	c := parseStruct(t, reg, "u", []byte{4, 3, 2, 1})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
