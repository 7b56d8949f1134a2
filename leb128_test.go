package cstruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULEB128(t *testing.T) {
	u := &LEB128Type{name: "uleb128"}

	tests := []struct {
		data []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xaf, 0x18}, 3119},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}
	for _, tt := range tests {
		c := NewCursor(tt.data)
		v, err := u.Read(c, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v)
		assert.Equal(t, len(tt.data), c.Tell())

		// minimum-length round trip
		assert.Equal(t, tt.data, writeOne(t, u, tt.want))
	}

	_, err := Dumps(u, -1)
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = u.Read(NewCursor([]byte{0x80}), nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestILEB128(t *testing.T) {
	i := &LEB128Type{name: "ileb128", signed: true}

	tests := []struct {
		data []byte
		want int64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x3f}, 63},
		{[]byte{0x40}, -64},
		{[]byte{0x7f}, -1},
		{[]byte{0xc0, 0xbb, 0x78}, -123456},
	}
	for _, tt := range tests {
		v, err := i.Read(NewCursor(tt.data), nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v)
		assert.Equal(t, tt.data, writeOne(t, i, tt.want))
	}
}

func TestLEB128InStruct(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Load(`
		struct test {
			uleb128 len;
			char    data[len];
		};
	`))

	data := append([]byte{0xaf, 0x18}, make([]byte, 3119)...)
	for i := range data[2:] {
		data[2+i] = 0x41
	}
	v, err := reg.Read("test", data)
	require.NoError(t, err)
	obj := v.(*Instance)

	assert.Equal(t, uint64(3119), obj.Get("len"))
	assert.Len(t, obj.Get("data"), 3119)
	assert.Equal(t, len(data), obj.Size())

	out, err := obj.Dumps()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
