package ustats

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Endianness(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}

	le := NewReader(buf, LittleEndian)
	v, err := le.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04030201), v)

	be := NewReader(buf, BigEndian)
	v, err = be.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), v)

	be.SetEndianness(be.Endianness().Flip())
	require.NoError(t, be.Seek(0))
	w, err := be.Word()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), w)
	assert.Equal(t, 2, be.Offset())
	assert.Equal(t, 2, be.Len())
}

func TestReader_OutOfRange(t *testing.T) {
	r := NewReader([]byte{1, 2, 3}, LittleEndian)
	_, err := r.Uint()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	// A failed read does not move the cursor.
	assert.Equal(t, 0, r.Offset())

	_, err = r.Double()
	assert.True(t, errors.Is(err, ErrOutOfRange))

	b, err := r.Byte()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b)

	assert.True(t, errors.Is(r.Seek(10), ErrOutOfRange))
}

func TestReader_FString(t *testing.T) {
	w := NewWriter(BigEndian)
	require.NoError(t, w.FString("Tick", false))
	require.NoError(t, w.FString("FrameTime", true))
	w.Word(3)
	w.Raw([]byte{'a', 'b', 0})

	r := NewReader(w.Bytes(), BigEndian)
	s, err := r.FString(false)
	require.NoError(t, err)
	assert.Equal(t, "Tick", s)
	s, err = r.FString(true)
	require.NoError(t, err)
	assert.Equal(t, "FrameTime", s)
	s, err = r.FString(false)
	require.NoError(t, err)
	assert.Equal(t, "ab", s, "trailing NUL is dropped")
	assert.Equal(t, 0, r.Len())
}

func TestReader_FStringLengthPastEnd(t *testing.T) {
	w := NewWriter(LittleEndian)
	w.Uint(1 << 20)
	w.Raw([]byte("short"))

	_, err := NewReader(w.Bytes(), LittleEndian).FString(true)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestWriter_Primitives(t *testing.T) {
	for _, e := range []Endianness{LittleEndian, BigEndian} {
		t.Run(e.String(), func(t *testing.T) {
			w := NewWriter(e)
			w.Byte(7)
			w.Word(0xBEEF)
			w.Int(-42)
			w.Float(1.25)
			w.Double(-3.5e-9)

			r := NewReader(w.Bytes(), e)
			b, _ := r.Byte()
			wd, _ := r.Word()
			i, _ := r.Int()
			f, _ := r.Float()
			d, err := r.Double()
			require.NoError(t, err)
			assert.Equal(t, uint8(7), b)
			assert.Equal(t, uint16(0xBEEF), wd)
			assert.Equal(t, int32(-42), i)
			assert.Equal(t, float32(1.25), f)
			assert.Equal(t, -3.5e-9, d)
		})
	}
}
