package ustats

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrOutOfRange is returned when a read would run past the end of the buffer.
var ErrOutOfRange = errors.New("read past end of buffer")

// Endianness selects the byte order used to decode or encode multi-byte values.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func (e Endianness) order() byteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Flip returns the opposite byte order.
func (e Endianness) Flip() Endianness {
	if e == BigEndian {
		return LittleEndian
	}
	return BigEndian
}

func (e Endianness) String() string {
	if e == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

// Reader decodes fixed-width primitives from an in-memory buffer. It owns its
// cursor and byte order, so separate readers never share state.
type Reader struct {
	buf        []byte
	off        int
	endianness Endianness
}

// NewReader creates a reader positioned at the start of buf.
func NewReader(buf []byte, e Endianness) *Reader {
	return &Reader{buf: buf, endianness: e}
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.off }

// Endianness returns the byte order currently in use.
func (r *Reader) Endianness() Endianness { return r.endianness }

// SetEndianness changes the byte order for subsequent reads.
func (r *Reader) SetEndianness(e Endianness) { r.endianness = e }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) error {
	if off < 0 || off > len(r.buf) {
		return errors.Wrapf(ErrOutOfRange, "seek to %d (len %d)", off, len(r.buf))
	}
	r.off = off
	return nil
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, errors.Wrapf(ErrOutOfRange, "reading %d bytes at offset %d (len %d)", n, r.off, len(r.buf))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Byte reads a single unsigned byte.
func (r *Reader) Byte() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Word reads an unsigned 16-bit value.
func (r *Reader) Word() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return r.endianness.order().Uint16(b), nil
}

// Uint reads an unsigned 32-bit value.
func (r *Reader) Uint() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return r.endianness.order().Uint32(b), nil
}

// Int reads a signed 32-bit value.
func (r *Reader) Int() (int32, error) {
	v, err := r.Uint()
	return int32(v), err
}

// Float reads an IEEE-754 single precision value.
func (r *Reader) Float() (float32, error) {
	v, err := r.Uint()
	return math.Float32frombits(v), err
}

// Double reads an IEEE-754 double precision value.
func (r *Reader) Double() (float64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(r.endianness.order().Uint64(b)), nil
}

// String reads n raw bytes as a string, dropping a trailing NUL terminator.
func (r *Reader) String(n int) (string, error) {
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	if len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b), nil
}

// FString reads a length-prefixed string. Long selects a 32-bit length
// prefix, otherwise the prefix is 16 bits wide.
func (r *Reader) FString(long bool) (string, error) {
	var n int
	if long {
		v, err := r.Uint()
		if err != nil {
			return "", err
		}
		n = int(v)
	} else {
		v, err := r.Word()
		if err != nil {
			return "", err
		}
		n = int(v)
	}
	if n > r.Len() {
		return "", errors.Wrapf(ErrOutOfRange, "string of %d bytes at offset %d (len %d)", n, r.off, len(r.buf))
	}
	return r.String(n)
}

// Writer is the encoding counterpart of Reader.
type Writer struct {
	buf        []byte
	endianness Endianness
}

// NewWriter creates an empty writer using the given byte order.
func NewWriter(e Endianness) *Writer {
	return &Writer{endianness: e}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) Byte(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) Word(v uint16) { w.buf = w.endianness.order().AppendUint16(w.buf, v) }

func (w *Writer) Uint(v uint32) { w.buf = w.endianness.order().AppendUint32(w.buf, v) }

func (w *Writer) Int(v int32) { w.Uint(uint32(v)) }

func (w *Writer) Float(v float32) { w.Uint(math.Float32bits(v)) }

func (w *Writer) Double(v float64) {
	w.buf = w.endianness.order().AppendUint64(w.buf, math.Float64bits(v))
}

// FString writes a length-prefixed string using the same prefix rules as Reader.FString.
func (w *Writer) FString(s string, long bool) error {
	if long {
		if uint64(len(s)) > math.MaxUint32 {
			return errors.Errorf("string of %d bytes is too long", len(s))
		}
		w.Uint(uint32(len(s)))
	} else {
		if len(s) > math.MaxUint16 {
			return errors.Errorf("string of %d bytes is too long for a 16-bit length", len(s))
		}
		w.Word(uint16(len(s)))
	}
	w.buf = append(w.buf, s...)
	return nil
}
