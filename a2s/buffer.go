package a2s

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

var ErrShortBuffer = errors.New("buffer too short")

// Reader decodes little-endian values sequentially from a byte slice.
// The first failed read is remembered and every later read returns a zero
// value, so a decoder can check Err once at the end.
type Reader struct {
	buf []byte
	pos int
	err error
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Pos() int {
	return r.pos
}

// Eof reports whether all bytes have been consumed or a read has failed
func (r *Reader) Eof() bool {
	return r.err != nil || r.pos >= len(r.buf)
}

// Remaining returns the unread bytes without consuming them
func (r *Reader) Remaining() []byte {
	if r.pos >= len(r.buf) {
		return nil
	}
	return r.buf[r.pos:]
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.pos < n {
		r.err = errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)-r.pos)
		r.pos = len(r.buf)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) ReadUint8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadBool() bool {
	return r.ReadUint8() != 0
}

func (r *Reader) ReadUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadInt32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (r *Reader) ReadUint32() uint32 {
	return uint32(r.ReadInt32())
}

func (r *Reader) ReadUint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

func (r *Reader) ReadBytes(n int) []byte {
	return r.take(n)
}

// ReadString reads up to and consumes the next NUL. A string running to the
// end of the buffer without a terminator is a short buffer.
func (r *Reader) ReadString() string {
	if r.err != nil {
		return ""
	}
	idx := bytes.IndexByte(r.buf[r.pos:], 0)
	if idx < 0 {
		r.err = errors.Wrapf(ErrShortBuffer, "unterminated string at offset %d", r.pos)
		r.pos = len(r.buf)
		return ""
	}
	s := string(r.buf[r.pos : r.pos+idx])
	r.pos += idx + 1
	return s
}

// Writer encodes little-endian values into a fixed capacity buffer.
// Writes past the capacity fail with ErrShortBuffer; as with Reader the
// error is sticky.
type Writer struct {
	buf []byte
	err error
}

// NewWriter creates a Writer that never grows beyond capacity bytes
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the encoded bytes, aliasing the internal buffer
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) grow(n int) []byte {
	if w.err != nil {
		return nil
	}
	if cap(w.buf)-len(w.buf) < n {
		w.err = errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, capacity %d", n, len(w.buf), cap(w.buf))
		return nil
	}
	start := len(w.buf)
	w.buf = w.buf[:start+n]
	return w.buf[start:]
}

func (w *Writer) WriteUint8(v byte) {
	if b := w.grow(1); b != nil {
		b[0] = v
	}
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	if b := w.grow(2); b != nil {
		binary.LittleEndian.PutUint16(b, v)
	}
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *Writer) WriteUint32(v uint32) {
	if b := w.grow(4); b != nil {
		binary.LittleEndian.PutUint32(b, v)
	}
}

func (w *Writer) WriteUint64(v uint64) {
	if b := w.grow(8); b != nil {
		binary.LittleEndian.PutUint64(b, v)
	}
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *Writer) WriteBytes(v []byte) {
	if b := w.grow(len(v)); b != nil {
		copy(b, v)
	}
}

// WriteString writes s followed by a NUL terminator
func (w *Writer) WriteString(s string) {
	if b := w.grow(len(s) + 1); b != nil {
		copy(b, s)
		b[len(s)] = 0
	}
}
