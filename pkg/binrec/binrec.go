// Package binrec provides primitives for decoding big-endian binary records
// from in-memory byte buffers.
package binrec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a buffer holds fewer bytes than a record
// format requires. Records are decoded whole or not at all.
var ErrTruncated = errors.New("truncated record")

// Unpack decodes consecutive big-endian unsigned integer fields from buf
// starting at off. Each width is a field size in bytes and must be 1, 2 or 4.
// It returns the decoded values and the total number of bytes consumed.
func Unpack(buf []byte, off int, widths ...int) ([]uint64, int, error) {
	need := 0
	for _, w := range widths {
		switch w {
		case 1, 2, 4:
			need += w
		default:
			panic(fmt.Sprintf("binrec: invalid field width %d", w))
		}
	}
	if off < 0 || off+need > len(buf) {
		return nil, 0, fmt.Errorf("%d byte(s) at offset %d, %d available: %w",
			need, off, len(buf)-off, ErrTruncated)
	}

	vals := make([]uint64, len(widths))
	n := 0
	for i, w := range widths {
		switch w {
		case 1:
			vals[i] = uint64(buf[off+n])
		case 2:
			vals[i] = uint64(binary.BigEndian.Uint16(buf[off+n:]))
		case 4:
			vals[i] = uint64(binary.BigEndian.Uint32(buf[off+n:]))
		}
		n += w
	}
	return vals, n, nil
}

// Reader decodes big-endian fields from a buffer at a running cursor.
// The first failed read latches the error; subsequent reads return zero
// values and leave the cursor where it was.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader creates a Reader positioned at off within buf.
func NewReader(buf []byte, off int) *Reader {
	return &Reader{buf: buf, off: off}
}

// Offset returns the current cursor position.
func (r *Reader) Offset() int {
	return r.off
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Remaining reports the number of undecoded bytes past the cursor.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%d byte(s) at offset %d, %d available: %w",
			n, r.off, len(r.buf)-r.off, ErrTruncated)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// U8 decodes one unsigned byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 decodes a big-endian 16-bit unsigned integer.
func (r *Reader) U16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// U32 decodes a big-endian 32-bit unsigned integer.
func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Bytes decodes n raw bytes. The returned slice aliases the underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	return r.take(n)
}
