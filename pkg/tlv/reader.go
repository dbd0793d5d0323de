// Package tlv implements the Thread type-length-value encoding used by MeshCoP
// datasets, network data and MLE.
//
// Each element is a one byte type, a one byte length and the value. MeshCoP
// permits an extended form where a length byte of 0xFF is followed by a two
// byte big-endian length; network data never uses it.
//
// Cursor is a bounds-checked reader over a byte slice. Every read returns an
// error rather than slicing past the end, so parsers built on it never need
// their own "does the length exceed the buffer" checks.
package tlv

import (
	"encoding/binary"
	"io"
)

// Type is a TLV type code. Its meaning depends on the TLV namespace.
type Type uint8

// ExtendedLength is the length byte value that escapes a two byte length.
const ExtendedLength = 0xFF

// TLV is one decoded element. Value aliases the underlying buffer.
type TLV struct {
	Type  Type
	Value []byte
}

// Len returns the encoded length of the element including its header.
func (t TLV) Len() int {
	if len(t.Value) >= ExtendedLength {
		return 4 + len(t.Value)
	}
	return 2 + len(t.Value)
}

// Cursor reads TLVs and scalars from a byte slice.
type Cursor struct {
	buf      []byte
	off      int
	extended bool
}

// NewCursor creates a Cursor over b without extended length support.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// NewExtendedCursor creates a Cursor that accepts the 0xFF extended length form.
func NewExtendedCursor(b []byte) *Cursor {
	return &Cursor{buf: b, extended: true}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Done reports whether the cursor has consumed the whole buffer.
func (c *Cursor) Done() bool {
	return c.off >= len(c.buf)
}

// Offset returns the current read position.
func (c *Cursor) Offset() int {
	return c.off
}

// Next decodes the next TLV. It returns io.EOF when the buffer is exhausted.
// On error the cursor position is unchanged.
func (c *Cursor) Next() (TLV, error) {
	if c.Done() {
		return TLV{}, io.EOF
	}
	if c.Remaining() < 2 {
		return TLV{}, ErrUnexpectedEOF
	}
	t := Type(c.buf[c.off])
	length := int(c.buf[c.off+1])
	hdr := 2
	if length == ExtendedLength && c.extended {
		if c.Remaining() < 4 {
			return TLV{}, ErrUnexpectedEOF
		}
		length = int(binary.BigEndian.Uint16(c.buf[c.off+2:]))
		hdr = 4
	}
	if length > c.Remaining()-hdr {
		return TLV{}, ErrLengthOverrun
	}
	start := c.off + hdr
	c.off = start + length
	return TLV{Type: t, Value: c.buf[start:c.off:c.off]}, nil
}

// Bytes reads n raw bytes.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, ErrLengthOverrun
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.Bytes(n)
	return err
}

// Rest returns every unread byte and exhausts the cursor.
func (c *Cursor) Rest() []byte {
	b := c.buf[c.off:]
	c.off = len(c.buf)
	return b
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, ErrUnexpectedEOF
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// Uint16 reads a big-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

// Uint32 reads a big-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

// Uint64 reads a big-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	if c.Remaining() < 8 {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// Each calls fn for every TLV in b, stopping at the first error.
func Each(b []byte, fn func(TLV) error) error {
	c := NewExtendedCursor(b)
	for {
		t, err := c.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

// Validate walks every top-level TLV of b and reports the first framing error.
func Validate(b []byte) error {
	return Each(b, func(TLV) error { return nil })
}

// Find returns the value of the first TLV of type t in b.
// Malformed trailing data ends the search.
func Find(b []byte, t Type) ([]byte, bool) {
	c := NewExtendedCursor(b)
	for {
		e, err := c.Next()
		if err != nil {
			return nil, false
		}
		if e.Type == t {
			return e.Value, true
		}
	}
}

// Contains reports whether b holds a TLV of type t.
func Contains(b []byte, t Type) bool {
	_, ok := Find(b, t)
	return ok
}

// Types returns the types present in b in encoding order.
func Types(b []byte) []Type {
	var out []Type
	_ = Each(b, func(e TLV) error {
		out = append(out, e.Type)
		return nil
	})
	return out
}
