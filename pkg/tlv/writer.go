package tlv

import "encoding/binary"

// Writer appends TLVs to a buffer with an optional capacity bound.
type Writer struct {
	buf []byte
	max int
}

// NewWriter creates a Writer. A max of zero means unbounded.
func NewWriter(max int) *Writer {
	return &Writer{max: max}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Put appends one TLV. Values of 255 bytes or more use the extended length form.
func (w *Writer) Put(t Type, v []byte) error {
	if len(v) > 0xFFFF {
		return ErrValueTooLong
	}
	size := 2 + len(v)
	if len(v) >= ExtendedLength {
		size += 2
	}
	if w.max > 0 && len(w.buf)+size > w.max {
		return ErrBufferFull
	}
	w.buf = Append(w.buf, t, v)
	return nil
}

// PutTLV appends a decoded element.
func (w *Writer) PutTLV(e TLV) error {
	return w.Put(e.Type, e.Value)
}

// PutUint8 appends a one byte value.
func (w *Writer) PutUint8(t Type, v uint8) error {
	return w.Put(t, []byte{v})
}

// PutUint16 appends a big-endian uint16 value.
func (w *Writer) PutUint16(t Type, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.Put(t, b[:])
}

// PutUint32 appends a big-endian uint32 value.
func (w *Writer) PutUint32(t Type, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.Put(t, b[:])
}

// PutUint64 appends a big-endian uint64 value.
func (w *Writer) PutUint64(t Type, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.Put(t, b[:])
}

// Append encodes one TLV onto dst.
func Append(dst []byte, t Type, v []byte) []byte {
	if len(v) >= ExtendedLength {
		dst = append(dst, byte(t), ExtendedLength, byte(len(v)>>8), byte(len(v)))
	} else {
		dst = append(dst, byte(t), byte(len(v)))
	}
	return append(dst, v...)
}
