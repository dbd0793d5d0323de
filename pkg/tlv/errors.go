package tlv

import "errors"

var (
	// ErrUnexpectedEOF is returned when the input ends inside a TLV header or scalar.
	ErrUnexpectedEOF = errors.New("tlv: unexpected end of input")

	// ErrLengthOverrun is returned when a length field exceeds the remaining buffer.
	ErrLengthOverrun = errors.New("tlv: length exceeds remaining buffer")

	// ErrBufferFull is returned when a write would exceed the writer capacity.
	ErrBufferFull = errors.New("tlv: buffer full")

	// ErrValueTooLong is returned when a value does not fit the length encoding.
	ErrValueTooLong = errors.New("tlv: value too long")

	// ErrInvalidLength is returned when a TLV has the wrong length for its type.
	ErrInvalidLength = errors.New("tlv: invalid length for type")
)
