package messaging

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Type is the message type carried in the header.
type Type uint8

const (
	Confirmable Type = iota
	NonConfirmable
	Acknowledgement
	Reset
)

func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}

// Code is a request method or response status, encoded as class.detail.
type Code uint8

// NewCode builds a code from its class and detail.
func NewCode(class, detail uint8) Code {
	return Code(class<<5 | detail&0x1F)
}

const (
	Empty  Code = 0x00
	GET    Code = 0x01
	POST   Code = 0x02
	PUT    Code = 0x03
	DELETE Code = 0x04

	Changed             Code = 0x44 // 2.04
	Content             Code = 0x45 // 2.05
	BadRequest          Code = 0x80 // 4.00
	Unauthorized        Code = 0x81 // 4.01
	Forbidden           Code = 0x83 // 4.03
	NotFound            Code = 0x84 // 4.04
	MethodNotAllowed    Code = 0x85 // 4.05
	InternalServerError Code = 0xA0 // 5.00
)

// Class returns the code class (0 request, 2 success, 4 client error, 5 server error).
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail returns the code detail.
func (c Code) Detail() uint8 { return uint8(c) & 0x1F }

// IsRequest reports whether c is a request method.
func (c Code) IsRequest() bool { return c.Class() == 0 && c != Empty }

// IsSecurityRefusal reports whether the peer refused on security grounds.
func (c Code) IsSecurityRefusal() bool { return c == Unauthorized || c == Forbidden }

// IsSuccess reports whether c is a 2.xx response.
func (c Code) IsSuccess() bool { return c.Class() == 2 }

func (c Code) String() string {
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

const (
	version        = 1
	headerLen      = 4
	payloadMarker  = 0xFF
	optionURIPath  = 11
	MaxTokenLength = 8
)

// Message is a decoded management message.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte

	// Path is the slash-separated Uri-Path, e.g. "c/ag".
	Path    string
	Payload []byte
}

// Encode serializes the message.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Token) > MaxTokenLength {
		return nil, ErrTokenTooLong
	}

	out := make([]byte, headerLen, headerLen+len(m.Token)+len(m.Path)+8+len(m.Payload))
	out[0] = version<<6 | byte(m.Type&0x3)<<4 | byte(len(m.Token))
	out[1] = byte(m.Code)
	binary.BigEndian.PutUint16(out[2:], m.MessageID)
	out = append(out, m.Token...)

	last := 0
	if m.Path != "" {
		for _, seg := range strings.Split(m.Path, "/") {
			out = appendOption(out, optionURIPath-last, []byte(seg))
			last = optionURIPath
		}
	}

	if len(m.Payload) > 0 {
		out = append(out, payloadMarker)
		out = append(out, m.Payload...)
	}
	return out, nil
}

func appendOption(out []byte, delta int, value []byte) []byte {
	dn, dext := optionNibble(delta)
	ln, lext := optionNibble(len(value))
	out = append(out, dn<<4|ln)
	out = append(out, dext...)
	out = append(out, lext...)
	return append(out, value...)
}

func optionNibble(v int) (byte, []byte) {
	switch {
	case v < 13:
		return byte(v), nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		x := v - 269
		return 14, []byte{byte(x >> 8), byte(x)}
	}
}

// DecodeMessage parses a datagram.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: short header", ErrInvalidMessage)
	}
	if data[0]>>6 != version {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidMessage, data[0]>>6)
	}
	tkl := int(data[0] & 0x0F)
	if tkl > MaxTokenLength {
		return nil, fmt.Errorf("%w: token length %d", ErrInvalidMessage, tkl)
	}

	m := &Message{
		Type:      Type(data[0] >> 4 & 0x3),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:]),
	}

	p := data[headerLen:]
	if len(p) < tkl {
		return nil, fmt.Errorf("%w: truncated token", ErrInvalidMessage)
	}
	if tkl > 0 {
		m.Token = append([]byte(nil), p[:tkl]...)
	}
	p = p[tkl:]

	var segs []string
	number := 0
	for len(p) > 0 {
		if p[0] == payloadMarker {
			if len(p) == 1 {
				return nil, fmt.Errorf("%w: empty payload after marker", ErrInvalidMessage)
			}
			m.Payload = append([]byte(nil), p[1:]...)
			break
		}

		dn, ln := int(p[0]>>4), int(p[0]&0x0F)
		p = p[1:]

		delta, rest, err := readNibble(dn, p)
		if err != nil {
			return nil, err
		}
		length, rest, err := readNibble(ln, rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < length {
			return nil, fmt.Errorf("%w: option overruns message", ErrInvalidMessage)
		}

		number += delta
		if number == optionURIPath {
			segs = append(segs, string(rest[:length]))
		}
		p = rest[length:]
	}

	m.Path = strings.Join(segs, "/")
	return m, nil
}

func readNibble(n int, p []byte) (int, []byte, error) {
	switch n {
	case 13:
		if len(p) < 1 {
			return 0, nil, fmt.Errorf("%w: truncated option", ErrInvalidMessage)
		}
		return int(p[0]) + 13, p[1:], nil
	case 14:
		if len(p) < 2 {
			return 0, nil, fmt.Errorf("%w: truncated option", ErrInvalidMessage)
		}
		return int(binary.BigEndian.Uint16(p)) + 269, p[2:], nil
	case 15:
		return 0, nil, fmt.Errorf("%w: reserved option nibble", ErrInvalidMessage)
	default:
		return n, p, nil
	}
}

// NewResponse builds a response that answers req. Confirmable requests get a
// piggybacked acknowledgement with the same message ID.
func NewResponse(req *Message, code Code, payload []byte) *Message {
	resp := &Message{
		Type:      NonConfirmable,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
		Payload:   payload,
	}
	if req.Type == Confirmable {
		resp.Type = Acknowledgement
	}
	return resp
}
