package tlv

import (
	"bytes"
	"io"
	"testing"
)

func TestCursor_Next(t *testing.T) {
	buf := []byte{
		0x00, 0x03, 0x00, 0x00, 0x0f, // channel 15
		0x01, 0x02, 0xfa, 0xce, // pan id
		0x0e, 0x00, // empty value
	}
	c := NewCursor(buf)

	want := []TLV{
		{Type: 0x00, Value: []byte{0x00, 0x00, 0x0f}},
		{Type: 0x01, Value: []byte{0xfa, 0xce}},
		{Type: 0x0e, Value: []byte{}},
	}
	for i, w := range want {
		got, err := c.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if got.Type != w.Type || !bytes.Equal(got.Value, w.Value) {
			t.Errorf("Next() #%d = %+v, want %+v", i, got, w)
		}
	}
	if _, err := c.Next(); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestCursor_Overrun(t *testing.T) {
	testCases := []struct {
		name string
		buf  []byte
		want error
	}{
		{"truncated header", []byte{0x01}, ErrUnexpectedEOF},
		{"length past end", []byte{0x01, 0x04, 0xaa, 0xbb}, ErrLengthOverrun},
		{"second element overruns", []byte{0x01, 0x00, 0x02, 0x09, 0x00}, ErrLengthOverrun},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.buf); err != tc.want {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCursor_OverrunLeavesPosition(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x05, 0x00})
	if _, err := c.Next(); err != ErrLengthOverrun {
		t.Fatalf("Next() = %v, want ErrLengthOverrun", err)
	}
	if c.Offset() != 0 {
		t.Errorf("Offset() after failed Next = %d, want 0", c.Offset())
	}
}

func TestCursor_Scalars(t *testing.T) {
	c := NewCursor([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	u8, _ := c.Uint8()
	u16, _ := c.Uint16()
	u32, err := c.Uint32()
	if err != nil {
		t.Fatalf("Uint32() error = %v", err)
	}
	if u8 != 0x01 || u16 != 0x0203 || u32 != 0x04050607 {
		t.Errorf("scalars = %x %x %x", u8, u16, u32)
	}
	if _, err := c.Uint8(); err != ErrUnexpectedEOF {
		t.Errorf("Uint8() past end = %v, want ErrUnexpectedEOF", err)
	}
	if _, err := NewCursor([]byte{1, 2}).Bytes(3); err != ErrLengthOverrun {
		t.Errorf("Bytes(3) = %v, want ErrLengthOverrun", err)
	}
}

func TestExtendedLength(t *testing.T) {
	long := bytes.Repeat([]byte{0xab}, 300)
	w := NewWriter(0)
	if err := w.Put(0x20, long); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if w.Len() != 304 {
		t.Fatalf("Len() = %d, want 304", w.Len())
	}

	got, err := NewExtendedCursor(w.Bytes()).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !bytes.Equal(got.Value, long) {
		t.Error("extended value mismatch")
	}

	// Without extended support the 0xFF byte is a plain length and overruns.
	if _, err := NewCursor(w.Bytes()[:200]).Next(); err != ErrLengthOverrun {
		t.Errorf("plain cursor = %v, want ErrLengthOverrun", err)
	}
}

func TestFind(t *testing.T) {
	w := NewWriter(0)
	_ = w.PutUint16(0x01, 0xface)
	_ = w.PutUint8(0x10, 1)

	v, ok := Find(w.Bytes(), 0x10)
	if !ok || len(v) != 1 || v[0] != 1 {
		t.Errorf("Find(0x10) = %v, %v", v, ok)
	}
	if Contains(w.Bytes(), 0x02) {
		t.Error("Contains(0x02) = true, want false")
	}
	if got := Types(w.Bytes()); len(got) != 2 || got[0] != 0x01 || got[1] != 0x10 {
		t.Errorf("Types() = %v", got)
	}
}

func TestWriter_Capacity(t *testing.T) {
	w := NewWriter(6)
	if err := w.PutUint16(0x01, 1); err != nil {
		t.Fatalf("first Put() error = %v", err)
	}
	if err := w.PutUint16(0x02, 2); err != ErrBufferFull {
		t.Errorf("second Put() = %v, want ErrBufferFull", err)
	}
	if w.Len() != 4 {
		t.Errorf("Len() = %d, want 4 (failed put must not write)", w.Len())
	}
}
