package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// RFC 5869 Test Case 1.
func TestHKDFSHA256(t *testing.T) {
	ikm, _ := hex.DecodeString("0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt, _ := hex.DecodeString("000102030405060708090a0b0c")
	info, _ := hex.DecodeString("f0f1f2f3f4f5f6f7f8f9")
	want, _ := hex.DecodeString("3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865")

	got, err := HKDFSHA256(ikm, salt, info, 42)
	if err != nil {
		t.Fatalf("HKDFSHA256() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("HKDFSHA256() = %x, want %x", got, want)
	}
}

// RFC 7914 section 11 PBKDF2-HMAC-SHA256 vector.
func TestPBKDF2SHA256(t *testing.T) {
	want, _ := hex.DecodeString("55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783")
	got := PBKDF2SHA256([]byte("passwd"), []byte("salt"), 1, 64)
	if !bytes.Equal(got, want) {
		t.Errorf("PBKDF2SHA256() = %x, want %x", got, want)
	}
}

func TestDerivePSKc(t *testing.T) {
	xpan := [8]byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}

	a, err := DerivePSKc("J01NME", "OpenThread", xpan)
	if err != nil {
		t.Fatalf("DerivePSKc() error = %v", err)
	}
	b, _ := DerivePSKc("J01NME", "OpenThread", xpan)
	if a != b {
		t.Error("DerivePSKc() is not deterministic")
	}
	c, _ := DerivePSKc("J01NME", "OtherNet", xpan)
	if a == c {
		t.Error("DerivePSKc() ignores network name")
	}

	if _, err := DerivePSKc("short", "OpenThread", xpan); err != ErrInvalidPassphrase {
		t.Errorf("DerivePSKc(short) error = %v, want ErrInvalidPassphrase", err)
	}
}

func TestStableIID(t *testing.T) {
	secret := []byte("0123456789abcdef")
	prefix := []byte{0xfd, 0x00, 0x0d, 0xb8, 0, 0, 0, 0}

	a, err := StableIID(secret, prefix, "OpenThread", 0)
	if err != nil {
		t.Fatalf("StableIID() error = %v", err)
	}
	b, _ := StableIID(secret, prefix, "OpenThread", 0)
	if a != b {
		t.Error("StableIID() is not stable")
	}
	c, _ := StableIID(secret, prefix, "OpenThread", 1)
	if a == c {
		t.Error("StableIID() ignores DAD counter")
	}
	if a[0]&0x02 != 0 {
		t.Errorf("StableIID() u/l bit set: %x", a)
	}
}

func TestDeriveKeySet(t *testing.T) {
	var key [NetworkKeySize]byte
	copy(key[:], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})

	ks := DeriveKeySet(key, 0)

	h := hmac.New(sha256.New, key[:])
	h.Write([]byte{0, 0, 0, 0})
	h.Write([]byte("Thread"))
	sum := h.Sum(nil)
	if !bytes.Equal(ks.MLEKey[:], sum[:16]) || !bytes.Equal(ks.MACKey[:], sum[16:]) {
		t.Errorf("DeriveKeySet() = %x/%x, want %x", ks.MLEKey, ks.MACKey, sum)
	}

	next := DeriveKeySet(key, 1)
	if next.MLEKey == ks.MLEKey || next.Sequence != 1 {
		t.Error("DeriveKeySet() does not depend on sequence")
	}
}

func TestKeyIndex(t *testing.T) {
	testCases := []struct {
		seq  uint32
		want uint8
	}{
		{0, 1},
		{1, 2},
		{127, 128},
		{128, 1},
	}
	for _, tc := range testCases {
		if got := KeyIndex(tc.seq); got != tc.want {
			t.Errorf("KeyIndex(%d) = %d, want %d", tc.seq, got, tc.want)
		}
	}
}
