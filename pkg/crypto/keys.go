package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// Key sizes.
const (
	// NetworkKeySize is the Thread network key length.
	NetworkKeySize = 16

	// SHA256LenBytes is the SHA-256 digest length.
	SHA256LenBytes = sha256.Size
)

var (
	// ErrInvalidPassphrase is returned for a passphrase outside 6..255 bytes.
	ErrInvalidPassphrase = errors.New("crypto: invalid passphrase length")
)

// KeySet is the pair of keys in force for one key sequence.
type KeySet struct {
	Sequence uint32
	MLEKey   [16]byte
	MACKey   [16]byte
}

// HMACSHA256 computes the HMAC-SHA256 of a message using the given key.
func HMACSHA256(key, message []byte) [SHA256LenBytes]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var result [SHA256LenBytes]byte
	copy(result[:], h.Sum(nil))
	return result
}

// DeriveKeySet computes the MLE and MAC keys for a key sequence:
// HMAC-SHA256(networkKey, sequence || "Thread"), MLE key the first half and
// MAC key the second.
func DeriveKeySet(networkKey [NetworkKeySize]byte, sequence uint32) KeySet {
	var msg [10]byte
	binary.BigEndian.PutUint32(msg[:4], sequence)
	copy(msg[4:], "Thread")

	sum := HMACSHA256(networkKey[:], msg[:])
	ks := KeySet{Sequence: sequence}
	copy(ks.MLEKey[:], sum[:16])
	copy(ks.MACKey[:], sum[16:])
	return ks
}

// KeyIndex returns the 7-bit MAC key index carried in frames for a sequence.
func KeyIndex(sequence uint32) uint8 {
	return uint8(sequence&0x7F) + 1
}
