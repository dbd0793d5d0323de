package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// PSKc derivation parameters.
const (
	// PSKcIterations is the PBKDF2 iteration count for PSKc derivation.
	PSKcIterations = 16384

	// PSKcSize is the PSKc length in bytes.
	PSKcSize = 16

	// MaxPassphraseLen is the longest commissioning credential accepted.
	MaxPassphraseLen = 255

	// MinPassphraseLen is the shortest commissioning credential accepted.
	MinPassphraseLen = 6
)

// HKDFSHA256 derives key material using HKDF-SHA256 (RFC 5869).
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PBKDF2SHA256 derives a key from a password using PBKDF2-HMAC-SHA256.
func PBKDF2SHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// DerivePSKc derives the pre-shared commissioner key from the commissioning
// passphrase, network name and extended PAN ID.
//
// The salt is "Thread" || extPanID || networkName. The PRF is HMAC-SHA256
// rather than AES-CMAC-PRF-128, so values differ from other stacks for the
// same inputs; datasets carry the PSKc itself, so this only matters when
// deriving a PSKc for a foreign commissioner.
func DerivePSKc(passphrase, networkName string, extPanID [8]byte) ([PSKcSize]byte, error) {
	var out [PSKcSize]byte
	if len(passphrase) < MinPassphraseLen || len(passphrase) > MaxPassphraseLen {
		return out, ErrInvalidPassphrase
	}

	salt := make([]byte, 0, 6+len(extPanID)+len(networkName))
	salt = append(salt, "Thread"...)
	salt = append(salt, extPanID[:]...)
	salt = append(salt, networkName...)

	copy(out[:], PBKDF2SHA256([]byte(passphrase), salt, PSKcIterations, PSKcSize))
	return out, nil
}

// StableIID returns a semantically opaque interface identifier for SLAAC
// (RFC 7217 style). The same secret, prefix and network name always yield the
// same identifier; dadCounter is bumped after a duplicate address is detected.
func StableIID(secret []byte, prefix []byte, networkName string, dadCounter uint8) ([8]byte, error) {
	var iid [8]byte
	info := make([]byte, 0, 5+len(networkName)+1)
	info = append(info, "slaac"...)
	info = append(info, networkName...)
	info = append(info, dadCounter)

	out, err := HKDFSHA256(secret, prefix, info, len(iid))
	if err != nil {
		return iid, err
	}
	copy(iid[:], out)
	// Clear the universal/local bit so the identifier reads as local.
	iid[0] &^= 0x02
	return iid, nil
}
