// Package crypto wraps the key derivation primitives a Thread node needs:
// the per key-sequence MLE and MAC keys, the commissioning PSKc and stable
// SLAAC interface identifiers.
//
// The primitives come from crypto/hmac and golang.org/x/crypto; this package
// only fixes the inputs and output layout.
package crypto
