package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// KeySize is the size of a symmetric key in bytes.
	KeySize = 32
	// KeyHexLen is the length of the hex form of a key.
	KeyHexLen = 2 * KeySize

	fingerprintTag = "xdao-paylock-key-fingerprint-v1"
)

// Key is symmetric key material.
//
// Key deliberately does not print itself: use Hex when the encoded form is
// actually needed (local key cache, deliverKey call).
type Key [KeySize]byte

func (k Key) Hex() string { return hex.EncodeToString(k[:]) }

func (k Key) String() string   { return "vault.Key(redacted)" }
func (k Key) GoString() string { return k.String() }

// IsZero reports whether k is the all-zero key.
func (k Key) IsZero() bool {
	var zero Key
	return subtle.ConstantTimeCompare(k[:], zero[:]) == 1
}

// Equal compares two keys in constant time.
func (k Key) Equal(other Key) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Fingerprint returns a non-secret identifier for k, suitable for publishing
// next to a listing so that a re-derived key can be checked before use.
func (k Key) Fingerprint() string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(fingerprintTag))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(k[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Zero overwrites the key in place.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// GenerateRandomKey returns a fresh key from crypto/rand.
func GenerateRandomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("vault: random key: %w", err)
	}
	return k, nil
}

// DeriveKeyFromSignature derives a key as keccak256(signature).
//
// The same signature always yields the same key. Wallet signatures over the
// canonical message are deterministic, which makes lost keys recoverable.
func DeriveKeyFromSignature(signature []byte) (Key, error) {
	if len(signature) == 0 {
		return Key{}, ErrEmptySignature
	}
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(signature)
	var k Key
	copy(k[:], h.Sum(nil)[:KeySize])
	return k, nil
}

// CanonicalMessage returns the message a seller signs to derive the key for
// itemName. Surrounding whitespace in the name is the only thing normalized.
func CanonicalMessage(appTag, itemName string) string {
	return appTag + ":" + strings.TrimSpace(itemName)
}

// ValidateKey parses a hex key as users tend to paste it: optionally quoted,
// optionally 0x-prefixed, with stray whitespace.
func ValidateKey(raw string) (Key, error) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if len(s) != KeyHexLen {
		return Key{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidKeyLength, KeyHexLen, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidHexEncoding, err)
	}
	var k Key
	copy(k[:], b)
	return k, nil
}
