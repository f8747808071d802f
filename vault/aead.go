package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// IVSize is the GCM nonce size prepended to every payload.
	IVSize = 12
	// TagSize is the GCM authentication tag appended to the ciphertext.
	TagSize = 16
	// MinPayloadSize is the smallest payload Decrypt will hand to the cipher.
	MinPayloadSize = IVSize + 1

	defaultContentType = "application/octet-stream"
)

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key. The result is IV || ciphertext || tag,
// with a fresh random IV on every call.
func Encrypt(plaintext []byte, key Key) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init: %w", err)
	}
	out := make([]byte, IVSize, IVSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("vault: iv: %w", err)
	}
	return aead.Seal(out, out[:IVSize], plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt and returns the plaintext along
// with its content type.
//
// declaredContentType is returned unchanged when it is a MIME type. Listing
// labels such as "archive" or ".ZIP" are not, in which case the type is
// sniffed from the plaintext.
func Decrypt(payload []byte, key Key, declaredContentType string) ([]byte, string, error) {
	if len(payload) < MinPayloadSize {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrPayloadTooSmall, len(payload))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, "", fmt.Errorf("vault: cipher init: %w", err)
	}
	plaintext, err := aead.Open(nil, payload[:IVSize], payload[IVSize:], nil)
	if err != nil {
		return nil, "", ErrAuthenticationFailed
	}
	return plaintext, contentTypeFor(plaintext, declaredContentType), nil
}

func contentTypeFor(plaintext []byte, declared string) string {
	declared = strings.TrimSpace(declared)
	if strings.Contains(declared, "/") {
		return declared
	}
	if len(plaintext) == 0 {
		return defaultContentType
	}
	return mimetype.Detect(plaintext).String()
}
