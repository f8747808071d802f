package vault

import "errors"

var (
	ErrInvalidKeyLength     = errors.New("vault: invalid key length")
	ErrInvalidHexEncoding   = errors.New("vault: invalid hex encoding")
	ErrPayloadTooSmall      = errors.New("vault: payload too small")
	ErrAuthenticationFailed = errors.New("vault: authentication failed")
	ErrEmptySignature       = errors.New("vault: empty signature")
)

// IsCryptoError reports whether err carries one of the vault sentinels.
func IsCryptoError(err error) bool {
	return errors.Is(err, ErrInvalidKeyLength) ||
		errors.Is(err, ErrInvalidHexEncoding) ||
		errors.Is(err, ErrPayloadTooSmall) ||
		errors.Is(err, ErrAuthenticationFailed)
}
