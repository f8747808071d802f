// Package vault holds the symmetric key primitives used to protect listed
// artifacts.
//
// A key is 32 bytes, either random or derived from a wallet signature over a
// canonical message so that a seller can regenerate it later. Payloads are
// AES-256-GCM with the 12-byte IV prepended to the sealed bytes.
//
// The package performs no I/O and never logs.
package vault
