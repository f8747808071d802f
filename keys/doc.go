// Package keys holds the seller's local key material: the content-key cache
// and the account signer.
//
// The content-key cache maps a published content reference (and the item
// name) to the symmetric key that encrypted it. It is the only state in
// paylock that cannot be re-derived from the ledger when keys are random,
// so entries are never deleted automatically and values never appear in
// logs. Stores can be sealed at rest to an age X25519 identity.
package keys
