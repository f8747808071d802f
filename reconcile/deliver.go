package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/ledger"
	"xdao.co/paylock/vault"
)

// Key sources reported in logs and metrics.
const (
	sourceCache   = "cache"
	sourceDerived = "derived"
)

// Deliver hands the content key of item to buyer through the ledger.
//
// The buyer must be known: syncing rows have no buyer, and the caller has to
// supply one (ErrAmbiguousBuyer otherwise). The key comes from the key cache
// (by content reference, then by name) or is re-derived by signing the
// canonical message for the item name. A key that does not match the
// fingerprint in the item's preview metadata is never sent.
func (e *Engine) Deliver(ctx context.Context, itemID uint64, buyer common.Address) (common.Hash, error) {
	if buyer == (common.Address{}) {
		return common.Hash{}, ErrAmbiguousBuyer
	}
	if e.writer == nil {
		return common.Hash{}, fmt.Errorf("%w: no ledger writer", ErrNotConfigured)
	}
	item, err := e.reader.GetItem(ctx, itemID)
	if err != nil {
		return common.Hash{}, readFailed(fmt.Sprintf("item %d", itemID), err)
	}
	own, err := e.reader.CheckOwnership(ctx, itemID, buyer)
	if err != nil {
		return common.Hash{}, readFailed(fmt.Sprintf("ownership of item %d", itemID), err)
	}
	if !own.Purchased {
		return common.Hash{}, fmt.Errorf("%w: %s, item %d", ErrNotBuyer, buyer.Hex(), itemID)
	}

	key, source, err := e.ResolveKey(ctx, item)
	if err != nil {
		e.metrics.delivery(source, "error")
		return common.Hash{}, err
	}
	defer key.Zero()

	tx, err := e.writer.DeliverKey(ctx, item.ID, buyer, key.Hex())
	if err != nil {
		e.metrics.delivery(source, "error")
		return common.Hash{}, fmt.Errorf("reconcile: deliver key for item %d: %w", item.ID, err)
	}
	e.metrics.delivery(source, "ok")
	log.Infow("key delivered", "item", item.ID, "buyer", buyer.Hex(), "source", source, "fingerprint", key.Fingerprint(), "tx", tx.Hex())
	return tx, nil
}

// ResolveKey finds the content key for item and reports where it came from.
// A derived key is remembered in the key cache.
func (e *Engine) ResolveKey(ctx context.Context, item *ledger.Listing) (vault.Key, string, error) {
	if e.cache != nil {
		key, ok, err := e.cache.Lookup(item.ContentRef, item.Name)
		if err != nil {
			return vault.Key{}, sourceCache, err
		}
		if ok {
			if err := e.checkFingerprint(ctx, item, key); err != nil {
				return vault.Key{}, sourceCache, err
			}
			return key, sourceCache, nil
		}
	}

	if e.signer == nil {
		return vault.Key{}, sourceDerived, fmt.Errorf("%w: item %d is not in the key cache and no signer is configured", ErrNoKey, item.ID)
	}
	sig, err := e.signer.SignMessage(ctx, []byte(vault.CanonicalMessage(e.appTag, item.Name)))
	if err != nil {
		return vault.Key{}, sourceDerived, fmt.Errorf("reconcile: sign canonical message: %w", err)
	}
	key, err := vault.DeriveKeyFromSignature(sig)
	if err != nil {
		return vault.Key{}, sourceDerived, err
	}
	if err := e.checkFingerprint(ctx, item, key); err != nil {
		return vault.Key{}, sourceDerived, err
	}
	if e.cache != nil {
		if err := e.cache.Remember(item.ContentRef, item.Name, key); err != nil {
			log.Warnw("could not cache derived key", "item", item.ID, "err", err)
		}
	}
	return key, sourceDerived, nil
}

// checkFingerprint compares key against the fingerprint in the item's
// preview metadata. Items without a published fingerprint pass.
func (e *Engine) checkFingerprint(ctx context.Context, item *ledger.Listing, key vault.Key) error {
	if e.fabric == nil || item.PreviewRef == "" {
		return nil
	}
	md := e.fabric.ResolveMetadata(ctx, item.PreviewRef)
	if md == nil || md.KeyFingerprint == "" {
		return nil
	}
	if md.KeyFingerprint != key.Fingerprint() {
		return fmt.Errorf("%w: item %d", ErrKeyMismatch, item.ID)
	}
	return nil
}

// Decrypt fetches the encrypted artifact of item and opens it with
// deliveredKey. It returns the plaintext and its content type.
func (e *Engine) Decrypt(ctx context.Context, item *ledger.Listing, deliveredKey string) ([]byte, string, error) {
	if e.fabric == nil {
		return nil, "", fmt.Errorf("%w: no content fabric", ErrNotConfigured)
	}
	key, err := vault.ValidateKey(deliveredKey)
	if err != nil {
		return nil, "", err
	}
	defer key.Zero()
	if err := e.checkFingerprint(ctx, item, key); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrWrongKey, err)
	}

	payload, err := e.fabric.Fetch(ctx, item.ContentRef, fabric.KindBinary)
	if err != nil {
		return nil, "", err
	}
	if len(payload) < vault.IVSize+vault.TagSize {
		return nil, "", fmt.Errorf("%w: %w: %d bytes cannot hold an IV and a tag", ErrIncomplete, vault.ErrPayloadTooSmall, len(payload))
	}
	plaintext, contentType, err := vault.Decrypt(payload, key, item.ContentType)
	switch {
	case errors.Is(err, vault.ErrPayloadTooSmall):
		return nil, "", fmt.Errorf("%w: %w", ErrIncomplete, err)
	case errors.Is(err, vault.ErrAuthenticationFailed):
		return nil, "", fmt.Errorf("%w: %w", ErrWrongKey, err)
	case err != nil:
		return nil, "", err
	}
	return plaintext, contentType, nil
}

// Open decrypts an item the viewer owns, using the key delivered on the ledger.
func (e *Engine) Open(ctx context.Context, itemID uint64) ([]byte, string, *ledger.Listing, error) {
	if e.viewer == (common.Address{}) {
		return nil, "", nil, fmt.Errorf("%w: no viewer", ErrNotConfigured)
	}
	item, err := e.reader.GetItem(ctx, itemID)
	if err != nil {
		return nil, "", nil, readFailed(fmt.Sprintf("item %d", itemID), err)
	}
	own, err := e.reader.CheckOwnership(ctx, itemID, e.viewer)
	if err != nil {
		return nil, "", nil, readFailed(fmt.Sprintf("ownership of item %d", itemID), err)
	}
	if !own.Purchased {
		return nil, "", nil, fmt.Errorf("%w: %s, item %d", ErrNotBuyer, e.viewer.Hex(), itemID)
	}
	if own.DeliveredKey == "" {
		return nil, "", nil, fmt.Errorf("%w: key for item %d not delivered yet", ErrNoKey, itemID)
	}
	plaintext, contentType, err := e.Decrypt(ctx, item, own.DeliveredKey)
	if err != nil {
		return nil, "", nil, err
	}
	return plaintext, contentType, item, nil
}
