package keys

import (
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"xdao.co/paylock/cidutil"
	"xdao.co/paylock/vault"
)

var log = logging.Logger("paylock/keys")

// RefID is the cache id for a content reference.
func RefID(ref string) string { return "ref:" + cidutil.TrimRef(ref) }

// NameID is the cache id for an item name.
func NameID(name string) string { return "name:" + strings.TrimSpace(name) }

// Cache maps content references and item names to content keys.
type Cache struct {
	store Store
}

func NewCache(s Store) *Cache {
	return &Cache{store: s}
}

// Lookup tries ref first, then name. Empty arguments are skipped.
func (c *Cache) Lookup(ref, name string) (vault.Key, bool, error) {
	var ids []string
	if cidutil.TrimRef(ref) != "" {
		ids = append(ids, RefID(ref))
	}
	if strings.TrimSpace(name) != "" {
		ids = append(ids, NameID(name))
	}
	for _, id := range ids {
		raw, err := c.store.Get(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return vault.Key{}, false, err
		}
		key, err := vault.ValidateKey(raw)
		if err != nil {
			return vault.Key{}, false, fmt.Errorf("keys: cached value for %q: %w", id, err)
		}
		log.Debugw("key cache hit", "id", id, "fingerprint", key.Fingerprint())
		return key, true, nil
	}
	return vault.Key{}, false, nil
}

// Remember stores key under ref and name. Empty arguments are skipped.
func (c *Cache) Remember(ref, name string, key vault.Key) error {
	if key.IsZero() {
		return errors.New("keys: refusing to cache a zero key")
	}
	stored := 0
	if cidutil.TrimRef(ref) != "" {
		if err := c.store.Put(RefID(ref), key.Hex()); err != nil {
			return err
		}
		stored++
	}
	if strings.TrimSpace(name) != "" {
		if err := c.store.Put(NameID(name), key.Hex()); err != nil {
			return err
		}
		stored++
	}
	if stored == 0 {
		return errors.New("keys: nothing to remember the key by")
	}
	log.Debugw("key cached", "ref", cidutil.TrimRef(ref), "fingerprint", key.Fingerprint())
	return nil
}
