package keys

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// SealedStore encrypts values to an age X25519 recipient before handing
// them to the wrapped Store. Ids stay in the clear.
type SealedStore struct {
	inner     Store
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

var _ Store = (*SealedStore)(nil)

func NewSealedStore(inner Store, identity *age.X25519Identity) (*SealedStore, error) {
	if inner == nil || identity == nil {
		return nil, errors.New("keys: sealed store needs a store and an identity")
	}
	return &SealedStore{inner: inner, identity: identity, recipient: identity.Recipient()}, nil
}

func (s *SealedStore) Get(id string) (string, error) {
	sealed, err := s.inner.Get(id)
	if err != nil {
		return "", err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("keys: decoding sealed value: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return "", fmt.Errorf("keys: unsealing value: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("keys: reading sealed value: %w", err)
	}
	return string(plain), nil
}

func (s *SealedStore) Put(id, value string) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return fmt.Errorf("keys: sealing value: %w", err)
	}
	if _, err := io.WriteString(w, value); err != nil {
		return fmt.Errorf("keys: sealing value: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("keys: sealing value: %w", err)
	}
	return s.inner.Put(id, base64.StdEncoding.EncodeToString(buf.Bytes()))
}

func (s *SealedStore) Has(id string) (bool, error) {
	return s.inner.Has(id)
}

// LoadIdentity reads an age X25519 identity file (AGE-SECRET-KEY-1...).
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ids, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("keys: parsing identity file: %w", err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, errors.New("keys: identity file has no X25519 identity")
}

// GenerateIdentity writes a fresh identity to path and returns it. An
// existing file is never overwritten.
func GenerateIdentity(path string) (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("keys: generating identity: %w", err)
	}
	if err := writeSecretFile(path, "# public key: "+identity.Recipient().String()+"\n"+identity.String()+"\n", false); err != nil {
		return nil, err
	}
	return identity, nil
}

func writeSecretFile(path, contents string, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(contents); err != nil {
		return err
	}
	return file.Close()
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
