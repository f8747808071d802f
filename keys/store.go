package keys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("keys: not found")

// Store is a string key/value store for key-cache entries. Put overwrites.
type Store interface {
	Get(id string) (string, error)
	Put(id, value string) error
	Has(id string) (bool, error)
}

func GetDefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".paylock", "keys"), nil
}

// CheckID rejects ids that are empty or carry control characters.
func CheckID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("keys: id cannot be empty")
	}
	for _, char := range id {
		if char < 0x20 || char == 0x7f {
			return fmt.Errorf("keys: invalid character %q in id", char)
		}
	}
	return nil
}

// MemStore is an in-process Store.
type MemStore struct {
	mu sync.RWMutex
	m  map[string]string
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string]string)}
}

func (s *MemStore) Get(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[id]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemStore) Put(id, value string) error {
	if err := CheckID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = value
	return nil
}

func (s *MemStore) Has(id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[id]
	return ok, nil
}
