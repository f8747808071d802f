package keys

import (
	"errors"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelStore is a Store persisted in a LevelDB directory.
type LevelStore struct {
	db *leveldb.DB
}

var _ Store = (*LevelStore)(nil)

// OpenLevelStore opens (or creates) the database at dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	if dir == "" {
		return nil, errors.New("keys: store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Get(id string) (string, error) {
	v, err := s.db.Get([]byte(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *LevelStore) Put(id, value string) error {
	if err := CheckID(id); err != nil {
		return err
	}
	return s.db.Put([]byte(id), []byte(value), &opt.WriteOptions{Sync: true})
}

func (s *LevelStore) Has(id string) (bool, error) {
	return s.db.Has([]byte(id), nil)
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
