package localfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/paylock/cidutil"
	"xdao.co/paylock/fabric"
)

// Store is a local filesystem block store.
//
// Objects are stored immutably, one file per CID. Put derives a CIDv1 raw
// sha2-256 from the bytes; Keep files bytes under a CID the network assigned
// (e.g. UnixFS), which is how fetched and published artifacts are cached.
// Raw CIDs are re-verified on every Get.
type Store struct {
	root string
}

var (
	_ fabric.Store = (*Store)(nil)
	_ fabric.Cache = (*Store)(nil)
)

// New constructs a store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	if err := s.Keep(ctx, id, data); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

// Keep writes data under id. Rewriting an existing id with different bytes
// fails with fabric.ErrImmutable.
func (s *Store) Keep(ctx context.Context, id cid.Cid, data []byte) error {
	if !id.Defined() {
		return fabric.ErrInvalidCID
	}
	if err := cidutil.Verify(id, data); err != nil {
		return fabric.ErrCIDMismatch
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil || !bytes.Equal(existing, data) {
				return fabric.ErrImmutable
			}
			return nil
		}
		return err
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, fabric.ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fabric.ErrNotFound
		}
		return nil, err
	}
	if err := cidutil.Verify(id, b); err != nil {
		return nil, fabric.ErrCIDMismatch
	}
	return b, nil
}

func (s *Store) Has(_ context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	_, err := os.Stat(s.pathFor(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[len(str)-2:], str)
}
