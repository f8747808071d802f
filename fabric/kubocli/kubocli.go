package kubocli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/paylock/cidutil"
	"xdao.co/paylock/fabric"
)

// Store is a block store backed by the local kubo "ipfs" CLI.
//
// It operates on the local IPFS repo and does not need a running daemon.
// Blocks are written raw with sha2-256 and CIDv1, so ids match
// cidutil.CIDv1RawSHA256CID and every Get is verified against its CID.
//
// Transport/reachability is not validity; CID verification is.
type Store struct {
	bin string
	env []string
}

var _ fabric.Store = (*Store)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Env optionally overrides the command environment (e.g. to set IPFS_PATH).
	// If nil, the process environment is used.
	Env []string
}

func New(opts Options) *Store {
	bin := opts.Bin
	if bin == "" {
		bin = "ipfs"
	}
	return &Store{bin: bin, env: opts.Env}
}

func (s *Store) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}

	out, err := s.run(ctx, data,
		"block", "put",
		"--quiet",
		"--format=raw",
		"--mhtype=sha2-256",
		"--mhlen=32",
		"--cid-version=1",
		"/dev/stdin",
	)
	if err != nil {
		return cid.Undef, err
	}

	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("kubocli: unexpected block put output: %w", err)
	}
	if !got.Equals(id) {
		return cid.Undef, fabric.ErrCIDMismatch
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, fabric.ErrInvalidCID
	}

	out, err := s.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		if isLikelyNotFound(err) {
			return nil, fabric.ErrNotFound
		}
		return nil, err
	}
	if err := cidutil.Verify(id, out); err != nil {
		return nil, fabric.ErrCIDMismatch
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	_, err := s.run(ctx, nil, "block", "stat", "--offline", id.String())
	if err == nil {
		return true, nil
	}
	if isLikelyNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	if s.env != nil {
		cmd.Env = s.env
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		msg := strings.TrimSpace(string(ee.Stderr))
		if msg == "" {
			return nil, fmt.Errorf("kubocli: %v", err)
		}
		return nil, fmt.Errorf("kubocli: %s", msg)
	}
	return nil, err
}

func isLikelyNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}
