package cidutil

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrEmptyRef     = errors.New("cidutil: empty content reference")
	ErrJSONRef      = errors.New("cidutil: content reference looks like raw JSON")
	ErrUndecodable  = errors.New("cidutil: content reference is not a CID")
	ErrHashMismatch = errors.New("cidutil: bytes do not match CID")
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// LooksLikeJSON reports whether ref is a JSON document (or a URL-encoded one)
// that was passed where a content reference was expected.
func LooksLikeJSON(ref string) bool {
	s := strings.TrimSpace(ref)
	return strings.HasPrefix(s, "{") || strings.Contains(s, "%7B") || strings.Contains(s, "%7b")
}

// TrimRef strips the URI forms a content reference commonly arrives in
// (ipfs://<cid>, /ipfs/<cid>) and any trailing path.
func TrimRef(ref string) string {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(s, "ipfs://")
	s = strings.TrimPrefix(s, "/ipfs/")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// ParseRef validates ref and decodes it into a CID. It never touches the network.
func ParseRef(ref string) (cid.Cid, error) {
	if strings.TrimSpace(ref) == "" {
		return cid.Undef, ErrEmptyRef
	}
	if LooksLikeJSON(ref) {
		return cid.Undef, ErrJSONRef
	}
	s := TrimRef(ref)
	if s == "" {
		return cid.Undef, ErrEmptyRef
	}
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, fmt.Errorf("%w: %q", ErrUndecodable, s)
	}
	return id, nil
}

// Verifiable reports whether id addresses its bytes directly (raw codec),
// meaning a fetched body can be checked against it. UnixFS (dag-pb) ids
// address a DAG, not the file bytes a gateway returns.
func Verifiable(id cid.Cid) bool {
	return id.Defined() && id.Prefix().Codec == cid.Raw
}

// Verify checks data against id when id is verifiable. Non-verifiable ids pass.
func Verify(id cid.Cid, data []byte) error {
	if !Verifiable(id) {
		return nil
	}
	got, err := id.Prefix().Sum(data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return fmt.Errorf("%w: want %s got %s", ErrHashMismatch, id, got)
	}
	return nil
}
