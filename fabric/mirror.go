package fabric

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// MirroredIngress publishes to Primary and then copies the bytes to each
// mirror. Primary's CID is the result; mirrors are best effort and never fail
// the publish.
//
// Use PutAll when you need the per-ingress CID mapping.
type MirroredIngress struct {
	Primary Ingress
	Mirrors []Ingress
}

var _ Ingress = MirroredIngress{}

func (m MirroredIngress) Name() string {
	if m.Primary == nil {
		return "mirrored"
	}
	return m.Primary.Name()
}

// PutAll publishes data everywhere and returns the authoritative CID along
// with the CID each ingress reported. Ingresses that failed are absent.
func (m MirroredIngress) PutAll(ctx context.Context, data []byte, hint string) (cid.Cid, map[string]cid.Cid, error) {
	if m.Primary == nil {
		return cid.Undef, nil, fmt.Errorf("fabric: mirrored ingress has no primary")
	}
	want, err := m.Primary.Put(ctx, data, hint)
	if err != nil {
		return cid.Undef, nil, err
	}
	out := make(map[string]cid.Cid, len(m.Mirrors)+1)
	out[m.Primary.Name()] = want
	for _, mirror := range m.Mirrors {
		if mirror == nil {
			continue
		}
		got, err := mirror.Put(ctx, data, hint)
		if err != nil {
			log.Warnw("mirror publish failed", "mirror", mirror.Name(), "cid", want.String(), "err", err)
			continue
		}
		out[mirror.Name()] = got
		// Mirrors that chunk differently report a different CID for the same
		// bytes; only a differing multihash under the same codec is suspicious.
		if got.Prefix().Codec == want.Prefix().Codec && got.Hash().HexString() != want.Hash().HexString() {
			log.Warnw("mirror cid mismatch", "mirror", mirror.Name(), "want", want.String(), "got", got.String())
		}
	}
	return want, out, nil
}

func (m MirroredIngress) Put(ctx context.Context, data []byte, hint string) (cid.Cid, error) {
	id, _, err := m.PutAll(ctx, data, hint)
	return id, err
}
