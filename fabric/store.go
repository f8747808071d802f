package fabric

import (
	"context"

	"github.com/ipfs/go-cid"
)

// StoreEndpoint serves reads from a block store.
func StoreEndpoint(name string, s Store) Endpoint { return storeAdapter{name: name, s: s} }

// StoreIngress publishes into a block store. The hint is ignored.
func StoreIngress(name string, s Store) Ingress { return storeAdapter{name: name, s: s} }

type storeAdapter struct {
	name string
	s    Store
}

func (a storeAdapter) Name() string { return a.name }

func (a storeAdapter) Get(ctx context.Context, id cid.Cid) (*Object, error) {
	b, err := a.s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Object{Data: b}, nil
}

func (a storeAdapter) Put(ctx context.Context, data []byte, _ string) (cid.Cid, error) {
	return a.s.Put(ctx, data)
}
