package config

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/fabric/localfs"
	"xdao.co/paylock/fabric/registry"
	"xdao.co/paylock/keys"
	"xdao.co/paylock/ledger/evm"
)

var log = logging.Logger("paylock/config")

// Closer releases everything an Open* call acquired.
type Closer func() error

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FabricOptions tunes OpenFabric.
type FabricOptions struct {
	Usage registry.Usage
	// Publish opens the ingress and mirrors. Read-only callers leave it unset
	// so ingress credentials are not required.
	Publish bool
	Metrics *fabric.Metrics
}

// OpenFabric opens every configured backend and assembles a Fabric.
func (c Config) OpenFabric(opts FabricOptions) (*fabric.Fabric, Closer, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	usage := opts.Usage
	if usage == 0 {
		usage = registry.UsageCLI
	}
	fc := c.Fabric

	var closers []func() error
	fail := func(err error) (*fabric.Fabric, Closer, error) {
		_ = closeAll(closers)
		return nil, nil, err
	}
	open := func(b BackendConfig, role registry.Role) (*registry.Opened, error) {
		o, err := registry.Open(b.Kind, usage, role, b.Name(), b.Config)
		if err != nil {
			return nil, err
		}
		if o.Close != nil {
			closers = append(closers, o.Close)
		}
		return o, nil
	}

	endpoints := make([]fabric.Endpoint, 0, len(fc.Endpoints))
	for _, b := range fc.Endpoints {
		o, err := open(b, registry.RoleEndpoint)
		if err != nil {
			return fail(err)
		}
		endpoints = append(endpoints, o.Endpoint)
	}

	var ingress fabric.Ingress
	if opts.Publish {
		if fc.Ingress == nil {
			return fail(fmt.Errorf("%w: publishing requires fabric.ingress", ErrInvalid))
		}
		o, err := open(*fc.Ingress, registry.RoleIngress)
		if err != nil {
			return fail(err)
		}
		ingress = o.Ingress
		if fc.WritePolicy == "all" {
			mirrored := fabric.MirroredIngress{Primary: o.Ingress}
			for _, b := range fc.Mirrors {
				m, err := open(b, registry.RoleIngress)
				if err != nil {
					return fail(err)
				}
				mirrored.Mirrors = append(mirrored.Mirrors, m.Ingress)
			}
			ingress = mirrored
		}
	}

	var cache fabric.Cache
	if fc.Cache.Dir != "" {
		s, err := localfs.New(fc.Cache.Dir)
		if err != nil {
			return fail(fmt.Errorf("config: open block cache: %w", err))
		}
		cache = s
	}

	f, err := fabric.New(fabric.Options{
		Endpoints:      endpoints,
		Ingress:        ingress,
		Cache:          cache,
		FetchTimeout:   fc.FetchTimeout,
		PublishRetries: fc.PublishRetries,
		Metrics:        opts.Metrics,
	})
	if err != nil {
		return fail(err)
	}
	log.Debugw("fabric opened", "endpoints", f.Endpoints(), "publish", ingress != nil)
	return f, func() error { return closeAll(closers) }, nil
}

// OpenKeyCache opens the LevelDB key cache, sealed to the age identity when
// one is configured.
func (c Config) OpenKeyCache() (*keys.Cache, Closer, error) {
	dir := c.Keystore.Dir
	if dir == "" {
		d, err := keys.GetDefaultDirectory()
		if err != nil {
			return nil, nil, err
		}
		dir = d
	}
	ls, err := keys.OpenLevelStore(dir)
	if err != nil {
		return nil, nil, err
	}
	var store keys.Store = ls
	if c.Keystore.AgeIdentityFile != "" {
		id, err := keys.LoadIdentity(c.Keystore.AgeIdentityFile)
		if err != nil {
			_ = ls.Close()
			return nil, nil, err
		}
		sealed, err := keys.NewSealedStore(ls, id)
		if err != nil {
			_ = ls.Close()
			return nil, nil, err
		}
		store = sealed
	}
	return keys.NewCache(store), ls.Close, nil
}

// LoadSigner loads ledger.key_file. It returns nil without error when no key
// file is configured.
func (c Config) LoadSigner() (*keys.EthSigner, error) {
	if c.Ledger.KeyFile == "" {
		return nil, nil
	}
	k, err := keys.LoadPrivateKeyFile(c.Ledger.KeyFile)
	if err != nil {
		return nil, err
	}
	return keys.NewEthSigner(k), nil
}

// OpenLedger dials the ledger. With subscribe set it dials ws_url so the
// client can stream logs.
func (c Config) OpenLedger(ctx context.Context, signer *keys.EthSigner, subscribe bool) (*evm.Client, error) {
	lc := c.Ledger
	if lc.Contract == "" {
		return nil, fmt.Errorf("%w: ledger.contract is required", ErrInvalid)
	}
	url := lc.RPCURL
	if subscribe && lc.WSURL != "" {
		url = lc.WSURL
	}
	if url == "" {
		return nil, fmt.Errorf("%w: ledger.rpc_url is required", ErrInvalid)
	}
	cfg := evm.Config{
		Contract: common.HexToAddress(lc.Contract),
		ChainID:  big.NewInt(lc.ChainID),
	}
	if signer != nil {
		cfg.Key = signer.PrivateKey()
	}
	return evm.Dial(ctx, url, cfg)
}
