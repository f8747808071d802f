package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"xdao.co/paylock/cidutil"
	"xdao.co/paylock/fabric"
	"xdao.co/paylock/fabric/localfs"
	"xdao.co/paylock/keys"
	"xdao.co/paylock/vault"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultAppTag, cfg.AppTag)
	require.Equal(t, "pinata", cfg.Fabric.Endpoints[0].Name())
	require.Equal(t, 8*time.Second, cfg.Fabric.FetchTimeout)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	p := writeFile(t, `
app_tag: TEST
viewer: "0x00000000000000000000000000000000000000aa"
ledger:
  contract: "0x00000000000000000000000000000000000000bb"
  poll_interval: 3s
fabric:
  fetch_timeout: 2s
  endpoints:
    - kind: localfs
      config: {dir: /tmp/blocks}
  ingress: {kind: localfs}
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "TEST", cfg.AppTag)
	require.Equal(t, 3*time.Second, cfg.Ledger.PollInterval)
	require.Equal(t, uint64(DefaultLookback), cfg.Ledger.LookbackBlocks)
	require.Equal(t, int64(DefaultChainID), cfg.Ledger.ChainID)
	require.Equal(t, 2*time.Second, cfg.Fabric.FetchTimeout)
	require.Len(t, cfg.Fabric.Endpoints, 1)
	require.Equal(t, "localfs", cfg.Fabric.Endpoints[0].Name())
	require.Equal(t, "localfs", cfg.Fabric.Ingress.Name(), "ingress id must not leak from the default")
	require.Equal(t, "0x00000000000000000000000000000000000000AA", cfg.ViewerAddress().Hex())
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultAppTag, cfg.AppTag)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"empty app tag":        func(c *Config) { c.AppTag = " " },
		"bad viewer":           func(c *Config) { c.Viewer = "alice" },
		"bad contract":         func(c *Config) { c.Ledger.Contract = "0x12" },
		"negative timeout":     func(c *Config) { c.Fabric.FetchTimeout = -time.Second },
		"no endpoints":         func(c *Config) { c.Fabric.Endpoints = nil; c.Fabric.Ingress = nil },
		"missing kind":         func(c *Config) { c.Fabric.Endpoints = []BackendConfig{{ID: "x"}} },
		"duplicate id":         func(c *Config) { c.Fabric.Endpoints = append(c.Fabric.Endpoints, gateway("w3s", "https://x")) },
		"bad write policy":     func(c *Config) { c.Fabric.WritePolicy = "some" },
		"mirrors without all":  func(c *Config) { c.Fabric.Mirrors = []BackendConfig{{Kind: "kubo"}} },
		"all without ingress":  func(c *Config) { c.Fabric.WritePolicy = "all"; c.Fabric.Ingress = nil },
		"negative poll period": func(c *Config) { c.Ledger.PollInterval = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Ledger.Contract = "0x00000000000000000000000000000000000000bb"
	require.NoError(t, cfg.Save(p, false))
	require.Error(t, cfg.Save(p, false), "existing file must not be replaced")
	require.NoError(t, cfg.Save(p, true))

	got, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestOpenFabric_MirroredLocalStores(t *testing.T) {
	primary, mirror := t.TempDir(), t.TempDir()
	cfg := Default()
	cfg.Fabric = FabricConfig{
		WritePolicy: "all",
		Endpoints:   []BackendConfig{{Kind: "localfs", ID: "primary", Config: map[string]string{"dir": primary}}},
		Ingress:     &BackendConfig{Kind: "localfs", ID: "primary", Config: map[string]string{"dir": primary}},
		Mirrors:     []BackendConfig{{Kind: "localfs", ID: "mirror", Config: map[string]string{"dir": mirror}}},
		Cache:       CacheConfig{Dir: t.TempDir()},
	}

	f, closeFn, err := cfg.OpenFabric(FabricOptions{Publish: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()
	require.Equal(t, []string{"primary"}, f.Endpoints())

	ctx := context.Background()
	blob := []byte("encrypted bytes")
	ref, err := f.Publish(ctx, blob, "blob.bin")
	require.NoError(t, err)
	require.Equal(t, cidutil.CIDv1RawSHA256(blob), ref)

	got, err := f.Fetch(ctx, ref, fabric.KindBinary)
	require.NoError(t, err)
	require.Equal(t, blob, got)

	m, err := localfs.New(mirror)
	require.NoError(t, err)
	id, err := cidutil.ParseRef(ref)
	require.NoError(t, err)
	ok, err := m.Has(ctx, id)
	require.NoError(t, err)
	require.True(t, ok, "mirror must hold the published bytes")
}

func TestOpenFabric_ReadOnlySkipsIngress(t *testing.T) {
	cfg := Default()
	cfg.Fabric.Endpoints = []BackendConfig{{Kind: "localfs", Config: map[string]string{"dir": t.TempDir()}}}
	cfg.Fabric.Ingress = &BackendConfig{Kind: "no-such-backend"}
	cfg.Fabric.Cache.Dir = ""

	f, closeFn, err := cfg.OpenFabric(FabricOptions{})
	require.NoError(t, err)
	require.NoError(t, closeFn())
	_, err = f.Publish(context.Background(), []byte("x"), "")
	require.Error(t, err)

	_, _, err = cfg.OpenFabric(FabricOptions{Publish: true})
	require.ErrorContains(t, err, "unknown backend")
}

func TestOpenKeyCache_Sealed(t *testing.T) {
	dir := t.TempDir()
	idPath := filepath.Join(dir, "identity.age")
	_, err := keys.GenerateIdentity(idPath)
	require.NoError(t, err)

	cfg := Default()
	cfg.Keystore = KeystoreConfig{Dir: filepath.Join(dir, "keys"), AgeIdentityFile: idPath}
	cache, closeFn, err := cfg.OpenKeyCache()
	require.NoError(t, err)

	key, err := vault.GenerateRandomKey()
	require.NoError(t, err)
	require.NoError(t, cache.Remember("bafkreiexample", "Poster", key))
	require.NoError(t, closeFn())

	cache, closeFn, err = cfg.OpenKeyCache()
	require.NoError(t, err)
	defer closeFn()
	got, ok, err := cache.Lookup("", "Poster")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, key.Equal(got))
}

func TestLoadSigner(t *testing.T) {
	cfg := Default()
	s, err := cfg.LoadSigner()
	require.NoError(t, err)
	require.Nil(t, s)

	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg.Ledger.KeyFile = filepath.Join(t.TempDir(), "seller.key")
	require.NoError(t, keys.SavePrivateKeyFile(cfg.Ledger.KeyFile, k, false))
	s, err = cfg.LoadSigner()
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(k.PublicKey), s.Address())
}

func TestOpenLedger_RequiresContract(t *testing.T) {
	_, err := Default().OpenLedger(context.Background(), nil, false)
	require.ErrorIs(t, err, ErrInvalid)
}
