// Package config loads the YAML configuration shared by the paylock
// binaries and opens the fabric, key cache and ledger it describes.
//
// Backends are selected at runtime by kind. The binary still has to link the
// backend packages (blank imports) for a kind to resolve.
//
// Example:
//
//	app_tag: PAYLOCK
//	ledger:
//	  rpc_url: https://services.datahaven-testnet.network/testnet
//	  contract: "0x..."
//	  chain_id: 55931
//	  key_file: ~/.paylock/seller.key
//	fabric:
//	  write_policy: all
//	  endpoints:
//	    - {kind: gateway, id: ipfs.io, config: {url: "https://ipfs.io"}}
//	  ingress: {kind: pinning, id: pinata}
//	  mirrors:
//	    - {kind: kubo, id: local, config: {api: "http://127.0.0.1:5001"}}
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "PAYLOCK_CONFIG"

const (
	DefaultAppTag       = "PAYLOCK"
	DefaultRPCURL       = "https://services.datahaven-testnet.network/testnet"
	DefaultChainID      = 55931
	DefaultLookback     = 100000
	DefaultPollInterval = 15 * time.Second
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	AppTag string `yaml:"app_tag"`
	// Viewer is the account whose feed is reconciled. Empty means the
	// account of ledger.key_file.
	Viewer   string         `yaml:"viewer,omitempty"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Fabric   FabricConfig   `yaml:"fabric"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
}

type LedgerConfig struct {
	RPCURL string `yaml:"rpc_url"`
	// WSURL is used for log subscriptions. Without it the engine polls.
	WSURL    string `yaml:"ws_url,omitempty"`
	Contract string `yaml:"contract"`
	ChainID  int64  `yaml:"chain_id"`
	// KeyFile holds the hex secp256k1 key that signs transactions. Empty
	// means read-only.
	KeyFile        string        `yaml:"key_file,omitempty"`
	LookbackBlocks uint64        `yaml:"lookback_blocks"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// FabricConfig describes the content fabric.
//
// WritePolicy values:
//   - "first" (default): publish through Ingress only
//   - "all": publish through Ingress, then copy to every mirror
type FabricConfig struct {
	FetchTimeout   time.Duration   `yaml:"fetch_timeout"`
	PublishRetries int             `yaml:"publish_retries"`
	WritePolicy    string          `yaml:"write_policy,omitempty"`
	Endpoints      []BackendConfig `yaml:"endpoints"`
	Ingress        *BackendConfig  `yaml:"ingress,omitempty"`
	Mirrors        []BackendConfig `yaml:"mirrors,omitempty"`
	Cache          CacheConfig     `yaml:"cache,omitempty"`
}

type BackendConfig struct {
	// Kind is the registry backend name (e.g. "gateway", "kubo", "localfs").
	Kind string `yaml:"kind"`
	// ID names the instance in logs and metrics. If empty, Kind is used.
	ID     string            `yaml:"id,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

// Name is the instance name.
func (b BackendConfig) Name() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Kind
}

type CacheConfig struct {
	// Dir is a localfs block directory receiving fetched and published
	// bytes. Empty disables the cache.
	Dir string `yaml:"dir,omitempty"`
}

type KeystoreConfig struct {
	Dir string `yaml:"dir"`
	// AgeIdentityFile seals cached keys at rest when set.
	AgeIdentityFile string `yaml:"age_identity_file,omitempty"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

func gateway(id, url string) BackendConfig {
	return BackendConfig{Kind: "gateway", ID: id, Config: map[string]string{"url": url}}
}

// Default returns the configuration used when no file exists: the public
// gateways in a fixed order, the Pinata ingress and the DataHaven testnet.
func Default() Config {
	home := "~/.paylock"
	if h, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(h, ".paylock")
	}
	return Config{
		AppTag: DefaultAppTag,
		Ledger: LedgerConfig{
			RPCURL:         DefaultRPCURL,
			ChainID:        DefaultChainID,
			LookbackBlocks: DefaultLookback,
			PollInterval:   DefaultPollInterval,
		},
		Fabric: FabricConfig{
			FetchTimeout:   8 * time.Second,
			PublishRetries: 2,
			WritePolicy:    "first",
			Endpoints: []BackendConfig{
				gateway("pinata", "https://gateway.pinata.cloud"),
				gateway("cloudflare", "https://cloudflare-ipfs.com"),
				gateway("ipfs.io", "https://ipfs.io"),
				gateway("dweb", "https://dweb.link"),
				gateway("w3s", "https://w3s.link"),
			},
			Ingress: &BackendConfig{Kind: "pinning", ID: "pinata"},
			Cache:   CacheConfig{Dir: filepath.Join(home, "blocks")},
		},
		Keystore: KeystoreConfig{Dir: filepath.Join(home, "keys")},
	}
}

// DefaultPath is $PAYLOCK_CONFIG, else ~/.paylock/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".paylock", "config.yaml"), nil
}

// Load reads path over Default. Keys absent from the file keep their default
// values; a present endpoints list replaces the default list.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	// decode a present ingress into a fresh value, not over the default
	ingress := cfg.Fabric.Ingress
	cfg.Fabric.Ingress = nil
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	if cfg.Fabric.Ingress == nil {
		cfg.Fabric.Ingress = ingress
	}
	cfg.expand()
	return cfg, cfg.Validate()
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// Save writes c to path, refusing to replace an existing file unless
// overwrite is set.
func (c Config) Save(path string, overwrite bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *Config) expand() {
	c.Ledger.KeyFile = expandHome(c.Ledger.KeyFile)
	c.Fabric.Cache.Dir = expandHome(c.Fabric.Cache.Dir)
	c.Keystore.Dir = expandHome(c.Keystore.Dir)
	c.Keystore.AgeIdentityFile = expandHome(c.Keystore.AgeIdentityFile)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AppTag) == "" {
		return invalid("app_tag is required")
	}
	if c.Viewer != "" && !common.IsHexAddress(c.Viewer) {
		return invalid("viewer %q is not an address", c.Viewer)
	}
	if c.Ledger.Contract != "" && !common.IsHexAddress(c.Ledger.Contract) {
		return invalid("ledger.contract %q is not an address", c.Ledger.Contract)
	}
	if c.Ledger.ChainID < 0 {
		return invalid("ledger.chain_id must not be negative")
	}
	if c.Ledger.PollInterval < 0 {
		return invalid("ledger.poll_interval must not be negative")
	}
	f := c.Fabric
	if f.FetchTimeout < 0 {
		return invalid("fabric.fetch_timeout must not be negative")
	}
	if len(f.Endpoints) == 0 && f.Ingress == nil {
		return invalid("fabric needs at least one endpoint or an ingress")
	}
	seen := make(map[string]struct{}, len(f.Endpoints))
	for _, b := range f.Endpoints {
		if b.Kind == "" {
			return invalid("fabric endpoint kind is required")
		}
		if _, ok := seen[b.Name()]; ok {
			return invalid("duplicate fabric endpoint id %q", b.Name())
		}
		seen[b.Name()] = struct{}{}
	}
	if f.Ingress != nil && f.Ingress.Kind == "" {
		return invalid("fabric ingress kind is required")
	}
	for _, b := range f.Mirrors {
		if b.Kind == "" {
			return invalid("fabric mirror kind is required")
		}
	}
	switch f.WritePolicy {
	case "", "first":
		if len(f.Mirrors) > 0 {
			return invalid("fabric mirrors require write_policy %q", "all")
		}
	case "all":
		if f.Ingress == nil {
			return invalid("write_policy %q requires an ingress", "all")
		}
	default:
		return invalid("fabric.write_policy %q", f.WritePolicy)
	}
	return nil
}

// ViewerAddress returns the configured viewer, or the zero address.
func (c Config) ViewerAddress() common.Address {
	if c.Viewer == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Viewer)
}
