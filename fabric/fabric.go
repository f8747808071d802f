package fabric

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("paylock/fabric")

const (
	DefaultFetchTimeout      = 8 * time.Second
	DefaultPublishRetries    = 2
	DefaultRetryInterval     = 500 * time.Millisecond
	DefaultMetadataCacheSize = 512
)

// Kind is what the caller expects a reference to resolve to.
type Kind int

const (
	KindBinary Kind = iota
	KindJSON
)

func (k Kind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "binary"
}

// Object is a body returned by an endpoint.
type Object struct {
	Data []byte
	// ContentType is the type declared by the endpoint, if any.
	ContentType string
}

// Endpoint serves bytes by CID.
type Endpoint interface {
	Name() string
	Get(ctx context.Context, id cid.Cid) (*Object, error)
}

// Ingress publishes bytes and reports the CID the network assigned.
type Ingress interface {
	Name() string
	Put(ctx context.Context, data []byte, hint string) (cid.Cid, error)
}

// Cache retains bytes under a known CID. Used as write-through for fetched
// and published content.
type Cache interface {
	Keep(ctx context.Context, id cid.Cid, data []byte) error
}

// Store is a block store keyed strictly by CIDv1 raw sha2-256.
type Store interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}

// Options configures a Fabric.
type Options struct {
	// Endpoints are tried in slice order. Callers must supply a fixed order.
	Endpoints []Endpoint
	// Ingress is the single authoritative publish path. Optional for read-only use.
	Ingress Ingress
	// Cache receives fetched and published bytes. Optional.
	Cache Cache

	// FetchTimeout bounds each endpoint attempt. Zero means DefaultFetchTimeout.
	FetchTimeout time.Duration
	// PublishRetries bounds ingress retries. Negative disables retries.
	PublishRetries int
	// RetryInterval is the initial backoff between publish retries.
	RetryInterval time.Duration
	// MetadataCacheSize bounds memoized metadata documents.
	MetadataCacheSize int

	Metrics *Metrics
}

// Fabric is the content access layer. It is safe for concurrent use.
type Fabric struct {
	endpoints []Endpoint
	ingress   Ingress
	cache     Cache

	timeout       time.Duration
	retries       int
	retryInterval time.Duration

	meta    *lru.Cache[string, *Metadata]
	metrics *Metrics
}

func New(opts Options) (*Fabric, error) {
	if len(opts.Endpoints) == 0 && opts.Ingress == nil {
		return nil, errors.New("fabric: at least one endpoint or an ingress is required")
	}
	for _, ep := range opts.Endpoints {
		if ep == nil {
			return nil, errors.New("fabric: nil endpoint")
		}
	}
	f := &Fabric{
		endpoints:     append([]Endpoint(nil), opts.Endpoints...),
		ingress:       opts.Ingress,
		cache:         opts.Cache,
		timeout:       opts.FetchTimeout,
		retries:       opts.PublishRetries,
		retryInterval: opts.RetryInterval,
		metrics:       opts.Metrics,
	}
	if f.timeout <= 0 {
		f.timeout = DefaultFetchTimeout
	}
	if f.retries == 0 {
		f.retries = DefaultPublishRetries
	}
	if f.retries < 0 {
		f.retries = 0
	}
	if f.retryInterval <= 0 {
		f.retryInterval = DefaultRetryInterval
	}
	size := opts.MetadataCacheSize
	if size <= 0 {
		size = DefaultMetadataCacheSize
	}
	meta, err := lru.New[string, *Metadata](size)
	if err != nil {
		return nil, err
	}
	f.meta = meta
	return f, nil
}

// Endpoints returns the endpoint names in fetch order.
func (f *Fabric) Endpoints() []string {
	out := make([]string, 0, len(f.endpoints))
	for _, ep := range f.endpoints {
		out = append(out, ep.Name())
	}
	return out
}

func (f *Fabric) keep(ctx context.Context, id cid.Cid, data []byte) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Keep(ctx, id, data); err != nil {
		log.Debugw("cache write-through failed", "cid", id.String(), "err", err)
	}
}
