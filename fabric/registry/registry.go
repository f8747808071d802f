package registry

import (
	"fmt"
	"sort"
	"sync"

	"xdao.co/paylock/fabric"
)

// Backend is a build-time plugin that can open fabric endpoints, ingresses
// and stores.
//
// Backends typically register themselves in init():
//
//	registry.MustRegister(registry.Backend{ ... })
//
// The binary must import the backend package for registration to occur.
type Backend struct {
	Name        string
	Description string
	Usage       Usage
	Roles       Role

	// ConfigKeys lists the accepted config keys. Open rejects anything else.
	ConfigKeys []string

	// Open constructs the backend. id is the configured instance name and is
	// used as the endpoint/ingress name.
	Open func(id string, cfg map[string]string) (*Opened, error)
}

// Opened is an instantiated backend. Fields not covered by the backend's
// Roles are nil.
type Opened struct {
	Endpoint fabric.Endpoint
	Ingress  fabric.Ingress
	Store    fabric.Store
	Cache    fabric.Cache

	// Close releases backend resources. May be nil.
	Close func() error
}

func (o *Opened) close() error {
	if o == nil || o.Close == nil {
		return nil
	}
	return o.Close()
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("registry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}
	if b.Roles == 0 {
		return fmt.Errorf("registry: backend %q missing Roles", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Open opens the named backend for the given role.
func Open(name string, usage Usage, role Role, id string, cfg map[string]string) (*Opened, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, fmt.Errorf("registry: backend %q not supported in this binary", name)
	}
	if !b.Roles.has(role) {
		return nil, fmt.Errorf("registry: backend %q cannot act as %s (supports %s)", name, role, b.Roles)
	}
	if err := checkKeys(b, cfg); err != nil {
		return nil, err
	}
	if id == "" {
		id = name
	}
	o, err := b.Open(id, cfg)
	if err != nil {
		return nil, fmt.Errorf("registry: open %q: %w", id, err)
	}
	if err := o.check(role); err != nil {
		_ = o.close()
		return nil, fmt.Errorf("registry: backend %q: %w", name, err)
	}
	return o, nil
}

func (o *Opened) check(role Role) error {
	switch {
	case role.has(RoleEndpoint) && o.Endpoint == nil:
		return fmt.Errorf("opened without an endpoint")
	case role.has(RoleIngress) && o.Ingress == nil:
		return fmt.Errorf("opened without an ingress")
	case role.has(RoleStore) && o.Store == nil:
		return fmt.Errorf("opened without a store")
	case role.has(RoleCache) && o.Cache == nil:
		return fmt.Errorf("opened without a cache")
	}
	return nil
}

func checkKeys(b Backend, cfg map[string]string) error {
	allowed := make(map[string]struct{}, len(b.ConfigKeys))
	for _, k := range b.ConfigKeys {
		allowed[k] = struct{}{}
	}
	for k := range cfg {
		if _, ok := allowed[k]; !ok {
			return fmt.Errorf("registry: backend %q: unknown config key %q", b.Name, k)
		}
	}
	return nil
}
