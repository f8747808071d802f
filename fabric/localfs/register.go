package localfs

import (
	"fmt"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/fabric/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "localfs",
		Description: "local immutable block store (one file per CID)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Roles:       registry.RoleEndpoint | registry.RoleIngress | registry.RoleStore | registry.RoleCache,
		ConfigKeys:  []string{"dir"},
		Open: func(id string, cfg map[string]string) (*registry.Opened, error) {
			dir := registry.String(cfg, "dir", "")
			if dir == "" {
				return nil, fmt.Errorf("localfs: missing config key %q", "dir")
			}
			s, err := New(dir)
			if err != nil {
				return nil, err
			}
			return &registry.Opened{
				Endpoint: fabric.StoreEndpoint(id, s),
				Ingress:  fabric.StoreIngress(id, s),
				Store:    s,
				Cache:    s,
			}, nil
		},
	})
}
