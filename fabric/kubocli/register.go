package kubocli

import (
	"os"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/fabric/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "kubocli",
		Description: "local kubo repo via the ipfs CLI (raw blocks, no daemon needed)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Roles:       registry.RoleEndpoint | registry.RoleIngress | registry.RoleStore,
		ConfigKeys:  []string{"bin", "ipfs_path"},
		Open: func(id string, cfg map[string]string) (*registry.Opened, error) {
			var env []string
			if p := registry.String(cfg, "ipfs_path", ""); p != "" {
				env = append(os.Environ(), "IPFS_PATH="+p)
			}
			s := New(Options{Bin: registry.String(cfg, "bin", ""), Env: env})
			return &registry.Opened{
				Endpoint: fabric.StoreEndpoint(id, s),
				Ingress:  fabric.StoreIngress(id, s),
				Store:    s,
			}, nil
		},
	})
}
