package kubo

import (
	"net/http"

	"xdao.co/paylock/fabric/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "kubo",
		Description: "kubo node over the HTTP RPC API (cat / add)",
		Usage:       registry.UsageCLI,
		Roles:       registry.RoleEndpoint | registry.RoleIngress,
		ConfigKeys:  []string{"api", "pin", "max_bytes"},
		Open: func(id string, cfg map[string]string) (*registry.Opened, error) {
			pin, err := registry.Bool(cfg, "pin", true)
			if err != nil {
				return nil, err
			}
			maxBytes, err := registry.Int(cfg, "max_bytes", 0)
			if err != nil {
				return nil, err
			}
			client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
			node, err := New(id, Options{
				API:      registry.String(cfg, "api", DefaultAPI),
				Pin:      pin,
				Client:   client,
				MaxBytes: int64(maxBytes),
			})
			if err != nil {
				return nil, err
			}
			return &registry.Opened{
				Endpoint: node,
				Ingress:  node,
				Close: func() error {
					client.CloseIdleConnections()
					return nil
				},
			}, nil
		},
	})
}
