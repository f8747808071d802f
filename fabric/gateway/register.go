package gateway

import (
	"fmt"
	"net/http"

	"xdao.co/paylock/fabric/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "gateway",
		Description: "public IPFS path gateway (GET <url>/ipfs/<cid>)",
		Usage:       registry.UsageCLI,
		Roles:       registry.RoleEndpoint,
		ConfigKeys:  []string{"url", "max_bytes"},
		Open: func(id string, cfg map[string]string) (*registry.Opened, error) {
			base := registry.String(cfg, "url", "")
			if base == "" {
				return nil, fmt.Errorf("gateway: missing config key %q", "url")
			}
			maxBytes, err := registry.Int(cfg, "max_bytes", 0)
			if err != nil {
				return nil, err
			}
			client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
			ep, err := New(id, base, Options{Client: client, MaxBytes: int64(maxBytes)})
			if err != nil {
				return nil, err
			}
			return &registry.Opened{
				Endpoint: ep,
				Close: func() error {
					client.CloseIdleConnections()
					return nil
				},
			}, nil
		},
	})
}
