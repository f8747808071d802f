package pinning

import (
	"fmt"
	"net/http"
	"os"

	"xdao.co/paylock/fabric/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "pinning",
		Description: "Pinata-compatible pinning service (pinFileToIPFS, CIDv1)",
		Usage:       registry.UsageCLI,
		Roles:       registry.RoleIngress,
		ConfigKeys:  []string{"url", "jwt_env"},
		Open: func(id string, cfg map[string]string) (*registry.Opened, error) {
			env := registry.String(cfg, "jwt_env", "PINATA_JWT")
			jwt := os.Getenv(env)
			if jwt == "" {
				return nil, fmt.Errorf("pinning: environment variable %s is empty", env)
			}
			client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
			ing, err := New(id, Options{URL: registry.String(cfg, "url", ""), JWT: jwt, Client: client})
			if err != nil {
				return nil, err
			}
			return &registry.Opened{
				Ingress: ing,
				Close: func() error {
					client.CloseIdleConnections()
					return nil
				},
			}, nil
		},
	})
}
