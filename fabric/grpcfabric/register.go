package grpcfabric

import (
	"fmt"
	"time"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/fabric/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "gRPC fabric client (talks to paylock-fabricd)",
		Usage:       registry.UsageCLI,
		Roles:       registry.RoleEndpoint | registry.RoleIngress | registry.RoleStore,
		ConfigKeys:  []string{"target", "dial_timeout", "timeout", "max_msg_bytes"},
		Open: func(id string, cfg map[string]string) (*registry.Opened, error) {
			target := registry.String(cfg, "target", "")
			if target == "" {
				return nil, fmt.Errorf("grpc: missing config key %q", "target")
			}
			dialTimeout, err := registry.Duration(cfg, "dial_timeout", 5*time.Second)
			if err != nil {
				return nil, err
			}
			timeout, err := registry.Duration(cfg, "timeout", 0)
			if err != nil {
				return nil, err
			}
			maxMsg, err := registry.Int(cfg, "max_msg_bytes", DefaultMaxMsgBytes)
			if err != nil {
				return nil, err
			}
			client, err := Dial(target, DialOptions{Timeout: dialTimeout, MaxMsgBytes: maxMsg})
			if err != nil {
				return nil, err
			}
			client.Timeout = timeout
			return &registry.Opened{
				Endpoint: fabric.StoreEndpoint(id, client),
				Ingress:  fabric.StoreIngress(id, client),
				Store:    client,
				Close:    client.Close,
			}, nil
		},
	})
}
