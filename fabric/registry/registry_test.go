package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"xdao.co/paylock/fabric"
)

type nopEndpoint struct{ name string }

func (e nopEndpoint) Name() string { return e.name }
func (nopEndpoint) Get(context.Context, cid.Cid) (*fabric.Object, error) {
	return nil, fabric.ErrNotFound
}

func TestRegisterAndOpen(t *testing.T) {
	closed := false
	require.NoError(t, Register(Backend{
		Name:       "test-readonly",
		Usage:      UsageCLI,
		Roles:      RoleEndpoint,
		ConfigKeys: []string{"url"},
		Open: func(id string, cfg map[string]string) (*Opened, error) {
			if cfg["url"] == "bad" {
				return nil, errors.New("bad url")
			}
			return &Opened{Endpoint: nopEndpoint{name: id}, Close: func() error { closed = true; return nil }}, nil
		},
	}))

	require.Error(t, Register(Backend{Name: "test-readonly", Usage: UsageCLI, Roles: RoleEndpoint, Open: func(string, map[string]string) (*Opened, error) { return nil, nil }}))
	require.Error(t, Register(Backend{Name: "missing-open", Usage: UsageCLI, Roles: RoleEndpoint}))
	require.Error(t, Register(Backend{Name: "missing-roles", Usage: UsageCLI, Open: func(string, map[string]string) (*Opened, error) { return nil, nil }}))

	require.Contains(t, Names(UsageCLI), "test-readonly")
	require.NotContains(t, Names(UsageDaemon), "test-readonly")

	o, err := Open("test-readonly", UsageCLI, RoleEndpoint, "", map[string]string{"url": "x"})
	require.NoError(t, err)
	require.Equal(t, "test-readonly", o.Endpoint.Name())

	o, err = Open("test-readonly", UsageCLI, RoleEndpoint, "primary", nil)
	require.NoError(t, err)
	require.Equal(t, "primary", o.Endpoint.Name())

	_, err = Open("test-readonly", UsageCLI, RoleIngress, "", nil)
	require.ErrorContains(t, err, "cannot act as ingress")
	require.False(t, closed)

	_, err = Open("test-readonly", UsageDaemon, RoleEndpoint, "", nil)
	require.Error(t, err)
	_, err = Open("test-readonly", UsageCLI, RoleEndpoint, "", map[string]string{"nope": "1"})
	require.ErrorContains(t, err, "unknown config key")
	_, err = Open("test-readonly", UsageCLI, RoleEndpoint, "", map[string]string{"url": "bad"})
	require.ErrorContains(t, err, "bad url")
	_, err = Open("no-such-backend", UsageCLI, RoleEndpoint, "", nil)
	require.Error(t, err)
}

func TestOpen_ClosesWhenRoleMissing(t *testing.T) {
	closed := false
	MustRegister(Backend{
		Name:  "test-liar",
		Usage: UsageCLI,
		Roles: RoleEndpoint | RoleIngress,
		Open: func(id string, _ map[string]string) (*Opened, error) {
			return &Opened{Endpoint: nopEndpoint{name: id}, Close: func() error { closed = true; return nil }}, nil
		},
	})
	_, err := Open("test-liar", UsageCLI, RoleIngress, "", nil)
	require.Error(t, err)
	require.True(t, closed)
}

func TestValues(t *testing.T) {
	cfg := map[string]string{"timeout": "3s", "n": "4", "pin": "true", "blank": "  ", "bad": "x"}

	require.Equal(t, "def", String(cfg, "blank", "def"))
	d, err := Duration(cfg, "timeout", time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)
	d, err = Duration(cfg, "missing", time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)
	_, err = Duration(cfg, "bad", 0)
	require.Error(t, err)

	n, err := Int(cfg, "n", 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	_, err = Int(cfg, "bad", 0)
	require.Error(t, err)

	b, err := Bool(cfg, "pin", false)
	require.NoError(t, err)
	require.True(t, b)
	_, err = Bool(cfg, "bad", false)
	require.Error(t, err)

	require.Equal(t, "endpoint,ingress", (RoleEndpoint | RoleIngress).String())
}
