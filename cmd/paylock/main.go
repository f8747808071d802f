package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"xdao.co/paylock/config"
	"xdao.co/paylock/fabric"
	"xdao.co/paylock/keys"
	"xdao.co/paylock/ledger/evm"
	"xdao.co/paylock/reconcile"

	_ "xdao.co/paylock/fabric/gateway"
	_ "xdao.co/paylock/fabric/grpcfabric"
	_ "xdao.co/paylock/fabric/kubo"
	_ "xdao.co/paylock/fabric/kubocli"
	_ "xdao.co/paylock/fabric/localfs"
	_ "xdao.co/paylock/fabric/pinning"
)

var log = logging.Logger("paylock/cli")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	root := newRootCmd(&app{})
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		if errors.Is(err, config.ErrInvalid) || errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("usage")

// app carries the global flags and the loaded configuration.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "paylock",
		Short: "Encrypt, publish and sell digital artifacts, and deliver their keys",
		Long: `paylock encrypts artifacts with AES-256-GCM, publishes them to IPFS through
the configured fabric, lists them on the marketplace contract and hands
content keys to buyers once their purchase is on the ledger.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.SetLogLevel("*", a.logLevel); err != nil {
				return fmt.Errorf("%w: --log-level: %v", errUsage, err)
			}
			path := a.configPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
				a.configPath = p
			}
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			a.cfg = cfg
			log.Debugw("config loaded", "path", path)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $"+config.EnvPath+" or ~/.paylock/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newKeyCmd(a),
		newEncryptCmd(a),
		newDecryptCmd(a),
		newPublishCmd(a),
		newFetchCmd(a),
		newMetadataCmd(a),
		newSellCmd(a),
		newBuyCmd(a),
		newCancelCmd(a),
		newDeliverCmd(a),
		newOpenCmd(a),
		newFeedCmd(a),
		newWatchCmd(a),
		newReputationCmd(a),
		newConfigCmd(a),
		newBackendsCmd(),
	)
	return root
}

func (a *app) openFabric(publish bool, metrics *fabric.Metrics) (*fabric.Fabric, config.Closer, error) {
	return a.cfg.OpenFabric(config.FabricOptions{Publish: publish, Metrics: metrics})
}

// session is everything a ledger-facing command needs. Fields a command did
// not ask for are nil.
type session struct {
	ledger *evm.Client
	signer *keys.EthSigner
	fabric *fabric.Fabric
	cache  *keys.Cache

	closers []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warnw("close failed", "err", err)
		}
	}
}

type sessionOpts struct {
	needSigner bool
	subscribe  bool
	fabric     bool
	publish    bool
	keyCache   bool
	metrics    *fabric.Metrics
}

func (a *app) openSession(ctx context.Context, o sessionOpts) (*session, error) {
	s := &session{}
	signer, err := a.cfg.LoadSigner()
	if err != nil {
		return nil, err
	}
	if o.needSigner && signer == nil {
		return nil, fmt.Errorf("%w: ledger.key_file is required for this command", config.ErrInvalid)
	}
	s.signer = signer

	lc, err := a.cfg.OpenLedger(ctx, signer, o.subscribe)
	if err != nil {
		return nil, err
	}
	s.ledger = lc
	s.closers = append(s.closers, func() error { lc.Close(); return nil })

	if o.fabric || o.publish {
		f, closeFn, err := a.openFabric(o.publish, o.metrics)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.fabric = f
		s.closers = append(s.closers, closeFn)
	}
	if o.keyCache {
		c, closeFn, err := a.cfg.OpenKeyCache()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.cache = c
		s.closers = append(s.closers, closeFn)
	}
	return s, nil
}

// engine builds a reconciliation engine over the session.
func (a *app) engine(s *session, extra ...reconcile.Option) (*reconcile.Engine, error) {
	opts := []reconcile.Option{
		reconcile.WithWriter(s.ledger),
		reconcile.WithAppTag(a.cfg.AppTag),
		reconcile.WithLookback(a.cfg.Ledger.LookbackBlocks),
	}
	if a.cfg.Ledger.PollInterval > 0 {
		opts = append(opts, reconcile.WithPollInterval(a.cfg.Ledger.PollInterval))
	}
	if v := a.cfg.ViewerAddress(); v != (common.Address{}) {
		opts = append(opts, reconcile.WithViewer(v))
	}
	if s.signer != nil {
		opts = append(opts, reconcile.WithSigner(s.signer))
	}
	if s.fabric != nil {
		opts = append(opts, reconcile.WithFabric(s.fabric))
	}
	if s.cache != nil {
		opts = append(opts, reconcile.WithKeyCache(s.cache))
	}
	return reconcile.New(s.ledger, append(opts, extra...)...)
}
