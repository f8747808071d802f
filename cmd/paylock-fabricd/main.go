package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"xdao.co/paylock/fabric/grpcfabric"
	"xdao.co/paylock/fabric/registry"

	_ "xdao.co/paylock/fabric/kubocli"
	_ "xdao.co/paylock/fabric/localfs"
)

var log = logging.Logger("paylock/fabricd")

func main() {
	var (
		listen       string
		backend      string
		id           string
		opts         map[string]string
		maxMsgBytes  int
		listBackends bool
		logLevel     string
	)
	cmd := &cobra.Command{
		Use:          "paylock-fabricd",
		Short:        "Serve a local block store to paylock clients over gRPC",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.SetLogLevel("*", logLevel); err != nil {
				return err
			}
			if listBackends {
				for _, b := range registry.List(registry.UsageDaemon) {
					if b.Description == "" {
						fmt.Fprintln(cmd.OutOrStdout(), b.Name)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, b.Description)
				}
				return nil
			}

			o, err := registry.Open(backend, registry.UsageDaemon, registry.RoleStore, id, opts)
			if err != nil {
				return err
			}
			if o.Close != nil {
				defer o.Close()
			}

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			s := grpc.NewServer(grpc.MaxRecvMsgSize(maxMsgBytes), grpc.MaxSendMsgSize(maxMsgBytes))
			grpcfabric.RegisterFabricServer(s, &grpcfabric.Server{Store: o.Store})

			go func() {
				<-cmd.Context().Done()
				log.Infow("shutting down")
				s.GracefulStop()
			}()
			log.Infow("listening", "addr", lis.Addr().String(), "backend", backend)
			fmt.Fprintf(cmd.ErrOrStderr(), "paylock-fabricd listening on %s (backend=%s)\n", lis.Addr().String(), backend)
			return s.Serve(lis)
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", "127.0.0.1:7777", "listen address")
	f.StringVar(&backend, "backend", "localfs", "store backend kind")
	f.StringVar(&id, "id", "", "backend instance name (default: the kind)")
	f.StringToStringVar(&opts, "opt", nil, "backend config as key=value (repeatable), e.g. --opt dir=/var/lib/paylock/blocks")
	f.IntVar(&maxMsgBytes, "max-msg-bytes", grpcfabric.DefaultMaxMsgBytes, "largest block accepted or served")
	f.BoolVar(&listBackends, "list-backends", false, "list supported backends and exit")
	f.StringVar(&logLevel, "log-level", "info", "log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
