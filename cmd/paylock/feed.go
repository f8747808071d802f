package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/reconcile"
)

func newFeedCmd(a *app) *cobra.Command {
	var (
		viewer   string
		previews bool
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Reconcile the ledger once and print the viewer's feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openSession(cmd.Context(), sessionOpts{fabric: previews})
			if err != nil {
				return err
			}
			defer s.Close()
			var opts []reconcile.Option
			if viewer != "" {
				v, err := parseAddress(viewer)
				if err != nil {
					return err
				}
				opts = append(opts, reconcile.WithViewer(v))
			}
			e, err := a.engine(s, opts...)
			if err != nil {
				return err
			}
			if e.Viewer() == (common.Address{}) {
				return fmt.Errorf("%w: set viewer, ledger.key_file or --viewer", errUsage)
			}
			p, err := e.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			printFeed(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "account to reconcile for (default: config viewer or key account)")
	cmd.Flags().BoolVar(&previews, "previews", false, "resolve preview metadata through the fabric")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the feed reconciled, printing each new projection",
		Long: `watch re-runs reconciliation on every poll tick and on every marketplace
event (when ledger.ws_url is set). With --metrics-addr it serves Prometheus
metrics for passes, syncing rows, deliveries and fabric fetches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}

			var (
				fm *fabric.Metrics
				rm *reconcile.Metrics
			)
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				var err error
				if fm, err = fabric.NewMetrics(reg); err != nil {
					return err
				}
				if rm, err = reconcile.NewMetrics(reg); err != nil {
					return err
				}
				stop, err := serveMetrics(ctx, metricsAddr, reg)
				if err != nil {
					return err
				}
				defer stop()
			}

			s, err := a.openSession(ctx, sessionOpts{subscribe: true, fabric: true, metrics: fm})
			if err != nil {
				return err
			}
			defer s.Close()
			out := cmd.OutOrStdout()
			e, err := a.engine(s,
				reconcile.WithSubscriber(s.ledger),
				reconcile.WithMetrics(rm),
				reconcile.WithOnUpdate(func(p *reconcile.Projection) {
					fmt.Fprintf(out, "-- generation %d, blocks %d..%d, %d rows (%d syncing)\n",
						p.Generation, p.From, p.To, len(p.Rows), p.SyncingRows())
					printFeed(out, p)
				}),
			)
			if err != nil {
				return err
			}
			if e.Viewer() == (common.Address{}) {
				return fmt.Errorf("%w: set viewer or ledger.key_file", errUsage)
			}
			err = e.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (default metrics.addr)")
	return cmd
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return nil, fmt.Errorf("metrics listener: %w", err)
	case <-time.After(100 * time.Millisecond):
	}
	log.Infow("serving metrics", "addr", addr)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func newReputationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reputation [seller]",
		Short: "Score sellers from confirmed sales and cancellations in the window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.Context(), sessionOpts{})
			if err != nil {
				return err
			}
			defer s.Close()
			e, err := a.engine(s)
			if err != nil {
				return err
			}
			p, err := e.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			scores := make([]reconcile.Score, 0, len(p.Reputation))
			for _, sc := range p.Reputation {
				scores = append(scores, sc)
			}
			if len(args) == 1 {
				seller, err := parseAddress(args[0])
				if err != nil {
					return err
				}
				sc, ok := p.Reputation[seller]
				if !ok {
					sc = reconcile.Score{Seller: seller, Value: reconcile.Reputation(0, 0)}
				}
				scores = []reconcile.Score{sc}
			}
			slices.SortFunc(scores, func(x, y reconcile.Score) int {
				if x.Value != y.Value {
					return y.Value - x.Value
				}
				return strings.Compare(x.Seller.Hex(), y.Seller.Hex())
			})
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SELLER\tSCORE\tSALES\tCANCELED")
			for _, sc := range scores {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", sc.Seller.Hex(), sc.Value, sc.ConfirmedSales, sc.Cancellations)
			}
			return tw.Flush()
		},
	}
}

func printFeed(w io.Writer, p *reconcile.Projection) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tKIND\tSTATUS\tSTATE\tNAME\tPRICE\tBUYER\tTIME")
	for _, r := range p.Rows {
		buyer := "-"
		if r.Buyer != (common.Address{}) {
			buyer = r.Buyer.Hex()
		}
		name := r.Listing.Name
		if r.Preview != nil && r.Preview.Description != "" {
			name += " (" + r.Preview.Description + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Listing.ID, r.Kind, r.Status, p.States[r.Listing.ID], name,
			formatEther(r.Listing.Price), buyer, r.Timestamp.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}
