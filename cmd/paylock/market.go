package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"xdao.co/paylock/market"
)

func (a *app) market(s *session) (*market.Service, error) {
	cfg := market.Config{
		Fabric: s.fabric,
		Ledger: s.ledger,
		Cache:  s.cache,
		AppTag: a.cfg.AppTag,
	}
	if s.signer != nil {
		cfg.Signer = s.signer
	}
	return market.New(cfg)
}

func newSellCmd(a *app) *cobra.Command {
	var (
		name        string
		description string
		price       string
		supply      uint64
		preview     string
		derived     bool
	)
	cmd := &cobra.Command{
		Use:   "sell <file>",
		Short: "Scan, encrypt, publish and list an artifact",
		Long: `sell runs the seller flow: the file is scanned, encrypted under a fresh
key (or one derived from your signature with --derived), published, and its
key remembered in the local key cache. A preview metadata document carrying
the key fingerprint is published next to it and the item is listed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wei, err := parseEther(price)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			req := market.ListRequest{
				Name:        name,
				Description: description,
				Filename:    filepath.Base(args[0]),
				Data:        data,
				Price:       wei,
				MaxSupply:   supply,
			}
			if req.Name == "" {
				req.Name = strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
			}
			if derived {
				req.KeyMode = market.KeyDerived
			}
			if preview != "" {
				if req.Preview, err = os.ReadFile(preview); err != nil {
					return err
				}
				req.PreviewFilename = filepath.Base(preview)
			}

			s, err := a.openSession(cmd.Context(), sessionOpts{needSigner: true, publish: true, keyCache: true})
			if err != nil {
				return err
			}
			defer s.Close()
			svc, err := a.market(s)
			if err != nil {
				return err
			}
			res, err := svc.List(cmd.Context(), req)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tx\t%s\n", res.Tx.Hex())
			fmt.Fprintf(w, "content\t%s\n", res.ContentRef)
			fmt.Fprintf(w, "preview\t%s\n", res.PreviewRef)
			if res.ImageRef != "" {
				fmt.Fprintf(w, "image\t%s\n", res.ImageRef)
			}
			fmt.Fprintf(w, "type\t%s\n", res.ContentType)
			fmt.Fprintf(w, "fingerprint\t%s\n", res.Fingerprint)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "item name (default: file name)")
	cmd.Flags().StringVar(&description, "description", "", "description shown in the preview")
	cmd.Flags().StringVar(&price, "price", "0", "price in ether, or an integer with a wei suffix")
	cmd.Flags().Uint64Var(&supply, "supply", 1, "number of copies for sale")
	cmd.Flags().StringVar(&preview, "preview", "", "unencrypted preview image")
	cmd.Flags().BoolVar(&derived, "derived", false, "derive the key from your signature instead of drawing it")
	return cmd
}

func newBuyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <item-id>",
		Short: "Pay the listed price for one copy of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			s, err := a.openSession(cmd.Context(), sessionOpts{needSigner: true})
			if err != nil {
				return err
			}
			defer s.Close()
			svc, err := a.market(s)
			if err != nil {
				return err
			}
			tx, err := svc.Buy(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tx.Hex())
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item-id>",
		Short: "Withdraw a listing you sold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			s, err := a.openSession(cmd.Context(), sessionOpts{needSigner: true})
			if err != nil {
				return err
			}
			defer s.Close()
			svc, err := a.market(s)
			if err != nil {
				return err
			}
			tx, err := svc.Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tx.Hex())
			return nil
		},
	}
}

func newDeliverCmd(a *app) *cobra.Command {
	var buyerArg string
	cmd := &cobra.Command{
		Use:   "deliver <item-id>",
		Short: "Hand the content key of a sold item to its buyer",
		Long: `deliver sends the content key to the buyer through the ledger. Without
--buyer the feed is reconciled first and the single buyer waiting for a key is
used; a sale still being indexed has no known buyer and needs --buyer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			var buyer common.Address
			if buyerArg != "" {
				if buyer, err = parseAddress(buyerArg); err != nil {
					return err
				}
			}
			s, err := a.openSession(cmd.Context(), sessionOpts{needSigner: true, fabric: true, keyCache: true})
			if err != nil {
				return err
			}
			defer s.Close()
			e, err := a.engine(s)
			if err != nil {
				return err
			}
			if buyer == (common.Address{}) {
				p, err := e.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				if buyer, err = p.PendingBuyer(id); err != nil {
					return err
				}
			}
			tx, err := e.Deliver(cmd.Context(), id, buyer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", buyer.Hex(), tx.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&buyerArg, "buyer", "", "buyer address")
	return cmd
}

func newOpenCmd(a *app) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "open <item-id>",
		Short: "Download and decrypt an item you bought, using the delivered key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			s, err := a.openSession(cmd.Context(), sessionOpts{fabric: true})
			if err != nil {
				return err
			}
			defer s.Close()
			e, err := a.engine(s)
			if err != nil {
				return err
			}
			plaintext, ct, item, err := e.Open(cmd.Context(), id)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = safeName(item.Name) + extensionFor(ct)
			}
			if err := os.WriteFile(outPath, plaintext, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", outPath, ct)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default: item name with the detected extension)")
	return cmd
}

// safeName turns an item name into a file name in the working directory.
func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "item"
	}
	return name
}
