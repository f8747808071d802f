package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"xdao.co/paylock/keys"
	"xdao.co/paylock/vault"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Generate, derive and check content keys; create signing accounts",
	}
	cmd.AddCommand(
		newKeyGenCmd(),
		newKeyDeriveCmd(a),
		newKeyValidateCmd(),
		newKeyFingerprintCmd(),
		newKeyAccountCmd(),
		newKeyIdentityCmd(),
	)
	return cmd
}

func newKeyGenCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a random 256-bit content key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := vault.GenerateRandomKey()
			if err != nil {
				return err
			}
			defer key.Zero()
			return emitKey(cmd, key, outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the key to this file (0600) instead of stdout")
	return cmd
}

func newKeyDeriveCmd(a *app) *cobra.Command {
	var (
		name    string
		keyFile string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Re-derive the content key for an item name from the seller's signature",
		Long: `derive signs "<app_tag>:<name>" with the seller's account key and hashes
the signature into the content key. The same account and name always give the
same key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("%w: --name is required", errUsage)
			}
			path := keyFile
			if path == "" {
				path = a.cfg.Ledger.KeyFile
			}
			if path == "" {
				return fmt.Errorf("%w: --key-file or ledger.key_file is required", errUsage)
			}
			pk, err := keys.LoadPrivateKeyFile(path)
			if err != nil {
				return err
			}
			signer := keys.NewEthSigner(pk)
			sig, err := signer.SignMessage(cmd.Context(), []byte(vault.CanonicalMessage(a.cfg.AppTag, name)))
			if err != nil {
				return err
			}
			key, err := vault.DeriveKeyFromSignature(sig)
			if err != nil {
				return err
			}
			defer key.Zero()
			return emitKey(cmd, key, outPath)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "seller account key (default ledger.key_file)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the key to this file (0600) instead of stdout")
	return cmd
}

func newKeyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <key-hex>",
		Short: "Check that a pasted key is a well-formed 256-bit key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := vault.ValidateKey(args[0])
			if err != nil {
				return err
			}
			defer key.Zero()
			fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", key.Fingerprint())
			return nil
		},
	}
}

func newKeyFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <key-hex|@file>",
		Short: "Print the public fingerprint of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyArg(args[0])
			if err != nil {
				return err
			}
			defer key.Zero()
			fmt.Fprintln(cmd.OutOrStdout(), key.Fingerprint())
			return nil
		},
	}
}

func newKeyAccountCmd() *cobra.Command {
	var (
		outPath string
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create a secp256k1 account key for signing ledger transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outPath == "" {
				return fmt.Errorf("%w: --out is required", errUsage)
			}
			pk, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			if err := keys.SavePrivateKeyFile(outPath, pk, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(pk.PublicKey).Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "key file to create")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func newKeyIdentityCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Create an age identity for sealing the key cache at rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outPath == "" {
				return fmt.Errorf("%w: --out is required", errUsage)
			}
			id, err := keys.GenerateIdentity(outPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.Recipient().String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "identity file to create")
	return cmd
}

// parseKeyArg accepts a hex key or @path to a file holding one.
func parseKeyArg(arg string) (vault.Key, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return vault.Key{}, err
		}
		arg = string(b)
	}
	return vault.ValidateKey(arg)
}

func emitKey(cmd *cobra.Command, key vault.Key, outPath string) error {
	if outPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), key.Hex())
		return nil
	}
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, key.Hex()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), key.Fingerprint())
	return nil
}
