package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/vault"
)

func newEncryptCmd(_ *app) *cobra.Command {
	var (
		keyArg  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a file into the IV || ciphertext || tag payload",
		Long: `encrypt seals a file with AES-256-GCM. Without --key a random key is
generated and printed on stdout; keep it, nothing else stores it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return fmt.Errorf("%w: --out is required", errUsage)
			}
			plaintext, err := readInput(args[0])
			if err != nil {
				return err
			}
			var key vault.Key
			if keyArg == "" {
				key, err = vault.GenerateRandomKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key.Hex())
			} else if key, err = parseKeyArg(keyArg); err != nil {
				return err
			}
			defer key.Zero()
			payload, err := vault.Encrypt(plaintext, key)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, payload, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s (key %s)\n", len(payload), outPath, key.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyArg, "key", "k", "", "key hex or @file (default: generate)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "encrypted output file")
	return cmd
}

func newDecryptCmd(_ *app) *cobra.Command {
	var (
		keyArg      string
		outPath     string
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "decrypt <file>",
		Short: "Decrypt a payload produced by encrypt or published by a seller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyArg == "" {
				return fmt.Errorf("%w: --key is required", errUsage)
			}
			key, err := parseKeyArg(keyArg)
			if err != nil {
				return err
			}
			defer key.Zero()
			payload, err := readInput(args[0])
			if err != nil {
				return err
			}
			plaintext, ct, err := vault.Decrypt(payload, key, contentType)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + extensionFor(ct)
				if outPath == args[0] {
					outPath += ".out"
				}
			}
			if err := os.WriteFile(outPath, plaintext, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", outPath, ct)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyArg, "key", "k", "", "key hex or @file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "plaintext output file (default: input name with the detected extension)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type; sniffed when empty")
	return cmd
}

func newPublishCmd(a *app) *cobra.Command {
	var hint string
	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Publish bytes through the configured ingress and print the CID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			f, closeFn, err := a.openFabric(true, nil)
			if err != nil {
				return err
			}
			defer closeFn()
			if hint == "" {
				hint = filepath.Base(args[0])
			}
			ref, err := f.Publish(cmd.Context(), data, hint)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref)
			return nil
		},
	}
	cmd.Flags().StringVar(&hint, "name", "", "file name hint for the ingress")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		outPath string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <ref>",
		Short: "Fetch a CID (or ipfs:// reference) through the endpoints in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, closeFn, err := a.openFabric(false, nil)
			if err != nil {
				return err
			}
			defer closeFn()
			kind := fabric.KindBinary
			if asJSON {
				kind = fabric.KindJSON
			}
			data, err := f.Fetch(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(outPath, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "expect a JSON document")
	return cmd
}

func newMetadataCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metadata <ref>",
		Short: "Resolve a preview metadata reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, closeFn, err := a.openFabric(false, nil)
			if err != nil {
				return err
			}
			defer closeFn()
			m := f.ResolveMetadata(cmd.Context(), args[0])
			if m == nil {
				return fmt.Errorf("%w: metadata %s", fabric.ErrAllEndpointsFailed, args[0])
			}
			w := cmd.OutOrStdout()
			if m.Legacy {
				fmt.Fprintf(w, "image\t%s\t(legacy: reference is the image)\n", m.Image)
				return nil
			}
			fmt.Fprintf(w, "name\t%s\n", m.Name)
			fmt.Fprintf(w, "description\t%s\n", m.Description)
			fmt.Fprintf(w, "image\t%s\n", m.Image)
			fmt.Fprintf(w, "content_type\t%s\n", m.ContentType)
			fmt.Fprintf(w, "key_fingerprint\t%s\n", m.KeyFingerprint)
			return nil
		},
	}
}

// readInput reads path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func extensionFor(contentType string) string {
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
