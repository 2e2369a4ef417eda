package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"creditchain/cmd/internal/passphrase"
	"creditchain/crypto"
)

const (
	defaultPassEnv  = "WITHDRAWALD_SIGNER_PASS"
	defaultKeystore = "signer.keystore"
)

type keygenOptions struct {
	Keystore string
	PassEnv  string
	Import   string
	Force    bool
	Light    bool
}

func newKeygenCommand() *cobra.Command {
	opts := &keygenOptions{}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create an encrypted settlement signer keystore",
		Long: `Create an encrypted settlement signer keystore.

A fresh key is generated unless --import supplies an existing hex key, which
moves a plaintext signer_key into a keystore. Point core.keystore and
core.passphrase_env at the result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			address, err := writeKeystore(opts, passphrase.NewSource(opts.PassEnv, passphrase.WithConfirmation()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keystore: %s\nsigner: %s\n", opts.Keystore, address)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Keystore, "keystore", defaultKeystore, "output keystore path")
	cmd.Flags().StringVar(&opts.PassEnv, "pass-env", defaultPassEnv, "environment variable holding the passphrase")
	cmd.Flags().StringVar(&opts.Import, "import", "", "existing hex private key to encrypt")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing keystore")
	cmd.Flags().BoolVar(&opts.Light, "light", false, "use the light scrypt cost (dev networks only)")
	return cmd
}

func writeKeystore(opts *keygenOptions, source *passphrase.Source) (string, error) {
	path := strings.TrimSpace(opts.Keystore)
	if path == "" {
		return "", fmt.Errorf("--keystore is required")
	}
	if !opts.Force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("keystore file %s already exists (use --force to overwrite)", path)
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	var (
		key *crypto.PrivateKey
		err error
	)
	if raw := strings.TrimSpace(opts.Import); raw != "" {
		keyBytes, decodeErr := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if decodeErr != nil {
			return "", fmt.Errorf("decode --import: %w", decodeErr)
		}
		key, err = crypto.PrivateKeyFromBytes(keyBytes)
	} else {
		key, err = crypto.GeneratePrivateKey()
	}
	if err != nil {
		return "", err
	}

	pass, err := source.Get()
	if err != nil {
		return "", err
	}
	params := crypto.StandardKeystoreParams
	if opts.Light {
		params = crypto.LightKeystoreParams
	}
	if err := crypto.SaveToKeystoreWithParams(path, key, pass, params); err != nil {
		return "", fmt.Errorf("write keystore: %w", err)
	}
	return key.PubKey().Address().String(), nil
}
