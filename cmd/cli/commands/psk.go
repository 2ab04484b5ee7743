package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/keystore"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewPSKCmd creates the psk command group
func NewPSKCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "psk",
		Short: "Manage the pre-shared key",
		Long: `Manage the pre-shared key used to authenticate with the daemon.

The client and the daemon must share the same key. By default the key is
stored in your platform keyring:
  macOS:           Keychain
  Linux (desktop): GNOME Keyring / KDE Wallet

With --seal, 'psk set' writes a passphrase-protected file instead, for
hosts without a keyring. Point security.psk_file at it in the config and
put the passphrase in ` + keystore.PassphraseEnv + `.

Examples:
  portcullis psk set --generate   # Generate and store a new key
  portcullis psk set              # Enter an existing key
  portcullis psk show             # Show the stored key (truncated)
  portcullis psk delete           # Remove the key from the keyring`,
	}

	cmd.AddCommand(newPSKSetCmd())
	cmd.AddCommand(newPSKShowCmd())
	cmd.AddCommand(newPSKDeleteCmd())

	return cmd
}

func newPSKSetCmd() *cobra.Command {
	var (
		generate bool
		sealPath string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a pre-shared key",
		Long:  "Store a pre-shared key in the platform keyring, or seal it to a file with --seal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pskHex string
			if generate {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return fmt.Errorf("failed to generate key: %w", err)
				}
				pskHex = hex.EncodeToString(raw)
			} else {
				var err error
				pskHex, err = promptPSKHex()
				if err != nil {
					return err
				}
			}

			raw, err := hex.DecodeString(pskHex)
			if err != nil {
				return fmt.Errorf("psk is not valid hex: %w", err)
			}
			if len(raw) < 32 {
				Warning("PSK is shorter than 32 bytes; consider using a longer key")
			}

			if sealPath != "" {
				passphrase, err := promptPassphrase()
				if err != nil {
					return err
				}
				if err := keystore.Seal(sealPath, raw, []byte(passphrase)); err != nil {
					return err
				}
				Success("PSK sealed to " + sealPath)
				fmt.Println(Hint("Set security.psk_file: " + sealPath + " in the config"))
				fmt.Println(Hint("Put the passphrase in " + keystore.PassphraseEnv))
			} else {
				backend, err := keystore.StorePSK(pskHex)
				if err != nil {
					fmt.Println(Hint("On headless hosts use: portcullis psk set --seal <file>"))
					return fmt.Errorf("failed to store in keyring: %w", err)
				}
				Success("PSK saved to " + backend)
			}

			if generate {
				fmt.Println()
				Warning("This key is shown once. Configure the daemon with the same key:")
				fmt.Println("  " + pskHex)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a new random 32-byte key")
	cmd.Flags().StringVar(&sealPath, "seal", "", "Seal the key to this file instead of the keyring")

	return cmd
}

func newPSKShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the stored pre-shared key",
		RunE: func(cmd *cobra.Command, args []string) error {
			pskHex, err := keystore.RetrievePSK()
			if err != nil {
				return fmt.Errorf("keyring unavailable: %w", err)
			}
			if pskHex == "" {
				Info("No PSK stored in the keyring")
				fmt.Println(Hint("Store one with: portcullis psk set"))
				return nil
			}

			if reveal {
				fmt.Println(pskHex)
				return nil
			}
			Success("PSK in keyring: " + TruncateSecret(pskHex))
			fmt.Println(Hint("Use --reveal to print the full key"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the full key")

	return cmd
}

func newPSKDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the pre-shared key from the keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := keystore.DeletePSK(); err != nil {
				return err
			}
			Success("PSK removed from keyring")
			return nil
		},
	}
}

// defaultSealedPath returns the suggested location for a sealed PSK file.
func defaultSealedPath() string {
	return filepath.Join(config.DefaultConfigDir(), "psk.sealed")
}

// promptPSKHex reads a hex key from the terminal with echo disabled,
// asking for confirmation to catch typos.
func promptPSKHex() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter PSK (hex): ")
		pskHex, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		pskHex = strings.TrimSpace(pskHex)
		if pskHex == "" {
			Warning("Key must not be empty. Try again.")
			continue
		}
		if _, err := hex.DecodeString(pskHex); err != nil {
			Warning("Key must be hex encoded. Try again.")
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm PSK: ")
		confirm, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if pskHex != strings.TrimSpace(confirm) {
			Warning("Keys do not match. Try again.")
			continue
		}
		return pskHex, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

// promptPassphrase reads a sealing passphrase with echo disabled,
// enforcing a minimum length and asking for confirmation.
func promptPassphrase() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter passphrase: ")
		passphrase, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if len(passphrase) < 8 {
			Warning("Passphrase must be at least 8 characters. Try again.")
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		confirm, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if passphrase != confirm {
			Warning("Passphrases do not match. Try again.")
			continue
		}
		return passphrase, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
