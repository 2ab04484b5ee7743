package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/keystore"
	"github.com/spf13/cobra"
)

var initNonInteractive bool

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Set up the portcullis client with a guided wizard.

Walks you through:
  1. Server address and client ID
  2. Generating or entering the pre-shared key
  3. Storing the key in the platform keyring or a sealed file

Use Shift+Tab or arrow keys to go back to previous steps.
Press Ctrl+C at any time to cancel without making changes.

Creates: ~/.portcullis/client.yaml

For non-interactive setup (CI/CD), use: portcullis init --non-interactive`,
		RunE: runInit,
	}

	cmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "Write defaults without prompting")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := ConfigPath
	if configPath == "" {
		configPath = config.DefaultClientConfigPath()
	}

	if initNonInteractive || !isTTY() {
		return runInitDefaults(configPath)
	}

	fmt.Println()
	fmt.Println(StatusBox(Logo()+" Setup", [][2]string{
		{"", "Welcome! Let's configure your client."},
		{"", "Use Shift+Tab to go back, Ctrl+C to cancel."},
	}))
	fmt.Println()

	_, existingConfigErr := os.Stat(configPath)
	hasExistingConfig := existingConfigErr == nil

	defaults := config.DefaultClientConfig()

	// Form values
	var (
		serverAddr string
		clientID   string
		pskOp      string
		storage    string
		sealPath   string
		overwrite  bool
		confirm    bool
	)

	// Single form, multiple groups; Shift+Tab navigates back between groups
	form := huh.NewForm(
		// Group 1: Connection
		huh.NewGroup(
			huh.NewInput().
				Title("Daemon address").
				Description("host:port of the portcullis daemon (leave empty for default)").
				Placeholder(defaults.Client.ServerAddr).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if _, _, err := net.SplitHostPort(s); err != nil {
						return fmt.Errorf("must be host:port")
					}
					return nil
				}).
				Value(&serverAddr),
			huh.NewInput().
				Title("Client ID").
				Description("Identity presented to the daemon during the handshake").
				Placeholder(defaults.Client.ClientID).
				Value(&clientID),
		),

		// Group 2: Key source
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Pre-shared key").
				Description("The client and the daemon must share the same key").
				Options(
					huh.NewOption("Generate a new random key", "generate"),
					huh.NewOption("Enter an existing key", "enter"),
					huh.NewOption("Skip (configure later with: portcullis psk set)", "skip"),
				).
				Value(&pskOp),
		),

		// Group 3: Key storage (hidden when no key is being configured)
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Key storage").
				Description("Where to keep the key at rest").
				Options(
					huh.NewOption("Platform keyring (Keychain / Secret Service)", "keyring"),
					huh.NewOption("Passphrase-sealed file", "file"),
				).
				Value(&storage),
		).WithHideFunc(func() bool {
			return pskOp == "skip"
		}),

		// Group 4: Sealed file location (file storage only)
		huh.NewGroup(
			huh.NewInput().
				Title("Sealed file path").
				Description("Where to write the sealed key (leave empty for default)").
				Placeholder(defaultSealedPath()).
				Value(&sealPath),
		).WithHideFunc(func() bool {
			return pskOp == "skip" || storage != "file"
		}),

		// Group 5: Overwrite warning (only if config exists)
		huh.NewGroup(
			huh.NewConfirm().
				Title("Config file already exists. Overwrite?").
				Description(configPath).
				Affirmative("Overwrite").
				Negative("Keep existing").
				Value(&overwrite),
		).WithHideFunc(func() bool {
			return !hasExistingConfig
		}),

		// Group 6: Confirmation with summary
		huh.NewGroup(
			huh.NewConfirm().
				TitleFunc(func() string {
					return "Apply this configuration?"
				}, &pskOp).
				DescriptionFunc(func() string {
					addr := serverAddr
					if addr == "" {
						addr = defaults.Client.ServerAddr
					}
					id := clientID
					if id == "" {
						id = defaults.Client.ClientID
					}
					lines := []string{
						fmt.Sprintf("Server: %s", addr),
						fmt.Sprintf("Client: %s", id),
					}
					switch pskOp {
					case "generate":
						lines = append(lines, "PSK:    generate new")
					case "enter":
						lines = append(lines, "PSK:    enter existing")
					default:
						lines = append(lines, "PSK:    skip")
					}
					if pskOp != "skip" {
						if storage == "file" {
							sp := sealPath
							if sp == "" {
								sp = defaultSealedPath()
							}
							lines = append(lines, fmt.Sprintf("Store:  sealed file %s", sp))
						} else {
							lines = append(lines, "Store:  platform keyring")
						}
					}
					lines = append(lines, fmt.Sprintf("Config: %s", configPath))
					return strings.Join(lines, "\n")
				}, &confirm).
				Affirmative("Confirm").
				Negative("Cancel").
				Value(&confirm),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return err
	}

	if !confirm {
		Info("Setup cancelled (no changes made)")
		return nil
	}

	// --- Apply configuration ---

	cfg := config.DefaultClientConfig()
	if serverAddr != "" {
		cfg.Client.ServerAddr = serverAddr
	}
	if clientID != "" {
		cfg.Client.ClientID = clientID
	}
	if sealPath == "" {
		sealPath = defaultSealedPath()
	}

	// Step 1: Key material (side-effectful, can't be in the form)
	var pskHex string
	switch pskOp {
	case "generate":
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		pskHex = hex.EncodeToString(raw)
	case "enter":
		var err error
		pskHex, err = promptPSKHex()
		if err != nil {
			return err
		}
	case "skip":
		Info("Skipping key setup")
		fmt.Println(Hint("Store later with: portcullis psk set"))
	}

	// Step 2: Store the key
	if pskHex != "" {
		switch storage {
		case "file":
			passphrase, err := promptPassphrase()
			if err != nil {
				return err
			}
			raw, _ := hex.DecodeString(pskHex)
			if err := keystore.Seal(sealPath, raw, []byte(passphrase)); err != nil {
				return err
			}
			cfg.Security.PSKFile = sealPath
			Success("PSK sealed to " + sealPath)
			fmt.Println(Hint("Put the passphrase in " + keystore.PassphraseEnv))
		default:
			backend, err := keystore.StorePSK(pskHex)
			if err != nil {
				Warning(fmt.Sprintf("Keyring unavailable: %v", err))
				fmt.Println(Hint("Store later with: portcullis psk set --seal <file>"))
			} else {
				Success("PSK saved to " + backend)
			}
		}
	}

	// Step 3: Write config
	if !hasExistingConfig || overwrite {
		if err := cfg.Save(configPath); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		Success("Config written to " + configPath)
	} else {
		Info("Config file kept (not overwritten)")
	}

	if pskOp == "generate" && pskHex != "" {
		fmt.Println()
		Warning("This key is shown once. Configure the daemon with the same key:")
		fmt.Println("  " + pskHex)
	}

	// Summary
	fmt.Println()
	summaryFields := [][2]string{
		{"Server", cfg.Client.ServerAddr},
		{"Client ID", cfg.Client.ClientID},
		{"Config", configPath},
	}
	if cfg.Security.PSKFile != "" {
		summaryFields = append(summaryFields, [2]string{"PSK file", cfg.Security.PSKFile})
	}
	fmt.Println(StatusBox("Setup Complete", summaryFields))

	fmt.Println()
	fmt.Println(Hint("Next: portcullis ping"))

	return nil
}

// runInitDefaults writes a default config without prompting.
func runInitDefaults(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		Info("Config already exists at " + configPath)
		return nil
	}

	cfg := config.DefaultClientConfig()
	if ServerAddr != "" {
		cfg.Client.ServerAddr = ServerAddr
	}
	if ClientID != "" {
		cfg.Client.ClientID = ClientID
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	Success("Config written to " + configPath)
	fmt.Println(Hint("Store a key with: portcullis psk set --generate"))
	return nil
}
