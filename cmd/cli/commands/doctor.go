package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/doctor"
	"github.com/spf13/cobra"
)

var (
	doctorJSON     bool
	doctorCategory string
)

func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check client and daemon health",
		Long: `Run diagnostic checks against the local setup and the daemon.

The doctor command checks:
- Config file validity
- Pre-shared key availability (config, sealed file, or keyring)
- Daemon reachability
- The authenticated handshake and a signed ping
- Clock agreement with the daemon

Examples:
  portcullis doctor                    # Run all checks
  portcullis doctor --json             # Output results as JSON
  portcullis doctor --category network # Only run network checks`,
		RunE: runDoctor,
	}

	cmd.Flags().BoolVar(&doctorJSON, "json", false, "Output results as JSON")
	cmd.Flags().StringVar(&doctorCategory, "category", "", "Filter checks by category (config, security, network, system)")

	return cmd
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	var category doctor.Category
	if doctorCategory != "" {
		switch doctorCategory {
		case "config":
			category = doctor.CategoryConfig
		case "security":
			category = doctor.CategorySecurity
		case "network":
			category = doctor.CategoryNetwork
		case "system":
			category = doctor.CategorySystem
		default:
			return fmt.Errorf("invalid category: %s (valid: config, security, network, system)", doctorCategory)
		}
	}

	configPath := ConfigPath
	if configPath == "" {
		configPath = config.DefaultClientConfigPath()
	}

	// Checks still run with defaults when the config file is broken; the
	// config checker reports the parse failure itself.
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		cfg = config.DefaultClientConfig()
	}
	if ServerAddr != "" {
		cfg.Client.ServerAddr = ServerAddr
	}
	if ClientID != "" {
		cfg.Client.ClientID = ClientID
	}

	opts := doctor.Options{
		JSON:     doctorJSON,
		Category: category,
	}
	params := doctor.Params{
		ConfigPath: configPath,
		Config:     cfg,
	}

	report, err := doctor.New(opts, params).Run(ctx)
	if err != nil {
		return fmt.Errorf("doctor check failed: %w", err)
	}

	// Non-zero exit when checks failed, for scripting
	if !report.Summary.IsHealthy() && !doctorJSON {
		os.Exit(1)
	}

	return nil
}
