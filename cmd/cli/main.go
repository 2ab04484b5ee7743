package main

import (
	"fmt"
	"os"

	"github.com/portcullis/portcullis/cmd/cli/commands"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portcullis",
	Short: "Portcullis authenticated command channel",
	Long:  "Client for the portcullis daemon: an authenticated, session-oriented command channel over TCP",
}

func init() {
	// Add global persistent flags
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to client config (default: ~/.portcullis/client.yaml)")
	rootCmd.PersistentFlags().StringVar(&commands.ServerAddr, "server", "", "Daemon address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&commands.ClientID, "client-id", "", "Client identity (overrides config)")
}

func main() {
	// Register commands
	rootCmd.AddCommand(commands.NewInitCmd())
	rootCmd.AddCommand(commands.NewConnectCmd())
	rootCmd.AddCommand(commands.NewSendCmd())
	rootCmd.AddCommand(commands.NewPingCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewPSKCmd())
	rootCmd.AddCommand(commands.NewDoctorCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())
	rootCmd.AddCommand(commands.NewCompletionCmd())
	rootCmd.AddCommand(commands.NewManCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
