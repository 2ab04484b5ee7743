package commands

import (
	"fmt"

	"github.com/portcullis/portcullis/internal/client"
	"github.com/spf13/cobra"
)

// NewPingCmd creates the ping command.
func NewPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Measure round-trip time to the daemon",
		Long:  "Authenticate with the daemon and measure the transport round-trip time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadClientConfig()
			if err != nil {
				return err
			}

			var c *client.Client
			if err := WithSpinner("Connecting to "+cfg.Client.ServerAddr, func() error {
				var err error
				c, err = connectAndAuth(cfg)
				return err
			}); err != nil {
				return err
			}
			defer c.Close()

			rtt, err := c.Ping()
			if err != nil {
				return err
			}
			Success(fmt.Sprintf("PONG from %s in %s", cfg.Client.ServerAddr, rtt))
			return nil
		},
	}
}
