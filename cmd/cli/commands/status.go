package commands

import (
	"fmt"
	"time"

	"github.com/portcullis/portcullis/internal/client"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  "Authenticate with the daemon, run the STATUS command, and display the result.",
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

			result, err := c.SendCommand("STATUS", nil)
			if err != nil {
				return err
			}

			fmt.Println(StatusBox("Daemon", statusFields(result)))
			return nil
		},
	}
}

// statusFields maps a STATUS result to display fields, in a fixed order.
func statusFields(result any) [][2]string {
	m, ok := result.(map[string]any)
	if !ok {
		return [][2]string{{"Result", FormatJSON(result)}}
	}

	var fields [][2]string
	if v, ok := m["status"].(string); ok {
		display := v
		if isTTY() {
			display = StatusBadge(v)
		}
		fields = append(fields, [2]string{"Status", display})
	}
	if v, ok := m["version"].(string); ok {
		fields = append(fields, [2]string{"Version", v})
	}
	if v, ok := m["uptime_secs"].(float64); ok {
		fields = append(fields, [2]string{"Uptime", (time.Duration(v) * time.Second).String()})
	}
	if v, ok := m["sessions"].(float64); ok {
		fields = append(fields, [2]string{"Sessions", fmt.Sprintf("%.0f", v)})
	}
	if len(fields) == 0 {
		fields = append(fields, [2]string{"Result", FormatJSON(m)})
	}
	return fields
}
