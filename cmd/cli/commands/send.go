package commands

import (
	"fmt"
	"strings"

	"github.com/portcullis/portcullis/internal/client"
	"github.com/spf13/cobra"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	var argPairs []string

	cmd := &cobra.Command{
		Use:   "send [command] [text...]",
		Short: "Send a single signed command",
		Long: `Send one signed command to the daemon and print the result.

Command names are uppercased before sending. Extra positional words become
the command's 'text' argument, so

  portcullis send echo hello world

is shorthand for

  portcullis send ECHO --arg text="hello world"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.ToUpper(args[0])
			cmdArgs, err := parseArgPairs(argPairs)
			if err != nil {
				return err
			}
			if len(args) > 1 {
				if _, exists := cmdArgs["text"]; !exists {
					cmdArgs["text"] = strings.Join(args[1:], " ")
				}
			}

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

			result, err := c.SendCommand(name, cmdArgs)
			if err != nil {
				return err
			}

			Success(name)
			fmt.Println(FormatJSON(result))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "Command argument as key=value (repeatable)")
	return cmd
}

// parseArgPairs turns repeated key=value flags into a command argument map.
func parseArgPairs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, found := strings.Cut(p, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: expected key=value", p)
		}
		args[key] = value
	}
	return args, nil
}
