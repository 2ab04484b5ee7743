package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/portcullis/portcullis/internal/client"
	"github.com/spf13/cobra"
)

// NewConnectCmd creates the connect command.
func NewConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Interactive session with the daemon",
		Long: `Open an authenticated session and enter a REPL for sending commands.

Every command is signed with the session key and strictly ordered, so the
daemon rejects replayed or tampered lines.
Type 'help' for available commands, 'exit' to quit.`,
		RunE: runConnect,
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
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

	fmt.Println(StatusBox(Logo()+" session", [][2]string{
		{"Server", cfg.Client.ServerAddr},
		{"Client ID", cfg.Client.ClientID},
		{"Session", c.SessionID()},
	}))
	fmt.Println(Hint("Type 'help' for commands, 'exit' to quit."))
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\033[32mportcullis>\033[0m ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, cmdArgs := parseREPLLine(line)

		switch name {
		case "EXIT", "QUIT", "Q":
			fmt.Println("Goodbye!")
			return nil

		case "HELP", "H", "?":
			printConnectHelp()

		case "SEQ?":
			fmt.Printf("Session: %s\n", c.SessionID())
			fmt.Printf("Seq:     %d\n", c.Seq())

		default:
			result, err := c.SendCommand(name, cmdArgs)
			if err != nil {
				Error(err.Error())
			} else {
				Success(name)
				fmt.Println(FormatJSON(result))
			}
		}

		fmt.Println()
	}

	return nil
}

// parseREPLLine splits a REPL line into an uppercased command name and its
// argument map. Everything after the first word becomes the 'text' argument.
func parseREPLLine(line string) (string, map[string]any) {
	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToUpper(name)
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return name, nil
	}
	return name, map[string]any{"text": rest}
}

func printConnectHelp() {
	fmt.Println(`
Available commands:
  PING              Signed liveness check
  ECHO <text>       Echo text back
  TIME              Show server time
  STATUS            Show daemon status
  SEQ?              Show the local session cursor
  help              Show this help
  exit              Close the session and quit

Any other word is sent to the daemon as a signed command.`)
}
