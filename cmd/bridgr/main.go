package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// CtlFlags holds daemon-connection flags for the ctl subcommands. They
// override the [supervisor] config section when set.
type CtlFlags struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// buildRoot creates the root command and wires the subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	ctlFlags := &CtlFlags{}

	bridgrCommand := command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createListenCommand(bridgrCommand),
		createServeCommand(bridgrCommand),
		createCtlCommand(bridgrCommand, ctlFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "bridgr",
		Short: "Supervisor event bridge and control proxy",
		Long: `Bridgr consumes a process-supervision daemon's event stream, reacts to
lifecycle events with a configurable rule set, and proxies control
commands back to the daemon.

Examples:
  bridgr listen --config=/etc/bridgr/bridgr.toml   # run under the daemon as an eventlistener
  bridgr serve --config=/etc/bridgr/bridgr.toml    # management API
  bridgr ctl list --url=http://127.0.0.1:9001/RPC2
  bridgr ctl restart --name=web --config=/etc/bridgr/bridgr.toml`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

// createListenCommand creates the listen subcommand
func createListenCommand(bridgrCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the event bridge on stdin/stdout",
		Long: `Run the bridge loop against the daemon's event channel. This command is
meant to be registered as an eventlistener program in the daemon's own
configuration; it speaks the handshake on stdin/stdout and must not be
run interactively.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return bridgrCommand.Listen()
		},
	}
}

// createServeCommand creates the serve subcommand
func createServeCommand(bridgrCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return bridgrCommand.Serve()
		},
	}
}

// createCtlCommand creates the ctl command group
func createCtlCommand(bridgrCommand command, ctlFlags *CtlFlags) *cobra.Command {
	ctl := &cobra.Command{
		Use:   "ctl",
		Short: "Send control commands to the daemon",
	}
	ctl.PersistentFlags().StringVar(&ctlFlags.URL, "url", "", "daemon control endpoint (overrides config)")
	ctl.PersistentFlags().StringVar(&ctlFlags.Username, "username", "", "control endpoint username")
	ctl.PersistentFlags().StringVar(&ctlFlags.Password, "password", "", "control endpoint password")
	ctl.PersistentFlags().DurationVar(&ctlFlags.Timeout, "timeout", 5*time.Second, "per-call timeout")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all managed processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return bridgrCommand.CtlList(*ctlFlags)
		},
	}

	var name string
	addNamed := func(use, short string) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return bridgrCommand.CtlNamed(use, name, *ctlFlags)
			},
		}
		c.Flags().StringVar(&name, "name", "", "process name (required)")
		if err := c.MarkFlagRequired("name"); err != nil {
			panic(err)
		}
		return c
	}

	stopAll := &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return bridgrCommand.CtlStopAll(*ctlFlags)
		},
	}

	ctl.AddCommand(
		list,
		addNamed("start", "Start a process"),
		addNamed("stop", "Stop a process"),
		addNamed("restart", "Restart a process"),
		stopAll,
	)
	return ctl
}
