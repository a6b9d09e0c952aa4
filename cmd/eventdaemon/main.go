package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-lynx/eventdaemon/cmd/eventdaemon/internal/foreground"
	"github.com/go-lynx/eventdaemon/cmd/eventdaemon/internal/lifecycle"
	"github.com/spf13/cobra"
)

// release is overridden at link time via -ldflags "-X main.release=...".
var release = "dev"

var errNoCommand = errors.New("no command given")

var rootCmd = &cobra.Command{
	Use:           "eventdaemon",
	Short:         "eventdaemon: the shotgun event-dispatch daemon",
	Long:          `eventdaemon polls an upstream event log and dispatches events to plugins.`,
	Version:       release,
	SilenceUsage:  true,
	SilenceErrors: true,
	// Printing usage and exiting 2 for a missing subcommand matches the
	// CLI table's "(none / unknown) -> print usage, exit 2".
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = cmd.Usage()
		return errNoCommand
	},
}

func init() {
	rootCmd.AddCommand(lifecycle.CmdStartService)
	rootCmd.AddCommand(lifecycle.CmdStart)
	rootCmd.AddCommand(lifecycle.CmdStop)
	rootCmd.AddCommand(lifecycle.CmdRestart)
	rootCmd.AddCommand(foreground.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errNoCommand) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}
}
