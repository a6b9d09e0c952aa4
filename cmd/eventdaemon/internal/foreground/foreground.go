// Package foreground implements the `foreground` subcommand: the one
// entrypoint (also invoked by the generated systemd unit's ExecStart)
// that actually runs the engine in this process.
package foreground

import (
	"context"

	"github.com/go-lynx/eventdaemon/cmd/eventdaemon/internal/daemonrun"
	"github.com/spf13/cobra"
)

// Cmd runs the engine in the current process until a termination signal
// is observed (handled inside supervisor.Supervisor.Run) or the loop
// stops itself after an unrecoverable error.
var Cmd = &cobra.Command{
	Use:   "foreground",
	Short: "Run the engine in the current process, logging to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, err := daemonrun.ResolveConfigPath()
		if err != nil {
			return err
		}
		return daemonrun.Run(context.Background(), cfgPath, true)
	},
}
