// Package lifecycle implements the start-service/start/stop/restart
// subcommands, every one of which resolves the configured service name
// from shotgunEventDaemon.conf and shells out to systemctl through
// svc.Controller rather than running the engine in this process.
package lifecycle

import (
	"context"

	"github.com/go-lynx/eventdaemon/cmd/eventdaemon/internal/daemonrun"
	"github.com/go-lynx/eventdaemon/cmd/eventdaemon/internal/svc"
	"github.com/go-lynx/eventdaemon/config"
	"github.com/spf13/cobra"
)

func controller() (*svc.Controller, error) {
	cfgPath, err := daemonrun.ResolveConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return svc.NewController(cfg.ServiceName())
}

// CmdStartService installs the systemd unit if it is not already present,
// then starts it; a no-op install on every subsequent run.
var CmdStartService = &cobra.Command{
	Use:   "start-service",
	Short: "Install the OS service unit if absent, then start it",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controller()
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := c.Install(ctx); err != nil {
			return err
		}
		return c.Start(ctx)
	},
}

// CmdStart starts the already-installed service.
var CmdStart = &cobra.Command{
	Use:   "start",
	Short: "Start the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controller()
		if err != nil {
			return err
		}
		return c.Start(context.Background())
	},
}

// CmdStop stops the service.
var CmdStop = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controller()
		if err != nil {
			return err
		}
		return c.Stop(context.Background())
	},
}

// CmdRestart restarts the service.
var CmdRestart = &cobra.Command{
	Use:   "restart",
	Short: "Restart the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := controller()
		if err != nil {
			return err
		}
		return c.Restart(context.Background())
	},
}
