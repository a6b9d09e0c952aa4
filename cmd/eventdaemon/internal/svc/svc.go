// Package svc wraps the OS service unit this daemon installs itself as,
// and the systemctl calls the start/stop/restart/start-service CLI
// subcommands issue against it.
package svc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

const unitTemplate = `[Unit]
Description={{.ServiceName}} event dispatch daemon
After=network.target

[Service]
Type=simple
WorkingDirectory={{.WorkingDirectory}}
EnvironmentFile=-/etc/environment
ExecStart={{.ExecStart}} foreground
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// Controller generates and drives the systemd unit this binary installs
// itself as. ServiceName names both the unit file and the systemd unit
// itself; BinaryPath/WorkingDirectory are stamped into the generated
// ExecStart/WorkingDirectory lines, matching §6's "OS service unit"
// external interface.
type Controller struct {
	ServiceName      string
	BinaryPath       string
	WorkingDirectory string

	// runCmd is overridable in tests; production callers leave it nil and
	// get execContext, which shells out to systemctl.
	runCmd func(ctx context.Context, name string, args ...string) (string, error)
}

// NewController builds a Controller for serviceName, resolving
// BinaryPath/WorkingDirectory from the running executable unless
// overridden.
func NewController(serviceName string) (*Controller, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("svc: failed to resolve own executable path: %w", err)
	}
	exe, err = filepath.Abs(exe)
	if err != nil {
		return nil, fmt.Errorf("svc: failed to resolve absolute executable path: %w", err)
	}
	return &Controller{
		ServiceName:      serviceName,
		BinaryPath:       exe,
		WorkingDirectory: filepath.Dir(exe),
	}, nil
}

// UnitPath returns where the generated systemd unit file is written.
func (c *Controller) UnitPath() string {
	return filepath.Join("/etc/systemd/system", c.ServiceName+".service")
}

// GenerateUnit renders the unit file content for this controller.
func (c *Controller) GenerateUnit() (string, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return "", fmt.Errorf("svc: parse unit template: %w", err)
	}
	var buf bytes.Buffer
	data := struct {
		ServiceName      string
		WorkingDirectory string
		ExecStart        string
	}{
		ServiceName:      c.ServiceName,
		WorkingDirectory: c.WorkingDirectory,
		ExecStart:        c.BinaryPath,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("svc: render unit template: %w", err)
	}
	return buf.String(), nil
}

// Installed reports whether the unit file already exists.
func (c *Controller) Installed() bool {
	_, err := os.Stat(c.UnitPath())
	return err == nil
}

// Install writes the unit file (if absent) and runs systemctl
// daemon-reload so systemd picks it up. A no-op if already installed.
func (c *Controller) Install(ctx context.Context) error {
	if c.Installed() {
		return nil
	}
	unit, err := c.GenerateUnit()
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.UnitPath(), []byte(unit), 0o644); err != nil {
		return fmt.Errorf("svc: write unit file %s: %w", c.UnitPath(), err)
	}
	_, err = c.run(ctx, "systemctl", "daemon-reload")
	return err
}

// Start starts the service via systemctl.
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.run(ctx, "systemctl", "start", c.ServiceName)
	return err
}

// Stop stops the service via systemctl.
func (c *Controller) Stop(ctx context.Context) error {
	_, err := c.run(ctx, "systemctl", "stop", c.ServiceName)
	return err
}

// Restart restarts the service via systemctl.
func (c *Controller) Restart(ctx context.Context) error {
	_, err := c.run(ctx, "systemctl", "restart", c.ServiceName)
	return err
}

func (c *Controller) run(ctx context.Context, name string, args ...string) (string, error) {
	if c.runCmd != nil {
		return c.runCmd(ctx, name, args...)
	}
	return execContext(ctx, name, args...)
}

// execContext is the production systemctl runner, given a modest timeout
// since systemctl operations are local and should never hang.
func execContext(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil {
		return out, fmt.Errorf("svc: %s %s: %w: %s", name, strings.Join(args, " "), err, out)
	}
	return out, nil
}
