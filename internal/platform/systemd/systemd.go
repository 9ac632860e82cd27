// Package systemd provides exec wrappers around the service manager.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts command execution to support tests and dry-run flows.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner executes commands using os/exec.
type ExecRunner struct {
	DryRun bool
}

// Run executes a command and returns combined output. On failure the output
// is returned alongside the error so callers can surface validator stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.DryRun {
		return fmt.Sprintf("dry-run: %s %s", name, strings.Join(args, " ")), nil
	}
	// Command name and args come from panel-owned call sites.
	//nolint:gosec // G204
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("exec %s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Reload reloads a unit.
func Reload(ctx context.Context, runner Runner, unit string) error {
	_, err := runner.Run(ctx, "systemctl", "reload", unit)
	return err
}

// Restart restarts a unit.
func Restart(ctx context.Context, runner Runner, unit string) error {
	_, err := runner.Run(ctx, "systemctl", "restart", unit)
	return err
}

// IsActive checks whether a unit is active. systemctl exits nonzero for
// inactive units, so that case maps to false rather than an error.
func IsActive(ctx context.Context, runner Runner, unit string) (bool, error) {
	out, err := runner.Run(ctx, "systemctl", "is-active", unit)
	state := strings.TrimSpace(out)
	if err != nil {
		if state == "inactive" || state == "failed" || state == "unknown" {
			return false, nil
		}
		if msg := err.Error(); strings.Contains(msg, "inactive") || strings.Contains(msg, "unknown") {
			return false, nil
		}
		return false, err
	}
	return state == "active", nil
}
