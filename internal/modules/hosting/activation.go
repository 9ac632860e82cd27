package hosting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/platform/systemd"
)

const defaultVhostName = "000-default"

// ActivatorOptions controls filesystem locations and commands used by the
// activation controller.
type ActivatorOptions struct {
	AvailableDir string
	EnabledDir   string
	NginxBinary  string
	ServiceName  string
}

// Activator owns the available/enabled configuration files for every domain
// and the test-before-commit protocol that keeps the live configuration
// valid.
type Activator struct {
	runner       systemd.Runner
	log          *zap.Logger
	availableDir string
	enabledDir   string
	nginxBinary  string
	serviceName  string
}

// NewActivator constructs an activation controller with sane defaults.
func NewActivator(runner systemd.Runner, log *zap.Logger, opts ActivatorOptions) *Activator {
	if runner == nil {
		runner = systemd.ExecRunner{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.AvailableDir == "" {
		opts.AvailableDir = "/etc/nginx/sites-available"
	}
	if opts.EnabledDir == "" {
		opts.EnabledDir = "/etc/nginx/sites-enabled"
	}
	if opts.NginxBinary == "" {
		opts.NginxBinary = "nginx"
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "nginx"
	}
	return &Activator{
		runner:       runner,
		log:          log,
		availableDir: opts.AvailableDir,
		enabledDir:   opts.EnabledDir,
		nginxBinary:  opts.NginxBinary,
		serviceName:  opts.ServiceName,
	}
}

func (a *Activator) availablePath(domain string) string {
	return filepath.Join(a.availableDir, domain+".conf")
}

func (a *Activator) enabledPath(domain string) string {
	return filepath.Join(a.enabledDir, domain+".conf")
}

// Write replaces the available file for a domain. The file becomes visible
// fully written or not at all (temp-file-then-rename).
func (a *Activator) Write(_ context.Context, domain, text string) error {
	if err := os.MkdirAll(a.availableDir, 0o755); err != nil {
		return fmt.Errorf("create sites-available dir: %w", err)
	}
	return atomicWrite(a.availablePath(domain), []byte(text), 0o644)
}

// Read returns the current available file content for a domain.
func (a *Activator) Read(_ context.Context, domain string) (string, error) {
	b, err := os.ReadFile(a.availablePath(domain))
	if err != nil {
		return "", fmt.Errorf("read vhost config: %w", err)
	}
	return string(b), nil
}

// Enable links the available file into the enabled directory. Calling it
// when the link already exists is a no-op.
func (a *Activator) Enable(_ context.Context, domain string) error {
	if err := os.MkdirAll(a.enabledDir, 0o755); err != nil {
		return fmt.Errorf("create sites-enabled dir: %w", err)
	}
	target := a.availablePath(domain)
	link := a.enabledPath(domain)
	if existing, err := os.Readlink(link); err == nil && existing == target {
		return nil
	}
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale vhost symlink: %w", err)
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("create vhost symlink: %w", err)
	}
	return nil
}

// Disable removes the enabled link if present. The available file is kept.
func (a *Activator) Disable(_ context.Context, domain string) error {
	if err := os.Remove(a.enabledPath(domain)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove vhost symlink: %w", err)
	}
	return nil
}

// Remove disables the domain and deletes its available file.
func (a *Activator) Remove(ctx context.Context, domain string) error {
	if err := a.Disable(ctx, domain); err != nil {
		return err
	}
	if err := os.Remove(a.availablePath(domain)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove vhost config: %w", err)
	}
	return nil
}

// TestConfig runs the service manager's syntax validation command and
// returns its combined output.
func (a *Activator) TestConfig(ctx context.Context) (string, error) {
	out, err := a.runner.Run(ctx, a.nginxBinary, "-t")
	if err != nil {
		return out, &ValidationError{Output: out}
	}
	return out, nil
}

// Reload triggers a reload of the running service.
func (a *Activator) Reload(ctx context.Context) error {
	if err := systemd.Reload(ctx, a.runner, a.serviceName); err != nil {
		return &CommandError{Op: "reload " + a.serviceName, Err: err}
	}
	return nil
}

// TestAndApply writes new configuration text for a domain, validates the
// full configuration and reloads on success. On validation failure the
// previous text is restored byte-identically and a ValidationError carrying
// the validator output is returned. A failed restore is reported as
// ErrRestoreFailed; the caller must treat that as fatal.
func (a *Activator) TestAndApply(ctx context.Context, domain, text string) (string, error) {
	backup, hadBackup, err := a.snapshot(domain)
	if err != nil {
		return "", err
	}
	if err := a.Write(ctx, domain, text); err != nil {
		return "", err
	}

	out, verr := a.TestConfig(ctx)
	if verr != nil {
		if rerr := a.restore(domain, backup, hadBackup); rerr != nil {
			a.log.Error("config restore failed after validation failure",
				zap.String("domain", domain), zap.Error(rerr))
			return out, fmt.Errorf("%w: %v", ErrRestoreFailed, rerr)
		}
		return out, verr
	}

	if err := a.Reload(ctx); err != nil {
		return out, err
	}
	return out, nil
}

// DryTest performs the same write-and-validate steps as TestAndApply but
// always restores the previous text, reporting only pass/fail and the
// validator output.
func (a *Activator) DryTest(ctx context.Context, domain, text string) (string, bool, error) {
	backup, hadBackup, err := a.snapshot(domain)
	if err != nil {
		return "", false, err
	}
	if err := a.Write(ctx, domain, text); err != nil {
		return "", false, err
	}

	out, verr := a.TestConfig(ctx)
	if rerr := a.restore(domain, backup, hadBackup); rerr != nil {
		a.log.Error("config restore failed after dry test",
			zap.String("domain", domain), zap.Error(rerr))
		return out, false, fmt.Errorf("%w: %v", ErrRestoreFailed, rerr)
	}
	return out, verr == nil, nil
}

// EnsureDefault creates and enables the always-present catch-all vhost if
// it does not exist yet.
func (a *Activator) EnsureDefault(ctx context.Context, text string) error {
	path := a.availablePath(defaultVhostName)
	if _, err := os.Stat(path); err == nil {
		return a.Enable(ctx, defaultVhostName)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat default vhost: %w", err)
	}
	if err := a.Write(ctx, defaultVhostName, text); err != nil {
		return err
	}
	return a.Enable(ctx, defaultVhostName)
}

func (a *Activator) snapshot(domain string) ([]byte, bool, error) {
	b, err := os.ReadFile(a.availablePath(domain))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot vhost config: %w", err)
	}
	return b, true, nil
}

func (a *Activator) restore(domain string, backup []byte, hadBackup bool) error {
	path := a.availablePath(domain)
	if !hadBackup {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return atomicWrite(path, backup, 0o644)
}

// atomicWrite writes via a temp file in the target directory and renames it
// into place.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
