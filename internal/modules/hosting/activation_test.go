package hosting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestActivator(t *testing.T, runner *fakeRunner) *Activator {
	t.Helper()
	base := t.TempDir()
	return NewActivator(runner, nil, ActivatorOptions{
		AvailableDir: filepath.Join(base, "sites-available"),
		EnabledDir:   filepath.Join(base, "sites-enabled"),
	})
}

func TestActivator_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestActivator(t, &fakeRunner{})

	require.NoError(t, a.Write(ctx, "example.com", "server {}\n"))
	got, err := a.Read(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, "server {}\n", got)
}

func TestActivator_EnableDisableIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newTestActivator(t, &fakeRunner{})
	require.NoError(t, a.Write(ctx, "example.com", "server {}\n"))

	require.NoError(t, a.Enable(ctx, "example.com"))
	require.NoError(t, a.Enable(ctx, "example.com"))

	link := filepath.Join(a.enabledDir, "example.com.conf")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(a.availableDir, "example.com.conf"), target)

	require.NoError(t, a.Disable(ctx, "example.com"))
	require.NoError(t, a.Disable(ctx, "example.com"))
	_, err = os.Lstat(link)
	require.True(t, os.IsNotExist(err))

	// Available file survives disable.
	_, err = a.Read(ctx, "example.com")
	require.NoError(t, err)
}

func TestActivator_RemoveDeletesBothEnds(t *testing.T) {
	ctx := context.Background()
	a := newTestActivator(t, &fakeRunner{})
	require.NoError(t, a.Write(ctx, "example.com", "server {}\n"))
	require.NoError(t, a.Enable(ctx, "example.com"))

	require.NoError(t, a.Remove(ctx, "example.com"))
	_, err := os.Lstat(filepath.Join(a.enabledDir, "example.com.conf"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(a.availableDir, "example.com.conf"))
	require.True(t, os.IsNotExist(err))

	// Removing an absent domain is a no-op.
	require.NoError(t, a.Remove(ctx, "example.com"))
}

func TestActivator_TestAndApply_Success(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{outputs: map[string]string{
		"nginx -t": "nginx: configuration file test is successful",
	}}
	a := newTestActivator(t, runner)
	require.NoError(t, a.Write(ctx, "example.com", "old\n"))

	out, err := a.TestAndApply(ctx, "example.com", "new\n")
	require.NoError(t, err)
	require.Contains(t, out, "successful")

	got, err := a.Read(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, "new\n", got)
	require.True(t, containsCommand(runner.commands, "systemctl reload nginx"))
}

func TestActivator_TestAndApply_RestoresOnValidationFailure(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{
		outputs: map[string]string{"nginx -t": "unknown directive \"bogus\""},
		errs:    map[string]error{"nginx -t": fmt.Errorf("exit status 1")},
	}
	a := newTestActivator(t, runner)
	require.NoError(t, a.Write(ctx, "example.com", "old\n"))

	out, err := a.TestAndApply(ctx, "example.com", "bogus\n")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, out, "unknown directive")

	// Byte-identical restore, and no reload happened.
	got, readErr := a.Read(ctx, "example.com")
	require.NoError(t, readErr)
	require.Equal(t, "old\n", got)
	require.False(t, containsCommand(runner.commands, "systemctl reload nginx"))
}

func TestActivator_TestAndApply_NoPriorConfig(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{
		errs: map[string]error{"nginx -t": fmt.Errorf("exit status 1")},
	}
	a := newTestActivator(t, runner)

	_, err := a.TestAndApply(ctx, "fresh.example.com", "bogus\n")
	require.Error(t, err)

	// The domain had no config before, so none may remain after the rollback.
	_, statErr := os.Stat(filepath.Join(a.availableDir, "fresh.example.com.conf"))
	require.True(t, os.IsNotExist(statErr))
}

func TestActivator_DryTest_AlwaysRestores(t *testing.T) {
	ctx := context.Background()

	for name, runner := range map[string]*fakeRunner{
		"passing": {},
		"failing": {errs: map[string]error{"nginx -t": errors.New("exit status 1")}},
	} {
		t.Run(name, func(t *testing.T) {
			a := newTestActivator(t, runner)
			require.NoError(t, a.Write(ctx, "example.com", "old\n"))

			_, passed, err := a.DryTest(ctx, "example.com", "candidate\n")
			require.NoError(t, err)
			require.Equal(t, name == "passing", passed)

			got, readErr := a.Read(ctx, "example.com")
			require.NoError(t, readErr)
			require.Equal(t, "old\n", got)
			require.False(t, containsCommand(runner.commands, "systemctl reload nginx"))
		})
	}
}

// restoreBreakingRunner clobbers the available dir while the validator
// runs, so the rollback write has nowhere to land.
type restoreBreakingRunner struct {
	availableDir string
}

func (r *restoreBreakingRunner) Run(_ context.Context, name string, _ ...string) (string, error) {
	if name == "nginx" {
		_ = os.RemoveAll(r.availableDir)
		_ = os.WriteFile(r.availableDir, []byte("in the way"), 0o644)
		return "syntax error", errors.New("exit status 1")
	}
	return "", nil
}

func TestActivator_TestAndApply_FailedRestoreIsFatal(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	availableDir := filepath.Join(base, "sites-available")
	a := NewActivator(&restoreBreakingRunner{availableDir: availableDir}, nil, ActivatorOptions{
		AvailableDir: availableDir,
		EnabledDir:   filepath.Join(base, "sites-enabled"),
	})
	require.NoError(t, a.Write(ctx, "example.com", "old\n"))

	_, err := a.TestAndApply(ctx, "example.com", "bogus\n")
	require.ErrorIs(t, err, ErrRestoreFailed)
}

func TestActivator_DryTest_FailedRestoreIsFatal(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	availableDir := filepath.Join(base, "sites-available")
	a := NewActivator(&restoreBreakingRunner{availableDir: availableDir}, nil, ActivatorOptions{
		AvailableDir: availableDir,
		EnabledDir:   filepath.Join(base, "sites-enabled"),
	})
	require.NoError(t, a.Write(ctx, "example.com", "old\n"))

	_, _, err := a.DryTest(ctx, "example.com", "candidate\n")
	require.ErrorIs(t, err, ErrRestoreFailed)
}

func TestActivator_EnsureDefault(t *testing.T) {
	ctx := context.Background()
	a := newTestActivator(t, &fakeRunner{})

	require.NoError(t, a.EnsureDefault(ctx, "catch-all v1\n"))
	got, err := a.Read(ctx, defaultVhostName)
	require.NoError(t, err)
	require.Equal(t, "catch-all v1\n", got)

	// Existing default is left alone on subsequent calls.
	require.NoError(t, a.EnsureDefault(ctx, "catch-all v2\n"))
	got, err = a.Read(ctx, defaultVhostName)
	require.NoError(t, err)
	require.Equal(t, "catch-all v1\n", got)

	_, err = os.Readlink(filepath.Join(a.enabledDir, defaultVhostName+".conf"))
	require.NoError(t, err)
}

func TestAtomicWrite_Permissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "privkey.pem")

	require.NoError(t, atomicWrite(path, []byte("secret"), 0o600))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
