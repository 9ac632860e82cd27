package hosting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lalapanel/lalapanel/internal/platform/registry"
	"github.com/lalapanel/lalapanel/pkg/adapter"
)

type testEnv struct {
	svc       *Service
	reg       *registry.Store
	activator *fakeActivator
	issuer    *fakeIssuer
	installer *fakeInstaller
	mariadb   *fakeMariaDB
	sitesDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.OpenPath(ctx, filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	sitesDir := t.TempDir()
	env := &testEnv{
		reg:       reg,
		activator: newFakeActivator(),
		issuer:    &fakeIssuer{},
		installer: &fakeInstaller{},
		mariadb:   &fakeMariaDB{},
		sitesDir:  sitesDir,
	}
	env.svc = NewService(
		reg, nil,
		NewRenderer(t.TempDir(), "/etc/letsencrypt/live"),
		env.activator, env.issuer, env.installer, env.mariadb,
		ServiceOptions{
			SitesDir:    sitesDir,
			LogDir:      t.TempDir(),
			PHPVersions: []string{"8.3", "8.2"},
		},
	)
	return env
}

func (e *testEnv) createSite(t *testing.T, domain string) registry.Site {
	t.Helper()
	out, err := e.svc.CreateSite(context.Background(), CreateSiteRequest{Domain: domain})
	require.NoError(t, err)
	require.Empty(t, out.Warnings)
	return out.Site
}

func TestService_CreateSite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	out, err := env.svc.CreateSite(ctx, CreateSiteRequest{
		Domain:     "Example.COM",
		PHPVersion: "8.2",
		Settings:   map[string]string{"client_max_body_size": "64m"},
	})
	require.NoError(t, err)
	require.Empty(t, out.Warnings)
	require.Equal(t, "example.com", out.Site.Domain)
	require.Equal(t, "8.2", out.Site.PHPVersion)
	require.Equal(t, registry.TLSNone, out.Site.TLSState)

	info, err := os.Stat(filepath.Join(env.sitesDir, "example.com", "public_html"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	require.True(t, env.activator.enabled["example.com"])
	require.Contains(t, env.activator.configs["example.com"], "client_max_body_size 64m;")
	require.Equal(t, 1, env.activator.reloads)

	site, err := env.reg.GetSiteByDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, out.Site.ID, site.ID)
}

func TestService_CreateSite_DefaultPHPVersion(t *testing.T) {
	env := newTestEnv(t)
	site := env.createSite(t, "example.com")
	require.Equal(t, "8.3", site.PHPVersion)
}

func TestService_CreateSite_Duplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")

	_, err := env.svc.CreateSite(ctx, CreateSiteRequest{Domain: "example.com"})
	require.ErrorIs(t, err, ErrSiteExists)
}

func TestService_CreateSite_UnknownPHPVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.CreateSite(ctx, CreateSiteRequest{Domain: "example.com", PHPVersion: "5.6"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not available")
}

func TestService_CreateSite_ActivationFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.activator.failTest = &ValidationError{Output: "broken"}

	_, err := env.svc.CreateSite(ctx, CreateSiteRequest{Domain: "example.com"})
	require.Error(t, err)

	// No registry row, no content dir, no enabled vhost.
	_, regErr := env.reg.GetSiteByDomain(ctx, "example.com")
	require.ErrorIs(t, regErr, registry.ErrNotFound)
	_, statErr := os.Stat(filepath.Join(env.sitesDir, "example.com"))
	require.True(t, os.IsNotExist(statErr))
	require.False(t, env.activator.enabled["example.com"])
}

func TestService_CreateSite_IssuanceFailureDowngrades(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.issuer.err = errors.New("challenge failed")

	out, err := env.svc.CreateSite(ctx, CreateSiteRequest{Domain: "example.com", TLSMode: TLSModeAuto})
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "issuance failed")
	require.Equal(t, registry.TLSNone, out.Site.TLSState)

	// The plain configuration stays active.
	require.True(t, env.activator.enabled["example.com"])
	require.NotContains(t, env.activator.configs["example.com"], "listen 443")
}

func TestService_CreateSite_AutoTLS(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	expiry := time.Now().Add(90 * 24 * time.Hour).Truncate(time.Second).UTC()
	env.issuer.material = adapter.CertificateMaterial{Domain: "example.com", ExpiresAt: expiry}

	out, err := env.svc.CreateSite(ctx, CreateSiteRequest{Domain: "example.com", TLSMode: TLSModeAuto})
	require.NoError(t, err)
	require.Empty(t, out.Warnings)
	require.Equal(t, registry.TLSActive, out.Site.TLSState)
	require.NotNil(t, out.Site.TLSExpiry)
	require.Equal(t, expiry.Unix(), out.Site.TLSExpiry.Unix())

	require.Len(t, env.issuer.requests, 1)
	require.Equal(t, filepath.Join(env.sitesDir, "example.com", "public_html"), env.issuer.requests[0].Webroot)
	require.Contains(t, env.activator.configs["example.com"], "listen 443 ssl;")
}

func TestService_DeleteSite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	site := env.createSite(t, "example.com")

	_, err := env.reg.CreateSiteDatabase(ctx, site.ID, "example_com_main", "user_main", "mariadb")
	require.NoError(t, err)

	out, err := env.svc.DeleteSite(ctx, "example.com")
	require.NoError(t, err)
	require.Empty(t, out.Warnings)

	require.Contains(t, env.activator.removedCalls, "example.com")
	require.Contains(t, env.mariadb.droppedDBs, "example_com_main")
	require.Contains(t, env.mariadb.droppedUsers, "user_main")

	_, statErr := os.Stat(filepath.Join(env.sitesDir, "example.com"))
	require.True(t, os.IsNotExist(statErr))
	_, regErr := env.reg.GetSiteByDomain(ctx, "example.com")
	require.ErrorIs(t, regErr, registry.ErrNotFound)
}

func TestService_DeleteSite_MissingContentWarns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")

	require.NoError(t, os.RemoveAll(filepath.Join(env.sitesDir, "example.com")))

	out, err := env.svc.DeleteSite(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	require.Contains(t, out.Warnings[0], "already absent")

	_, regErr := env.reg.GetSiteByDomain(ctx, "example.com")
	require.ErrorIs(t, regErr, registry.ErrNotFound)
}

func TestService_DeleteSite_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.DeleteSite(context.Background(), "ghost.example.com")
	require.ErrorIs(t, err, ErrSiteNotFound)
}

func TestService_ChangePHPVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")

	out, err := env.svc.ChangePHPVersion(ctx, "example.com", "8.2", nil)
	require.NoError(t, err)
	require.Equal(t, "8.2", out.Site.PHPVersion)
	require.Contains(t, env.activator.applyCalls, "example.com")
	require.Contains(t, env.activator.configs["example.com"], "php8.2-fpm.sock")
}

func TestService_ChangePHPVersion_ValidationFailureKeepsRegistry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")
	env.activator.failApply = &ValidationError{Output: "broken"}

	_, err := env.svc.ChangePHPVersion(ctx, "example.com", "8.2", nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	site, regErr := env.reg.GetSiteByDomain(ctx, "example.com")
	require.NoError(t, regErr)
	require.Equal(t, "8.3", site.PHPVersion)
}

func TestService_RequestTLS(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")
	expiry := time.Now().Add(60 * 24 * time.Hour).Truncate(time.Second).UTC()
	env.issuer.material = adapter.CertificateMaterial{Domain: "example.com", ExpiresAt: expiry}

	out, err := env.svc.RequestTLS(ctx, "example.com", true)
	require.NoError(t, err)
	require.Equal(t, registry.TLSActive, out.Site.TLSState)
	require.NotNil(t, out.Site.TLSExpiry)
	require.Equal(t, expiry.Unix(), out.Site.TLSExpiry.Unix())

	require.Len(t, env.issuer.requests, 1)
	require.True(t, env.issuer.requests[0].IncludeAlias)
	require.Contains(t, env.activator.configs["example.com"], "ssl_certificate")
}

func TestService_RequestTLS_UnknownDomainTouchesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.RequestTLS(ctx, "ghost.example.com", false)
	require.ErrorIs(t, err, ErrSiteNotFound)
	require.Empty(t, env.issuer.requests)
	require.Empty(t, env.activator.applyCalls)
}

func TestService_RequestTLS_IssuanceFailureKeepsRegistry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")
	env.issuer.err = errors.New("challenge failed")

	_, err := env.svc.RequestTLS(ctx, "example.com", false)
	require.Error(t, err)

	site, regErr := env.reg.GetSiteByDomain(ctx, "example.com")
	require.NoError(t, regErr)
	require.Equal(t, registry.TLSNone, site.TLSState)
	require.Empty(t, env.activator.applyCalls)
}

func TestService_UploadTLS(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")
	expiry := time.Now().Add(365 * 24 * time.Hour).Truncate(time.Second).UTC()
	env.installer.expiry = expiry

	out, err := env.svc.UploadTLS(ctx, "example.com", []byte("cert"), []byte("key"))
	require.NoError(t, err)
	require.Equal(t, registry.TLSActive, out.Site.TLSState)
	require.Equal(t, []string{"example.com"}, env.installer.domains)
}

func TestService_EditRawConfig(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	site := env.createSite(t, "example.com")

	before, err := env.reg.GetSite(ctx, site.ID)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = env.svc.EditRawConfig(ctx, "example.com", "server {}\n")
	require.NoError(t, err)
	require.Equal(t, "server {}\n", env.activator.configs["example.com"])

	after, err := env.reg.GetSite(ctx, site.ID)
	require.NoError(t, err)
	require.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestService_EditRawConfig_ValidationFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")
	env.activator.failApply = &ValidationError{Output: "unexpected end of file"}
	env.activator.applyOutput = "unexpected end of file"

	out, err := env.svc.EditRawConfig(ctx, "example.com", "server {\n")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, out, "unexpected end of file")
}

func TestService_TestRawConfig(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createSite(t, "example.com")
	env.activator.dryPassed = false
	env.activator.applyOutput = "unknown directive"

	report, err := env.svc.TestRawConfig(ctx, "example.com", "bogus\n")
	require.NoError(t, err)
	require.False(t, report.Passed)
	require.Contains(t, report.Output, "unknown directive")
	require.Contains(t, env.activator.dryCalls, "example.com")
}
