package hosting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/platform/registry"
	"github.com/lalapanel/lalapanel/pkg/adapter"
)

// ServiceOptions carries filesystem layout and the PHP version allow-list.
type ServiceOptions struct {
	SitesDir    string
	LogDir      string
	PHPVersions []string
}

// Service is the site lifecycle orchestrator. It sequences filesystem,
// configuration, certificate and service-manager steps so that the registry
// only ever records sites whose live configuration actually exists: side
// effects always run before registry writes, and failed steps leave the
// registry on the last known-good state.
//
// Workflows are serialized per domain; operations on different domains run
// independently.
type Service struct {
	reg       *registry.Store
	log       *zap.Logger
	renderer  *Renderer
	activator adapter.Activator
	issuer    adapter.CertIssuer
	installer adapter.CertInstaller
	mariadb   adapter.MariaDB

	sitesDir    string
	logDir      string
	phpVersions []string
	locks       domainLocks
}

// NewService creates the orchestrator.
func NewService(
	reg *registry.Store,
	log *zap.Logger,
	renderer *Renderer,
	activator adapter.Activator,
	issuer adapter.CertIssuer,
	installer adapter.CertInstaller,
	mariadb adapter.MariaDB,
	opts ServiceOptions,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SitesDir == "" {
		opts.SitesDir = "/var/www"
	}
	if opts.LogDir == "" {
		opts.LogDir = "/var/log/lalapanel"
	}
	return &Service{
		reg:         reg,
		log:         log,
		renderer:    renderer,
		activator:   activator,
		issuer:      issuer,
		installer:   installer,
		mariadb:     mariadb,
		sitesDir:    opts.SitesDir,
		logDir:      opts.LogDir,
		phpVersions: opts.PHPVersions,
	}
}

// Bootstrap prepares shared directories and installs the catch-all vhost
// that rejects requests for unrecognized domains.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := os.MkdirAll(s.sitesDir, 0o755); err != nil {
		return fmt.Errorf("create sites dir: %w", err)
	}
	type defaulter interface {
		EnsureDefault(ctx context.Context, text string) error
	}
	if d, ok := s.activator.(defaulter); ok {
		if err := d.EnsureDefault(ctx, s.renderer.RenderDefault()); err != nil {
			return fmt.Errorf("install default vhost: %w", err)
		}
	}
	return nil
}

func (s *Service) baseDir(domain string) string {
	return filepath.Join(s.sitesDir, domain)
}

func (s *Service) rootDir(domain string) string {
	return filepath.Join(s.baseDir(domain), "public_html")
}

func (s *Service) resolvePHPVersion(requested string) (string, error) {
	v := strings.TrimSpace(requested)
	if v == "" {
		if len(s.phpVersions) == 0 {
			return "", fmt.Errorf("no PHP versions configured")
		}
		return s.phpVersions[0], nil
	}
	if !phpVersionPattern.MatchString(v) {
		return "", fmt.Errorf("invalid php version %q", v)
	}
	if len(s.phpVersions) > 0 && !slices.Contains(s.phpVersions, v) {
		return "", fmt.Errorf("php version %s is not available", v)
	}
	return v, nil
}

func (s *Service) getSite(ctx context.Context, domain string) (registry.Site, error) {
	site, err := s.reg.GetSiteByDomain(ctx, domain)
	if errors.Is(err, registry.ErrNotFound) {
		return registry.Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
	}
	return site, err
}

// ListSites returns all registered sites, most recent first.
func (s *Service) ListSites(ctx context.Context) ([]registry.Site, error) {
	return s.reg.ListSites(ctx)
}

// GetSite returns one registered site by domain.
func (s *Service) GetSite(ctx context.Context, domain string) (registry.Site, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return registry.Site{}, err
	}
	return s.getSite(ctx, domain)
}

// CreateSite provisions directories and an active no-TLS configuration,
// optionally attempts certificate issuance, and registers the site last
// with the TLS state that actually resulted. Certificate failures during
// creation downgrade to warnings; activation failures abort and roll back.
func (s *Service) CreateSite(ctx context.Context, req CreateSiteRequest) (out Outcome, err error) {
	domain, err := normalizeDomain(req.Domain)
	if err != nil {
		return Outcome{}, err
	}
	phpVersion, err := s.resolvePHPVersion(req.PHPVersion)
	if err != nil {
		return Outcome{}, err
	}
	tlsMode := req.TLSMode
	if tlsMode == "" {
		tlsMode = TLSModeNone
	}
	if tlsMode != TLSModeNone && tlsMode != TLSModeManual && tlsMode != TLSModeAuto {
		return Outcome{}, fmt.Errorf("invalid tls mode %q", tlsMode)
	}

	release := s.locks.acquire(domain)
	defer release()

	exists, err := s.reg.SiteExists(ctx, domain)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		return Outcome{}, fmt.Errorf("%w: %s", ErrSiteExists, domain)
	}

	baseDir := s.baseDir(domain)
	rootDir := s.rootDir(domain)

	var createdBase, vhostWritten, vhostEnabled bool
	defer func() {
		if err == nil {
			return
		}
		if vhostEnabled {
			_ = s.activator.Disable(ctx, domain)
		}
		if vhostWritten {
			_ = s.activator.Remove(ctx, domain)
		}
		if createdBase {
			_ = os.RemoveAll(baseDir)
		}
	}()

	if _, statErr := os.Stat(baseDir); os.IsNotExist(statErr) {
		createdBase = true
	}
	if err = os.MkdirAll(rootDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create docroot: %w", err)
	}

	profile := adapter.SiteProfile{
		Domain:     domain,
		RootDir:    rootDir,
		PHPVersion: phpVersion,
		TLSEnabled: false,
		Settings:   req.Settings,
	}
	text, err := s.renderer.Render(profile)
	if err != nil {
		return Outcome{}, err
	}
	if err = s.activator.Write(ctx, domain, text); err != nil {
		return Outcome{}, err
	}
	vhostWritten = true
	if err = s.activator.Enable(ctx, domain); err != nil {
		return Outcome{}, err
	}
	vhostEnabled = true
	if _, err = s.activator.TestConfig(ctx); err != nil {
		return Outcome{}, err
	}
	if err = s.activator.Reload(ctx); err != nil {
		return Outcome{}, err
	}

	warnings := []string{}
	tlsState := registry.TLSNone
	var tlsExpiry *time.Time

	if tlsMode == TLSModeAuto {
		material, issueErr := s.issuer.Issue(ctx, adapter.IssueRequest{
			Domain:       domain,
			IncludeAlias: true,
			Webroot:      rootDir,
		})
		switch {
		case issueErr != nil:
			s.log.Warn("certificate issuance failed during create",
				zap.String("domain", domain), zap.Error(issueErr))
			warnings = append(warnings, "certificate issuance failed: "+issueErr.Error())
		default:
			profile.TLSEnabled = true
			tlsText, renderErr := s.renderer.Render(profile)
			if renderErr != nil {
				warnings = append(warnings, "rendering TLS configuration failed: "+renderErr.Error())
				break
			}
			if _, applyErr := s.activator.TestAndApply(ctx, domain, tlsText); applyErr != nil {
				if errors.Is(applyErr, ErrRestoreFailed) {
					err = applyErr
					return Outcome{}, err
				}
				warnings = append(warnings, "activating TLS configuration failed: "+applyErr.Error())
				break
			}
			tlsState = registry.TLSActive
			if !material.ExpiresAt.IsZero() {
				expiry := material.ExpiresAt
				tlsExpiry = &expiry
			}
		}
	}

	site, err := s.reg.CreateSite(ctx, domain, phpVersion, tlsState, tlsExpiry)
	if err != nil {
		return Outcome{}, fmt.Errorf("register site: %w", err)
	}

	s.log.Info("site created",
		zap.String("domain", domain),
		zap.String("php_version", phpVersion),
		zap.String("tls_state", tlsState),
		zap.Int("warnings", len(warnings)))
	return Outcome{Site: site, Warnings: warnings}, nil
}

// DeleteSite removes the site's configuration, provisioned databases,
// content tree and registry row, in that order. Every step before the
// registry removal is best-effort: failures become warnings so deletion
// makes maximum forward progress.
func (s *Service) DeleteSite(ctx context.Context, domain string) (Outcome, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return Outcome{}, err
	}

	release := s.locks.acquire(domain)
	defer release()

	site, err := s.getSite(ctx, domain)
	if err != nil {
		return Outcome{}, err
	}

	warnings := []string{}
	warnf := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		s.log.Warn("delete step failed", zap.String("domain", domain), zap.String("step", msg))
		warnings = append(warnings, msg)
	}

	if err := s.activator.Remove(ctx, domain); err != nil {
		warnf("removing configuration failed: %v", err)
	}
	if err := s.activator.Reload(ctx); err != nil {
		warnf("service reload failed: %v", err)
	}

	if dbs, listErr := s.reg.ListSiteDatabases(ctx, site.ID); listErr != nil {
		warnf("listing site databases failed: %v", listErr)
	} else {
		for _, db := range dbs {
			if err := s.mariadb.DropDatabase(ctx, db.DBName); err != nil {
				warnf("dropping database %s failed: %v", db.DBName, err)
			}
			if err := s.mariadb.DropUser(ctx, db.DBUser); err != nil {
				warnf("dropping database user %s failed: %v", db.DBUser, err)
			}
		}
	}

	baseDir := s.baseDir(domain)
	if _, statErr := os.Stat(baseDir); os.IsNotExist(statErr) {
		warnf("content directory already absent: %s", baseDir)
	} else if !withinBase(baseDir, s.sitesDir) {
		warnf("refusing to remove content directory outside sites dir: %s", baseDir)
	} else if rmErr := os.RemoveAll(baseDir); rmErr != nil {
		warnf("removing content directory failed: %v", rmErr)
	}

	if err := s.reg.DeleteSite(ctx, site.ID); err != nil {
		return Outcome{}, fmt.Errorf("remove registry row: %w", err)
	}

	s.log.Info("site deleted", zap.String("domain", domain), zap.Int("warnings", len(warnings)))
	return Outcome{Site: site, Warnings: warnings}, nil
}

// ChangePHPVersion re-renders the site on a new PHP version, applies it
// through the validate-then-reload protocol, and patches the registry only
// after activation succeeds. Settings live only in the rendered text, so
// the caller supplies them with the change.
func (s *Service) ChangePHPVersion(ctx context.Context, domain, version string, settings map[string]string) (Outcome, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return Outcome{}, err
	}
	version, err = s.resolvePHPVersion(version)
	if err != nil {
		return Outcome{}, err
	}

	release := s.locks.acquire(domain)
	defer release()

	site, err := s.getSite(ctx, domain)
	if err != nil {
		return Outcome{}, err
	}

	text, err := s.renderer.Render(adapter.SiteProfile{
		Domain:     domain,
		RootDir:    s.rootDir(domain),
		PHPVersion: version,
		TLSEnabled: site.TLSState == registry.TLSActive,
		Settings:   settings,
	})
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.activator.TestAndApply(ctx, domain, text); err != nil {
		return Outcome{}, err
	}

	if err := s.reg.UpdateSite(ctx, site.ID, registry.SitePatch{PHPVersion: &version}); err != nil {
		return Outcome{}, fmt.Errorf("update registry: %w", err)
	}
	site, err = s.reg.GetSite(ctx, site.ID)
	if err != nil {
		return Outcome{}, err
	}

	s.log.Info("php version changed", zap.String("domain", domain), zap.String("php_version", version))
	return Outcome{Site: site, Warnings: []string{}}, nil
}

// RequestTLS issues a certificate for a registered domain and activates the
// encrypted configuration. The vhost is re-rendered with default directives
// only; custom settings applied at create time are not carried over and must
// be re-applied afterwards. Every failure before the registry patch is hard:
// the registry keeps its last known-good state.
func (s *Service) RequestTLS(ctx context.Context, domain string, includeAlias bool) (Outcome, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return Outcome{}, err
	}

	release := s.locks.acquire(domain)
	defer release()

	site, err := s.getSite(ctx, domain)
	if err != nil {
		return Outcome{}, err
	}

	material, err := s.issuer.Issue(ctx, adapter.IssueRequest{
		Domain:       domain,
		IncludeAlias: includeAlias,
		Webroot:      s.rootDir(domain),
	})
	if err != nil {
		return Outcome{}, err
	}

	return s.activateTLS(ctx, site, material)
}

// UploadTLS installs caller-supplied certificate material and activates the
// encrypted configuration, exactly as if the material had been issued. As
// with RequestTLS, the re-rendered vhost carries default directives only.
func (s *Service) UploadTLS(ctx context.Context, domain string, certPEM, keyPEM []byte) (Outcome, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return Outcome{}, err
	}

	release := s.locks.acquire(domain)
	defer release()

	site, err := s.getSite(ctx, domain)
	if err != nil {
		return Outcome{}, err
	}

	material, err := s.installer.Install(ctx, domain, certPEM, keyPEM)
	if err != nil {
		return Outcome{}, err
	}

	return s.activateTLS(ctx, site, material)
}

func (s *Service) activateTLS(ctx context.Context, site registry.Site, material adapter.CertificateMaterial) (Outcome, error) {
	text, err := s.renderer.Render(adapter.SiteProfile{
		Domain:     site.Domain,
		RootDir:    s.rootDir(site.Domain),
		PHPVersion: site.PHPVersion,
		TLSEnabled: true,
	})
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.activator.TestAndApply(ctx, site.Domain, text); err != nil {
		return Outcome{}, err
	}

	state := registry.TLSActive
	patch := registry.SitePatch{TLSState: &state}
	if !material.ExpiresAt.IsZero() {
		expiry := material.ExpiresAt
		patch.TLSExpiry = &expiry
	}
	if err := s.reg.UpdateSite(ctx, site.ID, patch); err != nil {
		return Outcome{}, fmt.Errorf("update registry: %w", err)
	}
	updated, err := s.reg.GetSite(ctx, site.ID)
	if err != nil {
		return Outcome{}, err
	}

	s.log.Info("tls activated", zap.String("domain", site.Domain))
	return Outcome{Site: updated, Warnings: []string{}}, nil
}

// GetRawConfig returns the current available configuration text.
func (s *Service) GetRawConfig(ctx context.Context, domain string) (string, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return "", err
	}
	if _, err := s.getSite(ctx, domain); err != nil {
		return "", err
	}
	return s.activator.Read(ctx, domain)
}

// EditRawConfig replaces the configuration with caller-supplied text; the
// validate-then-reload protocol is the sole guard against saving broken
// configuration. Returns the validator output.
func (s *Service) EditRawConfig(ctx context.Context, domain, text string) (string, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return "", err
	}

	release := s.locks.acquire(domain)
	defer release()

	site, err := s.getSite(ctx, domain)
	if err != nil {
		return "", err
	}

	out, err := s.activator.TestAndApply(ctx, domain, text)
	if err != nil {
		return out, err
	}
	if err := s.reg.UpdateSite(ctx, site.ID, registry.SitePatch{}); err != nil {
		return out, fmt.Errorf("update registry: %w", err)
	}
	s.log.Info("raw config applied", zap.String("domain", domain))
	return out, nil
}

// TestRawConfig validates caller-supplied text against the live
// configuration without keeping it: the previous text is always restored.
func (s *Service) TestRawConfig(ctx context.Context, domain, text string) (TestReport, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return TestReport{}, err
	}

	release := s.locks.acquire(domain)
	defer release()

	if _, err := s.getSite(ctx, domain); err != nil {
		return TestReport{}, err
	}

	out, passed, err := s.activator.DryTest(ctx, domain, text)
	if err != nil {
		return TestReport{}, err
	}
	return TestReport{Passed: passed, Output: out}, nil
}

func withinBase(path, base string) bool {
	path = filepath.Clean(path)
	base = filepath.Clean(base)
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
