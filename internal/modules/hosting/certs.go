package hosting

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/platform/systemd"
	"github.com/lalapanel/lalapanel/pkg/adapter"
)

// CertbotIssuerOptions controls the ACME client invocation.
type CertbotIssuerOptions struct {
	CertbotPath string
	Email       string
	LiveDir     string
}

// CertbotIssuer obtains certificates by driving the certbot binary. It
// performs no retries and never touches the registry or any vhost file;
// failures carry the client's output for the caller to surface.
type CertbotIssuer struct {
	runner      systemd.Runner
	log         *zap.Logger
	certbotPath string
	email       string
	liveDir     string
}

// NewCertbotIssuer creates a certbot-backed issuer with sane defaults.
func NewCertbotIssuer(runner systemd.Runner, log *zap.Logger, opts CertbotIssuerOptions) *CertbotIssuer {
	if runner == nil {
		runner = systemd.ExecRunner{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CertbotPath == "" {
		opts.CertbotPath = "/usr/bin/certbot"
	}
	if opts.Email == "" {
		opts.Email = "admin@localhost"
	}
	if opts.LiveDir == "" {
		opts.LiveDir = "/etc/letsencrypt/live"
	}
	return &CertbotIssuer{
		runner:      runner,
		log:         log,
		certbotPath: opts.CertbotPath,
		email:       opts.Email,
		liveDir:     opts.LiveDir,
	}
}

// Issue requests a certificate for the domain (and optionally its www
// alias). When a challenge webroot is supplied certbot serves the HTTP-01
// response from it instead of binding its own listener.
func (c *CertbotIssuer) Issue(ctx context.Context, req adapter.IssueRequest) (adapter.CertificateMaterial, error) {
	domain, err := normalizeDomain(req.Domain)
	if err != nil {
		return adapter.CertificateMaterial{}, err
	}

	args := []string{
		"certonly",
		"--non-interactive",
		"--agree-tos",
		"--email", c.email,
		"--cert-name", domain,
	}
	if req.Webroot != "" {
		args = append(args, "--webroot", "--webroot-path", req.Webroot)
	} else {
		args = append(args, "--standalone")
	}
	args = append(args, "-d", domain)
	if req.IncludeAlias {
		args = append(args, "-d", "www."+domain)
	}

	out, err := c.runner.Run(ctx, c.certbotPath, args...)
	if err != nil {
		return adapter.CertificateMaterial{}, &CommandError{Op: "certbot certonly", Output: out, Err: err}
	}

	material := materialForDomain(c.liveDir, domain)
	if expiry, err := chainExpiry(material.ChainPath); err == nil {
		material.ExpiresAt = expiry
	} else {
		c.log.Warn("could not read certificate expiry",
			zap.String("domain", domain), zap.Error(err))
	}
	return material, nil
}

// ManualCertInstaller writes caller-supplied certificate material to the
// same deterministic layout certbot uses, so downstream consumers cannot
// tell the two apart.
type ManualCertInstaller struct {
	liveDir string
}

// NewManualCertInstaller creates a manual certificate provider.
func NewManualCertInstaller(liveDir string) *ManualCertInstaller {
	if liveDir == "" {
		liveDir = "/etc/letsencrypt/live"
	}
	return &ManualCertInstaller{liveDir: liveDir}
}

// Install validates the pair and writes chain and key under the domain's
// live directory. The private key is never group or world readable.
func (m *ManualCertInstaller) Install(_ context.Context, domain string, certPEM, keyPEM []byte) (adapter.CertificateMaterial, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return adapter.CertificateMaterial{}, err
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		return adapter.CertificateMaterial{}, fmt.Errorf("certificate and key do not match: %w", err)
	}
	expiry, err := leafExpiry(certPEM)
	if err != nil {
		return adapter.CertificateMaterial{}, err
	}

	material := materialForDomain(m.liveDir, domain)
	dir := filepath.Dir(material.ChainPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return adapter.CertificateMaterial{}, fmt.Errorf("create certificate dir: %w", err)
	}
	if err := atomicWrite(material.ChainPath, certPEM, 0o644); err != nil {
		return adapter.CertificateMaterial{}, err
	}
	if err := atomicWrite(material.KeyPath, keyPEM, 0o600); err != nil {
		return adapter.CertificateMaterial{}, err
	}
	material.ExpiresAt = expiry
	return material, nil
}

func materialForDomain(liveDir, domain string) adapter.CertificateMaterial {
	return adapter.CertificateMaterial{
		Domain:    domain,
		ChainPath: filepath.Join(liveDir, domain, "fullchain.pem"),
		KeyPath:   filepath.Join(liveDir, domain, "privkey.pem"),
	}
}

func chainExpiry(chainPath string) (time.Time, error) {
	b, err := os.ReadFile(chainPath)
	if err != nil {
		return time.Time{}, fmt.Errorf("read certificate chain: %w", err)
	}
	return leafExpiry(b)
}

func leafExpiry(certPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse certificate: %w", err)
	}
	return cert.NotAfter, nil
}
