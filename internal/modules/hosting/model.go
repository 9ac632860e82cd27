package hosting

import "github.com/lalapanel/lalapanel/internal/platform/registry"

// TLS modes accepted on site creation.
const (
	// TLSModeNone provisions the site without any certificate step.
	TLSModeNone = "none"
	// TLSModeManual provisions without TLS; material is uploaded later.
	TLSModeManual = "manual"
	// TLSModeAuto attempts certificate issuance during creation; failure
	// downgrades to a warning.
	TLSModeAuto = "auto"
)

// CreateSiteRequest contains data needed to create a site.
type CreateSiteRequest struct {
	Domain     string            `json:"domain"`
	PHPVersion string            `json:"php_version"`
	TLSMode    string            `json:"tls_mode"`
	Settings   map[string]string `json:"settings"`
}

// Outcome is the aggregate result of one workflow: the resulting site row
// plus warnings from best-effort steps that failed.
type Outcome struct {
	Site     registry.Site `json:"site"`
	Warnings []string      `json:"warnings"`
}

// TestReport is the result of a dry configuration test. It has no
// persistent effect on the live configuration.
type TestReport struct {
	Passed bool   `json:"passed"`
	Output string `json:"output"`
}
