package adapter

import "context"

// IssueRequest describes one certificate issuance.
type IssueRequest struct {
	Domain string
	// IncludeAlias adds the www.<domain> alias as a second subject name.
	IncludeAlias bool
	// Webroot, when set, directs the ACME client to serve the HTTP-01
	// challenge from this path instead of spinning up its own listener.
	Webroot string
}

// CertIssuer obtains certificate material for a domain from an ACME client.
type CertIssuer interface {
	Issue(ctx context.Context, req IssueRequest) (CertificateMaterial, error)
}

// CertInstaller installs caller-supplied certificate material.
type CertInstaller interface {
	Install(ctx context.Context, domain string, certPEM, keyPEM []byte) (CertificateMaterial, error)
}
