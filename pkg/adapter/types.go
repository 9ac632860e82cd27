package adapter

import "time"

// SiteProfile carries the per-site values the renderer and system adapters need.
type SiteProfile struct {
	Domain     string
	RootDir    string
	PHPVersion string
	TLSEnabled bool
	Settings   map[string]string
}

// CertificateMaterial points at installed certificate files for a domain.
// Paths are deterministic per domain and valid regardless of which provider
// installed the material.
type CertificateMaterial struct {
	Domain    string
	ChainPath string
	KeyPath   string
	ExpiresAt time.Time
}
