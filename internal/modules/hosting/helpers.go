package hosting

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	domainPattern     = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)
	phpVersionPattern = regexp.MustCompile(`^\d+\.\d+$`)
)

func normalizeDomain(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}
	if !domainPattern.MatchString(domain) {
		return "", fmt.Errorf("invalid domain %q", domain)
	}
	return domain, nil
}

// socketPath returns the shared per-version PHP-FPM socket a vhost proxies to.
func socketPath(phpVersion string) string {
	return "/run/php/php" + phpVersion + "-fpm.sock"
}
