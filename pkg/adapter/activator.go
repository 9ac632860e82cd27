package adapter

import "context"

// Activator manages the available/enabled vhost configuration for domains.
// Write never leaves a partially written file visible; Enable and Disable are
// idempotent. TestAndApply and DryTest report the validator output alongside
// the result.
type Activator interface {
	Write(ctx context.Context, domain, text string) error
	Read(ctx context.Context, domain string) (string, error)
	Enable(ctx context.Context, domain string) error
	Disable(ctx context.Context, domain string) error
	Remove(ctx context.Context, domain string) error
	TestConfig(ctx context.Context) (string, error)
	Reload(ctx context.Context) error
	TestAndApply(ctx context.Context, domain, text string) (string, error)
	DryTest(ctx context.Context, domain, text string) (string, bool, error)
}
