package hosting

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSiteNotFound indicates the operation targets an unregistered domain.
	ErrSiteNotFound = errors.New("site not found")
	// ErrSiteExists indicates the domain is already provisioned.
	ErrSiteExists = errors.New("site already exists")
	// ErrRestoreFailed indicates a failed rollback left the live
	// configuration in an unknown state. Callers must treat this as fatal.
	ErrRestoreFailed = errors.New("failed to restore previous configuration")
)

// ValidationError reports configuration text rejected by the syntax
// validator. The live configuration was rolled back before it is returned.
type ValidationError struct {
	Output string
}

func (e *ValidationError) Error() string {
	return "configuration validation failed: " + strings.TrimSpace(e.Output)
}

// CommandError reports a nonzero exit from an external command (service
// reload, ACME client) with its captured output.
type CommandError struct {
	Op     string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
