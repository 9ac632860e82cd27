package hosting

import (
	"context"
	"strings"
	"time"

	"github.com/lalapanel/lalapanel/pkg/adapter"
)

type fakeRunner struct {
	commands []string
	outputs  map[string]string
	errs     map[string]error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.commands = append(r.commands, cmd)
	if r.errs != nil {
		if err, ok := r.errs[cmd]; ok {
			out := ""
			if r.outputs != nil {
				out = r.outputs[cmd]
			}
			return out, err
		}
	}
	if r.outputs != nil {
		if out, ok := r.outputs[cmd]; ok {
			return out, nil
		}
	}
	return "", nil
}

func containsCommand(commands []string, want string) bool {
	for _, cmd := range commands {
		if cmd == want {
			return true
		}
	}
	return false
}

// fakeActivator records calls and keeps config text in memory.
type fakeActivator struct {
	configs      map[string]string
	enabled      map[string]bool
	reloads      int
	applyCalls   []string
	dryCalls     []string
	failWrite    error
	failEnable   error
	failTest     error
	failReload   error
	failApply    error
	applyOutput  string
	dryPassed    bool
	removedCalls []string
}

func newFakeActivator() *fakeActivator {
	return &fakeActivator{
		configs:   map[string]string{},
		enabled:   map[string]bool{},
		dryPassed: true,
	}
}

func (f *fakeActivator) Write(_ context.Context, domain, text string) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.configs[domain] = text
	return nil
}

func (f *fakeActivator) Read(_ context.Context, domain string) (string, error) {
	return f.configs[domain], nil
}

func (f *fakeActivator) Enable(_ context.Context, domain string) error {
	if f.failEnable != nil {
		return f.failEnable
	}
	f.enabled[domain] = true
	return nil
}

func (f *fakeActivator) Disable(_ context.Context, domain string) error {
	delete(f.enabled, domain)
	return nil
}

func (f *fakeActivator) Remove(ctx context.Context, domain string) error {
	f.removedCalls = append(f.removedCalls, domain)
	_ = f.Disable(ctx, domain)
	delete(f.configs, domain)
	return nil
}

func (f *fakeActivator) TestConfig(_ context.Context) (string, error) {
	if f.failTest != nil {
		return "syntax error", f.failTest
	}
	return "syntax is ok", nil
}

func (f *fakeActivator) Reload(_ context.Context) error {
	if f.failReload != nil {
		return f.failReload
	}
	f.reloads++
	return nil
}

func (f *fakeActivator) TestAndApply(_ context.Context, domain, text string) (string, error) {
	f.applyCalls = append(f.applyCalls, domain)
	if f.failApply != nil {
		return f.applyOutput, f.failApply
	}
	f.configs[domain] = text
	f.reloads++
	return f.applyOutput, nil
}

func (f *fakeActivator) DryTest(_ context.Context, domain, _ string) (string, bool, error) {
	f.dryCalls = append(f.dryCalls, domain)
	return f.applyOutput, f.dryPassed, nil
}

type fakeIssuer struct {
	requests []adapter.IssueRequest
	material adapter.CertificateMaterial
	err      error
}

func (f *fakeIssuer) Issue(_ context.Context, req adapter.IssueRequest) (adapter.CertificateMaterial, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return adapter.CertificateMaterial{}, f.err
	}
	m := f.material
	if m.Domain == "" {
		m.Domain = req.Domain
	}
	return m, nil
}

type fakeInstaller struct {
	domains []string
	expiry  time.Time
	err     error
}

func (f *fakeInstaller) Install(_ context.Context, domain string, _, _ []byte) (adapter.CertificateMaterial, error) {
	f.domains = append(f.domains, domain)
	if f.err != nil {
		return adapter.CertificateMaterial{}, f.err
	}
	return adapter.CertificateMaterial{Domain: domain, ExpiresAt: f.expiry}, nil
}

type fakeMariaDB struct {
	droppedDBs   []string
	droppedUsers []string
	failDrop     error
}

func (f *fakeMariaDB) CreateDatabase(_ context.Context, _ string) error { return nil }

func (f *fakeMariaDB) DropDatabase(_ context.Context, name string) error {
	f.droppedDBs = append(f.droppedDBs, name)
	return f.failDrop
}

func (f *fakeMariaDB) CreateUser(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeMariaDB) DropUser(_ context.Context, user string) error {
	f.droppedUsers = append(f.droppedUsers, user)
	return f.failDrop
}

func (f *fakeMariaDB) IsRunning(_ context.Context) (bool, error) { return true, nil }
