// Package sysusers provisions system accounts that give FTP or SSH access
// to a site's content directory.
package sysusers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/platform/registry"
	"github.com/lalapanel/lalapanel/internal/platform/systemd"
)

var (
	// ErrUserNotFound indicates a missing account record.
	ErrUserNotFound = errors.New("system user not found")
	// ErrSiteNotFound indicates the owning site is not registered.
	ErrSiteNotFound = errors.New("site not found")

	usernamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{2,31}$`)
)

// Access types for provisioned accounts.
const (
	AccessFTP = "ftp"
	AccessSSH = "ssh"
)

// CreateUserRequest contains data needed to provision an account.
type CreateUserRequest struct {
	Domain     string `json:"domain"`
	Username   string `json:"username"`
	AccessType string `json:"access_type"`
}

// CreateUserResult carries the stored record plus the one-time password.
type CreateUserResult struct {
	User     registry.FTPUser `json:"user"`
	Password string           `json:"password"`
}

// Service creates and removes system accounts chrooted to a site's
// directory. The system account always exists before the registry records
// it.
type Service struct {
	reg      *registry.Store
	log      *zap.Logger
	runner   systemd.Runner
	sitesDir string
}

// NewService creates the sysusers service.
func NewService(reg *registry.Store, log *zap.Logger, runner systemd.Runner, sitesDir string) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if runner == nil {
		runner = systemd.ExecRunner{}
	}
	if sitesDir == "" {
		sitesDir = "/var/www"
	}
	return &Service{reg: reg, log: log, runner: runner, sitesDir: sitesDir}
}

// CreateUser provisions a system account with its home at the site's
// directory and records it. FTP accounts get a nologin shell.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (CreateUserResult, error) {
	site, err := s.reg.GetSiteByDomain(ctx, strings.ToLower(strings.TrimSpace(req.Domain)))
	if errors.Is(err, registry.ErrNotFound) {
		return CreateUserResult{}, fmt.Errorf("%w: %s", ErrSiteNotFound, req.Domain)
	}
	if err != nil {
		return CreateUserResult{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		return CreateUserResult{}, fmt.Errorf("invalid username %q", req.Username)
	}
	accessType := req.AccessType
	if accessType == "" {
		accessType = AccessFTP
	}
	if accessType != AccessFTP && accessType != AccessSSH {
		return CreateUserResult{}, fmt.Errorf("invalid access type %q", accessType)
	}

	shell := "/usr/sbin/nologin"
	if accessType == AccessSSH {
		shell = "/bin/bash"
	}
	home := filepath.Join(s.sitesDir, site.Domain)

	password, err := randomHex(12)
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("generate password: %w", err)
	}

	if _, err = s.runner.Run(ctx, "useradd",
		"--home-dir", home, "--no-create-home", "--shell", shell, username); err != nil {
		return CreateUserResult{}, fmt.Errorf("create system user: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = s.runner.Run(ctx, "userdel", username)
		}
	}()

	// Password is hex so the chpasswd line needs no quoting.
	if _, err = s.runner.Run(ctx, "sh", "-c",
		fmt.Sprintf("echo %s:%s | chpasswd", username, password)); err != nil {
		return CreateUserResult{}, fmt.Errorf("set password: %w", err)
	}

	record, err := s.reg.CreateFTPUser(ctx, site.ID, username, accessType)
	if err != nil {
		return CreateUserResult{}, fmt.Errorf("record system user: %w", err)
	}

	s.log.Info("system user created",
		zap.String("domain", site.Domain),
		zap.String("username", username),
		zap.String("access_type", accessType))
	return CreateUserResult{User: record, Password: password}, nil
}

// ListUsers returns all provisioned accounts with their site domains.
func (s *Service) ListUsers(ctx context.Context) ([]registry.FTPUser, error) {
	return s.reg.ListFTPUsers(ctx)
}

// DeleteUser removes the system account and its record. The home directory
// belongs to the site and is left in place.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	record, err := s.reg.GetFTPUser(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if _, err := s.runner.Run(ctx, "userdel", record.Username); err != nil {
		return fmt.Errorf("delete system user: %w", err)
	}
	if err := s.reg.DeleteFTPUser(ctx, record.ID); err != nil {
		return fmt.Errorf("remove system user row: %w", err)
	}
	s.log.Info("system user deleted", zap.String("username", record.Username))
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
