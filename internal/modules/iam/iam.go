// Package iam implements panel authentication: accounts, sessions and
// per-IP login throttling.
package iam

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalapanel/lalapanel/internal/platform/registry"
)

var (
	// ErrInvalidCredentials indicates a username/password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized indicates a missing or invalid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTooManyAttempts indicates the IP exceeded the login rate limit.
	ErrTooManyAttempts = errors.New("too many login attempts")

	usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,31}$`)
)

// Options tunes session lifetime and the login rate limit.
type Options struct {
	SessionTTL       time.Duration
	MaxLoginAttempts int
	AttemptWindow    time.Duration
}

// Service provides IAM operations backed by the registry.
type Service struct {
	reg  *registry.Store
	log  *zap.Logger
	opts Options
}

// NewService creates the IAM service.
func NewService(reg *registry.Store, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.MaxLoginAttempts <= 0 {
		opts.MaxLoginAttempts = 5
	}
	if opts.AttemptWindow <= 0 {
		opts.AttemptWindow = 15 * time.Minute
	}
	return &Service{reg: reg, log: log, opts: opts}
}

// CreateAdmin creates an admin account.
func (s *Service) CreateAdmin(ctx context.Context, username, password string) (registry.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return registry.User{}, fmt.Errorf("invalid username")
	}
	if len(password) < 10 {
		return registry.User{}, fmt.Errorf("password must be at least 10 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return registry.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.reg.CreateUser(ctx, username, string(hash), "admin")
	if err != nil {
		return registry.User{}, fmt.Errorf("create admin: %w", err)
	}
	s.log.Info("admin account created", zap.String("username", username))
	return user, nil
}

// Login validates credentials and creates a session. Attempts are counted
// per source IP; past the limit logins are rejected before any password
// check.
func (s *Service) Login(ctx context.Context, username, password, ip string) (registry.Session, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	since := time.Now().Add(-s.opts.AttemptWindow)
	attempts, err := s.reg.CountLoginAttempts(ctx, ip, since)
	if err != nil {
		return registry.Session{}, err
	}
	if attempts >= s.opts.MaxLoginAttempts {
		s.log.Warn("login rate limit hit", zap.String("ip", ip))
		return registry.Session{}, ErrTooManyAttempts
	}

	user, hash, err := s.reg.GetUserByUsername(ctx, username)
	if err != nil {
		_ = s.reg.RecordLoginAttempt(ctx, ip)
		return registry.Session{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		_ = s.reg.RecordLoginAttempt(ctx, ip)
		return registry.Session{}, ErrInvalidCredentials
	}

	token, err := randomHex(32)
	if err != nil {
		return registry.Session{}, fmt.Errorf("generate session token: %w", err)
	}
	expires := time.Now().Add(s.opts.SessionTTL)
	if err := s.reg.CreateSession(ctx, token, user.ID, expires); err != nil {
		return registry.Session{}, err
	}

	// Housekeeping piggybacks on successful logins.
	_ = s.reg.DeleteExpiredSessions(ctx)
	_ = s.reg.ClearLoginAttempts(ctx, since)

	s.log.Info("login", zap.String("username", username))
	return registry.Session{Token: token, User: user, ExpiresAt: expires}, nil
}

// Logout invalidates a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return s.reg.DeleteSession(ctx, token)
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (registry.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return registry.User{}, ErrUnauthorized
	}
	sess, err := s.reg.GetSession(ctx, token)
	if errors.Is(err, registry.ErrNotFound) {
		return registry.User{}, ErrUnauthorized
	}
	if err != nil {
		return registry.User{}, err
	}
	return sess.User, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
