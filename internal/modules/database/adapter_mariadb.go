package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lalapanel/lalapanel/internal/platform/systemd"
)

// Identifiers the panel generates are restricted to this shape so statements
// can embed them without quoting.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validName(kind, v string) (string, error) {
	v = strings.TrimSpace(v)
	if !namePattern.MatchString(v) {
		return "", fmt.Errorf("invalid %s %q", kind, v)
	}
	return v, nil
}

const (
	defaultMariaDBBinaryPath = "/usr/bin/mariadb"
	defaultMariaDBService    = "mariadb"
)

// MariaDBAdapterOptions controls command paths used by the adapter.
type MariaDBAdapterOptions struct {
	BinaryPath  string
	ServiceName string
}

// MariaDBAdapter executes MariaDB statements through the system runner,
// using the local socket as root.
type MariaDBAdapter struct {
	runner      systemd.Runner
	binaryPath  string
	serviceName string
}

// NewMariaDBAdapter creates a MariaDB adapter.
func NewMariaDBAdapter(runner systemd.Runner, opts ...MariaDBAdapterOptions) *MariaDBAdapter {
	if runner == nil {
		runner = systemd.ExecRunner{}
	}
	cfg := MariaDBAdapterOptions{}
	if len(opts) > 0 {
		cfg = opts[0]
	}
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		cfg.BinaryPath = defaultMariaDBBinaryPath
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = defaultMariaDBService
	}
	return &MariaDBAdapter{
		runner:      runner,
		binaryPath:  cfg.BinaryPath,
		serviceName: cfg.ServiceName,
	}
}

// exec runs the statements through the client binary in one invocation.
func (a *MariaDBAdapter) exec(ctx context.Context, op string, stmts ...string) error {
	if _, err := a.runner.Run(ctx, a.binaryPath, "-e", strings.Join(stmts, " ")); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CreateDatabase creates a MariaDB database.
func (a *MariaDBAdapter) CreateDatabase(ctx context.Context, dbName string) error {
	name, err := validName("database name", dbName)
	if err != nil {
		return err
	}
	return a.exec(ctx, "create database "+name,
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci;", name))
}

// DropDatabase drops a MariaDB database.
func (a *MariaDBAdapter) DropDatabase(ctx context.Context, dbName string) error {
	name, err := validName("database name", dbName)
	if err != nil {
		return err
	}
	return a.exec(ctx, "drop database "+name,
		fmt.Sprintf("DROP DATABASE IF EXISTS `%s`;", name))
}

// CreateUser creates a user and grants privileges on one database.
func (a *MariaDBAdapter) CreateUser(ctx context.Context, username, password, dbName string) error {
	user, err := validName("username", username)
	if err != nil {
		return err
	}
	name, err := validName("database name", dbName)
	if err != nil {
		return err
	}
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password is required")
	}
	return a.exec(ctx, "create user "+user,
		fmt.Sprintf("CREATE USER IF NOT EXISTS '%s'@'localhost' IDENTIFIED BY '%s';", user, escapePassword(password)),
		fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'localhost';", name, user),
		"FLUSH PRIVILEGES;")
}

// DropUser drops a database user.
func (a *MariaDBAdapter) DropUser(ctx context.Context, username string) error {
	user, err := validName("username", username)
	if err != nil {
		return err
	}
	return a.exec(ctx, "drop user "+user,
		fmt.Sprintf("DROP USER IF EXISTS '%s'@'localhost';", user),
		"FLUSH PRIVILEGES;")
}

// IsRunning reports whether the mariadb unit is active.
func (a *MariaDBAdapter) IsRunning(ctx context.Context) (bool, error) {
	return systemd.IsActive(ctx, a.runner, a.serviceName)
}

// escapePassword makes arbitrary password bytes safe inside a single-quoted
// SQL literal.
func escapePassword(p string) string {
	p = strings.ReplaceAll(p, `\`, `\\`)
	return strings.ReplaceAll(p, "'", "''")
}
