package database

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/platform/registry"
	"github.com/lalapanel/lalapanel/pkg/adapter"
)

var (
	// ErrDatabaseNotFound indicates a missing database row.
	ErrDatabaseNotFound = errors.New("database not found")
	// ErrSiteNotFound indicates the owning site is not registered.
	ErrSiteNotFound = errors.New("site not found")
)

// CreateDatabaseRequest contains data needed to provision a database.
type CreateDatabaseRequest struct {
	Domain string `json:"domain"`
	DBName string `json:"db_name"`
}

// CreateDatabaseResult carries the stored row plus the one-time password.
// The password is never persisted; this is the only moment it is visible.
type CreateDatabaseResult struct {
	Database registry.SiteDatabase `json:"database"`
	Password string                `json:"password"`
}

// Service provisions MariaDB databases and users for hosted sites and keeps
// the registry's record of them in sync. MariaDB state changes always run
// before the registry write.
type Service struct {
	reg     *registry.Store
	log     *zap.Logger
	mariadb adapter.MariaDB
}

// NewService creates a database service.
func NewService(reg *registry.Store, log *zap.Logger, mariadb adapter.MariaDB) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{reg: reg, log: log, mariadb: mariadb}
}

// CreateDatabase provisions a database and dedicated user in MariaDB, then
// records them against the owning site. A failed step tears down what was
// already provisioned.
func (s *Service) CreateDatabase(ctx context.Context, req CreateDatabaseRequest) (CreateDatabaseResult, error) {
	site, err := s.reg.GetSiteByDomain(ctx, strings.ToLower(strings.TrimSpace(req.Domain)))
	if errors.Is(err, registry.ErrNotFound) {
		return CreateDatabaseResult{}, fmt.Errorf("%w: %s", ErrSiteNotFound, req.Domain)
	}
	if err != nil {
		return CreateDatabaseResult{}, err
	}

	dbName := strings.TrimSpace(req.DBName)
	if dbName == "" {
		dbName = dbNameForDomain(site.Domain)
	}
	if _, err := validName("database name", dbName); err != nil {
		return CreateDatabaseResult{}, err
	}

	dbUser := dbUserForName(dbName)
	password, err := randomHex(12)
	if err != nil {
		return CreateDatabaseResult{}, fmt.Errorf("generate password: %w", err)
	}

	if err = s.mariadb.CreateDatabase(ctx, dbName); err != nil {
		return CreateDatabaseResult{}, err
	}
	userCreated := false
	defer func() {
		if err == nil {
			return
		}
		if userCreated {
			_ = s.mariadb.DropUser(ctx, dbUser)
		}
		_ = s.mariadb.DropDatabase(ctx, dbName)
	}()

	if err = s.mariadb.CreateUser(ctx, dbUser, password, dbName); err != nil {
		return CreateDatabaseResult{}, err
	}
	userCreated = true

	db, err := s.reg.CreateSiteDatabase(ctx, site.ID, dbName, dbUser, "mariadb")
	if err != nil {
		return CreateDatabaseResult{}, fmt.Errorf("record database: %w", err)
	}

	s.log.Info("database created",
		zap.String("domain", site.Domain),
		zap.String("db_name", dbName),
		zap.String("db_user", dbUser))
	return CreateDatabaseResult{Database: db, Password: password}, nil
}

// ListDatabases returns the databases recorded for a site.
func (s *Service) ListDatabases(ctx context.Context, domain string) ([]registry.SiteDatabase, error) {
	site, err := s.reg.GetSiteByDomain(ctx, strings.ToLower(strings.TrimSpace(domain)))
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
	}
	if err != nil {
		return nil, err
	}
	return s.reg.ListSiteDatabases(ctx, site.ID)
}

// DeleteDatabase drops the user and database in MariaDB and removes the
// registry row last.
func (s *Service) DeleteDatabase(ctx context.Context, id int64) error {
	db, err := s.reg.GetSiteDatabase(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return ErrDatabaseNotFound
	}
	if err != nil {
		return err
	}
	if err := s.mariadb.DropUser(ctx, db.DBUser); err != nil {
		return err
	}
	if err := s.mariadb.DropDatabase(ctx, db.DBName); err != nil {
		return err
	}
	if err := s.reg.DeleteSiteDatabase(ctx, db.ID); err != nil {
		return fmt.Errorf("remove database row: %w", err)
	}
	s.log.Info("database deleted", zap.String("db_name", db.DBName))
	return nil
}

func dbNameForDomain(domain string) string {
	base := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, domain)
	if len(base) > 24 {
		base = base[:24]
	}
	suffix, _ := randomHex(3)
	return base + "_" + suffix
}

func dbUserForName(dbName string) string {
	base := strings.ToLower(strings.TrimSpace(dbName))
	if len(base) > 18 {
		base = base[:18]
	}
	suffix, _ := randomHex(3)
	return "u_" + base + "_" + suffix
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
