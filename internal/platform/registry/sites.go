package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TLS states mirrored from the activated configuration.
const (
	TLSNone   = "none"
	TLSActive = "active"
)

// Site is one hosted domain's registry row.
type Site struct {
	ID         int64      `json:"id"`
	Domain     string     `json:"domain"`
	PHPVersion string     `json:"php_version"`
	TLSState   string     `json:"tls_state"`
	TLSExpiry  *time.Time `json:"tls_expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SitePatch enumerates the mutable site fields. Nil fields are left
// untouched; updated_at is always advanced.
type SitePatch struct {
	PHPVersion *string
	TLSState   *string
	TLSExpiry  *time.Time
}

// CreateSite inserts a site row and returns it.
func (s *Store) CreateSite(ctx context.Context, domain, phpVersion, tlsState string, tlsExpiry *time.Time) (Site, error) {
	now := time.Now().Unix()
	var expiry any
	if tlsExpiry != nil {
		expiry = tlsExpiry.Unix()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sites(domain, php_version, tls_state, tls_expires_at, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		domain, phpVersion, tlsState, expiry, now, now)
	if err != nil {
		return Site{}, fmt.Errorf("insert site: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Site{}, fmt.Errorf("site insert id: %w", err)
	}
	return s.GetSite(ctx, id)
}

// GetSite returns a site by id.
func (s *Store) GetSite(ctx context.Context, id int64) (Site, error) {
	return s.scanSite(s.db.QueryRowContext(ctx, `
SELECT id, domain, php_version, tls_state, tls_expires_at, created_at, updated_at
FROM sites WHERE id = ?`, id))
}

// GetSiteByDomain returns a site by its unique domain.
func (s *Store) GetSiteByDomain(ctx context.Context, domain string) (Site, error) {
	return s.scanSite(s.db.QueryRowContext(ctx, `
SELECT id, domain, php_version, tls_state, tls_expires_at, created_at, updated_at
FROM sites WHERE domain = ?`, domain))
}

// SiteExists reports whether a site with the domain is registered.
func (s *Store) SiteExists(ctx context.Context, domain string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sites WHERE domain = ?`, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("site exists: %w", err)
	}
	return true, nil
}

// ListSites returns all sites ordered by creation, most recent first.
func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, domain, php_version, tls_state, tls_expires_at, created_at, updated_at
FROM sites ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	sites := make([]Site, 0)
	for rows.Next() {
		site, err := s.scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// UpdateSite applies a patch to a site row.
func (s *Store) UpdateSite(ctx context.Context, id int64, patch SitePatch) error {
	assignments := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}

	if patch.PHPVersion != nil {
		assignments = append(assignments, "php_version = ?")
		args = append(args, *patch.PHPVersion)
	}
	if patch.TLSState != nil {
		assignments = append(assignments, "tls_state = ?")
		args = append(args, *patch.TLSState)
	}
	if patch.TLSExpiry != nil {
		assignments = append(assignments, "tls_expires_at = ?")
		args = append(args, patch.TLSExpiry.Unix())
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE sites SET "+strings.Join(assignments, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update site: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSite removes a site row. Dependent rows cascade.
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSite(row rowScanner) (Site, error) {
	var (
		site      Site
		expiry    sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&site.ID, &site.Domain, &site.PHPVersion, &site.TLSState, &expiry, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Site{}, ErrNotFound
	}
	if err != nil {
		return Site{}, fmt.Errorf("scan site: %w", err)
	}
	if expiry.Valid {
		t := time.Unix(expiry.Int64, 0).UTC()
		site.TLSExpiry = &t
	}
	site.CreatedAt = time.Unix(createdAt, 0).UTC()
	site.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return site, nil
}
