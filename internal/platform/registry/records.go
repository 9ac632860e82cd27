package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SiteDatabase is one provisioned database record associated with a site.
type SiteDatabase struct {
	ID        int64     `json:"id"`
	SiteID    int64     `json:"site_id"`
	Domain    string    `json:"domain,omitempty"`
	DBName    string    `json:"db_name"`
	DBUser    string    `json:"db_user"`
	DBEngine  string    `json:"db_engine"`
	CreatedAt time.Time `json:"created_at"`
}

// FTPUser is one FTP/SSH account record associated with a site.
type FTPUser struct {
	ID         int64     `json:"id"`
	SiteID     int64     `json:"site_id"`
	Domain     string    `json:"domain,omitempty"`
	Username   string    `json:"username"`
	AccessType string    `json:"access_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateSiteDatabase inserts a database record.
func (s *Store) CreateSiteDatabase(ctx context.Context, siteID int64, dbName, dbUser, dbEngine string) (SiteDatabase, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO site_databases(site_id, db_name, db_user, db_engine, created_at)
VALUES(?, ?, ?, ?, ?)`, siteID, dbName, dbUser, dbEngine, now)
	if err != nil {
		return SiteDatabase{}, fmt.Errorf("insert site database: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SiteDatabase{}, fmt.Errorf("site database insert id: %w", err)
	}
	return SiteDatabase{
		ID:        id,
		SiteID:    siteID,
		DBName:    dbName,
		DBUser:    dbUser,
		DBEngine:  dbEngine,
		CreatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// GetSiteDatabase returns one database record by id.
func (s *Store) GetSiteDatabase(ctx context.Context, id int64) (SiteDatabase, error) {
	var (
		d         SiteDatabase
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, site_id, db_name, db_user, db_engine, created_at
FROM site_databases WHERE id = ?`, id).
		Scan(&d.ID, &d.SiteID, &d.DBName, &d.DBUser, &d.DBEngine, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SiteDatabase{}, ErrNotFound
	}
	if err != nil {
		return SiteDatabase{}, fmt.Errorf("get site database: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return d, nil
}

// ListSiteDatabases returns database records for one site.
func (s *Store) ListSiteDatabases(ctx context.Context, siteID int64) ([]SiteDatabase, error) {
	return s.queryDatabases(ctx, `
SELECT d.id, d.site_id, s.domain, d.db_name, d.db_user, d.db_engine, d.created_at
FROM site_databases d JOIN sites s ON s.id = d.site_id
WHERE d.site_id = ? ORDER BY d.created_at DESC, d.id DESC`, siteID)
}

// ListAllDatabases returns all database records with their site domains.
func (s *Store) ListAllDatabases(ctx context.Context) ([]SiteDatabase, error) {
	return s.queryDatabases(ctx, `
SELECT d.id, d.site_id, s.domain, d.db_name, d.db_user, d.db_engine, d.created_at
FROM site_databases d JOIN sites s ON s.id = d.site_id
ORDER BY d.created_at DESC, d.id DESC`)
}

// DeleteSiteDatabase removes a database record.
func (s *Store) DeleteSiteDatabase(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM site_databases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete site database: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete site database: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryDatabases(ctx context.Context, query string, args ...any) ([]SiteDatabase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list site databases: %w", err)
	}
	defer rows.Close()

	out := make([]SiteDatabase, 0)
	for rows.Next() {
		var (
			d         SiteDatabase
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.SiteID, &d.Domain, &d.DBName, &d.DBUser, &d.DBEngine, &createdAt); err != nil {
			return nil, fmt.Errorf("scan site database: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list site databases: %w", err)
	}
	return out, nil
}

// CreateFTPUser inserts an FTP/SSH account record.
func (s *Store) CreateFTPUser(ctx context.Context, siteID int64, username, accessType string) (FTPUser, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO ftp_users(site_id, username, access_type, created_at) VALUES(?, ?, ?, ?)`,
		siteID, username, accessType, now)
	if err != nil {
		return FTPUser{}, fmt.Errorf("insert ftp user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return FTPUser{}, fmt.Errorf("ftp user insert id: %w", err)
	}
	return FTPUser{
		ID:         id,
		SiteID:     siteID,
		Username:   username,
		AccessType: accessType,
		CreatedAt:  time.Unix(now, 0).UTC(),
	}, nil
}

// GetFTPUser returns one FTP/SSH account record by id.
func (s *Store) GetFTPUser(ctx context.Context, id int64) (FTPUser, error) {
	var (
		u         FTPUser
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, site_id, username, access_type, created_at FROM ftp_users WHERE id = ?`, id).
		Scan(&u.ID, &u.SiteID, &u.Username, &u.AccessType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FTPUser{}, ErrNotFound
	}
	if err != nil {
		return FTPUser{}, fmt.Errorf("get ftp user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}

// ListFTPUsers returns all FTP/SSH account records with their site domains.
func (s *Store) ListFTPUsers(ctx context.Context) ([]FTPUser, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT f.id, f.site_id, s.domain, f.username, f.access_type, f.created_at
FROM ftp_users f JOIN sites s ON s.id = f.site_id
ORDER BY f.created_at DESC, f.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list ftp users: %w", err)
	}
	defer rows.Close()

	out := make([]FTPUser, 0)
	for rows.Next() {
		var (
			u         FTPUser
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.SiteID, &u.Domain, &u.Username, &u.AccessType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ftp user: %w", err)
		}
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ftp users: %w", err)
	}
	return out, nil
}

// DeleteFTPUser removes an FTP/SSH account record.
func (s *Store) DeleteFTPUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ftp_users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ftp user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ftp user: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting returns a panel setting value.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
SELECT setting_value FROM panel_settings WHERE setting_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a panel setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO panel_settings(setting_key, setting_value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// AllSettings returns every panel setting as a map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM panel_settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}
