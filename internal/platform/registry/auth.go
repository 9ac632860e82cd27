package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a panel account.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a stored login session.
type Session struct {
	Token     string
	User      User
	ExpiresAt time.Time
}

// CreateUser inserts a panel account with a pre-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) (User, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users(username, password_hash, role, created_at) VALUES(?, ?, ?, ?)`,
		username, passwordHash, role, now)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, fmt.Errorf("user insert id: %w", err)
	}
	return User{ID: id, Username: username, Role: role, CreatedAt: time.Unix(now, 0).UTC()}, nil
}

// GetUserByUsername returns the account and its password hash.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, string, error) {
	var (
		u         User
		hash      string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &hash, &u.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, "", ErrNotFound
	}
	if err != nil {
		return User{}, "", fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, hash, nil
}

// CreateSession stores a session token.
func (s *Store) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(token, user_id, expires_at, created_at) VALUES(?, ?, ?, ?)`,
		token, userID, expiresAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession resolves a token to its user; expired sessions are not returned.
func (s *Store) GetSession(ctx context.Context, token string) (Session, error) {
	var (
		sess      Session
		expiresAt int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT s.token, s.expires_at, u.id, u.username, u.role, u.created_at
FROM sessions s JOIN users u ON u.id = s.user_id
WHERE s.token = ? AND s.expires_at > ?`,
		token, time.Now().Unix()).
		Scan(&sess.Token, &expiresAt, &sess.User.ID, &sess.User.Username, &sess.User.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.User.CreatedAt = time.Unix(createdAt, 0).UTC()
	return sess, nil
}

// DeleteSession removes a session token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their expiry.
func (s *Store) DeleteExpiredSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, time.Now().Unix()); err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	return nil
}

// RecordLoginAttempt stores one login attempt for an IP.
func (s *Store) RecordLoginAttempt(ctx context.Context, ip string) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO login_attempts(ip_address, attempted_at) VALUES(?, ?)`,
		ip, time.Now().Unix()); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// CountLoginAttempts counts attempts for an IP since the given time.
func (s *Store) CountLoginAttempts(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM login_attempts WHERE ip_address = ? AND attempted_at > ?`,
		ip, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count login attempts: %w", err)
	}
	return n, nil
}

// ClearLoginAttempts drops attempts older than the given time.
func (s *Store) ClearLoginAttempts(ctx context.Context, before time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE attempted_at < ?`, before.Unix()); err != nil {
		return fmt.Errorf("clear login attempts: %w", err)
	}
	return nil
}
