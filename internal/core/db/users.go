package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmailTaken is returned when signing up with an existing email
var ErrEmailTaken = errors.New("email already registered")

// User is a local account
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// AuthSession is a signed-in token for a user
type AuthSession struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// CreateUser inserts a new account. The caller hashes the password.
func (db *DB) CreateUser(ctx context.Context, email, displayName, passwordHash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Email:        strings.TrimSpace(email),
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    db.timestamp(),
	}

	var exists int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, u.Email).Scan(&exists)
	if err != nil {
		return User{}, fmt.Errorf("check email: %w", err)
	}
	if exists > 0 {
		return User{}, ErrEmailTaken
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, formatTime(u.CreatedAt))
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UserByEmail looks up an account, case-insensitively
func (db *DB) UserByEmail(ctx context.Context, email string) (User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users WHERE email = ?
	`, strings.TrimSpace(email)))
}

// UserByID looks up an account by id
func (db *DB) UserByID(ctx context.Context, id string) (User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

func (db *DB) scanUser(row *sql.Row) (User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &created)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, err = ParseTime(created)
	return u, err
}

// CreateAuthSession stores a session token valid for ttl
func (db *DB) CreateAuthSession(ctx context.Context, userID, token string, ttl time.Duration) (AuthSession, error) {
	now := db.timestamp()
	s := AuthSession{Token: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO auth_sessions (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, s.Token, s.UserID, formatTime(s.CreatedAt), formatTime(s.ExpiresAt))
	if err != nil {
		return AuthSession{}, fmt.Errorf("insert auth session: %w", err)
	}
	return s, nil
}

// AuthSessionByToken returns the session for token if it has not expired
func (db *DB) AuthSessionByToken(ctx context.Context, token string) (AuthSession, error) {
	var s AuthSession
	var created, expires string
	err := db.conn.QueryRowContext(ctx, `
		SELECT token, user_id, created_at, expires_at
		FROM auth_sessions WHERE token = ?
	`, token).Scan(&s.Token, &s.UserID, &created, &expires)
	if err == sql.ErrNoRows {
		return AuthSession{}, ErrNotFound
	}
	if err != nil {
		return AuthSession{}, err
	}
	if s.CreatedAt, err = ParseTime(created); err != nil {
		return AuthSession{}, err
	}
	if s.ExpiresAt, err = ParseTime(expires); err != nil {
		return AuthSession{}, err
	}
	if !db.timestamp().Before(s.ExpiresAt) {
		return AuthSession{}, ErrNotFound
	}
	return s, nil
}

// DeleteAuthSession removes a session token. Unknown tokens are ignored.
func (db *DB) DeleteAuthSession(ctx context.Context, token string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM auth_sessions WHERE token = ?`, token)
	return err
}

// PruneAuthSessions deletes expired sessions and returns how many were removed
func (db *DB) PruneAuthSessions(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM auth_sessions WHERE expires_at <= ?`, formatTime(db.timestamp()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
