package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

const userColumns = `id, username, email, password_hash, created_at, updated_at, is_active`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &u.IsActive); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByUsername returns only active users, ErrNotFound otherwise.
func (s *Store) GetUserByUsername(username string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ? AND is_active = 1`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return u, nil
}

// GetUserByID returns the user regardless of active status.
func (s *Store) GetUserByID(id int64) (*models.User, error) {
	row := s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return u, nil
}

// UsernameExists and EmailExists back the two separate register_user
// uniqueness checks (distinct error messages for each).
func (s *Store) UsernameExists(username string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	return exists == 1, classifySQLiteError(err)
}

func (s *Store) EmailExists(email string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists)
	return exists == 1, classifySQLiteError(err)
}

// CreateUser inserts a new, active user with an already-hashed password.
func (s *Store) CreateUser(username, email, passwordHash string) (*models.User, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO users (username, email, password_hash, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, ?, 1)`, username, email, passwordHash, now, now)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.GetUserByUsername(username)
}

// CreateUserToken inserts a new opaque bearer token for a user.
func (s *Store) CreateUserToken(userID int64, token string, tokenType models.TokenType, expiresAt *time.Time) (*models.UserToken, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO user_tokens (user_id, token, token_type, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, 1)`, userID, token, tokenType, now, toNullTime(expiresAt))
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.GetUserToken(token)
}

// GetUserToken returns ErrNotFound if no active token row matches.
func (s *Store) GetUserToken(token string) (*models.UserToken, error) {
	var t models.UserToken
	var expiresAt sql.NullTime
	err := s.db.QueryRow(`SELECT id, user_id, token, token_type, created_at, expires_at, is_active
		FROM user_tokens WHERE token = ? AND is_active = 1`, token).
		Scan(&t.ID, &t.UserID, &t.Token, &t.TokenType, &t.CreatedAt, &expiresAt, &t.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	t.ExpiresAt = fromNullTime(expiresAt)
	return &t, nil
}

// RevokeToken soft-deletes a token by setting is_active = 0; the row
// persists for audit purposes.
func (s *Store) RevokeToken(token string) error {
	res, err := s.db.Exec(`UPDATE user_tokens SET is_active = 0 WHERE token = ?`, token)
	if err != nil {
		return classifySQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifySQLiteError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
