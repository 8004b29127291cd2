package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/shoshin/internal/model"
)

// Login sessions are kept outside the documents table so they can be
// looked up by token and revoked by employee ID.

const sessionLifetime = 24 * time.Hour

// CreateAuthSession signs an employee in and returns the cookie token.
func (s *Store) CreateAuthSession(userID string) (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw[:])

	issued := time.Now()
	if _, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, issued, issued.Add(sessionLifetime),
	); err != nil {
		return "", fmt.Errorf("create session for %s: %w", userID, err)
	}
	return token, nil
}

// GetAuthSession resolves a cookie token. Unknown and expired tokens yield
// nil; expired rows stay until CleanupExpiredSessions sweeps them.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	sess := model.AuthSession{ID: token}
	err := s.db.QueryRow(
		`SELECT user_id, created_at, expires_at FROM auth_sessions WHERE id = ?`, token,
	).Scan(&sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("look up session: %w", err)
	case !time.Now().Before(sess.ExpiresAt):
		return nil, nil
	}
	return &sess, nil
}

// DeleteAuthSession signs out one browser.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// DeleteUserAuthSessions signs an employee out everywhere.
func (s *Store) DeleteUserAuthSessions(userID string) error {
	_, err := s.RevokeAuthSessions(userID, "")
	return err
}

// RevokeAuthSessions signs an employee out of every session except keep and
// reports how many were removed.
func (s *Store) RevokeAuthSessions(userID, keep string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE user_id = ? AND id <> ?`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions of %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// CleanupExpiredSessions removes expired sessions and reports how many.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
