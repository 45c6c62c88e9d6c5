package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// defaultSessionTTL applies unless SetSessionTTL overrides it.
const defaultSessionTTL = 24 * time.Hour

// SetSessionTTL overrides the lifetime of newly issued auth sessions.
// Existing sessions keep the expiry they were issued with.
func (s *Store) SetSessionTTL(d time.Duration) {
	s.sessionTTL = d
}

// CreateAuthSession issues a session token for a user. Expired rows are
// purged here rather than by a separate maintenance job: logins are the
// natural low-frequency hook, and the table never grows past the active
// user population plus one TTL window.
func (s *Store) CreateAuthSession(userID int64) (string, error) {
	if _, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, time.Now()); err != nil {
		return "", fmt.Errorf("purge expired sessions: %w", err)
	}

	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(s.sessionTTL),
	)
	if err != nil {
		return "", fmt.Errorf("create session for user %d: %w", userID, err)
	}
	return token, nil
}

// GetAuthSession resolves a session token. Unknown and expired tokens both
// come back nil; stale rows linger until the next login's purge.
func (s *Store) GetAuthSession(token string) (*model.AuthSession, error) {
	var sess model.AuthSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM auth_sessions
		 WHERE id = ? AND expires_at > ?`, token, time.Now(),
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteAuthSession invalidates a session token (logout).
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
