package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

const userCols = `id, username, display_name, password_hash, role, active, created_at`

// CreateUser inserts a staff account. The role must be one of the known
// roles; a missing display name falls back to the username.
func (s *Store) CreateUser(u model.User) (int64, error) {
	switch u.Role {
	case model.UserRoleTeacher, model.UserRoleAdmin, model.UserRoleStudent:
	default:
		return 0, fmt.Errorf("unknown role %q", u.Role)
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Username
	}
	res, err := s.db.Exec(
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("create user %q: %w", u.Username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns the account with the given login name, or nil.
func (s *Store) GetUserByUsername(username string) (*model.User, error) {
	return s.getUser(`SELECT `+userCols+` FROM users WHERE username = ?`, username)
}

// GetUserByID returns an account by ID, or nil.
func (s *Store) GetUserByID(id int64) (*model.User, error) {
	return s.getUser(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
}

func (s *Store) getUser(query string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(query, arg).Scan(
		&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every account, ordered by username for the admin roster.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT ` + userCols + ` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ToggleUserActive flips the active flag on an account. Unknown IDs are an
// error so the admin surface cannot silently toggle nothing.
func (s *Store) ToggleUserActive(id int64) error {
	res, err := s.db.Exec(`UPDATE users SET active = NOT active WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("user %d not found", id)
	}
	return nil
}

// UserCount returns the total number of accounts, used to decide whether
// first-boot admin seeding applies.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
