package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// DefaultCodeAttempts bounds the retry loop for access-code generation under
// concurrent roster creation.
const DefaultCodeAttempts = 8

// codeAlphabet avoids ambiguous characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// CreateStudent inserts a student with a freshly generated unique access
// code, retrying up to attempts times on uniqueness conflicts. The roster
// item fails once attempts are exhausted.
func (s *Store) CreateStudent(st model.Student, attempts int) (int64, error) {
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	for i := 0; i < attempts; i++ {
		code, err := generateAccessCode()
		if err != nil {
			return 0, fmt.Errorf("generate access code: %w", err)
		}
		res, err := s.db.Exec(
			`INSERT INTO students (user_id, display_name, access_code, audio_consent, consent_revoked_at, disabled, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.UserID, st.DisplayName, code, st.AudioConsent, st.ConsentRevokedAt, st.Disabled, time.Now(),
		)
		if isUniqueViolation(err) {
			slog.Warn("access code collision, retrying", "attempt", i+1)
			continue
		}
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	return 0, fmt.Errorf("could not generate a unique access code after %d attempts", attempts)
}

// GetStudent returns a student by ID.
func (s *Store) GetStudent(id int64) (model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, user_id, display_name, access_code, audio_consent, consent_revoked_at, disabled, created_at
		 FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.UserID, &st.DisplayName, &st.AccessCode, &st.AudioConsent, &st.ConsentRevokedAt, &st.Disabled, &st.CreatedAt)
	return st, err
}

// GetStudentByAccessCode returns a student by access code, or nil if not found.
func (s *Store) GetStudentByAccessCode(code string) (*model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, user_id, display_name, access_code, audio_consent, consent_revoked_at, disabled, created_at
		 FROM students WHERE access_code = ?`, code,
	).Scan(&st.ID, &st.UserID, &st.DisplayName, &st.AccessCode, &st.AudioConsent, &st.ConsentRevokedAt, &st.Disabled, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStudents returns all students.
func (s *Store) ListStudents() ([]model.Student, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, display_name, access_code, audio_consent, consent_revoked_at, disabled, created_at
		 FROM students ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.UserID, &st.DisplayName, &st.AccessCode, &st.AudioConsent, &st.ConsentRevokedAt, &st.Disabled, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// GrantAudioConsent records audio consent for a student and clears any
// revocation timestamp.
func (s *Store) GrantAudioConsent(id int64) error {
	_, err := s.db.Exec(
		`UPDATE students SET audio_consent = 1, consent_revoked_at = NULL WHERE id = ?`, id,
	)
	return err
}

// RevokeAudioConsent records a consent revocation timestamp.
func (s *Store) RevokeAudioConsent(id int64) error {
	_, err := s.db.Exec(
		`UPDATE students SET consent_revoked_at = ? WHERE id = ?`, time.Now(), id,
	)
	return err
}

// SetStudentDisabled sets the disabled flag on a student account.
func (s *Store) SetStudentDisabled(id int64, disabled bool) error {
	_, err := s.db.Exec(`UPDATE students SET disabled = ? WHERE id = ?`, disabled, id)
	return err
}

func generateAccessCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
