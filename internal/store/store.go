package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrImmutableQuestion is returned when an edit or delete targets a
// system-generated follow-up question.
var ErrImmutableQuestion = errors.New("system-generated follow-up questions are immutable")

type Store struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, sessionTTL: defaultSessionTTL}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// the sqlite driver. Used by bounded-retry code generation and by callers
// that treat "someone else won" as non-fatal.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		display_name TEXT NOT NULL,
		access_code TEXT NOT NULL UNIQUE,
		audio_consent BOOLEAN NOT NULL DEFAULT 0,
		consent_revoked_at DATETIME,
		disabled BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		teacher_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		track_tab_switches BOOLEAN NOT NULL DEFAULT 1,
		track_pacing BOOLEAN NOT NULL DEFAULT 1,
		track_screenshots BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (teacher_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'ordinary',
		bloom_level TEXT NOT NULL DEFAULT 'understand',
		evidence TEXT NOT NULL DEFAULT 'disabled',
		order_index INTEGER NOT NULL,
		submission_id INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS rubrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		scale_min INTEGER NOT NULL,
		scale_max INTEGER NOT NULL,
		UNIQUE (assessment_id, type),
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'not_started',
		scoring_status TEXT NOT NULL DEFAULT 'pending',
		started_at DATETIME,
		submitted_at DATETIME,
		scoring_started_at DATETIME,
		scored_at DATETIME,
		scoring_error TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (assessment_id) REFERENCES assessments(id),
		FOREIGN KEY (student_id) REFERENCES students(id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		audio_key TEXT NOT NULL DEFAULT '',
		audio_mime TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '',
		transcription_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE (submission_id, question_id),
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		answer_id INTEGER NOT NULL,
		rubric_type TEXT NOT NULL,
		score INTEGER NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE (answer_id, rubric_type),
		FOREIGN KEY (answer_id) REFERENCES answers(id)
	);

	CREATE TABLE IF NOT EXISTS integrity_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		question_id INTEGER,
		type TEXT NOT NULL,
		duration_ms INTEGER,
		metadata TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS engagement_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		submission_id INTEGER NOT NULL,
		assessment_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS visual_assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id INTEGER NOT NULL UNIQUE,
		object_key TEXT NOT NULL,
		mime TEXT NOT NULL DEFAULT '',
		uploaded_by INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS ai_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		assessment_id INTEGER NOT NULL DEFAULT 0,
		student_id INTEGER NOT NULL DEFAULT 0,
		submission_id INTEGER NOT NULL DEFAULT 0,
		question_id INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
