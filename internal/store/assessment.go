package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// CreateAssessment inserts a new draft assessment.
func (s *Store) CreateAssessment(a model.Assessment) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO assessments (teacher_id, title, status, track_tab_switches, track_pacing, track_screenshots, created_at)
		 VALUES (?, ?, 'draft', ?, ?, ?, ?)`,
		a.TeacherID, a.Title, a.Integrity.TrackTabSwitches, a.Integrity.TrackPacing, a.Integrity.TrackScreenshots, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAssessment returns an assessment by ID.
func (s *Store) GetAssessment(id int64) (model.Assessment, error) {
	var a model.Assessment
	err := s.db.QueryRow(
		`SELECT id, teacher_id, title, status, track_tab_switches, track_pacing, track_screenshots, created_at
		 FROM assessments WHERE id = ?`, id,
	).Scan(&a.ID, &a.TeacherID, &a.Title, &a.Status,
		&a.Integrity.TrackTabSwitches, &a.Integrity.TrackPacing, &a.Integrity.TrackScreenshots, &a.CreatedAt)
	return a, err
}

// ListAssessmentsByTeacher returns all assessments owned by a teacher.
func (s *Store) ListAssessmentsByTeacher(teacherID int64) ([]model.Assessment, error) {
	rows, err := s.db.Query(
		`SELECT id, teacher_id, title, status, track_tab_switches, track_pacing, track_screenshots, created_at
		 FROM assessments WHERE teacher_id = ? ORDER BY id DESC`, teacherID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assessments []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := rows.Scan(&a.ID, &a.TeacherID, &a.Title, &a.Status,
			&a.Integrity.TrackTabSwitches, &a.Integrity.TrackPacing, &a.Integrity.TrackScreenshots, &a.CreatedAt); err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

// UpdateAssessmentTitle updates the title of a draft assessment.
func (s *Store) UpdateAssessmentTitle(id int64, title string) error {
	_, err := s.db.Exec(`UPDATE assessments SET title = ? WHERE id = ?`, title, id)
	return err
}

// UpdateIntegrityConfig replaces the integrity configuration of an assessment.
func (s *Store) UpdateIntegrityConfig(id int64, cfg model.IntegrityConfig) error {
	_, err := s.db.Exec(
		`UPDATE assessments SET track_tab_switches = ?, track_pacing = ?, track_screenshots = ? WHERE id = ?`,
		cfg.TrackTabSwitches, cfg.TrackPacing, cfg.TrackScreenshots, id,
	)
	return err
}

// PublishAssessment transitions a draft assessment to live. Validation is
// the caller's responsibility; this only enforces the state machine.
func (s *Store) PublishAssessment(id int64) error {
	res, err := s.db.Exec(
		`UPDATE assessments SET status = 'live' WHERE id = ? AND status = 'draft'`, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		a, err := s.GetAssessment(id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("assessment %d not found", id)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("assessment %d is %s, only drafts can go live", id, a.Status)
	}
	return nil
}

// CloseAssessment transitions a live assessment to closed. Re-closing a
// closed assessment is a no-op, not an error.
func (s *Store) CloseAssessment(id int64) error {
	a, err := s.GetAssessment(id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assessment %d not found", id)
	}
	if err != nil {
		return err
	}
	switch a.Status {
	case model.StatusClosed:
		return nil
	case model.StatusDraft:
		return fmt.Errorf("assessment %d is a draft, only live assessments can be closed", id)
	}
	_, err = s.db.Exec(`UPDATE assessments SET status = 'closed' WHERE id = ?`, id)
	return err
}

// UpsertVisualAsset replaces the single current cover asset for an
// assessment. The natural-key conflict is resolved atomically by the store.
func (s *Store) UpsertVisualAsset(a model.VisualAsset) error {
	_, err := s.db.Exec(
		`INSERT INTO visual_assets (assessment_id, object_key, mime, uploaded_by, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(assessment_id) DO UPDATE SET object_key = ?, mime = ?, uploaded_by = ?, created_at = ?`,
		a.AssessmentID, a.ObjectKey, a.Mime, a.UploadedBy, time.Now(),
		a.ObjectKey, a.Mime, a.UploadedBy, time.Now(),
	)
	return err
}

// GetVisualAsset returns the current cover asset for an assessment, or nil.
func (s *Store) GetVisualAsset(assessmentID int64) (*model.VisualAsset, error) {
	var a model.VisualAsset
	err := s.db.QueryRow(
		`SELECT id, assessment_id, object_key, mime, uploaded_by, created_at
		 FROM visual_assets WHERE assessment_id = ?`, assessmentID,
	).Scan(&a.ID, &a.AssessmentID, &a.ObjectKey, &a.Mime, &a.UploadedBy, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
