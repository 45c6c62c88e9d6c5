package store

import (
	"database/sql"

	"github.com/pavelanni/viva/internal/model"
)

// UpsertRubric inserts or updates the rubric for (assessment, type) in one
// atomic statement keyed on the natural key, so concurrent writers cannot
// create duplicates.
func (s *Store) UpsertRubric(r model.Rubric) error {
	_, err := s.db.Exec(
		`INSERT INTO rubrics (assessment_id, type, instructions, scale_min, scale_max)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(assessment_id, type) DO UPDATE SET instructions = ?, scale_min = ?, scale_max = ?`,
		r.AssessmentID, r.Type, r.Instructions, r.ScaleMin, r.ScaleMax,
		r.Instructions, r.ScaleMin, r.ScaleMax,
	)
	return err
}

// GetRubric returns the rubric of the given type for an assessment, or nil.
func (s *Store) GetRubric(assessmentID int64, t model.RubricType) (*model.Rubric, error) {
	var r model.Rubric
	err := s.db.QueryRow(
		`SELECT id, assessment_id, type, instructions, scale_min, scale_max
		 FROM rubrics WHERE assessment_id = ? AND type = ?`, assessmentID, t,
	).Scan(&r.ID, &r.AssessmentID, &r.Type, &r.Instructions, &r.ScaleMin, &r.ScaleMax)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRubrics returns all rubrics for an assessment in insertion order.
func (s *Store) ListRubrics(assessmentID int64) ([]model.Rubric, error) {
	rows, err := s.db.Query(
		`SELECT id, assessment_id, type, instructions, scale_min, scale_max
		 FROM rubrics WHERE assessment_id = ? ORDER BY id`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rubrics []model.Rubric
	for rows.Next() {
		var r model.Rubric
		if err := rows.Scan(&r.ID, &r.AssessmentID, &r.Type, &r.Instructions, &r.ScaleMin, &r.ScaleMax); err != nil {
			return nil, err
		}
		rubrics = append(rubrics, r)
	}
	return rubrics, rows.Err()
}
