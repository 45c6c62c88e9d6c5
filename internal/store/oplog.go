package store

import (
	"log/slog"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// InsertAIOperation records one external AI call for observability. Failures
// are logged and swallowed: an oplog write must never fail a scoring run.
func (s *Store) InsertAIOperation(op model.AIOperation) {
	_, err := s.db.Exec(
		`INSERT INTO ai_operations (operation, assessment_id, student_id, submission_id, question_id, model, latency_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Operation, op.AssessmentID, op.StudentID, op.SubmissionID, op.QuestionID,
		op.Model, op.LatencyMS, op.Error, time.Now(),
	)
	if err != nil {
		slog.Error("failed to record AI operation", "operation", op.Operation, "error", err)
	}
}

// ListAIOperations returns the AI call log for a submission, oldest first.
func (s *Store) ListAIOperations(submissionID int64) ([]model.AIOperation, error) {
	rows, err := s.db.Query(
		`SELECT id, operation, assessment_id, student_id, submission_id, question_id, model, latency_ms, error, created_at
		 FROM ai_operations WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ops []model.AIOperation
	for rows.Next() {
		var op model.AIOperation
		if err := rows.Scan(&op.ID, &op.Operation, &op.AssessmentID, &op.StudentID, &op.SubmissionID,
			&op.QuestionID, &op.Model, &op.LatencyMS, &op.Error, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
