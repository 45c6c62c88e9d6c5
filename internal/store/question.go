package store

import (
	"time"

	"github.com/pavelanni/viva/internal/model"
)

const questionCols = `id, assessment_id, text, type, bloom_level, evidence, order_index, submission_id, created_at`

// InsertQuestion stores a question, assigning the next order index
// (max+1) within the assessment. Evidence-followup questions are forced to
// require an evidence upload.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	if q.Type == model.QuestionEvidenceFollowup {
		q.Evidence = model.EvidenceRequired
	}
	res, err := s.db.Exec(
		`INSERT INTO questions (assessment_id, text, type, bloom_level, evidence, order_index, submission_id, created_at)
		 VALUES (?, ?, ?, ?, ?,
		         (SELECT COALESCE(MAX(order_index), 0) + 1 FROM questions WHERE assessment_id = ?),
		         ?, ?)`,
		q.AssessmentID, q.Text, q.Type, q.Bloom, q.Evidence, q.AssessmentID, q.SubmissionID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(
		`SELECT `+questionCols+` FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.AssessmentID, &q.Text, &q.Type, &q.Bloom, &q.Evidence, &q.OrderIndex, &q.SubmissionID, &q.CreatedAt)
	return q, err
}

// ListQuestions returns an assessment's teacher-authored questions in order
// index order. Follow-up questions tied to submissions are excluded.
func (s *Store) ListQuestions(assessmentID int64) ([]model.Question, error) {
	return s.queryQuestions(
		`SELECT `+questionCols+` FROM questions
		 WHERE assessment_id = ? AND submission_id IS NULL
		 ORDER BY order_index`, assessmentID,
	)
}

// ListFollowupQuestions returns the system-generated follow-up questions
// tied to a submission, in order index order.
func (s *Store) ListFollowupQuestions(submissionID int64) ([]model.Question, error) {
	return s.queryQuestions(
		`SELECT `+questionCols+` FROM questions
		 WHERE submission_id = ? ORDER BY order_index`, submissionID,
	)
}

func (s *Store) queryQuestions(query string, args ...any) ([]model.Question, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Text, &q.Type, &q.Bloom, &q.Evidence, &q.OrderIndex, &q.SubmissionID, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpdateQuestion edits a teacher-authored question. System-generated
// follow-ups reject edits with ErrImmutableQuestion.
func (s *Store) UpdateQuestion(q model.Question) error {
	existing, err := s.GetQuestion(q.ID)
	if err != nil {
		return err
	}
	if existing.SystemGenerated() {
		return ErrImmutableQuestion
	}
	if q.Type == model.QuestionEvidenceFollowup {
		q.Evidence = model.EvidenceRequired
	}
	_, err = s.db.Exec(
		`UPDATE questions SET text = ?, type = ?, bloom_level = ?, evidence = ? WHERE id = ?`,
		q.Text, q.Type, q.Bloom, q.Evidence, q.ID,
	)
	return err
}

// DeleteQuestion removes a teacher-authored question. System-generated
// follow-ups reject deletion with ErrImmutableQuestion.
func (s *Store) DeleteQuestion(id int64) error {
	existing, err := s.GetQuestion(id)
	if err != nil {
		return err
	}
	if existing.SystemGenerated() {
		return ErrImmutableQuestion
	}
	_, err = s.db.Exec(`DELETE FROM questions WHERE id = ?`, id)
	return err
}
