package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

const submissionCols = `id, assessment_id, student_id, status, scoring_status,
	started_at, submitted_at, scoring_started_at, scored_at, scoring_error`

func scanSubmission(row interface{ Scan(...any) error }) (model.Submission, error) {
	var sub model.Submission
	err := row.Scan(&sub.ID, &sub.AssessmentID, &sub.StudentID, &sub.Status, &sub.ScoringStatus,
		&sub.StartedAt, &sub.SubmittedAt, &sub.ScoringStartedAt, &sub.ScoredAt, &sub.ScoringError)
	return sub, err
}

// CreateSubmission creates a not-started submission for a student.
func (s *Store) CreateSubmission(assessmentID, studentID int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO submissions (assessment_id, student_id, status, scoring_status)
		 VALUES (?, ?, 'not_started', 'pending')`,
		assessmentID, studentID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSubmissionFor returns the student's submission on an assessment, or nil
// when none exists yet.
func (s *Store) GetSubmissionFor(assessmentID, studentID int64) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRow(
		`SELECT `+submissionCols+` FROM submissions WHERE assessment_id = ? AND student_id = ?`,
		assessmentID, studentID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(id int64) (model.Submission, error) {
	return scanSubmission(s.db.QueryRow(
		`SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id,
	))
}

// StartSubmission moves a not-started submission to in-progress.
func (s *Store) StartSubmission(id int64) error {
	res, err := s.db.Exec(
		`UPDATE submissions SET status = 'in_progress', started_at = ?
		 WHERE id = ? AND status = 'not_started'`, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("submission %d cannot be started", id)
	}
	return nil
}

// SubmitSubmission moves an in-progress submission to submitted.
func (s *Store) SubmitSubmission(id int64) error {
	res, err := s.db.Exec(
		`UPDATE submissions SET status = 'submitted', submitted_at = ?
		 WHERE id = ? AND status = 'in_progress'`, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("submission %d cannot be submitted", id)
	}
	return nil
}

// ListSubmissions returns all submissions for an assessment.
func (s *Store) ListSubmissions(assessmentID int64) ([]model.Submission, error) {
	return s.querySubmissions(
		`SELECT `+submissionCols+` FROM submissions WHERE assessment_id = ? ORDER BY id`, assessmentID,
	)
}

// ListSubmittedSubmissions returns all submitted submissions, oldest first.
// Used by the administrative protracted report.
func (s *Store) ListSubmittedSubmissions() ([]model.Submission, error) {
	return s.querySubmissions(
		`SELECT ` + submissionCols + ` FROM submissions
		 WHERE status = 'submitted' ORDER BY submitted_at`,
	)
}

// SelectForScoring returns up to limit submitted submissions whose scoring
// status is pending or error, oldest submission first.
func (s *Store) SelectForScoring(limit int) ([]model.Submission, error) {
	return s.querySubmissions(
		`SELECT `+submissionCols+` FROM submissions
		 WHERE status = 'submitted' AND scoring_status IN ('pending', 'error')
		 ORDER BY submitted_at LIMIT ?`, limit,
	)
}

func (s *Store) querySubmissions(query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// BeginScoring claims a submission for the scoring pipeline. It only
// succeeds when scoring_status is pending or error, so an already-scored
// submission stays untouched. Returns false when the claim did not apply.
func (s *Store) BeginScoring(id int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE submissions
		 SET scoring_status = 'scoring', scoring_started_at = ?, scoring_error = ''
		 WHERE id = ? AND scoring_status IN ('pending', 'error')`, time.Now(), id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkScored records a successful scoring run.
func (s *Store) MarkScored(id int64) error {
	_, err := s.db.Exec(
		`UPDATE submissions SET scoring_status = 'scored', scored_at = ?, scoring_error = '' WHERE id = ?`,
		time.Now(), id,
	)
	return err
}

// MarkScoringError records a failed scoring run with its message. The error
// state is re-enterable: the sweep selects it again.
func (s *Store) MarkScoringError(id int64, msg string) error {
	_, err := s.db.Exec(
		`UPDATE submissions SET scoring_status = 'error', scoring_error = ? WHERE id = ?`, msg, id,
	)
	return err
}

// ResetScoring forces a submission back to pending, clearing all scoring
// timestamps and any prior error, to allow a manual retry.
func (s *Store) ResetScoring(id int64) error {
	_, err := s.db.Exec(
		`UPDATE submissions
		 SET scoring_status = 'pending', scoring_started_at = NULL, scored_at = NULL, scoring_error = ''
		 WHERE id = ?`, id,
	)
	return err
}

// UpsertAnswer saves a student's answer for a question, replacing any prior
// answer for the same (submission, question).
func (s *Store) UpsertAnswer(a model.Answer) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO answers (submission_id, question_id, text, audio_key, audio_mime, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(submission_id, question_id) DO UPDATE SET text = ?, audio_key = ?, audio_mime = ?`,
		a.SubmissionID, a.QuestionID, a.Text, a.AudioKey, a.AudioMime, time.Now(),
		a.Text, a.AudioKey, a.AudioMime,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAnswer returns one answer by ID.
func (s *Store) GetAnswer(id int64) (model.Answer, error) {
	var a model.Answer
	err := s.db.QueryRow(
		`SELECT id, submission_id, question_id, text, audio_key, audio_mime, transcript, transcription_error, created_at
		 FROM answers WHERE id = ?`, id,
	).Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Text, &a.AudioKey, &a.AudioMime,
		&a.Transcript, &a.TranscriptionError, &a.CreatedAt)
	return a, err
}

// ListAnswers returns all answers of a submission in creation order.
func (s *Store) ListAnswers(submissionID int64) ([]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, question_id, text, audio_key, audio_mime, transcript, transcription_error, created_at
		 FROM answers WHERE submission_id = ? ORDER BY id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.SubmissionID, &a.QuestionID, &a.Text, &a.AudioKey, &a.AudioMime,
			&a.Transcript, &a.TranscriptionError, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// SetTranscript stores a transcription result for an audio answer.
func (s *Store) SetTranscript(answerID int64, transcript string) error {
	_, err := s.db.Exec(
		`UPDATE answers SET transcript = ?, transcription_error = '' WHERE id = ?`, transcript, answerID,
	)
	return err
}

// SetTranscriptionError records a transcription failure for an audio answer.
// The answer is treated as unscorable evidence, not a pipeline fault.
func (s *Store) SetTranscriptionError(answerID int64, msg string) error {
	_, err := s.db.Exec(
		`UPDATE answers SET transcription_error = ? WHERE id = ?`, msg, answerID,
	)
	return err
}

// UpsertScore inserts or updates one rubric's score for an answer.
func (s *Store) UpsertScore(sc model.ScoreRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO scores (answer_id, rubric_type, score, rationale, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(answer_id, rubric_type) DO UPDATE SET score = ?, rationale = ?`,
		sc.AnswerID, sc.RubricType, sc.Score, sc.Rationale, time.Now(),
		sc.Score, sc.Rationale,
	)
	return err
}

// ListScores returns the rubric scores for an answer.
func (s *Store) ListScores(answerID int64) ([]model.ScoreRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, answer_id, rubric_type, score, rationale, created_at
		 FROM scores WHERE answer_id = ? ORDER BY rubric_type`, answerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []model.ScoreRecord
	for rows.Next() {
		var sc model.ScoreRecord
		if err := rows.Scan(&sc.ID, &sc.AnswerID, &sc.RubricType, &sc.Score, &sc.Rationale, &sc.CreatedAt); err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// GetSubmissionView builds a full review view of a submission with answers,
// questions, scores, and generated follow-ups.
func (s *Store) GetSubmissionView(submissionID int64) (*model.SubmissionView, error) {
	sub, err := s.GetSubmission(submissionID)
	if err != nil {
		return nil, err
	}
	student, err := s.GetStudent(sub.StudentID)
	if err != nil {
		return nil, err
	}
	answers, err := s.ListAnswers(submissionID)
	if err != nil {
		return nil, err
	}

	var answerViews []model.AnswerView
	for _, a := range answers {
		q, err := s.GetQuestion(a.QuestionID)
		if err != nil {
			return nil, err
		}
		scores, err := s.ListScores(a.ID)
		if err != nil {
			return nil, err
		}
		answerViews = append(answerViews, model.AnswerView{
			Answer:   a,
			Question: q,
			Scores:   scores,
		})
	}

	followups, err := s.ListFollowupQuestions(submissionID)
	if err != nil {
		return nil, err
	}

	return &model.SubmissionView{
		Submission: sub,
		Student:    student,
		Answers:    answerViews,
		Followups:  followups,
	}, nil
}
