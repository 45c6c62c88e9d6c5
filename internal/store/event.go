package store

import (
	"encoding/json"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// InsertIntegrityEvent appends a behavioral signal for a submission. The
// consent gate lives in the integrity package; the store only persists.
func (s *Store) InsertIntegrityEvent(ev model.IntegrityEvent) (int64, error) {
	metadata := ""
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return 0, err
		}
		metadata = string(b)
	}
	res, err := s.db.Exec(
		`INSERT INTO integrity_events (submission_id, question_id, type, duration_ms, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SubmissionID, ev.QuestionID, ev.Type, ev.DurationMS, metadata, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListIntegrityEvents returns a submission's integrity events in creation order.
func (s *Store) ListIntegrityEvents(submissionID int64) ([]model.IntegrityEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, question_id, type, duration_ms, metadata, created_at
		 FROM integrity_events WHERE submission_id = ? ORDER BY created_at, id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.IntegrityEvent
	for rows.Next() {
		var ev model.IntegrityEvent
		var metadata string
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.QuestionID, &ev.Type, &ev.DurationMS, &metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// InsertEngagementEvent appends a time-on-task marker. The log is
// append-only: there are no update or delete operations. A zero CreatedAt
// is stamped with the current time.
func (s *Store) InsertEngagementEvent(ev model.EngagementEvent) (int64, error) {
	at := ev.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.Exec(
		`INSERT INTO engagement_events (submission_id, assessment_id, student_id, type, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.SubmissionID, ev.AssessmentID, ev.StudentID, ev.Type, at,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEngagementEvents returns a submission's engagement events ordered by
// creation time ascending, the order the replay requires.
func (s *Store) ListEngagementEvents(submissionID int64) ([]model.EngagementEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, submission_id, assessment_id, student_id, type, created_at
		 FROM engagement_events WHERE submission_id = ? ORDER BY created_at, id`, submissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.EngagementEvent
	for rows.Next() {
		var ev model.EngagementEvent
		if err := rows.Scan(&ev.ID, &ev.SubmissionID, &ev.AssessmentID, &ev.StudentID, &ev.Type, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
