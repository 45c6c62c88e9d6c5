// Package integrity records discrete behavioral signals (tab switches,
// pacing anomalies, screenshot attempts) during a submission, behind a
// student-consent gate.
package integrity

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/viva/internal/model"
)

// ErrConsentRequired is a policy rejection: the owning student's audio
// consent is absent or revoked, or the account is disabled. Distinct from
// ErrInvalidEvent so callers can render appropriate messaging.
var ErrConsentRequired = errors.New("student consent required")

// ErrInvalidEvent is a malformed-input rejection.
var ErrInvalidEvent = errors.New("invalid integrity event")

// Store is the persistence surface the recorder needs.
type Store interface {
	GetSubmission(id int64) (model.Submission, error)
	GetStudent(id int64) (model.Student, error)
	InsertIntegrityEvent(ev model.IntegrityEvent) (int64, error)
}

// Recorder validates and persists integrity events.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(s Store) *Recorder {
	return &Recorder{store: s}
}

// Record validates ev against the enumerated type set and the consent gate,
// then appends it to the submission's event log.
func (r *Recorder) Record(ctx context.Context, submissionID int64, ev model.IntegrityEvent) (int64, error) {
	if !model.ValidIntegrityEventTypes[ev.Type] {
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.DurationMS != nil && *ev.DurationMS < 0 {
		return 0, fmt.Errorf("%w: negative duration %d", ErrInvalidEvent, *ev.DurationMS)
	}

	sub, err := r.store.GetSubmission(submissionID)
	if err != nil {
		return 0, fmt.Errorf("load submission %d: %w", submissionID, err)
	}
	student, err := r.store.GetStudent(sub.StudentID)
	if err != nil {
		return 0, fmt.Errorf("load student %d: %w", sub.StudentID, err)
	}
	if !student.ConsentOK() {
		return 0, fmt.Errorf("%w: student %d", ErrConsentRequired, student.ID)
	}

	ev.SubmissionID = submissionID
	return r.store.InsertIntegrityEvent(ev)
}
