package integrity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

type fakeStore struct {
	student  model.Student
	inserted []model.IntegrityEvent
}

func (f *fakeStore) GetSubmission(id int64) (model.Submission, error) {
	return model.Submission{ID: id, AssessmentID: 1, StudentID: f.student.ID}, nil
}

func (f *fakeStore) GetStudent(id int64) (model.Student, error) {
	return f.student, nil
}

func (f *fakeStore) InsertIntegrityEvent(ev model.IntegrityEvent) (int64, error) {
	f.inserted = append(f.inserted, ev)
	return int64(len(f.inserted)), nil
}

func consentingStudent() model.Student {
	return model.Student{ID: 7, DisplayName: "Sam", AudioConsent: true}
}

func TestRecordValidEvent(t *testing.T) {
	fs := &fakeStore{student: consentingStudent()}
	r := NewRecorder(fs)

	dur := int64(4200)
	id, err := r.Record(context.Background(), 3, model.IntegrityEvent{
		Type:       model.IntegrityTabSwitch,
		DurationMS: &dur,
		Metadata:   map[string]string{"url_host": "example.com"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id != 1 {
		t.Errorf("expected id 1, got %d", id)
	}
	if len(fs.inserted) != 1 {
		t.Fatalf("expected 1 inserted event, got %d", len(fs.inserted))
	}
	if fs.inserted[0].SubmissionID != 3 {
		t.Errorf("expected submission id 3, got %d", fs.inserted[0].SubmissionID)
	}
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	fs := &fakeStore{student: consentingStudent()}
	r := NewRecorder(fs)

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.Record(context.Background(), 3, model.IntegrityEvent{Type: "mouse_wiggle"})
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent, got %v", err)
		}
		if errors.Is(err, ErrConsentRequired) {
			t.Error("validation error must not be a consent error")
		}
	})

	t.Run("negative duration", func(t *testing.T) {
		dur := int64(-5)
		_, err := r.Record(context.Background(), 3, model.IntegrityEvent{
			Type:       model.IntegrityLongPause,
			DurationMS: &dur,
		})
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent, got %v", err)
		}
	})

	if len(fs.inserted) != 0 {
		t.Errorf("invalid events must not be persisted, got %d", len(fs.inserted))
	}
}

func TestRecordConsentGate(t *testing.T) {
	revoked := time.Now()
	tests := []struct {
		name    string
		student model.Student
	}{
		{"no consent", model.Student{ID: 7, AudioConsent: false}},
		{"revoked consent", model.Student{ID: 7, AudioConsent: true, ConsentRevokedAt: &revoked}},
		{"disabled account", model.Student{ID: 7, AudioConsent: true, Disabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{student: tt.student}
			r := NewRecorder(fs)
			_, err := r.Record(context.Background(), 3, model.IntegrityEvent{Type: model.IntegrityScreenshotAttempt})
			if !errors.Is(err, ErrConsentRequired) {
				t.Errorf("expected ErrConsentRequired, got %v", err)
			}
			if errors.Is(err, ErrInvalidEvent) {
				t.Error("consent error must not be a validation error")
			}
			if len(fs.inserted) != 0 {
				t.Errorf("gated events must not be persisted, got %d", len(fs.inserted))
			}
		})
	}
}
