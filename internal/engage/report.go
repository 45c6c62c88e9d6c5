package engage

import (
	"time"

	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

// BuildProtractedReport scans all submitted submissions and collects those
// whose engagement metrics exceed the thresholds.
func BuildProtractedReport(s *store.Store, th Thresholds) (*model.ProtractedReport, error) {
	subs, err := s.ListSubmittedSubmissions()
	if err != nil {
		return nil, err
	}

	report := &model.ProtractedReport{
		GeneratedAt:        time.Now(),
		ActiveMinutesLimit: th.ActiveMinutes,
		ReEngagementLimit:  th.ReEngagements,
		Entries:            []model.ProtractedEntry{},
	}
	for _, sub := range subs {
		events, err := s.ListEngagementEvents(sub.ID)
		if err != nil {
			return nil, err
		}
		metrics := ComputeMetrics(events)
		flagged, reasons := Protracted(metrics, th)
		if !flagged {
			continue
		}

		a, err := s.GetAssessment(sub.AssessmentID)
		if err != nil {
			return nil, err
		}
		student, err := s.GetStudent(sub.StudentID)
		if err != nil {
			return nil, err
		}
		report.Entries = append(report.Entries, model.ProtractedEntry{
			SubmissionID:    sub.ID,
			AssessmentID:    a.ID,
			AssessmentTitle: a.Title,
			StudentName:     student.DisplayName,
			ActiveMinutes:   metrics.TotalActiveMinutes,
			ReEngagements:   metrics.ReEngagementCount,
			Reasons:         reasons,
			SubmittedAt:     sub.SubmittedAt,
		})
	}
	return report, nil
}
