package model

import "time"

// ProtractedReport is the top-level JSON structure for the administrative
// protracted-submissions report.
type ProtractedReport struct {
	GeneratedAt        time.Time         `json:"generated_at"`
	ActiveMinutesLimit int               `json:"active_minutes_limit"`
	ReEngagementLimit  int               `json:"re_engagement_limit"`
	Entries            []ProtractedEntry `json:"entries"`
}

// ProtractedEntry is one flagged submission in the report.
type ProtractedEntry struct {
	SubmissionID    int64      `json:"submission_id"`
	AssessmentID    int64      `json:"assessment_id"`
	AssessmentTitle string     `json:"assessment_title"`
	StudentName     string     `json:"student_name"`
	ActiveMinutes   int        `json:"active_minutes"`
	ReEngagements   int        `json:"re_engagements"`
	Reasons         []string   `json:"reasons"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
}
