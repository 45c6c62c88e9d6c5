package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is a school administrator user role.
	UserRoleAdmin UserRole = "admin"
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Student represents a rostered student. Consent flags gate audio
// transcription and integrity-event collection.
type Student struct {
	ID               int64      `json:"id"`
	UserID           *int64     `json:"user_id,omitempty"`
	DisplayName      string     `json:"display_name"`
	AccessCode       string     `json:"access_code"`
	AudioConsent     bool       `json:"audio_consent"`
	ConsentRevokedAt *time.Time `json:"consent_revoked_at,omitempty"`
	Disabled         bool       `json:"disabled"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ConsentOK reports whether the student may have audio recorded and
// integrity signals collected.
func (s Student) ConsentOK() bool {
	return s.AudioConsent && s.ConsentRevokedAt == nil && !s.Disabled
}

// AssessmentStatus represents the lifecycle state of an assessment.
type AssessmentStatus string

const (
	StatusDraft  AssessmentStatus = "draft"
	StatusLive   AssessmentStatus = "live"
	StatusClosed AssessmentStatus = "closed"
)

// IntegrityConfig controls which behavioral signals are collected for an
// assessment.
type IntegrityConfig struct {
	TrackTabSwitches bool `json:"track_tab_switches"`
	TrackPacing      bool `json:"track_pacing"`
	TrackScreenshots bool `json:"track_screenshots"`
}

// DefaultIntegrityConfig is what a new assessment gets unless the teacher
// chooses otherwise. Screenshot detection stays opt-in.
func DefaultIntegrityConfig() IntegrityConfig {
	return IntegrityConfig{TrackTabSwitches: true, TrackPacing: true}
}

// Assessment represents a teacher-created assessment.
type Assessment struct {
	ID        int64            `json:"id"`
	TeacherID int64            `json:"teacher_id"`
	Title     string           `json:"title"`
	Status    AssessmentStatus `json:"status"`
	Integrity IntegrityConfig  `json:"integrity"`
	CreatedAt time.Time        `json:"created_at"`
}

// QuestionType tags how a question came to exist.
type QuestionType string

const (
	QuestionOrdinary         QuestionType = "ordinary"
	QuestionEvidenceFollowup QuestionType = "evidence_followup"
	QuestionAudioFollowup    QuestionType = "audio_followup"
)

// BloomLevel is the Bloom's taxonomy level of a question.
type BloomLevel string

const (
	BloomRemember   BloomLevel = "remember"
	BloomUnderstand BloomLevel = "understand"
	BloomApply      BloomLevel = "apply"
	BloomAnalyze    BloomLevel = "analyze"
	BloomEvaluate   BloomLevel = "evaluate"
	BloomCreate     BloomLevel = "create"
)

// EvidenceRequirement controls whether a question requires an evidence upload.
type EvidenceRequirement string

const (
	EvidenceDisabled EvidenceRequirement = "disabled"
	EvidenceOptional EvidenceRequirement = "optional"
	EvidenceRequired EvidenceRequirement = "required"
)

// Question represents a single assessment question. Questions generated by
// the scoring pipeline as follow-ups carry a non-nil SubmissionID and are
// immutable.
type Question struct {
	ID           int64               `json:"id"`
	AssessmentID int64               `json:"assessment_id"`
	Text         string              `json:"text"`
	Type         QuestionType        `json:"type"`
	Bloom        BloomLevel          `json:"bloom_level"`
	Evidence     EvidenceRequirement `json:"evidence"`
	OrderIndex   int                 `json:"order_index"`
	SubmissionID *int64              `json:"submission_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// SystemGenerated reports whether the question was created by the scoring
// pipeline as a follow-up to a specific submission.
func (q Question) SystemGenerated() bool {
	return q.SubmissionID != nil
}

// RubricType is a scoring dimension. Both types must exist before an
// assessment can go live.
type RubricType string

const (
	RubricReasoning RubricType = "reasoning"
	RubricEvidence  RubricType = "evidence"
)

// Rubric holds grading instructions and an integer scale for one scoring
// dimension of an assessment. At most one rubric per (assessment, type).
type Rubric struct {
	ID           int64      `json:"id"`
	AssessmentID int64      `json:"assessment_id"`
	Type         RubricType `json:"type"`
	Instructions string     `json:"instructions"`
	ScaleMin     int        `json:"scale_min"`
	ScaleMax     int        `json:"scale_max"`
}

// SubmissionStatus represents a student's progress through an assessment.
type SubmissionStatus string

const (
	SubmissionNotStarted SubmissionStatus = "not_started"
	SubmissionInProgress SubmissionStatus = "in_progress"
	SubmissionSubmitted  SubmissionStatus = "submitted"
)

// ScoringStatus tracks AI-scoring progress, independent of SubmissionStatus.
type ScoringStatus string

const (
	ScoringPending ScoringStatus = "pending"
	ScoringRunning ScoringStatus = "scoring"
	ScoringScored  ScoringStatus = "scored"
	ScoringError   ScoringStatus = "error"
)

// Submission represents one student's run through one assessment.
type Submission struct {
	ID               int64            `json:"id"`
	AssessmentID     int64            `json:"assessment_id"`
	StudentID        int64            `json:"student_id"`
	Status           SubmissionStatus `json:"status"`
	ScoringStatus    ScoringStatus    `json:"scoring_status"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	SubmittedAt      *time.Time       `json:"submitted_at,omitempty"`
	ScoringStartedAt *time.Time       `json:"scoring_started_at,omitempty"`
	ScoredAt         *time.Time       `json:"scored_at,omitempty"`
	ScoringError     string           `json:"scoring_error,omitempty"`
}

// Answer represents one answer within a submission. Audio answers reference
// an object in the blob store and gain a transcript during scoring.
type Answer struct {
	ID                 int64     `json:"id"`
	SubmissionID       int64     `json:"submission_id"`
	QuestionID         int64     `json:"question_id"`
	Text               string    `json:"text,omitempty"`
	AudioKey           string    `json:"audio_key,omitempty"`
	AudioMime          string    `json:"audio_mime,omitempty"`
	Transcript         string    `json:"transcript,omitempty"`
	TranscriptionError string    `json:"transcription_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ScoreRecord is one rubric's score for one answer.
type ScoreRecord struct {
	ID         int64      `json:"id"`
	AnswerID   int64      `json:"answer_id"`
	RubricType RubricType `json:"rubric_type"`
	Score      int        `json:"score"`
	Rationale  string     `json:"rationale"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IntegrityEventType enumerates the behavioral signals the client may report.
type IntegrityEventType string

const (
	IntegrityTabSwitch         IntegrityEventType = "tab_switch"
	IntegrityFastStart         IntegrityEventType = "fast_start"
	IntegritySlowStart         IntegrityEventType = "slow_start"
	IntegrityLongPause         IntegrityEventType = "long_pause"
	IntegrityScreenshotAttempt IntegrityEventType = "screenshot_attempt"
)

// ValidIntegrityEventTypes is the closed set accepted by the recorder.
var ValidIntegrityEventTypes = map[IntegrityEventType]bool{
	IntegrityTabSwitch:         true,
	IntegrityFastStart:         true,
	IntegritySlowStart:         true,
	IntegrityLongPause:         true,
	IntegrityScreenshotAttempt: true,
}

// IntegrityEvent is a discrete behavioral signal tied to a submission and
// optionally a question.
type IntegrityEvent struct {
	ID           int64              `json:"id"`
	SubmissionID int64              `json:"submission_id"`
	QuestionID   *int64             `json:"question_id,omitempty"`
	Type         IntegrityEventType `json:"type"`
	DurationMS   *int64             `json:"duration_ms,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// EngagementEventType enumerates the append-only time-on-task markers.
type EngagementEventType string

const (
	EngagementStarted   EngagementEventType = "started"
	EngagementPaused    EngagementEventType = "paused"
	EngagementResumed   EngagementEventType = "resumed"
	EngagementSubmitted EngagementEventType = "submitted"
)

// EngagementEvent is an append-only start/pause/resume/submit marker used to
// reconstruct active time-on-task. Never mutated or deleted.
type EngagementEvent struct {
	ID           int64               `json:"id"`
	SubmissionID int64               `json:"submission_id"`
	AssessmentID int64               `json:"assessment_id"`
	StudentID    int64               `json:"student_id"`
	Type         EngagementEventType `json:"type"`
	CreatedAt    time.Time           `json:"created_at"`
}

// VisualAsset is the single current cover image for an assessment.
type VisualAsset struct {
	ID           int64     `json:"id"`
	AssessmentID int64     `json:"assessment_id"`
	ObjectKey    string    `json:"object_key"`
	Mime         string    `json:"mime"`
	UploadedBy   int64     `json:"uploaded_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// AIOperation is an observability record for one external AI call made by
// the scoring pipeline.
type AIOperation struct {
	ID           int64     `json:"id"`
	Operation    string    `json:"operation"`
	AssessmentID int64     `json:"assessment_id"`
	StudentID    int64     `json:"student_id"`
	SubmissionID int64     `json:"submission_id"`
	QuestionID   int64     `json:"question_id"`
	Model        string    `json:"model"`
	LatencyMS    int64     `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubmissionView combines a submission with its answers and scores for
// teacher review.
type SubmissionView struct {
	Submission Submission   `json:"submission"`
	Student    Student      `json:"student"`
	Answers    []AnswerView `json:"answers"`
	Followups  []Question   `json:"followups,omitempty"`
}

// AnswerView combines an answer with its question and scores.
type AnswerView struct {
	Answer   Answer        `json:"answer"`
	Question Question      `json:"question"`
	Scores   []ScoreRecord `json:"scores,omitempty"`
}
