// Package scoring orchestrates AI scoring of submitted assessments:
// transcription of audio answers, per-rubric scoring, follow-up question
// generation, and scoring-status bookkeeping.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

var errBlobsUnavailable = errors.New("blob storage not configured")

// AI is the generative capability surface the pipeline consumes. Implemented
// by *llm.Client; faked in tests.
type AI interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	ScoreAnswer(ctx context.Context, q model.Question, r model.Rubric, transcript string) (*llm.ScoreResult, error)
	GenerateFollowup(ctx context.Context, questionText, transcript string) (string, error)
	ModelName() string
}

// BlobStore fetches stored audio answer objects. Implemented by
// *assets.Store.
type BlobStore interface {
	Download(key string) ([]byte, error)
}

// Pipeline scores submissions. Safe for concurrent use: all state lives in
// the store.
type Pipeline struct {
	store *store.Store
	ai    AI
	blobs BlobStore
}

// New creates a scoring pipeline.
func New(s *store.Store, ai AI, blobs BlobStore) *Pipeline {
	return &Pipeline{store: s, ai: ai, blobs: blobs}
}

// ScoreSubmission runs the full scoring pass for one submission. It is
// idempotent: an already-scored submission is left untouched. A failed run
// leaves scoring_status at error with a message; the error state is
// re-enterable by the sweep or a forced re-score.
func (p *Pipeline) ScoreSubmission(ctx context.Context, submissionID int64) error {
	claimed, err := p.store.BeginScoring(submissionID)
	if err != nil {
		return fmt.Errorf("claim submission %d: %w", submissionID, err)
	}
	if !claimed {
		sub, err := p.store.GetSubmission(submissionID)
		if err != nil {
			return fmt.Errorf("load submission %d: %w", submissionID, err)
		}
		slog.Info("submission not claimable, skipping",
			"submission_id", submissionID, "scoring_status", sub.ScoringStatus)
		return nil
	}

	if err := p.run(ctx, submissionID); err != nil {
		if markErr := p.store.MarkScoringError(submissionID, err.Error()); markErr != nil {
			slog.Error("failed to record scoring error", "submission_id", submissionID, "error", markErr)
		}
		return err
	}
	return p.store.MarkScored(submissionID)
}

// ForceRescore resets a submission to pending (clearing prior timestamps and
// error) and runs the pipeline again. Used for manual retry after a fix.
func (p *Pipeline) ForceRescore(ctx context.Context, submissionID int64) error {
	if err := p.store.ResetScoring(submissionID); err != nil {
		return fmt.Errorf("reset submission %d: %w", submissionID, err)
	}
	return p.ScoreSubmission(ctx, submissionID)
}

func (p *Pipeline) run(ctx context.Context, submissionID int64) error {
	sub, err := p.store.GetSubmission(submissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	rubrics, err := p.store.ListRubrics(sub.AssessmentID)
	if err != nil {
		return fmt.Errorf("load rubrics: %w", err)
	}
	answers, err := p.store.ListAnswers(submissionID)
	if err != nil {
		return fmt.Errorf("load answers: %w", err)
	}
	existing, err := p.store.ListFollowupQuestions(submissionID)
	if err != nil {
		return fmt.Errorf("load follow-up questions: %w", err)
	}
	// Follow-ups survive a forced re-score: they are immutable questions, so
	// a retry must not insert a second set.
	hasFollowups := len(existing) > 0

	var failures []string
	for _, a := range answers {
		transcript, ok := p.transcriptFor(ctx, sub, a)
		if !ok {
			// Unscorable evidence, not a pipeline fault.
			continue
		}

		for _, r := range rubrics {
			if err := p.scoreOne(ctx, sub, a, r, transcript); err != nil {
				failures = append(failures, fmt.Sprintf("answer %d %s: %v", a.ID, r.Type, err))
			}
		}

		if !hasFollowups {
			p.generateFollowup(ctx, sub, a, transcript)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("scoring failures: %s", strings.Join(failures, "; "))
	}
	return nil
}

// transcriptFor returns the scorable text for an answer: the text body, or
// the transcript of its audio object. A transcription failure is recorded on
// the answer and isolated; it never aborts scoring of the other answers.
func (p *Pipeline) transcriptFor(ctx context.Context, sub model.Submission, a model.Answer) (string, bool) {
	if a.AudioKey == "" {
		text := strings.TrimSpace(a.Text)
		return text, text != ""
	}
	if a.Transcript != "" {
		return a.Transcript, true
	}

	if p.blobs == nil {
		p.recordTranscriptionFailure(sub, a, errBlobsUnavailable)
		return "", false
	}
	audio, err := p.blobs.Download(a.AudioKey)
	if err != nil {
		p.recordTranscriptionFailure(sub, a, err)
		return "", false
	}

	started := time.Now()
	transcript, err := p.ai.Transcribe(ctx, audio, a.AudioMime)
	p.logOperation("transcribe", sub, a.QuestionID, started, err)
	if err != nil {
		p.recordTranscriptionFailure(sub, a, err)
		return "", false
	}

	if err := p.store.SetTranscript(a.ID, transcript); err != nil {
		slog.Error("failed to save transcript", "answer_id", a.ID, "error", err)
		return "", false
	}
	return transcript, strings.TrimSpace(transcript) != ""
}

func (p *Pipeline) recordTranscriptionFailure(sub model.Submission, a model.Answer, err error) {
	slog.Warn("transcription failed, answer unscorable",
		"submission_id", sub.ID, "answer_id", a.ID, "error", err)
	if saveErr := p.store.SetTranscriptionError(a.ID, err.Error()); saveErr != nil {
		slog.Error("failed to record transcription error", "answer_id", a.ID, "error", saveErr)
	}
}

func (p *Pipeline) scoreOne(ctx context.Context, sub model.Submission, a model.Answer, r model.Rubric, transcript string) error {
	question, err := p.store.GetQuestion(a.QuestionID)
	if err != nil {
		return fmt.Errorf("load question %d: %w", a.QuestionID, err)
	}

	started := time.Now()
	result, err := p.ai.ScoreAnswer(ctx, question, r, transcript)
	p.logOperation("score_"+string(r.Type), sub, a.QuestionID, started, err)
	if err != nil {
		return err
	}

	return p.store.UpsertScore(model.ScoreRecord{
		AnswerID:   a.ID,
		RubricType: r.Type,
		Score:      result.Score,
		Rationale:  result.Rationale,
	})
}

// generateFollowup asks for at most one follow-up question and, when one
// comes back, persists it as an immutable question tied to the submission.
// Failures here are soft: logged and skipped, never failing the run.
func (p *Pipeline) generateFollowup(ctx context.Context, sub model.Submission, a model.Answer, transcript string) {
	question, err := p.store.GetQuestion(a.QuestionID)
	if err != nil {
		slog.Error("failed to load question for follow-up", "question_id", a.QuestionID, "error", err)
		return
	}

	started := time.Now()
	followup, err := p.ai.GenerateFollowup(ctx, question.Text, transcript)
	p.logOperation("followup", sub, a.QuestionID, started, err)
	if err != nil {
		slog.Warn("follow-up generation failed, skipping",
			"submission_id", sub.ID, "question_id", a.QuestionID, "error", err)
		return
	}
	if followup == "" {
		return
	}

	qType := model.QuestionEvidenceFollowup
	if a.AudioKey != "" {
		qType = model.QuestionAudioFollowup
	}
	subID := sub.ID
	_, err = p.store.InsertQuestion(model.Question{
		AssessmentID: sub.AssessmentID,
		Text:         followup,
		Type:         qType,
		Bloom:        question.Bloom,
		SubmissionID: &subID,
	})
	if err != nil {
		slog.Error("failed to persist follow-up question",
			"submission_id", sub.ID, "question_id", a.QuestionID, "error", err)
	}
}

func (p *Pipeline) logOperation(operation string, sub model.Submission, questionID int64, started time.Time, err error) {
	op := model.AIOperation{
		Operation:    operation,
		AssessmentID: sub.AssessmentID,
		StudentID:    sub.StudentID,
		SubmissionID: sub.ID,
		QuestionID:   questionID,
		Model:        p.ai.ModelName(),
		LatencyMS:    time.Since(started).Milliseconds(),
	}
	if err != nil {
		op.Error = err.Error()
	}
	p.store.InsertAIOperation(op)
}
