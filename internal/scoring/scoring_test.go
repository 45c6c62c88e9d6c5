package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/store"
)

type fakeAI struct {
	scoreCalls    int
	transcribeErr error
	scoreFailOn   string // fail scoring when the transcript contains this marker
	scorePanic    bool
	followup      string
	followupErr   error
}

func (f *fakeAI) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return "transcribed: " + string(audio), nil
}

func (f *fakeAI) ScoreAnswer(_ context.Context, _ model.Question, r model.Rubric, transcript string) (*llm.ScoreResult, error) {
	f.scoreCalls++
	if f.scorePanic {
		panic("scorer exploded")
	}
	if f.scoreFailOn != "" && strings.Contains(transcript, f.scoreFailOn) {
		return nil, errors.New("model unavailable")
	}
	return &llm.ScoreResult{Score: r.ScaleMax - 1, Rationale: "clear causal chain"}, nil
}

func (f *fakeAI) GenerateFollowup(_ context.Context, _, _ string) (string, error) {
	return f.followup, f.followupErr
}

func (f *fakeAI) ModelName() string { return "fake-model" }

type fakeBlobs struct {
	objects map[string][]byte
}

func (f fakeBlobs) Download(key string) ([]byte, error) {
	b, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return b, nil
}

type fixture struct {
	store        *store.Store
	assessmentID int64
	questionID   int64
	studentID    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	aid, err := s.CreateAssessment(model.Assessment{TeacherID: 1, Title: "Photosynthesis"})
	if err != nil {
		t.Fatalf("failed to create assessment: %v", err)
	}
	for _, rt := range []model.RubricType{model.RubricReasoning, model.RubricEvidence} {
		err := s.UpsertRubric(model.Rubric{
			AssessmentID: aid,
			Type:         rt,
			Instructions: "Score the answer from 1 to 5.",
			ScaleMin:     1,
			ScaleMax:     5,
		})
		if err != nil {
			t.Fatalf("failed to create %s rubric: %v", rt, err)
		}
	}
	qid, err := s.InsertQuestion(model.Question{
		AssessmentID: aid,
		Text:         "Why do leaves turn yellow in autumn?",
		Type:         model.QuestionOrdinary,
		Bloom:        model.BloomAnalyze,
	})
	if err != nil {
		t.Fatalf("failed to create question: %v", err)
	}
	sid, err := s.CreateStudent(model.Student{DisplayName: "Riley", AudioConsent: true}, store.DefaultCodeAttempts)
	if err != nil {
		t.Fatalf("failed to create student: %v", err)
	}
	if err := s.PublishAssessment(aid); err != nil {
		t.Fatalf("failed to publish assessment: %v", err)
	}
	return &fixture{store: s, assessmentID: aid, questionID: qid, studentID: sid}
}

// submitted creates a submission holding one answer and walks it to the
// submitted state.
func (f *fixture) submitted(t *testing.T, a model.Answer) int64 {
	t.Helper()
	subID, err := f.store.CreateSubmission(f.assessmentID, f.studentID)
	if err != nil {
		t.Fatalf("failed to create submission: %v", err)
	}
	if err := f.store.StartSubmission(subID); err != nil {
		t.Fatalf("failed to start submission: %v", err)
	}
	a.SubmissionID = subID
	a.QuestionID = f.questionID
	if _, err := f.store.UpsertAnswer(a); err != nil {
		t.Fatalf("failed to save answer: %v", err)
	}
	if err := f.store.SubmitSubmission(subID); err != nil {
		t.Fatalf("failed to submit submission: %v", err)
	}
	return subID
}

func (f *fixture) mustSubmission(t *testing.T, id int64) model.Submission {
	t.Helper()
	sub, err := f.store.GetSubmission(id)
	if err != nil {
		t.Fatalf("failed to load submission: %v", err)
	}
	return sub
}

func TestScoreSubmissionTextAnswer(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{followup: "What evidence supports that explanation?"}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "Chlorophyll breaks down when days shorten."})
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}

	sub := f.mustSubmission(t, subID)
	if sub.ScoringStatus != model.ScoringScored {
		t.Errorf("scoring_status = %s, want scored", sub.ScoringStatus)
	}
	if sub.ScoredAt == nil {
		t.Error("expected scored_at to be set")
	}

	answers, err := f.store.ListAnswers(subID)
	if err != nil {
		t.Fatalf("failed to list answers: %v", err)
	}
	scores, err := f.store.ListScores(answers[0].ID)
	if err != nil {
		t.Fatalf("failed to list scores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want one per rubric (2)", len(scores))
	}
	for _, sc := range scores {
		if sc.Score != 4 || sc.Rationale == "" {
			t.Errorf("score %s = %d (%q), want 4 with a rationale", sc.RubricType, sc.Score, sc.Rationale)
		}
	}
}

func TestScoreSubmissionCreatesImmutableFollowup(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{followup: "What evidence supports that explanation?"}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "Chlorophyll breaks down when days shorten."})
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}

	followups, err := f.store.ListFollowupQuestions(subID)
	if err != nil {
		t.Fatalf("failed to list follow-ups: %v", err)
	}
	if len(followups) != 1 {
		t.Fatalf("got %d follow-ups, want 1", len(followups))
	}
	fu := followups[0]
	if fu.Text != ai.followup {
		t.Errorf("follow-up text = %q, want %q", fu.Text, ai.followup)
	}
	if !fu.SystemGenerated() {
		t.Error("follow-up should be tied to the submission")
	}

	fu.Text = "edited"
	if err := f.store.UpdateQuestion(fu); !errors.Is(err, store.ErrImmutableQuestion) {
		t.Errorf("editing a follow-up returned %v, want ErrImmutableQuestion", err)
	}
	if err := f.store.DeleteQuestion(fu.ID); !errors.Is(err, store.ErrImmutableQuestion) {
		t.Errorf("deleting a follow-up returned %v, want ErrImmutableQuestion", err)
	}
}

func TestScoreSubmissionAudioAnswer(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{}
	blobs := fakeBlobs{objects: map[string][]byte{"answers/abc": []byte("spoken answer")}}
	p := New(f.store, ai, blobs)

	subID := f.submitted(t, model.Answer{AudioKey: "answers/abc", AudioMime: "audio/webm"})
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}

	answers, err := f.store.ListAnswers(subID)
	if err != nil {
		t.Fatalf("failed to list answers: %v", err)
	}
	if got, want := answers[0].Transcript, "transcribed: spoken answer"; got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
	if sub := f.mustSubmission(t, subID); sub.ScoringStatus != model.ScoringScored {
		t.Errorf("scoring_status = %s, want scored", sub.ScoringStatus)
	}
}

func TestTranscriptionFailureIsIsolated(t *testing.T) {
	f := newFixture(t)

	// Second question so the submission holds a scorable text answer next to
	// the failing audio one.
	q2, err := f.store.InsertQuestion(model.Question{
		AssessmentID: f.assessmentID,
		Text:         "What would happen without chlorophyll?",
		Type:         model.QuestionOrdinary,
		Bloom:        model.BloomEvaluate,
	})
	if err != nil {
		t.Fatalf("failed to create second question: %v", err)
	}

	subID := f.submitted(t, model.Answer{AudioKey: "answers/missing", AudioMime: "audio/webm"})
	if _, err := f.store.UpsertAnswer(model.Answer{
		SubmissionID: subID,
		QuestionID:   q2,
		Text:         "Leaves could not capture light.",
	}); err != nil {
		t.Fatalf("failed to save text answer: %v", err)
	}

	ai := &fakeAI{}
	p := New(f.store, ai, fakeBlobs{}) // empty blob store: download fails
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}

	if sub := f.mustSubmission(t, subID); sub.ScoringStatus != model.ScoringScored {
		t.Errorf("scoring_status = %s, want scored despite unscorable audio", sub.ScoringStatus)
	}

	answers, err := f.store.ListAnswers(subID)
	if err != nil {
		t.Fatalf("failed to list answers: %v", err)
	}
	for _, a := range answers {
		scores, err := f.store.ListScores(a.ID)
		if err != nil {
			t.Fatalf("failed to list scores: %v", err)
		}
		switch {
		case a.AudioKey != "":
			if a.TranscriptionError == "" {
				t.Error("expected a transcription error on the audio answer")
			}
			if len(scores) != 0 {
				t.Errorf("audio answer got %d scores, want none", len(scores))
			}
		default:
			if len(scores) != 2 {
				t.Errorf("text answer got %d scores, want 2", len(scores))
			}
		}
	}
}

func TestScoringFailureIsReenterable(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{scoreFailOn: "BOOM"}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "BOOM"})
	if err := p.ScoreSubmission(context.Background(), subID); err == nil {
		t.Fatal("expected an error from the failing scorer")
	}

	sub := f.mustSubmission(t, subID)
	if sub.ScoringStatus != model.ScoringError {
		t.Fatalf("scoring_status = %s, want error", sub.ScoringStatus)
	}
	if sub.ScoringError == "" {
		t.Error("expected a captured error message")
	}

	// After the model recovers, the same submission scores without a reset.
	ai.scoreFailOn = ""
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	sub = f.mustSubmission(t, subID)
	if sub.ScoringStatus != model.ScoringScored {
		t.Errorf("scoring_status = %s, want scored after retry", sub.ScoringStatus)
	}
	if sub.ScoringError != "" {
		t.Errorf("scoring_error = %q, want cleared", sub.ScoringError)
	}
}

func TestScoreSubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "Chlorophyll breaks down."})
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}
	calls := ai.scoreCalls

	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if ai.scoreCalls != calls {
		t.Errorf("second run made %d extra model calls, want none", ai.scoreCalls-calls)
	}
}

func TestForceRescoreRunsAgain(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "Chlorophyll breaks down."})
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}
	calls := ai.scoreCalls

	if err := p.ForceRescore(context.Background(), subID); err != nil {
		t.Fatalf("forced re-score failed: %v", err)
	}
	if ai.scoreCalls <= calls {
		t.Error("forced re-score should call the model again")
	}
	if sub := f.mustSubmission(t, subID); sub.ScoringStatus != model.ScoringScored {
		t.Errorf("scoring_status = %s, want scored", sub.ScoringStatus)
	}
}

func TestRunSweepIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{scoreFailOn: "BOOM"}
	p := New(f.store, ai, fakeBlobs{})

	first := f.submitted(t, model.Answer{Text: "first answer"})
	second := f.submitted(t, model.Answer{Text: "BOOM"})
	third := f.submitted(t, model.Answer{Text: "third answer"})

	results, err := p.RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	want := []struct {
		id int64
		ok bool
	}{{first, true}, {second, false}, {third, true}}
	for i, w := range want {
		if results[i].SubmissionID != w.id || results[i].OK != w.ok {
			t.Errorf("result %d = {id: %d, ok: %t}, want {id: %d, ok: %t}",
				i, results[i].SubmissionID, results[i].OK, w.id, w.ok)
		}
	}
	if results[1].Error == "" {
		t.Error("failed item should carry an error message")
	}

	if sub := f.mustSubmission(t, second); sub.ScoringStatus != model.ScoringError {
		t.Errorf("failed submission scoring_status = %s, want error", sub.ScoringStatus)
	}
	if sub := f.mustSubmission(t, third); sub.ScoringStatus != model.ScoringScored {
		t.Errorf("submission after the failure scoring_status = %s, want scored", sub.ScoringStatus)
	}
}

func TestForceRescoreKeepsSingleFollowup(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{followup: "What evidence supports that explanation?"}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "Chlorophyll breaks down when days shorten."})
	if err := p.ScoreSubmission(context.Background(), subID); err != nil {
		t.Fatalf("scoring failed: %v", err)
	}
	if err := p.ForceRescore(context.Background(), subID); err != nil {
		t.Fatalf("forced re-score failed: %v", err)
	}

	followups, err := f.store.ListFollowupQuestions(subID)
	if err != nil {
		t.Fatalf("failed to list follow-ups: %v", err)
	}
	if len(followups) != 1 {
		t.Fatalf("got %d follow-ups after forced re-score, want 1", len(followups))
	}
}

func TestRunSweepRecordsPanicAsScoringError(t *testing.T) {
	f := newFixture(t)
	ai := &fakeAI{scorePanic: true}
	p := New(f.store, ai, fakeBlobs{})

	subID := f.submitted(t, model.Answer{Text: "any answer"})

	results, err := p.RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(results) != 1 || results[0].OK {
		t.Fatalf("got %+v, want one failed result", results)
	}

	sub := f.mustSubmission(t, subID)
	if sub.ScoringStatus != model.ScoringError {
		t.Fatalf("scoring_status = %s, want error after a panic", sub.ScoringStatus)
	}
	if sub.ScoringError == "" {
		t.Error("expected the panic to be captured as the scoring error")
	}

	// Once the scorer behaves, the next sweep picks the submission up again.
	ai.scorePanic = false
	results, err = p.RunSweep(context.Background(), 0)
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if len(results) != 1 || !results[0].OK {
		t.Fatalf("got %+v, want the recovered submission scored", results)
	}
	if sub := f.mustSubmission(t, subID); sub.ScoringStatus != model.ScoringScored {
		t.Errorf("scoring_status = %s, want scored after retry", sub.ScoringStatus)
	}
}

func TestRunSweepClampsLimit(t *testing.T) {
	f := newFixture(t)
	p := New(f.store, &fakeAI{}, fakeBlobs{})

	for i := 0; i < MaxSweepLimit+2; i++ {
		f.submitted(t, model.Answer{Text: fmt.Sprintf("answer %d", i)})
	}

	results, err := p.RunSweep(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(results) != MaxSweepLimit {
		t.Errorf("got %d results, want the clamped limit %d", len(results), MaxSweepLimit)
	}
}
