package validate

import (
	"strings"
	"testing"

	"github.com/pavelanni/viva/internal/model"
)

func rubric(t model.RubricType, instructions string, min, max int) model.Rubric {
	return model.Rubric{Type: t, Instructions: instructions, ScaleMin: min, ScaleMax: max}
}

func question(id int64, text string) model.Question {
	return model.Question{ID: id, AssessmentID: 1, Text: text, Type: model.QuestionOrdinary}
}

func goodRubrics() []model.Rubric {
	return []model.Rubric{
		rubric(model.RubricReasoning, "Score 1-5 based on clarity of reasoning", 1, 5),
		rubric(model.RubricEvidence, "Rate the cited evidence", 1, 4),
	}
}

func TestNoRubrics(t *testing.T) {
	t.Run("both missing", func(t *testing.T) {
		res := AssessmentPhase1([]model.Question{question(1, "Why?")}, nil)
		if res.CanPublish {
			t.Error("expected CanPublish false")
		}
		var noRubrics []Error
		for _, e := range res.CriticalErrors {
			if e.Code == CodeNoRubrics {
				noRubrics = append(noRubrics, e)
			}
		}
		if len(noRubrics) != 1 {
			t.Fatalf("expected exactly 1 no_rubrics error, got %d", len(noRubrics))
		}
		if noRubrics[0].Message != "No rubrics have been defined" {
			t.Errorf("unexpected combined message: %q", noRubrics[0].Message)
		}
	})

	t.Run("only evidence missing", func(t *testing.T) {
		rubrics := []model.Rubric{rubric(model.RubricReasoning, "Judge the logic", 1, 5)}
		res := AssessmentPhase1(nil, rubrics)
		if len(res.CriticalErrors) != 1 {
			t.Fatalf("expected 1 error, got %d: %v", len(res.CriticalErrors), res.CriticalErrors)
		}
		e := res.CriticalErrors[0]
		if e.Code != CodeNoRubrics {
			t.Errorf("expected no_rubrics, got %q", e.Code)
		}
		if e.RubricType != model.RubricEvidence {
			t.Errorf("expected evidence rubric named, got %q", e.RubricType)
		}
		if !strings.Contains(e.Message, "evidence") {
			t.Errorf("message should name the missing type: %q", e.Message)
		}
		if strings.Contains(e.Message, "reasoning") {
			t.Errorf("message should not name the present type: %q", e.Message)
		}
	})
}

func TestEmptyRubric(t *testing.T) {
	rubrics := []model.Rubric{
		rubric(model.RubricReasoning, "   \t ", 1, 5),
		rubric(model.RubricEvidence, "Rate evidence 1-4", 1, 4),
	}
	res := AssessmentPhase1(nil, rubrics)
	if len(res.CriticalErrors) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(res.CriticalErrors), res.CriticalErrors)
	}
	if res.CriticalErrors[0].Code != CodeEmptyRubric {
		t.Errorf("expected empty_rubric, got %q", res.CriticalErrors[0].Code)
	}
	// An empty rubric must not also produce a scale check error.
	for _, e := range res.CriticalErrors {
		if e.Code == CodeScaleMismatch {
			t.Error("empty rubric should skip the scale check")
		}
	}
}

func TestScaleMismatch(t *testing.T) {
	tests := []struct {
		name         string
		instructions string
		min, max     int
		wantMismatch bool
	}{
		{"matching range", "Score 1-5 based on clarity", 1, 5, false},
		{"mismatched range", "Score 1-5 based on clarity", 1, 4, true},
		{"no range at all", "Use your best judgment", 1, 4, false},
		{"en dash", "Score 1–5 based on clarity", 1, 5, false},
		{"em dash mismatch", "Score 2—6 on depth", 1, 5, true},
		{"multiple ranges aggregate", "Give 1-3 for weak, 4-5 for strong", 1, 5, false},
		{"multiple ranges aggregate mismatch", "Give 1-3 for weak, 4-6 for strong", 1, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rubrics := []model.Rubric{
				rubric(model.RubricReasoning, tt.instructions, tt.min, tt.max),
				rubric(model.RubricEvidence, "Rate the evidence", 1, 4),
			}
			res := AssessmentPhase1(nil, rubrics)
			var got []Error
			for _, e := range res.CriticalErrors {
				if e.Code == CodeScaleMismatch {
					got = append(got, e)
				}
			}
			if tt.wantMismatch && len(got) != 1 {
				t.Fatalf("expected 1 scale_mismatch, got %d: %v", len(got), res.CriticalErrors)
			}
			if !tt.wantMismatch && len(got) != 0 {
				t.Fatalf("expected no scale_mismatch, got %v", got)
			}
		})
	}
}

func TestScaleMismatchMessageNamesBothRanges(t *testing.T) {
	rubrics := []model.Rubric{
		rubric(model.RubricReasoning, "Score 1-5 based on clarity", 1, 4),
		rubric(model.RubricEvidence, "Rate the evidence", 1, 4),
	}
	res := AssessmentPhase1(nil, rubrics)
	if len(res.CriticalErrors) != 1 {
		t.Fatalf("expected 1 error, got %v", res.CriticalErrors)
	}
	msg := res.CriticalErrors[0].Message
	if !strings.Contains(msg, "1-5") || !strings.Contains(msg, "1-4") {
		t.Errorf("message should name both ranges, got %q", msg)
	}
}

func TestEmptyQuestion(t *testing.T) {
	questions := []model.Question{
		question(10, "A real question?"),
		question(11, "  "),
		question(12, ""),
	}
	res := AssessmentPhase1(questions, goodRubrics())
	if len(res.CriticalErrors) != 2 {
		t.Fatalf("expected 2 errors, got %d: %v", len(res.CriticalErrors), res.CriticalErrors)
	}
	for i, wantID := range []int64{11, 12} {
		e := res.CriticalErrors[i]
		if e.Code != CodeEmptyQuestion {
			t.Errorf("error %d: expected empty_question, got %q", i, e.Code)
		}
		if e.QuestionID != wantID {
			t.Errorf("error %d: expected question %d, got %d", i, wantID, e.QuestionID)
		}
	}
}

func TestCanPublishIffNoErrors(t *testing.T) {
	res := AssessmentPhase1([]model.Question{question(1, "Explain photosynthesis.")}, goodRubrics())
	if !res.CanPublish {
		t.Errorf("expected CanPublish true, got errors: %v", res.CriticalErrors)
	}
	if len(res.CriticalErrors) != 0 {
		t.Errorf("expected no errors, got %v", res.CriticalErrors)
	}

	res = AssessmentPhase1([]model.Question{question(1, "")}, goodRubrics())
	if res.CanPublish {
		t.Error("expected CanPublish false when errors exist")
	}
}

func TestErrorOrderingStable(t *testing.T) {
	rubrics := []model.Rubric{
		rubric(model.RubricReasoning, "", 1, 5),
		rubric(model.RubricEvidence, "Score 1-9 overall", 1, 4),
	}
	questions := []model.Question{question(5, ""), question(6, "ok"), question(7, " ")}

	res := AssessmentPhase1(questions, rubrics)
	wantCodes := []ErrorCode{CodeEmptyRubric, CodeScaleMismatch, CodeEmptyQuestion, CodeEmptyQuestion}
	if len(res.CriticalErrors) != len(wantCodes) {
		t.Fatalf("expected %d errors, got %d: %v", len(wantCodes), len(res.CriticalErrors), res.CriticalErrors)
	}
	for i, want := range wantCodes {
		if res.CriticalErrors[i].Code != want {
			t.Errorf("error %d: expected %q, got %q", i, want, res.CriticalErrors[i].Code)
		}
	}
	// Re-running must give the identical order.
	again := AssessmentPhase1(questions, rubrics)
	for i := range res.CriticalErrors {
		if res.CriticalErrors[i] != again.CriticalErrors[i] {
			t.Fatalf("unstable ordering at %d: %v vs %v", i, res.CriticalErrors[i], again.CriticalErrors[i])
		}
	}
}
