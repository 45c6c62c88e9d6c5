// Package validate decides whether a draft assessment may go live. It is
// pure: no I/O, deterministic output, stable error ordering.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/viva/internal/model"
)

// ErrorCode classifies a blocking publish error.
type ErrorCode string

const (
	CodeNoRubrics     ErrorCode = "no_rubrics"
	CodeEmptyRubric   ErrorCode = "empty_rubric"
	CodeScaleMismatch ErrorCode = "scale_mismatch"
	CodeEmptyQuestion ErrorCode = "empty_question"
)

// Error is one blocking reason reported to the teacher. All blocking reasons
// are reported at once so they can be fixed in one pass.
type Error struct {
	Code       ErrorCode        `json:"code"`
	Message    string           `json:"message"`
	RubricType model.RubricType `json:"rubric_type,omitempty"`
	QuestionID int64            `json:"question_id,omitempty"`
}

// Result is the outcome of a publish check.
type Result struct {
	CanPublish     bool    `json:"can_publish"`
	CriticalErrors []Error `json:"critical_errors"`
}

// rangeRegex matches numeric ranges like "1-5", "0–10" or "1—4" (hyphen,
// en dash, or em dash).
var rangeRegex = regexp.MustCompile(`(\d+)[-–—](\d+)`)

var requiredRubricTypes = []model.RubricType{model.RubricReasoning, model.RubricEvidence}

// AssessmentPhase1 checks questions and rubrics for publish-blocking
// problems. Rubric errors come first (set-level, then per rubric in input
// order), then question errors in input order.
func AssessmentPhase1(questions []model.Question, rubrics []model.Rubric) Result {
	var errs []Error

	present := make(map[model.RubricType]bool, len(rubrics))
	for _, r := range rubrics {
		present[r.Type] = true
	}
	var missing []model.RubricType
	for _, t := range requiredRubricTypes {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	switch len(missing) {
	case len(requiredRubricTypes):
		errs = append(errs, Error{
			Code:    CodeNoRubrics,
			Message: "No rubrics have been defined",
		})
	case 0:
	default:
		for _, t := range missing {
			errs = append(errs, Error{
				Code:       CodeNoRubrics,
				Message:    fmt.Sprintf("Missing required %s rubric", t),
				RubricType: t,
			})
		}
	}

	for _, r := range rubrics {
		instructions := strings.TrimSpace(r.Instructions)
		if instructions == "" {
			errs = append(errs, Error{
				Code:       CodeEmptyRubric,
				Message:    fmt.Sprintf("The %s rubric has no instructions", r.Type),
				RubricType: r.Type,
			})
			continue
		}
		if refMin, refMax, ok := referencedRange(instructions); ok {
			if refMin != r.ScaleMin || refMax != r.ScaleMax {
				errs = append(errs, Error{
					Code: CodeScaleMismatch,
					Message: fmt.Sprintf(
						"The %s rubric instructions reference range %d-%d but the configured scale is %d-%d",
						r.Type, refMin, refMax, r.ScaleMin, r.ScaleMax),
					RubricType: r.Type,
				})
			}
		}
	}

	for _, q := range questions {
		if strings.TrimSpace(q.Text) == "" {
			errs = append(errs, Error{
				Code:       CodeEmptyQuestion,
				Message:    fmt.Sprintf("Question %d has no text", q.ID),
				QuestionID: q.ID,
			})
		}
	}

	return Result{CanPublish: len(errs) == 0, CriticalErrors: errs}
}

// referencedRange scans instructions for numeric ranges and folds all
// matches into one inferred range: the minimum of all starts and the
// maximum of all ends. ok is false when no range-like substring exists.
func referencedRange(instructions string) (min, max int, ok bool) {
	matches := rangeRegex.FindAllStringSubmatch(instructions, -1)
	for _, m := range matches {
		lo, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		hi, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if !ok {
			min, max, ok = lo, hi, true
			continue
		}
		if lo < min {
			min = lo
		}
		if hi > max {
			max = hi
		}
	}
	return min, max, ok
}
