package scoring

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// DefaultSweepLimit is used when a sweep request does not specify a limit.
	DefaultSweepLimit = 3
	// MaxSweepLimit caps the number of submissions one sweep may process.
	MaxSweepLimit = 10
)

// SweepResult reports the outcome for one submission in a sweep.
type SweepResult struct {
	SubmissionID int64  `json:"id"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

// RunSweep scores up to limit submitted submissions whose scoring is pending
// or errored, oldest submitted first. One submission's failure never stops
// the rest: each gets its own result entry. A limit of zero or less falls
// back to DefaultSweepLimit; anything above MaxSweepLimit is clamped.
func (p *Pipeline) RunSweep(ctx context.Context, limit int) ([]SweepResult, error) {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	if limit > MaxSweepLimit {
		limit = MaxSweepLimit
	}

	subs, err := p.store.SelectForScoring(limit)
	if err != nil {
		return nil, fmt.Errorf("select submissions for scoring: %w", err)
	}

	results := make([]SweepResult, 0, len(subs))
	for _, sub := range subs {
		results = append(results, p.sweepOne(ctx, sub.ID))
	}

	slog.Info("scoring sweep finished", "selected", len(subs), "limit", limit)
	return results, nil
}

// sweepOne scores a single submission, converting any panic into an error
// result so a pathological item cannot take the sweep down. The panic is
// also recorded as the submission's scoring error: without that the row
// would sit at status scoring, which no later sweep selects.
func (p *Pipeline) sweepOne(ctx context.Context, submissionID int64) (res SweepResult) {
	res = SweepResult{SubmissionID: submissionID, OK: true}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while scoring submission", "submission_id", submissionID, "panic", r)
			res.OK = false
			res.Error = fmt.Sprintf("panic: %v", r)
			if err := p.store.MarkScoringError(submissionID, res.Error); err != nil {
				slog.Error("failed to record panic as scoring error",
					"submission_id", submissionID, "error", err)
			}
		}
	}()

	if err := p.ScoreSubmission(ctx, submissionID); err != nil {
		slog.Error("sweep scoring failed", "submission_id", submissionID, "error", err)
		res.OK = false
		res.Error = err.Error()
	}
	return res
}
