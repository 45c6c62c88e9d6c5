// Package engage reconstructs active time-on-task from the append-only
// engagement event log of a submission.
package engage

import (
	"math"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// Metrics is the replay result for one submission.
type Metrics struct {
	TotalActiveMinutes int `json:"total_active_minutes"`
	ReEngagementCount  int `json:"re_engagement_count"`
}

// Thresholds flag a submission as protracted for administrative review.
type Thresholds struct {
	ActiveMinutes int
	ReEngagements int
}

// DefaultThresholds are used when no configuration overrides them.
var DefaultThresholds = Thresholds{ActiveMinutes: 30, ReEngagements: 5}

// ComputeMetrics replays events (ordered by creation time ascending) into
// accumulated active duration and a re-engagement count. started/resumed
// open an interval, paused/submitted close it; a closer with no open
// interval is a no-op. An interval left open at the end of the log never
// closes and contributes nothing.
func ComputeMetrics(events []model.EngagementEvent) Metrics {
	var (
		active    time.Duration
		openStart *time.Time
		resumes   int
	)
	for _, ev := range events {
		switch ev.Type {
		case model.EngagementStarted, model.EngagementResumed:
			t := ev.CreatedAt
			openStart = &t
			if ev.Type == model.EngagementResumed {
				resumes++
			}
		case model.EngagementPaused, model.EngagementSubmitted:
			if openStart != nil {
				active += ev.CreatedAt.Sub(*openStart)
				openStart = nil
			}
		}
	}
	return Metrics{
		TotalActiveMinutes: int(math.Round(active.Minutes())),
		ReEngagementCount:  resumes,
	}
}

// Protracted reports whether the metrics exceed either threshold, returning
// the reasons that apply.
func Protracted(m Metrics, th Thresholds) (bool, []string) {
	var reasons []string
	if m.TotalActiveMinutes > th.ActiveMinutes {
		reasons = append(reasons, "active_minutes_exceeded")
	}
	if m.ReEngagementCount > th.ReEngagements {
		reasons = append(reasons, "re_engagements_exceeded")
	}
	return len(reasons) > 0, reasons
}
