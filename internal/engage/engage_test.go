package engage

import (
	"testing"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func ev(t model.EngagementEventType, offsetSeconds int) model.EngagementEvent {
	return model.EngagementEvent{
		SubmissionID: 1,
		Type:         t,
		CreatedAt:    base.Add(time.Duration(offsetSeconds) * time.Second),
	}
}

func TestComputeMetrics(t *testing.T) {
	tests := []struct {
		name        string
		events      []model.EngagementEvent
		wantMinutes int
		wantResumes int
	}{
		{
			"empty log", nil, 0, 0,
		},
		{
			"single interval",
			[]model.EngagementEvent{ev(model.EngagementStarted, 0), ev(model.EngagementPaused, 600)},
			10, 0,
		},
		{
			"pause and resume",
			[]model.EngagementEvent{
				ev(model.EngagementStarted, 0),
				ev(model.EngagementPaused, 300),
				ev(model.EngagementResumed, 300),
				ev(model.EngagementSubmitted, 900),
			},
			15, 1,
		},
		{
			"lone pause is a no-op",
			[]model.EngagementEvent{ev(model.EngagementPaused, 100)},
			0, 0,
		},
		{
			"double close does not go negative",
			[]model.EngagementEvent{
				ev(model.EngagementStarted, 0),
				ev(model.EngagementPaused, 60),
				ev(model.EngagementSubmitted, 120),
			},
			1, 0,
		},
		{
			"unclosed interval contributes nothing",
			[]model.EngagementEvent{
				ev(model.EngagementStarted, 0),
				ev(model.EngagementPaused, 120),
				ev(model.EngagementResumed, 180),
			},
			2, 1,
		},
		{
			"rounding to whole minutes",
			[]model.EngagementEvent{ev(model.EngagementStarted, 0), ev(model.EngagementSubmitted, 90)},
			2, 0,
		},
		{
			"restart overwrites open interval",
			[]model.EngagementEvent{
				ev(model.EngagementStarted, 0),
				ev(model.EngagementStarted, 300),
				ev(model.EngagementSubmitted, 360),
			},
			1, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputeMetrics(tt.events)
			if m.TotalActiveMinutes != tt.wantMinutes {
				t.Errorf("TotalActiveMinutes = %d, want %d", m.TotalActiveMinutes, tt.wantMinutes)
			}
			if m.ReEngagementCount != tt.wantResumes {
				t.Errorf("ReEngagementCount = %d, want %d", m.ReEngagementCount, tt.wantResumes)
			}
		})
	}
}

func TestProtracted(t *testing.T) {
	th := Thresholds{ActiveMinutes: 30, ReEngagements: 5}

	tests := []struct {
		name        string
		m           Metrics
		want        bool
		wantReasons int
	}{
		{"under both", Metrics{TotalActiveMinutes: 30, ReEngagementCount: 5}, false, 0},
		{"over minutes", Metrics{TotalActiveMinutes: 31, ReEngagementCount: 0}, true, 1},
		{"over resumes", Metrics{TotalActiveMinutes: 5, ReEngagementCount: 6}, true, 1},
		{"over both", Metrics{TotalActiveMinutes: 45, ReEngagementCount: 9}, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := Protracted(tt.m, th)
			if got != tt.want {
				t.Errorf("Protracted = %v, want %v", got, tt.want)
			}
			if len(reasons) != tt.wantReasons {
				t.Errorf("reasons = %v, want %d reasons", reasons, tt.wantReasons)
			}
		})
	}
}

func TestProtractedConfigurableThresholds(t *testing.T) {
	m := Metrics{TotalActiveMinutes: 12, ReEngagementCount: 2}
	if got, _ := Protracted(m, Thresholds{ActiveMinutes: 10, ReEngagements: 1}); !got {
		t.Error("tighter thresholds should flag the submission")
	}
	if got, _ := Protracted(m, DefaultThresholds); got {
		t.Error("default thresholds should not flag the submission")
	}
}
