package llm

import (
	"strings"
	"testing"

	"github.com/pavelanni/viva/internal/model"
)

func TestBuildScoreSystemPrompt(t *testing.T) {
	q := model.Question{Text: "Why do leaves change color?"}
	r := model.Rubric{
		Type:         model.RubricReasoning,
		Instructions: "Score 1-5 based on causal reasoning",
		ScaleMin:     1,
		ScaleMax:     5,
	}

	prompt := buildScoreSystemPrompt(q, r)
	if !strings.Contains(prompt, q.Text) {
		t.Error("prompt should contain question text")
	}
	if !strings.Contains(prompt, r.Instructions) {
		t.Error("prompt should contain rubric instructions")
	}
	if !strings.Contains(prompt, "from 1 to 5") {
		t.Error("prompt should state the configured scale")
	}
	if !strings.Contains(prompt, `"score"`) || !strings.Contains(prompt, `"rationale"`) {
		t.Error("prompt should describe the expected JSON shape")
	}
}

func TestBuildFollowupSystemPromptForbidsFirstPerson(t *testing.T) {
	prompt := buildFollowupSystemPrompt()
	if !strings.Contains(prompt, "Do NOT use first-person pronouns") {
		t.Error("follow-up prompt must forbid first-person pronouns")
	}
	if !strings.Contains(prompt, "at most ONE") {
		t.Error("follow-up prompt must limit to one question")
	}
	if !strings.Contains(prompt, "impersonally") {
		t.Error("follow-up prompt must require impersonal framing")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{3, 1, 5, 3},
		{0, 1, 5, 1},
		{9, 1, 5, 5},
		{1, 1, 5, 1},
		{5, 1, 5, 5},
	}
	for _, tt := range tests {
		if got := clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestExtensionForMime(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/webm", ".webm"},
		{"audio/ogg", ".ogg"},
		{"audio/wav", ".wav"},
		{"audio/mp4", ".m4a"},
		{"audio/mpeg", ".mp3"},
		{"", ".mp3"},
	}
	for _, tt := range tests {
		if got := extensionForMime(tt.mime); got != tt.want {
			t.Errorf("extensionForMime(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
