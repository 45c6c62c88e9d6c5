package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/viva/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ScoreResult holds the model's assessment of one answer against one rubric.
type ScoreResult struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// followupResult is the expected shape of a follow-up generation response.
type followupResult struct {
	Question string `json:"question"`
}

// Client wraps an OpenAI-compatible API client for scoring, follow-up
// generation, and audio transcription.
type Client struct {
	api         *openai.Client
	model       string
	audioModel  string
	callTimeout time.Duration
}

// New creates a new LLM client. timeout bounds every individual API call.
func New(baseURL, apiKey, modelName, audioModelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if audioModelName == "" {
		audioModelName = openai.Whisper1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		audioModel:  audioModelName,
		callTimeout: timeout,
	}
}

// ModelName returns the chat model used for scoring and follow-ups.
func (c *Client) ModelName() string {
	return c.model
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	_, err := c.api.ListModels(ctx)
	return err
}

// Transcribe sends audio bytes to the transcription endpoint and returns the
// transcript text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.audioModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "answer" + extensionForMime(mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("transcription API call: %w", err)
	}
	return resp.Text, nil
}

// ScoreAnswer asks the model to score one transcript against one rubric and
// returns a score within the rubric's configured scale plus a rationale.
func (c *Client) ScoreAnswer(ctx context.Context, question model.Question, rubric model.Rubric, transcript string) (*ScoreResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	systemPrompt := buildScoreSystemPrompt(question, rubric)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "STUDENT ANSWER TRANSCRIPT:\n" + transcript},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("scoring API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("scoring returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("score response", "rubric", rubric.Type, "raw", raw)

	var result ScoreResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse scoring response: %w (raw: %s)", err, raw)
	}
	result.Score = clamp(result.Score, rubric.ScaleMin, rubric.ScaleMax)
	return &result, nil
}

// GenerateFollowup asks the model for at most one concise follow-up question
// given the original question and the student's transcript. Returns an empty
// string when no follow-up is warranted or the response is malformed: a
// non-conforming response is a soft failure, not an error.
func (c *Client) GenerateFollowup(ctx context.Context, questionText, transcript string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildFollowupSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: "ORIGINAL QUESTION: " + questionText + "\n\nSTUDENT ANSWER TRANSCRIPT:\n" + transcript},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("follow-up API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	raw := resp.Choices[0].Message.Content
	var result followupResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Warn("malformed follow-up response, skipping", "raw", raw)
		return "", nil
	}
	return strings.TrimSpace(result.Question), nil
}

func buildScoreSystemPrompt(q model.Question, r model.Rubric) string {
	var sb strings.Builder
	sb.WriteString("You are scoring one K-12 student answer against a teacher-defined rubric.\n\n")
	sb.WriteString("QUESTION: " + q.Text + "\n\n")
	sb.WriteString(fmt.Sprintf("RUBRIC (%s):\n%s\n\n", r.Type, r.Instructions))
	sb.WriteString(fmt.Sprintf("SCALE: integer from %d to %d inclusive.\n\n", r.ScaleMin, r.ScaleMax))
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Score only what the transcript shows. Do not reward length.\n")
	sb.WriteString("- Keep the rationale to two sentences or fewer, addressed to the teacher.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(fmt.Sprintf(`{"score": <integer %d to %d>, "rationale": "<brief rationale>"}`, r.ScaleMin, r.ScaleMax))
	sb.WriteString("\n")
	return sb.String()
}

func buildFollowupSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You generate at most ONE concise follow-up question for a K-12 student, ")
	sb.WriteString("based on the original question and the student's answer.\n\n")
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Ask a follow-up only if it would meaningfully probe deeper understanding.\n")
	sb.WriteString("- Frame the question impersonally. Do NOT use first-person pronouns (I, me, my, we, us, our) in the question.\n")
	sb.WriteString("- Keep the question to one sentence.\n")
	sb.WriteString("- If no follow-up is warranted, return an empty string.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"question": "<follow-up question or empty string>"}`)
	sb.WriteString("\n")
	return sb.String()
}

func extensionForMime(mimeType string) string {
	switch mimeType {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ".mp3"
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
