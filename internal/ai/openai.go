// Package ai implements the optional classification callback against an
// OpenAI-compatible chat completions API.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

const (
	// DefaultEndpoint is the OpenAI chat completions endpoint.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

	// DefaultModel is a small, cheap model; classification needs no depth.
	DefaultModel = "gpt-4o-mini"
)

const systemPrompt = `You classify computer activity into productivity categories.
Given an application name, window title and optional URL, respond with JSON:
{"category": string, "productive": bool, "confidence": number 0-1, "rationale": short string}.
Category must be one of: Coding, Docs & Learning, Communication, Meetings,
Productivity, Research, Social/Forums, Shopping, Entertainment, Gaming,
Utilities. Pick the closest fit.`

// OpenAISuggester implements domain.Suggester via chat completions.
// Every error, including malformed model output, means "no suggestion";
// callers fall back to rule-based classification.
type OpenAISuggester struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// Option configures an OpenAISuggester.
type Option func(*OpenAISuggester)

// WithEndpoint overrides the API endpoint (for compatible providers and
// tests).
func WithEndpoint(endpoint string) Option {
	return func(s *OpenAISuggester) { s.endpoint = endpoint }
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(s *OpenAISuggester) { s.model = model }
}

// NewOpenAISuggester creates a suggester for the given API key.
func NewOpenAISuggester(apiKey string, opts ...Option) *OpenAISuggester {
	s := &OpenAISuggester{
		endpoint: DefaultEndpoint,
		model:    DefaultModel,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suggest asks the model for a category for one observation.
func (s *OpenAISuggester) Suggest(ctx context.Context, app, title, url string) (domain.Suggestion, error) {
	user := fmt.Sprintf("app: %s\ntitle: %s", app, title)
	if url != "" {
		user += "\nurl: " + url
	}

	reqBody, err := sonic.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    0,
	})
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.Suggestion{}, fmt.Errorf("API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result chatResponse
	if err := sonic.Unmarshal(body, &result); err != nil {
		return domain.Suggestion{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return domain.Suggestion{}, fmt.Errorf("empty completion")
	}

	var suggestion domain.Suggestion
	content := result.Choices[0].Message.Content
	if err := sonic.UnmarshalString(content, &suggestion); err != nil {
		return domain.Suggestion{}, fmt.Errorf("malformed suggestion %q: %w", truncate(content, 100), err)
	}
	if strings.TrimSpace(suggestion.Category) == "" {
		return domain.Suggestion{}, fmt.Errorf("suggestion missing category")
	}

	return suggestion, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Ensure OpenAISuggester implements domain.Suggester.
var _ domain.Suggester = (*OpenAISuggester)(nil)
