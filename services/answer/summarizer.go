package answer

import (
	"context"
	"fmt"
	"strings"
)

// DefaultSummaryModel is used when no model is configured
const DefaultSummaryModel = "gpt-4o-mini"

const summarySystemPrompt = "You summarize chat conversations. Write 3 to 4 plain sentences covering the user's goals, " +
	"the key facts established and any open questions. Do not use lists or headings."

// ChatMessage is one message of an OpenAI-compatible chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is an OpenAI-compatible chat completion request
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// CompletionResponse is the subset of the completion response we read
type CompletionResponse struct {
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// CompletionOption modifies a completion request
type CompletionOption func(*CompletionRequest)

// WithTemperature sets the temperature for the request
func WithTemperature(temp float64) CompletionOption {
	return func(req *CompletionRequest) {
		req.Temperature = temp
	}
}

// WithMaxTokens sets the max tokens for the request
func WithMaxTokens(tokens int) CompletionOption {
	return func(req *CompletionRequest) {
		req.MaxTokens = tokens
	}
}

// SummarizerConfig holds the summarization endpoint settings
type SummarizerConfig struct {
	// URL is the full chat completions endpoint
	URL   string
	Model string
}

// Summarizer produces conversation summaries through a chat completions API
type Summarizer struct {
	client *Client
	url    string
	model  string
}

// NewSummarizer creates a summarizer client
func NewSummarizer(client *Client, config SummarizerConfig) *Summarizer {
	if config.Model == "" {
		config.Model = DefaultSummaryModel
	}
	return &Summarizer{
		client: client,
		url:    config.URL,
		model:  config.Model,
	}
}

// Configured reports whether an endpoint is set
func (s *Summarizer) Configured() bool {
	return s != nil && s.url != ""
}

// Complete sends a chat completion request and returns the first choice
func (s *Summarizer) Complete(ctx context.Context, messages []ChatMessage, options ...CompletionOption) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	req := CompletionRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   300,
	}
	for _, opt := range options {
		opt(&req)
	}

	var resp CompletionResponse
	if err := s.client.postJSON(ctx, s.url, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", ErrMalformedResponse)
	}
	return content, nil
}

// Summarize condenses a role-tagged transcript into a short summary
func (s *Summarizer) Summarize(ctx context.Context, transcript []ChatMessage) (string, error) {
	var b strings.Builder
	for _, m := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	return s.Complete(ctx, []ChatMessage{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: b.String()},
	})
}
