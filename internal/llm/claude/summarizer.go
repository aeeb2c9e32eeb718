// Package claude produces short action summaries through the Anthropic
// Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is a small, fast model suited to one-line summaries.
	DefaultModel = "claude-3-5-haiku-latest"
	// DefaultTimeout bounds a summary call; the hook must stay fast.
	DefaultTimeout = 3 * time.Second

	maxTokens    = 64
	maxDetailLen = 200
	maxSummary   = 80
)

// ErrEmptySummary is returned when the model produced no usable text.
var ErrEmptySummary = errors.New("claude: empty summary")

const systemPrompt = "You label tool invocations for a developer reviewing them. " +
	"Reply with a summary of at most 15 words. No explanation, no quotes, summary only."

// Summarizer implements hook.Summarizer over the Anthropic SDK.
type Summarizer struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// Option configures a Summarizer.
type Option func(*settings)

type settings struct {
	model   string
	baseURL string
	timeout time.Duration
}

// WithModel overrides DefaultModel.
func WithModel(model string) Option { return func(s *settings) { s.model = model } }

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option { return func(s *settings) { s.baseURL = u } }

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// New creates a Summarizer authenticating with apiKey.
func New(apiKey string, opts ...Option) *Summarizer {
	s := settings{model: DefaultModel, timeout: DefaultTimeout}
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}

	return &Summarizer{
		client:  anthropic.NewClient(reqOpts...),
		model:   s.model,
		timeout: s.timeout,
	}
}

// Summarize asks the model for a short label of one tool invocation.
func (s *Summarizer) Summarize(ctx context.Context, toolName, detail string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(toolName, detail))),
		},
		Temperature: anthropic.Float(0.1),
	})
	if err != nil {
		return "", fmt.Errorf("claude: summarize: %w", err)
	}

	summary := cleanSummary(messageText(msg))
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

func buildPrompt(toolName, detail string) string {
	if len(detail) > maxDetailLen {
		detail = detail[:maxDetailLen]
	}
	return fmt.Sprintf("Tool: %s\nInput: %s", toolName, detail)
}

func messageText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// cleanSummary keeps the first line and strips wrapping quotes.
func cleanSummary(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.Trim(s, "\"'`"))
	if r := []rune(s); len(r) > maxSummary {
		s = string(r[:maxSummary])
	}
	return s
}
