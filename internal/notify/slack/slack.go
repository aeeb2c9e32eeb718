// Package slack relays newly visible notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/approver/internal/event"
	"github.com/linnemanlabs/approver/internal/lifecycle"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier posts notification records to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Enabled reports whether a webhook is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// Send posts one record to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, rec lifecycle.Record) error {
	if n.webhookURL == "" {
		return nil
	}
	if rec.Event == nil {
		return fmt.Errorf("slack: record %s has no event", rec.ID)
	}

	body, err := json.Marshal(buildMessage(rec))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r lifecycle.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			fieldsBlock(r),
			summaryBlock(r),
			contextBlock(r),
		},
	}
}

func headerBlock(r lifecycle.Record) map[string]any {
	title := "Approval needed"
	if r.Event.IsDone {
		title = "Task finished"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", severityEmoji(r.Event), title, r.Event.Action),
		},
	}
}

func fieldsBlock(r lifecycle.Record) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", r.Event.Severity)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Tool:* %s", r.Event.Action)},
	}
	if r.Event.ActionLabel != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Action:* %s", r.Event.ActionLabel)})
	}
	if r.Event.Scope != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Scope:* %s", r.Event.Scope)})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r lifecycle.Record) map[string]any {
	text := r.Event.Summary
	if r.Event.Rationale != "" {
		text += "\n\n" + r.Event.Rationale
	}
	text = truncate(text, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(r lifecycle.Record) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("approver • %s • %s", r.ID, r.VisibleAt.UTC().Format("2006-01-02 15:04:05 UTC")),
			},
		},
	}
}

func severityEmoji(ev *event.Event) string {
	if ev.IsDone {
		return "✅" // check mark
	}
	switch ev.Severity {
	case event.SeverityHigh:
		return "\U0001f534" // red circle
	case event.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
