// Package hook implements the assistant-side hooks that classify tool
// invocations and report them to the approver daemon.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/approver/internal/event"
)

// Input is the JSON a hook receives on stdin.
type Input struct {
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	ToolUseID string         `json:"tool_use_id"`
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Title     string         `json:"title"`
}

// ReadInput decodes hook input. A blank stream yields (nil, nil).
func ReadInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, event.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read hook input: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode hook input: %w", err)
	}
	if in.ToolInput == nil {
		in.ToolInput = map[string]any{}
	}
	return &in, nil
}

// Notifier is the daemon surface the hooks use.
type Notifier interface {
	EnsureRunning(ctx context.Context, binary string) error
	Notify(ctx context.Context, p *event.Payload) error
	Dismiss(ctx context.Context, toolUseID string) error
}

// Outcome says what the approval hook did with an invocation.
type Outcome string

const (
	OutcomeSkippedLow     Outcome = "skipped_low"
	OutcomeSkippedAllowed Outcome = "skipped_allowed"
	OutcomeNotified       Outcome = "notified"
	OutcomeFailed         Outcome = "failed"
)

// Runner executes the hooks. Hooks never block the assistant on errors: they
// log and return.
type Runner struct {
	Notifier   Notifier
	Summarizer Summarizer // optional
	AllowList  func() []string
	Binary     string
	Logger     log.Logger
}

func (r *Runner) logger() log.Logger {
	if r.Logger == nil {
		return log.Nop()
	}
	return r.Logger
}

// Approval handles a pre-tool invocation.
func (r *Runner) Approval(ctx context.Context, in *Input) Outcome {
	risk := Classify(in.ToolName, in.ToolInput)
	if risk.Level == event.LevelLow {
		return OutcomeSkippedLow
	}
	if risk.Level == event.LevelMedium && r.AllowList != nil && Allowed(in.ToolName, in.ToolInput, r.AllowList()) {
		return OutcomeSkippedAllowed
	}

	if err := r.Notifier.EnsureRunning(ctx, r.Binary); err != nil {
		r.logger().Warn(ctx, "approver not available", "error", err)
	}

	p := &event.Payload{
		ToolName:        in.ToolName,
		ToolInput:       in.ToolInput,
		Summary:         summarize(ctx, r.Summarizer, in.ToolName, in.ToolInput),
		RiskLevel:       risk.Level,
		RiskAction:      risk.Action,
		RiskDescription: risk.Description,
		ToolUseID:       in.ToolUseID,
		SessionID:       in.SessionID,
	}
	if err := r.Notifier.Notify(ctx, p); err != nil {
		r.logger().Error(ctx, err, "notify failed", "tool", in.ToolName, "tool_use_id", in.ToolUseID)
		return OutcomeFailed
	}
	return OutcomeNotified
}

// Dismiss handles a post-tool invocation. A nil input dismisses everything.
func (r *Runner) Dismiss(ctx context.Context, in *Input) {
	id := ""
	if in != nil {
		id = in.ToolUseID
	}
	if err := r.Notifier.Dismiss(ctx, id); err != nil {
		r.logger().Warn(ctx, "dismiss failed", "tool_use_id", id, "error", err)
	}
}

// Notify handles a completion notice.
func (r *Runner) Notify(ctx context.Context, in *Input) {
	id := in.ToolUseID
	if id == "" {
		id = "notif-" + in.SessionID
	}
	action := in.Title
	if action == "" {
		action = "Task complete"
	}
	p := &event.Payload{
		ToolName:        "Notification",
		ToolInput:       map[string]any{},
		Summary:         in.Message,
		RiskLevel:       event.LevelDone,
		RiskAction:      action,
		RiskDescription: in.Message,
		ToolUseID:       id,
		SessionID:       in.SessionID,
	}
	if err := r.Notifier.Notify(ctx, p); err != nil {
		r.logger().Warn(ctx, "completion notice failed", "session_id", in.SessionID, "error", err)
	}
}
