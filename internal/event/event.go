// Package event defines the classification events the approver daemon ingests
// and the wire payloads producers send to it.
package event

import "strings"

// Severity is the coarse risk bucket that drives admission.
type Severity string

const (
	// SeverityNone covers low-risk and unclassified events.
	SeverityNone Severity = "none"

	// SeverityMedium is state-modifying but typically recoverable.
	SeverityMedium Severity = "medium"

	// SeverityHigh is destructive, irreversible, or reaches outside the host.
	SeverityHigh Severity = "high"
)

// Rank orders severities for display, higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Wire values for risk_level.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
	LevelNone   = "none"
	LevelDone   = "done"
)

// Event is a validated classification event. Treat it as immutable once
// decoded; Params may be shared between snapshots.
type Event struct {
	Action      string
	Params      map[string]any
	Summary     string
	Severity    Severity
	ActionLabel string
	Rationale   string
	Why         string
	Scope       string
	OperationID string
	SessionID   string
	IsDone      bool
}

// Payload is the JSON body of POST /api/notify.
type Payload struct {
	ToolName          string         `json:"tool_name"`
	ToolInput         map[string]any `json:"tool_input,omitempty"`
	Summary           string         `json:"summary"`
	RiskLevel         string         `json:"risk_level,omitempty"`
	RiskAction        string         `json:"risk_action,omitempty"`
	RiskDescription   string         `json:"risk_description,omitempty"`
	ClaudeDescription string         `json:"claude_description,omitempty"`
	Context           string         `json:"context,omitempty"`
	ToolUseID         string         `json:"tool_use_id,omitempty"`
	SessionID         string         `json:"session_id,omitempty"`
	IsDone            bool           `json:"is_done,omitempty"`
}

// DismissRequest is the JSON body of POST /api/dismiss. An empty ToolUseID
// means dismiss everything.
type DismissRequest struct {
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// ParseSeverity maps a wire risk_level onto a Severity. The second return
// reports a completion event ("done").
func ParseSeverity(level string) (sev Severity, done bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelHigh:
		return SeverityHigh, false, true
	case LevelMedium:
		return SeverityMedium, false, true
	case "", LevelLow, LevelNone:
		return SeverityNone, false, true
	case LevelDone:
		return SeverityNone, true, true
	default:
		return SeverityNone, false, false
	}
}

// Event converts a payload into a validated Event.
func (p *Payload) Event() (*Event, error) {
	action := strings.TrimSpace(p.ToolName)
	if action == "" {
		return nil, &DecodeError{Reason: "missing required field: tool_name"}
	}
	sev, done, ok := ParseSeverity(p.RiskLevel)
	if !ok {
		return nil, &DecodeError{Reason: "invalid risk_level: " + p.RiskLevel}
	}
	return &Event{
		Action:      action,
		Params:      p.ToolInput,
		Summary:     p.Summary,
		Severity:    sev,
		ActionLabel: p.RiskAction,
		Rationale:   p.RiskDescription,
		Why:         p.ClaudeDescription,
		Scope:       p.Context,
		OperationID: strings.TrimSpace(p.ToolUseID),
		SessionID:   p.SessionID,
		IsDone:      done || p.IsDone,
	}, nil
}

// Payload converts an Event back to its wire form.
func (e *Event) Payload() *Payload {
	level := string(e.Severity)
	if e.IsDone {
		level = LevelDone
	}
	return &Payload{
		ToolName:          e.Action,
		ToolInput:         e.Params,
		Summary:           e.Summary,
		RiskLevel:         level,
		RiskAction:        e.ActionLabel,
		RiskDescription:   e.Rationale,
		ClaudeDescription: e.Why,
		Context:           e.Scope,
		ToolUseID:         e.OperationID,
		SessionID:         e.SessionID,
		IsDone:            e.IsDone,
	}
}
