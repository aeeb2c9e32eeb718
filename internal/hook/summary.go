package hook

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const maxDetailLen = 200

// Summarizer produces a short human label for a tool invocation.
type Summarizer interface {
	Summarize(ctx context.Context, toolName, detail string) (string, error)
}

// Detail is the text a summarizer sees for an invocation.
func Detail(toolName string, input map[string]any) string {
	switch toolName {
	case "Bash":
		return clip(stringField(input, "command"), maxDetailLen)
	case "Write":
		return stringField(input, "file_path")
	case "Edit":
		return stringField(input, "file_path") + " (" + clip(stringField(input, "old_string"), 80) + "...)"
	default:
		b, err := json.Marshal(input)
		if err != nil {
			return ""
		}
		return clip(string(b), maxDetailLen)
	}
}

// FallbackSummary is the rule-based label used when no summarizer answers.
func FallbackSummary(toolName string, input map[string]any) string {
	switch toolName {
	case "Bash":
		cmd := stringField(input, "command")
		switch {
		case strings.HasPrefix(cmd, "rm "):
			return "Delete files or directories"
		case strings.HasPrefix(cmd, "mkdir"):
			return "Create directory"
		case strings.Contains(cmd, "git "):
			return "Git operation"
		case strings.Contains(cmd, "npm ") || strings.Contains(cmd, "bun "):
			return "Package operation"
		case strings.HasPrefix(cmd, "curl"):
			return "HTTP request"
		case strings.HasPrefix(cmd, "go "):
			return "Go toolchain"
		case strings.HasPrefix(cmd, "swift"):
			return "Swift build or run"
		default:
			return "Run command"
		}
	case "Write":
		return "Create file: " + baseName(input)
	case "Edit":
		return "Edit file: " + baseName(input)
	default:
		return "Run " + toolName
	}
}

func summarize(ctx context.Context, s Summarizer, toolName string, input map[string]any) string {
	if s != nil {
		if out, err := s.Summarize(ctx, toolName, Detail(toolName, input)); err == nil && out != "" {
			return out
		}
	}
	return FallbackSummary(toolName, input)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
