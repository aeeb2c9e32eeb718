package hook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var settingsNames = []string{"settings.json", "settings.local.json"}

// SettingsPaths lists the assistant settings files consulted for the allow
// list: the user's global files, then every .claude directory from cwd up to
// the filesystem root.
func SettingsPaths(home, cwd string) []string {
	var out []string
	if home != "" {
		for _, n := range settingsNames {
			out = append(out, filepath.Join(home, ".claude", n))
		}
	}
	if cwd == "" {
		return out
	}
	dir := filepath.Clean(cwd)
	for {
		for _, n := range settingsNames {
			out = append(out, filepath.Join(dir, ".claude", n))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return out
}

type settingsFile struct {
	Permissions struct {
		Allow []string `json:"allow"`
	} `json:"permissions"`
}

// LoadAllowList collects permissions.allow entries from the given files.
// Missing or unreadable files are skipped.
func LoadAllowList(paths []string) []string {
	var out []string
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // paths are the fixed settings locations
		if err != nil {
			continue
		}
		var s settingsFile
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, s.Permissions.Allow...)
	}
	return out
}

var allowPatternRe = regexp.MustCompile(`^(\w+)(?:\((.+)\))?$`)

// matchAllow reports whether one allow entry such as "Bash(git status:*)" or
// "Edit" covers the invocation.
func matchAllow(pattern, toolName, cmd string) bool {
	m := allowPatternRe.FindStringSubmatch(pattern)
	if m == nil || m[1] != toolName {
		return false
	}
	arg := m[2]
	if arg == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(arg, ":*"); ok {
		return strings.HasPrefix(cmd, prefix)
	}
	return cmd == arg
}

// hasCompoundOperators reports ; && || or a lone & in cmd. Redirects like &>
// do not count.
func hasCompoundOperators(cmd string) bool {
	if strings.Contains(cmd, ";") || strings.Contains(cmd, "&&") || strings.Contains(cmd, "||") {
		return true
	}
	for i := 0; i < len(cmd); i++ {
		if cmd[i] != '&' {
			continue
		}
		if i+1 < len(cmd) && (cmd[i+1] == '&' || cmd[i+1] == '>') {
			i++
			continue
		}
		return true
	}
	return false
}

// Allowed reports whether a Bash invocation is covered by the allow list.
// Compound commands are never allowed.
func Allowed(toolName string, input map[string]any, allow []string) bool {
	if toolName != "Bash" {
		return false
	}
	cmd := stringField(input, "command")
	if hasCompoundOperators(cmd) {
		return false
	}
	for _, p := range allow {
		if matchAllow(p, toolName, cmd) {
			return true
		}
	}
	return false
}
