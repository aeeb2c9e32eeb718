package hook

import (
	"fmt"
	"path"
	"regexp"

	"github.com/linnemanlabs/approver/internal/event"
)

// Risk is the classifier verdict for one tool invocation.
type Risk struct {
	Level       string // event.LevelHigh, LevelMedium or LevelLow
	Action      string
	Description string
}

type rule struct {
	match  *regexp.Regexp
	unless *regexp.Regexp
	action string
	desc   string
}

func pat(pattern, action, desc string) rule {
	return rule{match: regexp.MustCompile(pattern), action: action, desc: desc}
}

func (ru rule) matches(cmd string) bool {
	return ru.match.MatchString(cmd) && (ru.unless == nil || !ru.unless.MatchString(cmd))
}

func except(ru rule, pattern string) rule {
	ru.unless = regexp.MustCompile(pattern)
	return ru
}

// Ordered: more specific patterns first within each table.
var highRules = []rule{
	// deletion
	pat(`\brm\s+-\S*r`, "recursive delete", "files may be lost permanently"),
	pat(`\brm\s+`, "file delete", "files may be lost"),
	pat(`\bfind\b.*-delete\b`, "find -delete", "deletes every matching file"),
	pat(`\bfind\b.*-exec\b`, "find -exec", "runs an arbitrary command per match"),
	pat(`\btruncate\b`, "truncate file", "file contents are erased"),
	// git, irreversible
	pat(`\bgit\s+push\s+--force\b`, "git force push", "remote history is overwritten"),
	pat(`\bgit\s+push\b`, "git push", "code is sent to a remote repository"),
	pat(`\bgit\s+reset\s+--hard\b`, "git reset --hard", "all uncommitted changes are lost"),
	pat(`\bgit\s+clean\b`, "git clean", "untracked files are deleted"),
	pat(`\bgit\s+checkout\s+\.\s*$`, "git checkout .", "all working tree changes are discarded"),
	pat(`\bgit\s+restore\s+\.\s*$`, "git restore .", "all working tree changes are discarded"),
	pat(`\bgit\s+branch\s+-D\b`, "force delete branch", "branch is deleted without recovery"),
	pat(`\bgit\s+stash\s+clear\b`, "clear stashes", "every stash entry is lost"),
	pat(`\bgit\s+stash\s+drop\b`, "drop stash", "a stash entry is lost"),
	pat(`\bgh\s+pr\s+merge\b`, "merge PR", "a pull request is merged"),
	// system administration
	pat(`\bsudo\b`, "superuser", "may affect the whole system"),
	pat(`\bsystemctl\b`, "service control", "changes system service state"),
	pat(`\blaunchctl\b`, "launchd control", "changes macOS system services"),
	pat(`\breboot\b`, "reboot", "the system restarts"),
	pat(`\bshutdown\b`, "shutdown", "the system stops"),
	// remote scripts
	pat(`\bcurl\b.*\|\s*(ba)?sh\b`, "remote script", "executes a downloaded script directly"),
	pat(`\bwget\b.*\|\s*(ba)?sh\b`, "remote script", "executes a downloaded script directly"),
	// permissions
	pat(`\bchmod\b`, "change permissions", "file access permissions change"),
	pat(`\bchown\b`, "change owner", "file ownership changes"),
	// processes
	pat(`\bkillall\b`, "kill all", "terminates every process with that name"),
	pat(`\bkill\b`, "kill process", "sends a signal to a process"),
	// remote access
	pat(`\bsshpass\b`, "ssh with password", "password based SSH session"),
	pat(`\bssh\b`, "ssh", "connects to a remote host"),
	pat(`\bscp\b`, "remote copy", "transfers files over SSH"),
	pat(`\brsync\b`, "rsync", "synchronizes files with a remote"),
	pat(`\bsed\s+-i\b`, "in-place edit", "rewrites files directly"),
	pat(`\bdd\b`, "raw I/O", "writes directly to a device or file"),
	pat(`\beval\b`, "eval", "evaluates code dynamically"),
	pat(`\bcrontab\b`, "crontab", "changes scheduled tasks"),
	pat(`\bnpm\s+publish\b`, "npm publish", "publishes to the npm registry"),
	// redirects
	pat(`>>[^>]`, "append to file", "data is appended to a file"),
	pat(`(^|[^>12])>[^>]`, "overwrite file", "a file is overwritten"),
}

var lowRules = []rule{
	pat(`^\s*ls\b`, "list files", "shows a directory listing"),
	pat(`^\s*cat\b`, "show file", "prints file contents"),
	pat(`^\s*head\b`, "show head", "prints the start of a file"),
	pat(`^\s*tail\b`, "show tail", "prints the end of a file"),
	pat(`^\s*tree\b`, "tree", "shows a directory tree"),
	pat(`^\s*wc\b`, "count", "prints file statistics"),
	pat(`^\s*file\b`, "file type", "detects a file type"),
	pat(`^\s*less\b`, "pager", "pages through a file"),
	pat(`^\s*more\b`, "pager", "pages through a file"),
	pat(`^\s*pwd\b`, "working directory", "prints the working directory"),
	pat(`^\s*cd\b`, "change directory", "changes the working directory"),
	pat(`^\s*uname\b`, "system info", "prints OS information"),
	pat(`^\s*hostname\b`, "hostname", "prints the host name"),
	pat(`^\s*whoami\b`, "whoami", "prints the current user"),
	pat(`^\s*date\b`, "date", "prints the current time"),
	pat(`^\s*uptime\b`, "uptime", "prints system uptime"),
	pat(`^\s*which\b`, "which", "prints a command path"),
	pat(`^\s*type\b`, "type", "describes a command"),
	pat(`^\s*echo\b`, "echo", "prints text"),
	pat(`^\s*printf\b`, "printf", "prints text"),
	pat(`^\s*env\b`, "environment", "prints environment variables"),
	pat(`^\s*printenv\b`, "environment", "prints environment variables"),
	pat(`^\s*grep\b`, "search text", "searches for a pattern"),
	pat(`^\s*rg\b`, "search text", "searches with ripgrep"),
	except(pat(`^\s*find\b`, "find files", "searches for files"), `-delete|-exec`),
	pat(`^\s*diff\b`, "diff", "compares files"),
	pat(`^\s*sort\b`, "sort", "prints sorted lines"),
	pat(`^\s*uniq\b`, "uniq", "prints unique lines"),
	pat(`^\s*awk\b`, "awk", "transforms text for display"),
	except(pat(`^\s*sed\b`, "sed", "transforms text for display"), `-i`),
	pat(`^\s*cut\b`, "cut", "extracts fields"),
	pat(`^\s*tr\b`, "tr", "translates characters"),
	pat(`^\s*jq\b`, "jq", "parses JSON"),
	pat(`^\s*xargs\b`, "xargs", "turns input into arguments"),
	pat(`^\s*git\s+status\b`, "git status", "shows working tree state"),
	pat(`^\s*git\s+log\b`, "git log", "shows commit history"),
	except(pat(`^\s*git\s+branch\b`, "git branch", "lists branches"), `-[dD]`),
	pat(`^\s*git\s+diff\b`, "git diff", "shows differences"),
	pat(`^\s*git\s+show\b`, "git show", "shows a commit"),
	pat(`^\s*git\s+remote\b`, "git remote", "shows remotes"),
	pat(`^\s*git\s+tag\b`, "git tag", "lists tags"),
	pat(`^\s*git\s+stash\s+list\b`, "git stash list", "lists stashes"),
	pat(`^\s*git\s+rev-parse\b`, "git rev-parse", "resolves git references"),
	pat(`^\s*npm\s+(list|ls|view)\b`, "npm info", "shows package information"),
	pat(`^\s*pip\s+(show|list)\b`, "pip info", "shows package information"),
	pat(`^\s*brew\s+(info|list)\b`, "brew info", "shows package information"),
	pat(`^\s*ping\b`, "ping", "tests connectivity"),
	pat(`^\s*dig\b`, "dig", "queries DNS records"),
	pat(`^\s*nslookup\b`, "nslookup", "queries DNS"),
	pat(`^\s*gh\s+pr\s+(list|view|status)\b`, "PR info", "shows pull request state"),
	pat(`^\s*gh\s+issue\s+(list|view)\b`, "issue info", "shows issues"),
	pat(`^\s*gh\s+api\b`, "GitHub API", "calls the GitHub API"),
}

var mediumRules = []rule{
	pat(`\bnpm\s+(ci|install)\b`, "npm install", "installs packages"),
	pat(`\byarn\s+(add|install)\b`, "yarn install", "installs packages"),
	pat(`\bpip\s+install\b`, "pip install", "installs Python packages"),
	pat(`\bbrew\s+install\b`, "brew install", "installs Homebrew packages"),
	pat(`\bgem\s+install\b`, "gem install", "installs Ruby packages"),
	pat(`\bcargo\s+install\b`, "cargo install", "installs Rust packages"),
	pat(`\bgo\s+install\b`, "go install", "installs Go binaries"),
	pat(`\bconda\s+install\b`, "conda install", "installs Conda packages"),
	pat(`\bbun\s+(add|install)\b`, "bun install", "installs packages"),
	pat(`\bgit\s+add\b`, "git add", "stages files"),
	pat(`\bgit\s+commit\b`, "git commit", "commits changes"),
	pat(`\bgit\s+checkout\b`, "git checkout", "switches branches"),
	pat(`\bgit\s+merge\b`, "git merge", "merges a branch"),
	pat(`\bgit\s+pull\b`, "git pull", "fetches and merges from a remote"),
	pat(`\bgit\s+clone\b`, "git clone", "clones a repository"),
	pat(`\bgit\s+rebase\b`, "git rebase", "rewrites commit history"),
	pat(`\bgit\s+cherry-pick\b`, "git cherry-pick", "applies a specific commit"),
	pat(`\bmkdir\b`, "make directory", "creates a directory"),
	pat(`\btouch\b`, "touch", "creates or updates a file"),
	pat(`\bcp\b`, "copy", "duplicates files"),
	pat(`\bmv\b`, "move", "moves or renames files"),
	pat(`\bln\b`, "link", "creates a link"),
	pat(`\btee\b`, "tee", "writes output to a file"),
	pat(`\btar\b`, "tar", "packs or unpacks an archive"),
	pat(`\bunzip\b`, "unzip", "extracts a ZIP archive"),
	pat(`\bzip\b`, "zip", "creates a ZIP archive"),
	pat(`\bnpx\b`, "npx", "runs an npm package"),
	pat(`\bnpm\s+(run|start|test)\b`, "npm script", "runs an npm script"),
	pat(`\bnode\b`, "node", "runs JavaScript"),
	pat(`\bpython3?\b`, "python", "runs a Python script"),
	pat(`\bruby\b`, "ruby", "runs a Ruby script"),
	pat(`\bgo\s+(run|test|build)\b`, "go toolchain", "builds or runs Go code"),
	pat(`\bjest\b`, "jest", "runs JavaScript tests"),
	pat(`\bpytest\b`, "pytest", "runs Python tests"),
	pat(`\bplaywright\b`, "playwright", "runs browser automation"),
	pat(`\bbun\s+(run|test)\b`, "bun script", "runs a bun script"),
	pat(`\bmake\b`, "make", "runs a build"),
	pat(`\bcmake\b`, "cmake", "generates a build system"),
	pat(`\btsc\b`, "tsc", "compiles TypeScript"),
	pat(`\bwebpack\b`, "webpack", "bundles modules"),
	pat(`\bswift\s+(build|run|test)\b`, "swift", "builds or runs a Swift project"),
	pat(`\beslint\b`, "eslint", "lints JavaScript"),
	pat(`\bprettier\b`, "prettier", "formats code"),
	pat(`\bblack\b`, "black", "formats Python"),
	pat(`\bflask\b`, "flask", "manages a Python server"),
	pat(`\bpsql\b`, "psql", "PostgreSQL client"),
	pat(`\bmysql\b`, "mysql", "MySQL client"),
	pat(`\bsqlite3\b`, "sqlite", "SQLite client"),
	pat(`\bdocker\b`, "docker", "manages containers"),
	pat(`\bkubectl\b`, "kubectl", "manages a Kubernetes cluster"),
	pat(`\bsupabase\b`, "supabase", "Supabase CLI"),
	pat(`\bcurl\b`, "HTTP request", "performs an HTTP request"),
	pat(`\bwget\b`, "download", "downloads a file"),
	pat(`\bfirebase\s+deploy\b`, "firebase deploy", "deploys to Firebase"),
	pat(`\bterraform\b`, "terraform", "manages infrastructure"),
	pat(`\bgcloud\b`, "gcloud", "changes GCP resources"),
	pat(`\bvercel\b`, "vercel", "deploys to Vercel"),
}

// Classify rates a tool invocation. Bash commands are checked high first,
// then low (so read-only git stays low), then medium. Anything unmatched is
// medium.
func Classify(toolName string, input map[string]any) Risk {
	switch toolName {
	case "Bash":
		cmd := stringField(input, "command")
		for _, tbl := range []struct {
			level string
			rules []rule
		}{
			{event.LevelHigh, highRules},
			{event.LevelLow, lowRules},
			{event.LevelMedium, mediumRules},
		} {
			for _, ru := range tbl.rules {
				if ru.matches(cmd) {
					return Risk{Level: tbl.level, Action: ru.action, Description: ru.desc}
				}
			}
		}
		return Risk{Level: event.LevelMedium, Action: "run command", Description: "unclassified command"}
	case "Write":
		return Risk{Level: event.LevelMedium, Action: "create file: " + baseName(input), Description: "creates a new file"}
	case "Edit":
		return Risk{Level: event.LevelMedium, Action: "edit file: " + baseName(input), Description: "edits an existing file"}
	default:
		return Risk{Level: event.LevelMedium, Action: fmt.Sprintf("run %s", toolName), Description: "tool invocation"}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func baseName(input map[string]any) string {
	p := stringField(input, "file_path")
	if p == "" {
		return ""
	}
	return path.Base(p)
}
