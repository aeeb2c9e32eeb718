package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/approver/internal/cfg"
	"github.com/linnemanlabs/approver/internal/hook"
	"github.com/linnemanlabs/approver/internal/instance"
	"github.com/linnemanlabs/approver/internal/llm/claude"
)

// hookOptions carries the persistent flags shared by every subcommand.
type hookOptions struct {
	url           string
	binary        string
	claudeAPIKey  string
	claudeModel   string
	claudeTimeout time.Duration
	verbose       bool
}

func newRootCommand() *cobra.Command {
	opts := &hookOptions{}

	rootCmd := &cobra.Command{
		Use:           "approver-hook",
		Short:         "Report assistant tool invocations to the approver daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", envString("APPROVER_URL", instance.BaseURL("", cfg.DefaultPort)), "Approver daemon base URL")
	flags.StringVar(&opts.binary, "approver-binary", envString("APPROVER_BINARY", ""), "Daemon binary to start when none is running")
	flags.StringVar(&opts.claudeAPIKey, "claude-api-key", envString("APPROVER_CLAUDE_API_KEY", ""), "Anthropic API key for invocation summaries")
	flags.StringVar(&opts.claudeModel, "claude-model", envString("APPROVER_CLAUDE_MODEL", claude.DefaultModel), "Model used for invocation summaries")
	flags.DurationVar(&opts.claudeTimeout, "claude-timeout", envDuration("APPROVER_CLAUDE_TIMEOUT", claude.DefaultTimeout), "Summary request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", envBool("APPROVER_HOOK_VERBOSE", false), "Log hook activity to stderr")

	rootCmd.AddCommand(newApprovalCommand(opts))
	rootCmd.AddCommand(newDismissCommand(opts))
	rootCmd.AddCommand(newNotifyCommand(opts))

	return rootCmd
}

// runner builds the hook runner for the parsed flags.
func (o *hookOptions) runner() *hook.Runner {
	r := &hook.Runner{
		Notifier: hook.NewClient(o.url),
		Binary:   o.binary,
		Logger:   o.logger(),
		AllowList: func() []string {
			home, _ := os.UserHomeDir()
			cwd, _ := os.Getwd()
			return hook.LoadAllowList(hook.SettingsPaths(home, cwd))
		},
	}
	if o.claudeAPIKey != "" {
		r.Summarizer = claude.New(o.claudeAPIKey,
			claude.WithModel(o.claudeModel),
			claude.WithTimeout(o.claudeTimeout),
		)
	}
	return r
}

func (o *hookOptions) logger() log.Logger {
	if !o.verbose {
		return log.Nop()
	}
	var logCfg log.Config
	logCfg.RegisterFlags(flag.NewFlagSet("log", flag.ContinueOnError))
	lg, err := log.New(logCfg.ToOptions("approver-hook"))
	if err != nil {
		return log.Nop()
	}
	return lg
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}
