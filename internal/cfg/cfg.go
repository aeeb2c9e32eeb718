package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/linnemanlabs/approver/internal/dispatch"
	"github.com/linnemanlabs/approver/internal/lifecycle"
)

// DefaultPort is the well-known loopback port producers post to.
const DefaultPort = 19482

// Config adds daemon-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	BindAddress           string
	LockFile              string

	Debounce     time.Duration
	HighExpiry   time.Duration
	MediumExpiry time.Duration
	DoneExpiry   time.Duration
	MaxVisible   int
	MaxPending   int
	QueueSize    int

	SlackWebhookURL string
	SlackRatePerSec float64
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 2, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 10, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", DefaultPort, "notification endpoint TCP port (1..65535)")
	fs.StringVar(&c.BindAddress, "bind-address", "127.0.0.1", "loopback address the notification endpoint binds to")
	fs.StringVar(&c.LockFile, "lock-file", "", "single-instance lock file (empty = $TMPDIR/approver-<port>.lock)")

	fs.DurationVar(&c.Debounce, "debounce", lifecycle.DefaultDebounce, "hold time for non-high notifications before they become visible")
	fs.DurationVar(&c.HighExpiry, "high-expiry", lifecycle.DefaultHighExpiry, "visible lifetime of high severity notifications")
	fs.DurationVar(&c.MediumExpiry, "medium-expiry", lifecycle.DefaultMediumExpiry, "visible lifetime of promoted notifications")
	fs.DurationVar(&c.DoneExpiry, "done-expiry", lifecycle.DefaultDoneExpiry, "visible lifetime of completion notices")
	fs.IntVar(&c.MaxVisible, "max-visible", lifecycle.DefaultMaxVisible, "visible notifications kept before the oldest is evicted")
	fs.IntVar(&c.MaxPending, "max-pending", lifecycle.DefaultMaxPending, "debouncing notifications held before the oldest is promoted early")
	fs.IntVar(&c.QueueSize, "queue-size", dispatch.DefaultQueueSize, "buffered commands between the endpoint and the lifecycle manager")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications (empty = disabled)")
	fs.Float64Var(&c.SlackRatePerSec, "slack-rate-per-sec", 1, "maximum Slack webhook posts per second")
}

// Policy returns the lifecycle admission policy described by c.
func (c *Config) Policy() lifecycle.Policy {
	return lifecycle.Policy{
		Debounce:     c.Debounce,
		HighExpiry:   c.HighExpiry,
		MediumExpiry: c.MediumExpiry,
		DoneExpiry:   c.DoneExpiry,
		MaxVisible:   c.MaxVisible,
		MaxPending:   c.MaxPending,
	}
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Endpoint is loopback only
	if !isLoopback(c.BindAddress) {
		errs = append(errs, fmt.Errorf("invalid BIND_ADDRESS %q (must be a loopback address)", c.BindAddress))
	}

	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid lifecycle policy: %w", err))
	}

	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid QUEUE_SIZE %d (must be > 0)", c.QueueSize))
	}

	if c.SlackWebhookURL != "" {
		u, err := url.Parse(c.SlackWebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an http(s) URL"))
		}
		if c.SlackRatePerSec <= 0 {
			errs = append(errs, fmt.Errorf("invalid SLACK_RATE_PER_SEC %g (must be > 0)", c.SlackRatePerSec))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func isLoopback(addr string) bool {
	if addr == "localhost" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}
