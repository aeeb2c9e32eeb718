package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/linnemanlabs/approver/internal/event"
	"github.com/linnemanlabs/approver/internal/instance"
)

const (
	notifyTimeout  = 5 * time.Second
	dismissTimeout = 2 * time.Second
	startupWait    = 4 * time.Second
	startupPoll    = 200 * time.Millisecond
)

// ErrNotRunning is returned when the daemon could not be reached or started.
var ErrNotRunning = errors.New("approver daemon not running")

// Client talks to the local notification endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	// start launches the daemon binary detached.
	start func(binary string) error
	poll  time.Duration
	wait  time.Duration
}

// NewClient returns a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		start:   startDetached,
		poll:    startupPoll,
		wait:    startupWait,
	}
}

// Healthy reports whether the daemon answers its health probe.
func (c *Client) Healthy(ctx context.Context) bool {
	return instance.Probe(ctx, c.baseURL)
}

// EnsureRunning starts binary when the daemon is not answering and waits for
// it to become healthy.
func (c *Client) EnsureRunning(ctx context.Context, binary string) error {
	if c.Healthy(ctx) {
		return nil
	}
	if binary == "" {
		return fmt.Errorf("%w: no binary configured", ErrNotRunning)
	}
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("%w: %w", ErrNotRunning, err)
	}
	if err := c.start(binary); err != nil {
		return fmt.Errorf("%w: start %s: %w", ErrNotRunning, binary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.wait)
	defer cancel()
	t := time.NewTicker(c.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: started but not responding", ErrNotRunning)
		case <-t.C:
			if c.Healthy(ctx) {
				return nil
			}
		}
	}
}

// Notify posts a classification event.
func (c *Client) Notify(ctx context.Context, p *event.Payload) error {
	return c.post(ctx, "/api/notify", p, notifyTimeout)
}

// Dismiss acknowledges toolUseID, or every notification when it is empty.
func (c *Client) Dismiss(ctx context.Context, toolUseID string) error {
	return c.post(ctx, "/api/dismiss", event.DismissRequest{ToolUseID: toolUseID}, dismissTimeout)
}

func (c *Client) post(ctx context.Context, path string, body any, timeout time.Duration) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req) //nolint:gosec // loopback URL from local config
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func startDetached(binary string) error {
	cmd := exec.Command(binary) //nolint:gosec // binary path comes from the hook's own flags
	cmd.SysProcAttr = detachAttr()
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
