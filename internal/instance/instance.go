// Package instance keeps one daemon per port: a lock file guards the
// probe-then-bind race and a health probe tells a live peer from a stale one.
package instance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/linnemanlabs/go-core/log"
)

// ProbeTimeout bounds one health probe.
const ProbeTimeout = time.Second

// HealthPath is probed to detect a running peer.
const HealthPath = "/api/health"

// ErrStaleBinding means the port or lock is held by something that does not
// answer health probes.
var ErrStaleBinding = errors.New("port held by an unresponsive process")

// Outcome of trying to become the running instance.
type Outcome int

const (
	// Acquired means this process owns the lock and should serve.
	Acquired Outcome = iota
	// PeerRunning means a healthy instance already serves the port.
	PeerRunning
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case PeerRunning:
		return "peer_running"
	default:
		return "unknown"
	}
}

var probeClient = &http.Client{Timeout: ProbeTimeout}

// Probe reports whether a healthy instance answers at baseURL.
func Probe(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+HealthPath, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := probeClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// BaseURL is the loopback URL for a bind address and port.
func BaseURL(bindAddress string, port int) string {
	host := bindAddress
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + strconv.Itoa(port)
}

// DefaultLockPath is the lock file used when none is configured.
func DefaultLockPath(port int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("approver-%d.lock", port))
}

// IsAddrInUse reports whether err is a bind failure on an occupied address.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// some wrappers flatten the errno into text
	return strings.Contains(err.Error(), "address already in use")
}

// Guard serializes startup between processes sharing a port.
type Guard struct {
	lock    *flock.Flock
	baseURL string
	logger  log.Logger
	probe   func(ctx context.Context, baseURL string) bool
}

// NewGuard creates a guard over lockPath for the instance at baseURL.
func NewGuard(lockPath, baseURL string, logger log.Logger) *Guard {
	if logger == nil {
		logger = log.Nop()
	}
	return &Guard{
		lock:    flock.New(lockPath),
		baseURL: baseURL,
		logger:  logger,
		probe:   Probe,
	}
}

// Path returns the lock file path.
func (g *Guard) Path() string { return g.lock.Path() }

// Acquire decides whether this process should serve. A healthy peer wins
// before the lock is touched. A lock held by an unhealthy peer is
// ErrStaleBinding.
func (g *Guard) Acquire(ctx context.Context) (Outcome, error) {
	if g.probe(ctx, g.baseURL) {
		g.logger.Info(ctx, "instance already running", "url", g.baseURL)
		return PeerRunning, nil
	}

	ok, err := g.lock.TryLock()
	if err != nil {
		return Acquired, fmt.Errorf("acquire lock %s: %w", g.lock.Path(), err)
	}
	if ok {
		return Acquired, nil
	}

	// lock holder may still be binding
	if g.probe(ctx, g.baseURL) {
		g.logger.Info(ctx, "instance already running", "url", g.baseURL, "lock", g.lock.Path())
		return PeerRunning, nil
	}
	return Acquired, fmt.Errorf("lock %s held: %w", g.lock.Path(), ErrStaleBinding)
}

// ResolveBindError classifies a listener failure after Acquire succeeded.
func (g *Guard) ResolveBindError(ctx context.Context, bindErr error) (Outcome, error) {
	if g.probe(ctx, g.baseURL) {
		g.logger.Info(ctx, "instance already running", "url", g.baseURL)
		return PeerRunning, nil
	}
	if IsAddrInUse(bindErr) {
		return Acquired, fmt.Errorf("%w: %w", ErrStaleBinding, bindErr)
	}
	return Acquired, bindErr
}

// Release drops the lock if held.
func (g *Guard) Release() error {
	if !g.lock.Locked() {
		return nil
	}
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", g.lock.Path(), err)
	}
	return nil
}
