package slack

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/approver/internal/lifecycle"
)

// ErrQueueFull is reported when the relay buffer cannot take a record.
var ErrQueueFull = errors.New("slack relay queue full")

const (
	// DefaultRatePerSec is the default webhook post rate.
	DefaultRatePerSec = 1
	defaultQueueSize  = 64
	sendTimeout       = 10 * time.Second
)

// Sender posts a single record.
type Sender interface {
	Send(ctx context.Context, rec lifecycle.Record) error
}

// Relay is a lifecycle.Observer that forwards each newly visible record to a
// Sender from its own worker, rate limited.
type Relay struct {
	sender  Sender
	logger  log.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	seen    map[lifecycle.RecordID]struct{}
	version uint64
	queue   chan lifecycle.Record
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ lifecycle.Observer = (*Relay)(nil)

// NewRelay creates a relay posting at most ratePerSec records per second.
func NewRelay(sender Sender, logger log.Logger, ratePerSec float64) *Relay {
	if logger == nil {
		logger = log.Nop()
	}
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Relay{
		sender:  sender,
		logger:  logger.With("component", "slack"),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		seen:    make(map[lifecycle.RecordID]struct{}),
	}
}

// Start launches the send worker. Calling it twice is a no-op.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.queue = make(chan lifecycle.Record, defaultQueueSize)
	r.cancel = cancel
	queue := r.queue

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.workerLoop(runCtx, queue)
	}()
}

// Stop closes intake and waits for the worker until ctx expires, abandoning
// unsent records after that.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	queue, cancel := r.queue, r.cancel
	r.queue, r.cancel = nil, nil
	r.mu.Unlock()
	if queue == nil {
		return nil
	}
	close(queue)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// OnStateChanged implements lifecycle.Observer. It never blocks.
func (r *Relay) OnStateChanged(snap lifecycle.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Version != 0 && snap.Version <= r.version {
		return
	}
	r.version = snap.Version

	current := make(map[lifecycle.RecordID]struct{}, snap.Len())
	for _, rec := range snap.Records {
		current[rec.ID] = struct{}{}
		if _, ok := r.seen[rec.ID]; ok {
			continue
		}
		if r.queue == nil {
			continue
		}
		select {
		case r.queue <- rec:
		default:
			r.logger.Warn(context.Background(), "dropping slack notification", "id", string(rec.ID), "error", ErrQueueFull)
		}
	}
	r.seen = current
}

func (r *Relay) workerLoop(ctx context.Context, queue <-chan lifecycle.Record) {
	for rec := range queue {
		if ctx.Err() != nil {
			return
		}
		r.send(ctx, rec)
	}
}

func (r *Relay) send(ctx context.Context, rec lifecycle.Record) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(ctx, errors.New("slack relay panic"), "send panicked",
				"id", string(rec.ID), "panic", p, "stack", string(debug.Stack()))
		}
	}()

	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := r.sender.Send(sendCtx, rec); err != nil {
		r.logger.Error(ctx, err, "slack notification failed", "id", string(rec.ID))
		return
	}
	r.logger.Info(ctx, "slack notification sent", "id", string(rec.ID), "severity", string(rec.Event.Severity))
}
