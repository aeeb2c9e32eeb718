// Package dispatch forwards ingestion commands to the lifecycle manager
// through a single FIFO worker, so HTTP handlers never wait on the manager and
// commands for one correlation key apply in arrival order.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/approver/internal/event"
	"github.com/linnemanlabs/approver/internal/lifecycle"
)

// DefaultQueueSize bounds buffered commands.
const DefaultQueueSize = 256

var (
	// ErrStopped is returned by Enqueue once Stop has begun.
	ErrStopped = errors.New("dispatch queue stopped")
	// ErrNotStarted is returned by Enqueue before Start.
	ErrNotStarted = errors.New("dispatch queue not started")
)

// Target is the subset of the lifecycle manager the queue drives.
type Target interface {
	Submit(ev *event.Event) lifecycle.RecordID
	DismissByCorrelation(opID string) bool
	DismissAll() int
}

// Kind names a command type.
type Kind string

const (
	KindSubmit     Kind = "submit"
	KindDismiss    Kind = "dismiss"
	KindDismissAll Kind = "dismiss_all"
)

// Command is one unit of work for the manager.
type Command struct {
	Kind        Kind
	Event       *event.Event
	OperationID string
}

// Submit builds a submit command.
func Submit(ev *event.Event) Command { return Command{Kind: KindSubmit, Event: ev} }

// Acknowledge builds the command for an acknowledgement: dismiss-by-correlation
// when opID is set, dismiss-all otherwise.
func Acknowledge(opID string) Command {
	if opID == "" {
		return Command{Kind: KindDismissAll}
	}
	return Command{Kind: KindDismiss, OperationID: opID}
}

// Queue is a bounded FIFO drained by exactly one worker goroutine.
type Queue struct {
	target Target
	logger log.Logger
	size   int

	mu        sync.Mutex
	queue     chan Command
	accepting bool
	sendWG    sync.WaitGroup
	workerWG  sync.WaitGroup
	applied   func(Command)
}

// New creates a queue that applies commands to target. Start must be called
// before Enqueue.
func New(target Target, logger log.Logger, size int) *Queue {
	if logger == nil {
		logger = log.Nop()
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{target: target, logger: logger, size: size}
}

// OnApplied registers a callback run by the worker after each command. It must
// be set before Start.
func (q *Queue) OnApplied(fn func(Command)) { q.applied = fn }

// Start launches the worker. Calling it twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.queue != nil {
		q.mu.Unlock()
		return
	}
	q.queue = make(chan Command, q.size)
	q.accepting = true
	queue := q.queue
	q.mu.Unlock()

	q.workerWG.Add(1)
	go func() {
		defer q.workerWG.Done()
		q.workerLoop(ctx, queue)
	}()
}

// Enqueue hands cmd to the worker. It blocks only while the buffer is full and
// gives up when ctx is done.
func (q *Queue) Enqueue(ctx context.Context, cmd Command) error {
	q.mu.Lock()
	if q.queue == nil {
		q.mu.Unlock()
		return ErrNotStarted
	}
	if !q.accepting {
		q.mu.Unlock()
		return ErrStopped
	}
	q.sendWG.Add(1)
	queue := q.queue
	q.mu.Unlock()
	defer q.sendWG.Done()

	select {
	case queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new commands, then lets the worker drain what is buffered until
// ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.queue == nil || !q.accepting {
		q.mu.Unlock()
		return nil
	}
	q.accepting = false
	queue := q.queue
	q.mu.Unlock()

	sent := make(chan struct{})
	go func() {
		q.sendWG.Wait()
		close(sent)
	}()
	select {
	case <-sent:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(queue)

	drained := make(chan struct{})
	go func() {
		q.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) workerLoop(ctx context.Context, queue <-chan Command) {
	for cmd := range queue {
		q.apply(ctx, cmd)
	}
}

func (q *Queue) apply(ctx context.Context, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error(ctx, errors.New("dispatch worker panic"), "command panicked",
				"kind", string(cmd.Kind), "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch cmd.Kind {
	case KindSubmit:
		if cmd.Event != nil {
			q.target.Submit(cmd.Event)
		}
	case KindDismiss:
		q.target.DismissByCorrelation(cmd.OperationID)
	case KindDismissAll:
		q.target.DismissAll()
	default:
		q.logger.Warn(ctx, "unknown dispatch command", "kind", string(cmd.Kind))
	}
	if q.applied != nil {
		q.applied(cmd)
	}
}
