// Package console presents lifecycle state as structured log lines.
package console

import (
	"context"
	"sync"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/approver/internal/lifecycle"
)

// Presenter logs presence changes and the top record of each snapshot.
type Presenter struct {
	logger log.Logger

	mu      sync.Mutex
	shown   bool
	version uint64
	seen    map[lifecycle.RecordID]struct{}
}

var _ lifecycle.Observer = (*Presenter)(nil)

// New returns a presenter writing to logger.
func New(logger log.Logger) *Presenter {
	if logger == nil {
		logger = log.Nop()
	}
	return &Presenter{
		logger: logger.With("component", "console"),
		seen:   make(map[lifecycle.RecordID]struct{}),
	}
}

// OnStateChanged implements lifecycle.Observer.
func (p *Presenter) OnStateChanged(snap lifecycle.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Version != 0 && snap.Version <= p.version {
		return
	}
	p.version = snap.Version

	ctx := context.Background()
	present := snap.ShouldPresent()
	switch {
	case present && !p.shown:
		p.logger.Info(ctx, "notifications shown", "count", snap.Len())
	case !present && p.shown:
		p.logger.Info(ctx, "notifications hidden")
	}
	p.shown = present

	current := make(map[lifecycle.RecordID]struct{}, snap.Len())
	for _, r := range lifecycle.SortForDisplay(snap.Records) {
		current[r.ID] = struct{}{}
		if _, ok := p.seen[r.ID]; ok {
			continue
		}
		p.logger.Info(ctx, "notification",
			"id", string(r.ID),
			"severity", string(r.Event.Severity),
			"action", r.Event.Action,
			"summary", r.Event.Summary,
			"operation_id", r.Event.OperationID,
			"is_done", r.Event.IsDone,
			"expires_at", r.ExpiresAt,
		)
	}
	p.seen = current
}

// Shown reports whether the last snapshot had anything to present.
func (p *Presenter) Shown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}
