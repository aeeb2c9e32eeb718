package lifecycle

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/approver/internal/event"
)

// RemoveReason records why a visible record left the set.
type RemoveReason string

const (
	RemoveDismissed  RemoveReason = "dismissed"
	RemoveCorrelated RemoveReason = "correlated"
	RemoveAll        RemoveReason = "dismiss_all"
	RemoveExpired    RemoveReason = "expired"
	RemoveSuperseded RemoveReason = "superseded"
	RemoveOverflow   RemoveReason = "overflow"
	RemoveClosed     RemoveReason = "closed"
)

// Hooks are optional callbacks invoked while the manager holds its lock. They
// must be fast and must not call back into the manager.
type Hooks struct {
	OnAdmit    func(path AdmitPath)
	OnRemove   func(reason RemoveReason, visibleFor time.Duration)
	OnSuppress func()
	OnReplace  func()
	OnState    func(visible, pending int)
}

// Options configures a Manager. Zero values, including individual Policy
// fields, select defaults.
type Options struct {
	Policy Policy
	Clock  Clock
	Logger log.Logger
	Hooks  Hooks
	NewID  func() RecordID
}

type entry struct {
	rec   Record
	gen   uint64
	timer Timer
}

type pendingEntry struct {
	id         RecordID
	key        string
	ev         *event.Event
	receivedAt time.Time
	gen        uint64
	timer      Timer
}

// Manager is the single owner of the visible set and the pending table. All
// mutation happens under mu; timers re-enter through mu and act only when the
// entry they were scheduled for still carries the same generation.
type Manager struct {
	policy Policy
	clock  Clock
	logger log.Logger
	hooks  Hooks
	newID  func() RecordID

	mu      sync.Mutex
	visible []*entry
	byID    map[RecordID]*entry
	pending map[string]*pendingEntry
	gen     uint64
	version uint64
	closed  bool

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	notify    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewManager constructs a Manager and starts its publisher goroutine. Call
// Close to stop timers and the publisher.
func NewManager(opts Options) *Manager {
	opts.Policy = opts.Policy.WithDefaults()
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.NewID == nil {
		opts.NewID = func() RecordID { return RecordID(ulid.Make().String()) }
	}
	m := &Manager{
		policy:    opts.Policy,
		clock:     opts.Clock,
		logger:    opts.Logger,
		hooks:     opts.Hooks,
		newID:     opts.NewID,
		byID:      make(map[RecordID]*entry),
		pending:   make(map[string]*pendingEntry),
		observers: make(map[int]Observer),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go m.publishLoop()
	return m
}

// Policy returns the active admission policy.
func (m *Manager) Policy() Policy { return m.policy }

// Submit admits ev and returns the identifier its record carries once visible.
// It never fails; a closed manager drops the event.
func (m *Manager) Submit(ev *event.Event) RecordID {
	id := m.newID()
	now := m.clock.Now()
	d := m.policy.Decide(ev)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return id
	}

	L := m.logger.With("record_id", string(id), "operation_id", ev.OperationID, "action", ev.Action)

	key := ev.OperationID
	if key == "" {
		key = string(id)
	}
	// a later event for the key wins over a deferred one, whichever path it takes
	if old, ok := m.pending[key]; ok {
		m.replacePendingLocked(old, L)
	}

	if d.Delay == 0 {
		m.admitLocked(id, ev, now, d.Expiry)
		m.admitHook(d.Path)
		m.changedLocked()
		L.Info(context.Background(), "notification visible", "path", string(d.Path), "expiry", d.Expiry.String())
		return id
	}

	if len(m.pending) >= m.policy.MaxPending {
		m.promoteOldestLocked()
	}

	m.gen++
	p := &pendingEntry{id: id, key: key, ev: ev, receivedAt: now, gen: m.gen}
	gen := p.gen
	p.timer = m.clock.AfterFunc(d.Delay, func() { m.promote(key, gen) })
	m.pending[key] = p
	m.admitHook(d.Path)
	m.stateHookLocked()
	L.Info(context.Background(), "notification deferred", "debounce", d.Delay.String())
	return id
}

// DismissByCorrelation removes visible records carrying opID and cancels the
// pending admission for it. Unknown or empty keys are a no-op.
func (m *Manager) DismissByCorrelation(opID string) bool {
	if opID == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := false
	if p, ok := m.pending[opID]; ok && p.ev.OperationID == opID {
		m.cancelPendingLocked(p)
		if m.hooks.OnSuppress != nil {
			m.hooks.OnSuppress()
		}
		removed = true
		m.logger.Info(context.Background(), "deferred notification suppressed", "operation_id", opID)
	}

	visibleRemoved := false
	for _, e := range slices.Clone(m.visible) {
		if e.rec.Event.OperationID == opID {
			m.removeLocked(e, RemoveCorrelated)
			visibleRemoved = true
		}
	}
	if visibleRemoved {
		m.changedLocked()
		removed = true
	} else {
		m.stateHookLocked()
	}
	return removed
}

// Dismiss removes the visible record with the given ID, if any.
func (m *Manager) Dismiss(id RecordID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return false
	}
	m.removeLocked(e, RemoveDismissed)
	m.changedLocked()
	return true
}

// DismissAll clears the visible set and cancels every pending admission. It
// returns the number of visible records removed.
func (m *Manager) DismissAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.clearLocked(RemoveAll)
	if n > 0 {
		m.changedLocked()
	} else {
		m.stateHookLocked()
	}
	return n
}

// Snapshot returns a copy of the visible set.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// ShouldPresent reports whether the visible set is non-empty.
func (m *Manager) ShouldPresent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visible) > 0
}

// PendingCount returns the number of deferred admissions.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Subscribe registers o and schedules a delivery of the current snapshot. The
// returned function unregisters it.
func (m *Manager) Subscribe(o Observer) func() {
	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = o
	m.obsMu.Unlock()

	m.signal()

	return func() {
		m.obsMu.Lock()
		delete(m.observers, id)
		m.obsMu.Unlock()
	}
}

// Close cancels every timer, drops all state and stops the publisher. It is
// safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.clearLocked(RemoveClosed)
		m.mu.Unlock()

		close(m.done)
		<-m.stopped
	})
}

func (m *Manager) promote(key string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[key]
	if !ok || p.gen != gen {
		return
	}
	p.timer = nil
	delete(m.pending, key)
	m.admitLocked(p.id, p.ev, p.receivedAt, m.policy.MediumExpiry)
	m.admitHook(PathPromoted)
	m.changedLocked()
	m.logger.Info(context.Background(), "deferred notification promoted",
		"record_id", string(p.id), "operation_id", p.ev.OperationID)
}

func (m *Manager) expire(id RecordID, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok || e.gen != gen {
		return
	}
	e.timer = nil
	m.removeLocked(e, RemoveExpired)
	m.changedLocked()
}

func (m *Manager) admitLocked(id RecordID, ev *event.Event, receivedAt time.Time, expiry time.Duration) {
	now := m.clock.Now()

	if ev.OperationID != "" {
		for _, e := range slices.Clone(m.visible) {
			if e.rec.Event.OperationID == ev.OperationID {
				m.removeLocked(e, RemoveSuperseded)
			}
		}
	}

	m.gen++
	e := &entry{
		rec: Record{
			ID:         id,
			Event:      ev,
			ReceivedAt: receivedAt,
			VisibleAt:  now,
			ExpiresAt:  now.Add(expiry),
		},
		gen: m.gen,
	}
	gen := e.gen
	e.timer = m.clock.AfterFunc(expiry, func() { m.expire(id, gen) })
	m.visible = append(m.visible, e)
	m.byID[id] = e

	for len(m.visible) > m.policy.MaxVisible {
		m.removeLocked(m.visible[0], RemoveOverflow)
	}
}

// promoteOldestLocked makes room in the pending table by showing the entry
// that has waited longest.
func (m *Manager) promoteOldestLocked() {
	var oldest *pendingEntry
	for _, p := range m.pending {
		if oldest == nil || p.gen < oldest.gen {
			oldest = p
		}
	}
	if oldest == nil {
		return
	}
	m.cancelPendingLocked(oldest)
	m.admitLocked(oldest.id, oldest.ev, oldest.receivedAt, m.policy.MediumExpiry)
	m.admitHook(PathPromoted)
	m.changedLocked()
}

func (m *Manager) replacePendingLocked(p *pendingEntry, L log.Logger) {
	m.cancelPendingLocked(p)
	if m.hooks.OnReplace != nil {
		m.hooks.OnReplace()
	}
	L.Info(context.Background(), "deferred notification replaced", "replaced_record_id", string(p.id))
}

func (m *Manager) cancelPendingLocked(p *pendingEntry) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	delete(m.pending, p.key)
}

func (m *Manager) removeLocked(e *entry, reason RemoveReason) {
	if _, ok := m.byID[e.rec.ID]; !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	delete(m.byID, e.rec.ID)
	if i := slices.Index(m.visible, e); i >= 0 {
		m.visible = slices.Delete(m.visible, i, i+1)
	}
	if m.hooks.OnRemove != nil {
		m.hooks.OnRemove(reason, m.clock.Now().Sub(e.rec.VisibleAt))
	}
}

func (m *Manager) clearLocked(reason RemoveReason) int {
	for _, p := range m.pending {
		m.cancelPendingLocked(p)
		if reason == RemoveAll && m.hooks.OnSuppress != nil {
			m.hooks.OnSuppress()
		}
	}
	n := len(m.visible)
	for _, e := range slices.Clone(m.visible) {
		m.removeLocked(e, reason)
	}
	return n
}

func (m *Manager) snapshotLocked() Snapshot {
	recs := make([]Record, len(m.visible))
	for i, e := range m.visible {
		recs[i] = e.rec
	}
	return Snapshot{Version: m.version, Records: recs}
}

func (m *Manager) admitHook(path AdmitPath) {
	if m.hooks.OnAdmit != nil {
		m.hooks.OnAdmit(path)
	}
}

func (m *Manager) stateHookLocked() {
	if m.hooks.OnState != nil {
		m.hooks.OnState(len(m.visible), len(m.pending))
	}
}

// changedLocked bumps the version after a visible-set mutation and wakes the
// publisher.
func (m *Manager) changedLocked() {
	m.version++
	m.stateHookLocked()
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) publishLoop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
			snap := m.Snapshot()
			m.obsMu.Lock()
			obs := make([]Observer, 0, len(m.observers))
			for _, id := range slices.Sorted(maps.Keys(m.observers)) {
				obs = append(obs, m.observers[id])
			}
			m.obsMu.Unlock()
			for _, o := range obs {
				m.deliver(o, snap)
			}
		}
	}
}

func (m *Manager) deliver(o Observer, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn(context.Background(), "observer panicked", "panic", r, "version", snap.Version)
		}
	}()
	o.OnStateChanged(snap)
}
