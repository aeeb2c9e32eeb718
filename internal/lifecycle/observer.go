package lifecycle

// Observer receives the latest snapshot whenever the visible set changes.
// Calls come from a single publisher goroutine, never while the manager holds
// its lock, so observers may call back into the manager.
type Observer interface {
	OnStateChanged(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// OnStateChanged calls f.
func (f ObserverFunc) OnStateChanged(s Snapshot) { f(s) }

// Actions is the mutation surface a presentation adapter maps user input onto.
type Actions interface {
	Dismiss(id RecordID) bool
	DismissAll() int
}

var _ Actions = (*Manager)(nil)
