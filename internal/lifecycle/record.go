package lifecycle

import (
	"slices"
	"time"

	"github.com/linnemanlabs/approver/internal/event"
)

// RecordID is the manager's own key for a notification. It is distinct from
// the producer's correlation key (event.Event.OperationID).
type RecordID string

// Record is one visible notification.
type Record struct {
	ID         RecordID     `json:"id"`
	Event      *event.Event `json:"event"`
	ReceivedAt time.Time    `json:"received_at"`
	VisibleAt  time.Time    `json:"visible_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

// Snapshot is a read-only, point-in-time copy of the visible set in arrival
// order.
type Snapshot struct {
	Version uint64   `json:"version"`
	Records []Record `json:"records"`
}

// ShouldPresent reports whether anything is visible.
func (s Snapshot) ShouldPresent() bool { return len(s.Records) > 0 }

// Len returns the number of visible records.
func (s Snapshot) Len() int { return len(s.Records) }

// Find returns the record with the given ID.
func (s Snapshot) Find(id RecordID) (Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// SortForDisplay returns a copy ordered severity-first, then most recently
// visible first.
func SortForDisplay(recs []Record) []Record {
	out := slices.Clone(recs)
	slices.SortStableFunc(out, func(a, b Record) int {
		if ra, rb := a.Event.Severity.Rank(), b.Event.Severity.Rank(); ra != rb {
			return rb - ra
		}
		return b.VisibleAt.Compare(a.VisibleAt)
	})
	return out
}
