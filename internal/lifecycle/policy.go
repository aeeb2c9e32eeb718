package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/approver/internal/event"
)

// Default admission timings.
const (
	DefaultDebounce     = 2 * time.Second
	DefaultHighExpiry   = 30 * time.Second
	DefaultMediumExpiry = 15 * time.Second
	DefaultDoneExpiry   = 10 * time.Second
	DefaultMaxVisible   = 50
	DefaultMaxPending   = 256
)

// Policy configures accumulate-with-debounce admission.
type Policy struct {
	Debounce     time.Duration
	HighExpiry   time.Duration
	MediumExpiry time.Duration
	DoneExpiry   time.Duration
	MaxVisible   int
	MaxPending   int
}

// DefaultPolicy returns the canonical timings.
func DefaultPolicy() Policy {
	return Policy{
		Debounce:     DefaultDebounce,
		HighExpiry:   DefaultHighExpiry,
		MediumExpiry: DefaultMediumExpiry,
		DoneExpiry:   DefaultDoneExpiry,
		MaxVisible:   DefaultMaxVisible,
		MaxPending:   DefaultMaxPending,
	}
}

// WithDefaults returns p with every non-positive field replaced by its default.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.Debounce <= 0 {
		p.Debounce = d.Debounce
	}
	if p.HighExpiry <= 0 {
		p.HighExpiry = d.HighExpiry
	}
	if p.MediumExpiry <= 0 {
		p.MediumExpiry = d.MediumExpiry
	}
	if p.DoneExpiry <= 0 {
		p.DoneExpiry = d.DoneExpiry
	}
	if p.MaxVisible <= 0 {
		p.MaxVisible = d.MaxVisible
	}
	if p.MaxPending <= 0 {
		p.MaxPending = d.MaxPending
	}
	return p
}

// Validate checks every duration and bound is positive.
func (p Policy) Validate() error {
	var errs []error
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"debounce", p.Debounce},
		{"high expiry", p.HighExpiry},
		{"medium expiry", p.MediumExpiry},
		{"done expiry", p.DoneExpiry},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s %s (must be > 0)", d.name, d.d))
		}
	}
	if p.MaxVisible <= 0 {
		errs = append(errs, fmt.Errorf("invalid max visible %d (must be > 0)", p.MaxVisible))
	}
	if p.MaxPending <= 0 {
		errs = append(errs, fmt.Errorf("invalid max pending %d (must be > 0)", p.MaxPending))
	}
	return errors.Join(errs...)
}

// AdmitPath names how an event reached (or is headed to) the visible set.
type AdmitPath string

const (
	PathHigh     AdmitPath = "high"
	PathDone     AdmitPath = "done"
	PathDebounce AdmitPath = "debounce"
	PathPromoted AdmitPath = "promoted"
)

// Decision is the outcome of classifying an event against the policy.
type Decision struct {
	Path   AdmitPath
	Delay  time.Duration // zero when shown immediately
	Expiry time.Duration // measured from the moment it becomes visible
}

// Decide applies the admission tiers: high severity and completion events are
// shown immediately, everything else waits out the debounce window.
func (p Policy) Decide(ev *event.Event) Decision {
	switch {
	case ev.Severity == event.SeverityHigh:
		return Decision{Path: PathHigh, Expiry: p.HighExpiry}
	case ev.IsDone:
		return Decision{Path: PathDone, Expiry: p.DoneExpiry}
	default:
		return Decision{Path: PathDebounce, Delay: p.Debounce, Expiry: p.MediumExpiry}
	}
}
