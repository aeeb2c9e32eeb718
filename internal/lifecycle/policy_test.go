package lifecycle

import (
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/approver/internal/event"
)

func TestPolicyDecide(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	tests := []struct {
		name      string
		ev        *event.Event
		wantPath  AdmitPath
		wantDelay time.Duration
		wantExp   time.Duration
	}{
		{"high", &event.Event{Severity: event.SeverityHigh}, PathHigh, 0, p.HighExpiry},
		{"high and done", &event.Event{Severity: event.SeverityHigh, IsDone: true}, PathHigh, 0, p.HighExpiry},
		{"done", &event.Event{IsDone: true}, PathDone, 0, p.DoneExpiry},
		{"medium", &event.Event{Severity: event.SeverityMedium}, PathDebounce, p.Debounce, p.MediumExpiry},
		{"none", &event.Event{Severity: event.SeverityNone}, PathDebounce, p.Debounce, p.MediumExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := p.Decide(tt.ev)
			if d.Path != tt.wantPath || d.Delay != tt.wantDelay || d.Expiry != tt.wantExp {
				t.Errorf("Decide = %+v, want {%s %s %s}", d, tt.wantPath, tt.wantDelay, tt.wantExp)
			}
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	p := DefaultPolicy()
	p.Debounce = 0
	p.DoneExpiry = -time.Second
	p.MaxPending = 0
	err := p.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"debounce", "done expiry", "max pending"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestPolicyWithDefaults(t *testing.T) {
	t.Parallel()

	if got := (Policy{}).WithDefaults(); got != DefaultPolicy() {
		t.Errorf("zero policy = %+v, want defaults", got)
	}

	p := Policy{Debounce: 500 * time.Millisecond, MaxVisible: 3, MaxPending: -1}
	got := p.WithDefaults()
	want := DefaultPolicy()
	want.Debounce = 500 * time.Millisecond
	want.MaxVisible = 3
	if got != want {
		t.Errorf("WithDefaults = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("defaulted policy invalid: %v", err)
	}
}
