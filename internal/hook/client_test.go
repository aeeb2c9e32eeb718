package hook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/approver/internal/event"
)

type fakeDaemon struct {
	healthy atomic.Bool
	status  int

	mu       sync.Mutex
	notified []event.Payload
	dismiss  []string
}

func (d *fakeDaemon) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		if !d.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/notify", func(w http.ResponseWriter, r *http.Request) {
		var p event.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode notify: %v", err)
		}
		d.mu.Lock()
		d.notified = append(d.notified, p)
		d.mu.Unlock()
		d.reply(w)
	})
	mux.HandleFunc("POST /api/dismiss", func(w http.ResponseWriter, r *http.Request) {
		var req event.DismissRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode dismiss: %v", err)
		}
		d.mu.Lock()
		d.dismiss = append(d.dismiss, req.ToolUseID)
		d.mu.Unlock()
		d.reply(w)
	})
	return mux
}

func (d *fakeDaemon) reply(w http.ResponseWriter) {
	if d.status != 0 && d.status != http.StatusOK {
		w.WriteHeader(d.status)
		_, _ = w.Write([]byte(`{"error":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (d *fakeDaemon) calls() ([]event.Payload, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]event.Payload(nil), d.notified...), append([]string(nil), d.dismiss...)
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, *httptest.Server) {
	t.Helper()
	d := &fakeDaemon{}
	srv := httptest.NewServer(d.handler(t))
	t.Cleanup(srv.Close)
	return d, srv
}

func TestClient_NotifyAndDismiss(t *testing.T) {
	t.Parallel()

	d, srv := newFakeDaemon(t)
	c := NewClient(srv.URL + "/")

	p := &event.Payload{ToolName: "Bash", RiskLevel: "high", ToolUseID: "op-1"}
	if err := c.Notify(context.Background(), p); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := c.Dismiss(context.Background(), "op-1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if err := c.Dismiss(context.Background(), ""); err != nil {
		t.Fatalf("Dismiss all: %v", err)
	}

	notified, dismissed := d.calls()
	if len(notified) != 1 || notified[0].ToolUseID != "op-1" || notified[0].RiskLevel != "high" {
		t.Errorf("notified = %+v", notified)
	}
	if len(dismissed) != 2 || dismissed[0] != "op-1" || dismissed[1] != "" {
		t.Errorf("dismiss = %q", dismissed)
	}
}

func TestClient_NonOKStatus(t *testing.T) {
	t.Parallel()

	d, srv := newFakeDaemon(t)
	d.status = http.StatusServiceUnavailable
	c := NewClient(srv.URL)

	if err := c.Notify(context.Background(), &event.Payload{ToolName: "Bash"}); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestClient_EnsureRunning(t *testing.T) {
	t.Parallel()

	binary := filepath.Join(t.TempDir(), "approver")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	t.Run("already healthy", func(t *testing.T) {
		t.Parallel()
		d, srv := newFakeDaemon(t)
		d.healthy.Store(true)
		c := NewClient(srv.URL)
		c.start = func(string) error {
			t.Error("start called for a healthy daemon")
			return nil
		}
		if err := c.EnsureRunning(context.Background(), binary); err != nil {
			t.Fatalf("EnsureRunning: %v", err)
		}
	})

	t.Run("starts and waits", func(t *testing.T) {
		t.Parallel()
		d, srv := newFakeDaemon(t)
		c := NewClient(srv.URL)
		c.poll = 5 * time.Millisecond
		var started string
		c.start = func(b string) error {
			started = b
			time.AfterFunc(20*time.Millisecond, func() { d.healthy.Store(true) })
			return nil
		}
		if err := c.EnsureRunning(context.Background(), binary); err != nil {
			t.Fatalf("EnsureRunning: %v", err)
		}
		if started != binary {
			t.Errorf("started %q, want %q", started, binary)
		}
	})

	t.Run("never healthy", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakeDaemon(t)
		c := NewClient(srv.URL)
		c.poll, c.wait = 5*time.Millisecond, 30*time.Millisecond
		c.start = func(string) error { return nil }
		if err := c.EnsureRunning(context.Background(), binary); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("err = %v, want ErrNotRunning", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakeDaemon(t)
		c := NewClient(srv.URL)
		c.start = func(string) error {
			t.Error("start called for a missing binary")
			return nil
		}
		if err := c.EnsureRunning(context.Background(), filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("err = %v, want ErrNotRunning", err)
		}
		if err := c.EnsureRunning(context.Background(), ""); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("err = %v, want ErrNotRunning", err)
		}
	})

	t.Run("start fails", func(t *testing.T) {
		t.Parallel()
		_, srv := newFakeDaemon(t)
		c := NewClient(srv.URL)
		c.start = func(string) error { return errors.New("exec format error") }
		if err := c.EnsureRunning(context.Background(), binary); !errors.Is(err, ErrNotRunning) {
			t.Fatalf("err = %v, want ErrNotRunning", err)
		}
	})
}
