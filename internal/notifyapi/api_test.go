package notifyapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/approver/internal/dispatch"
	"github.com/linnemanlabs/approver/internal/event"
	"github.com/linnemanlabs/approver/internal/lifecycle"
)

// recordingForwarder captures commands instead of queueing them.
type recordingForwarder struct {
	mu   sync.Mutex
	cmds []dispatch.Command
	err  error
}

func (f *recordingForwarder) Enqueue(_ context.Context, cmd dispatch.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *recordingForwarder) commands() []dispatch.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Command(nil), f.cmds...)
}

func newTestRouter(t *testing.T) (chi.Router, *recordingForwarder) {
	t.Helper()
	fwd := &recordingForwarder{}
	r := chi.NewRouter()
	New(nil, fwd).RegisterRoutes(r)
	return r, fwd
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("response body %q is not JSON: %v", rec.Body.String(), err)
	}
	return m
}

const highBody = `{"tool_name":"Bash","tool_input":{"command":"rm -rf build"},"summary":"Delete build dir","risk_level":"high","tool_use_id":"op-1","session_id":"s-1"}`

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	a := New(nil, &recordingForwarder{})
	if a.logger == nil {
		t.Fatal("New(nil, fwd) left logger nil; expected Nop logger")
	}
}

func TestNew_NilForwarder_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(logger, nil) did not panic")
		}
	}()
	New(log.Nop(), nil)
}

// Routing

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"notify", http.MethodPost, PathNotify, highBody, http.StatusOK},
		{"review alias", http.MethodPost, PathReview, highBody, http.StatusOK},
		{"dismiss with id", http.MethodPost, PathDismiss, `{"tool_use_id":"op-1"}`, http.StatusOK},
		{"dismiss empty body", http.MethodPost, PathDismiss, "", http.StatusOK},
		{"health", http.MethodGet, PathHealth, "", http.StatusOK},
		{"GET notify", http.MethodGet, PathNotify, "", http.StatusNotFound},
		{"PUT dismiss", http.MethodPut, PathDismiss, "", http.StatusNotFound},
		{"POST health", http.MethodPost, PathHealth, "", http.StatusNotFound},
		{"unknown path", http.MethodGet, "/api/other", "", http.StatusNotFound},
		{"root", http.MethodGet, "/", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(r, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(rec.Body.Len()) {
				t.Errorf("Content-Length = %q, body is %d bytes", cl, rec.Body.Len())
			}
			if c := rec.Header().Get("Connection"); c != "close" {
				t.Errorf("Connection = %q, want close", c)
			}
		})
	}
}

func TestNotFound_Body(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	rec := do(r, http.MethodDelete, "/nope", "")
	if got := decodeBody(t, rec)["error"]; got != "not found" {
		t.Errorf("error = %q, want %q", got, "not found")
	}
}

// Notify

func TestHandleNotify_ForwardsEvent(t *testing.T) {
	t.Parallel()

	r, fwd := newTestRouter(t)
	rec := do(r, http.MethodPost, PathNotify, highBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Errorf("status field = %q, want ok", got)
	}

	cmds := fwd.commands()
	if len(cmds) != 1 {
		t.Fatalf("forwarded %d commands, want 1", len(cmds))
	}
	c := cmds[0]
	if c.Kind != dispatch.KindSubmit {
		t.Errorf("kind = %q, want submit", c.Kind)
	}
	if c.Event.Action != "Bash" || c.Event.OperationID != "op-1" || c.Event.Severity != event.SeverityHigh {
		t.Errorf("event = %+v", c.Event)
	}
}

func TestHandleNotify_Rejects(t *testing.T) {
	t.Parallel()

	r, fwd := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantPrefix string
	}{
		{"empty body", "", "missing body"},
		{"malformed", `{"tool_name":`, "malformed JSON"},
		{"no tool name", `{"risk_level":"high"}`, "missing required field: tool_name"},
		{"bad level", `{"tool_name":"Bash","risk_level":"severe"}`, "invalid risk_level"},
		{"invalid utf8", "{\"tool_name\":\"\xff\"}", "invalid encoding"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(r, http.MethodPost, PathNotify, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody(t, rec)["error"]; !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("error = %q, want prefix %q", got, tt.wantPrefix)
			}
		})
	}

	t.Cleanup(func() {
		if n := len(fwd.commands()); n != 0 {
			t.Errorf("rejected requests forwarded %d commands", n)
		}
	})
}

func TestHandleNotify_QueueUnavailable(t *testing.T) {
	t.Parallel()

	fwd := &recordingForwarder{err: dispatch.ErrStopped}
	r := chi.NewRouter()
	New(nil, fwd).RegisterRoutes(r)

	for _, path := range []string{PathNotify, PathDismiss} {
		rec := do(r, http.MethodPost, path, highBody)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST %s = %d, want 503", path, rec.Code)
		}
		if got := decodeBody(t, rec)["error"]; got != "unavailable" {
			t.Errorf("error = %q, want unavailable", got)
		}
	}
}

// Dismiss

func TestHandleDismiss_Commands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantKind dispatch.Kind
		wantOpID string
	}{
		{"with id", `{"tool_use_id":"op-7"}`, dispatch.KindDismiss, "op-7"},
		{"padded id", `{"tool_use_id":"  op-7 "}`, dispatch.KindDismiss, "op-7"},
		{"empty object", `{}`, dispatch.KindDismissAll, ""},
		{"empty body", "", dispatch.KindDismissAll, ""},
		{"blank id", `{"tool_use_id":""}`, dispatch.KindDismissAll, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, fwd := newTestRouter(t)
			rec := do(r, http.MethodPost, PathDismiss, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			cmds := fwd.commands()
			if len(cmds) != 1 {
				t.Fatalf("forwarded %d commands, want 1", len(cmds))
			}
			if cmds[0].Kind != tt.wantKind || cmds[0].OperationID != tt.wantOpID {
				t.Errorf("command = %+v, want kind %q op %q", cmds[0], tt.wantKind, tt.wantOpID)
			}
		})
	}
}

func TestHandleDismiss_Malformed(t *testing.T) {
	t.Parallel()

	r, fwd := newTestRouter(t)
	rec := do(r, http.MethodPost, PathDismiss, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if n := len(fwd.commands()); n != 0 {
		t.Errorf("forwarded %d commands, want 0", n)
	}
}

// End to end through the dispatch queue

func TestRoundTrip_ManagerState(t *testing.T) {
	t.Parallel()

	m := lifecycle.NewManager(lifecycle.Options{})
	defer m.Close()
	q := dispatch.New(m, log.Nop(), 16)
	q.Start(context.Background())

	r := chi.NewRouter()
	New(nil, q).RegisterRoutes(r)

	// malformed input must not touch state
	if rec := do(r, http.MethodPost, PathNotify, `{"tool_name":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed = %d, want 400", rec.Code)
	}
	if rec := do(r, http.MethodPost, PathNotify, highBody); rec.Code != http.StatusOK {
		t.Fatalf("notify = %d, want 200", rec.Code)
	}
	if rec := do(r, http.MethodPost, PathNotify,
		`{"tool_name":"Edit","risk_level":"medium","tool_use_id":"op-2"}`); rec.Code != http.StatusOK {
		t.Fatalf("medium notify = %d, want 200", rec.Code)
	}

	waitFor(t, func() bool { return m.Snapshot().Len() == 1 && m.PendingCount() == 1 })

	snap := m.Snapshot()
	if snap.Records[0].Event.OperationID != "op-1" {
		t.Errorf("visible op = %q, want op-1", snap.Records[0].Event.OperationID)
	}

	// acknowledging the pending op suppresses it
	do(r, http.MethodPost, PathDismiss, `{"tool_use_id":"op-2"}`)
	waitFor(t, func() bool { return m.PendingCount() == 0 })

	do(r, http.MethodPost, PathDismiss, `{}`)
	waitFor(t, func() bool { return !m.ShouldPresent() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec := do(r, http.MethodPost, PathNotify, highBody); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("notify after stop = %d, want 503", rec.Code)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// Tracing

func TestHandleNotify_SpanAttributes(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r, _ := newTestRouter(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "POST /api/notify")
	req := httptest.NewRequest(http.MethodPost, PathNotify, strings.NewReader(highBody)).WithContext(ctx)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	span.End()

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	attrs := make(map[string]string)
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"approver.action":       "Bash",
		"approver.severity":     "high",
		"approver.operation_id": "op-1",
		"approver.is_done":      "false",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
}

// Fuzz

func FuzzNotify(f *testing.F) {
	fwd := &recordingForwarder{}
	r := chi.NewRouter()
	New(nil, fwd).RegisterRoutes(r)

	seeds := [][]byte{
		nil,
		[]byte("{}"),
		[]byte(highBody),
		[]byte(`{"tool_name":"Bash","risk_level":"done"}`),
		[]byte(`{"tool_name":"Bash","tool_input":[1,2,3]}`),
		[]byte("{invalid json"),
		[]byte("\x00\x01\x02\xff\xfe"),
		[]byte(strings.Repeat("a", 10000)),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		req := httptest.NewRequest(http.MethodPost, PathNotify, strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK && rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s with body len=%d = %d, want 200 or 400", PathNotify, len(body), rec.Code)
		}
	})
}
