package notifyapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/approver/internal/dispatch"
	"github.com/linnemanlabs/approver/internal/event"
)

func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	ev, err := event.Decode(r.Body)
	if err != nil {
		a.logger.Warn(r.Context(), "rejected notification", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("approver.action", ev.Action),
		attribute.String("approver.severity", string(ev.Severity)),
		attribute.String("approver.operation_id", ev.OperationID),
		attribute.Bool("approver.is_done", ev.IsDone),
	)

	if err := a.fwd.Enqueue(r.Context(), dispatch.Submit(ev)); err != nil {
		a.logger.Error(r.Context(), err, "failed to queue notification", "operation_id", ev.OperationID)
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}

	a.logger.Info(r.Context(), "notification queued",
		"action", ev.Action,
		"severity", ev.Severity,
		"operation_id", ev.OperationID,
		"session_id", ev.SessionID,
		"is_done", ev.IsDone,
	)
	writeOK(w)
}
