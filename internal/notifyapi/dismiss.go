package notifyapi

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/approver/internal/dispatch"
	"github.com/linnemanlabs/approver/internal/event"
)

func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	req, err := event.DecodeDismiss(r.Body)
	if err != nil {
		a.logger.Warn(r.Context(), "rejected dismiss", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := dispatch.Acknowledge(strings.TrimSpace(req.ToolUseID))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("approver.dismiss.kind", string(cmd.Kind)),
		attribute.String("approver.operation_id", cmd.OperationID),
	)

	if err := a.fwd.Enqueue(r.Context(), cmd); err != nil {
		a.logger.Error(r.Context(), err, "failed to queue dismiss", "operation_id", cmd.OperationID)
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	writeOK(w)
}
