// Package notifyapi is the loopback ingestion endpoint: it decodes notify and
// dismiss requests and forwards them to the lifecycle manager without waiting
// on it.
package notifyapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/approver/internal/dispatch"
)

// Route paths.
const (
	PathNotify  = "/api/notify"
	PathReview  = "/api/review"
	PathDismiss = "/api/dismiss"
	PathHealth  = "/api/health"
)

// Forwarder queues commands for the lifecycle manager.
type Forwarder interface {
	Enqueue(ctx context.Context, cmd dispatch.Command) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	fwd    Forwarder
}

// New creates a new API handler.
func New(logger log.Logger, fwd Forwarder) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if fwd == nil {
		panic(xerrors.New("forwarder is required"))
	}
	return &API{
		logger: logger,
		fwd:    fwd,
	}
}

// RegisterRoutes attaches API endpoints to the router. Unknown paths and
// unsupported methods both answer 404.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(closeConnection)
	r.Post(PathNotify, a.handleNotify)
	r.Post(PathReview, a.handleNotify)
	r.Post(PathDismiss, a.handleDismiss)
	r.Get(PathHealth, a.handleHealth)
	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeOK(w)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

// closeConnection disables keep-alive: one request per connection.
func closeConnection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}
