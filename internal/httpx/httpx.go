// Package httpx contains the HTTP delivery layer for linkvault. It maps
// requests to the application service while enforcing size limits, security
// headers, caller identity and error translation.
// Handlers are split across files (items.go, owner.go, health.go, errors.go).
package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/haukened/linkvault/internal/app"
	"github.com/haukened/linkvault/internal/domain"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	Create(ctx context.Context, req app.CreateRequest) (domain.ItemID, time.Time, error)
	Access(ctx context.Context, id, secret string) (domain.ContentView, error)
	Check(ctx context.Context, id, secret string) error
	Delete(ctx context.Context, id, requester string) error
	List(ctx context.Context, owner string) ([]domain.ItemSummary, error)
	Claim(ctx context.Context, ids []string, owner string) ([]string, error)
	OpenBlob(ctx context.Context, view domain.ContentView) (io.ReadCloser, error)
	ReleaseBlob(ctx context.Context, view domain.ContentView)
}

// multipartOverhead is the allowance for form fields and boundaries on top
// of the file size limit.
const multipartOverhead = 1 << 20

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service      ServicePort
	MaxFileBytes int64                       // file payload limit; the request body may exceed it by multipartOverhead
	MaxTextBytes int64                       // text payload limit, used to cap JSON bodies
	Readiness    func(context.Context) error // optional readiness probe
	Identity     *Identity                   // optional; nil treats every caller as anonymous
	Metrics      http.Handler                // optional /metrics handler
	Logger       *slog.Logger
}

// New returns a configured Handler.
func New(svc ServicePort, maxText, maxFile int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, MaxTextBytes: maxText, MaxFileBytes: maxFile, Readiness: readiness}
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Router constructs and returns an http.Handler with all routes mounted and
// the middleware chain applied.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationIDMiddleware, h.requestLogger, h.secureHeaders, h.Identity.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/items", h.handleCreate)
		r.Get("/items/{id}", h.handleAccess)
		r.Post("/items/{id}/check", h.handleCheck)
		r.Delete("/items/{id}", h.handleDelete)

		r.Group(func(r chi.Router) {
			r.Use(h.requireIdentity)
			r.Get("/my/items", h.handleList)
			r.Put("/my/items/claim", h.handleClaim)
		})
	})
	return r
}
