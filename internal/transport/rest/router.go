package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/baechuer/eventgate/internal/metrics"
)

type RouterDeps struct {
	Handler *Handler

	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	r.Use(middleware.RealIP)
	r.Use(SecurityHeaders)
	if d.RLEnabled {
		r.Use(httprate.LimitByIP(d.RLLimit, d.RLWindow))
	}

	r.Get("/", d.Handler.Root)
	r.Post("/publish", d.Handler.Publish)
	r.Get("/events", d.Handler.Events)
	r.Get("/stats", d.Handler.Stats)
	r.Get("/health", d.Handler.Health)

	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	return r
}
