// Package httptransport assembles the HTTP surface: domain routes, the agent
// webhook, health probes, and Prometheus metrics. Handlers stay thin and
// delegate to the domain services.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accord/internal/platform/health"
	"accord/pkg/platform/middleware/admin"
	request "accord/pkg/platform/middleware/request"
)

// Registrar mounts a handler's routes on a router.
type Registrar interface {
	Register(r chi.Router)
}

// Deps collects everything the router mounts.
type Deps struct {
	Partners  Registrar
	Exchanges Registrar
	Chat      Registrar
	Trust     Registrar
	Webhooks  Registrar
	Health    *health.Handler

	// AdminToken guards the trust registry surface; restriction management is
	// an operator concern, not a partner-facing one.
	AdminToken string
	Logger     *slog.Logger
}

// NewRouter wires all endpoints with the standard middleware stack.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(deps.Logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(deps.Logger))
	r.Use(request.Timeout(30 * time.Second))

	deps.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The agent posts webhooks without a content-type guarantee, so the JSON
	// middleware only wraps the API routes.
	deps.Webhooks.Register(r)

	r.Group(func(api chi.Router) {
		api.Use(request.ContentTypeJSON)
		deps.Partners.Register(api)
		deps.Exchanges.Register(api)
		deps.Chat.Register(api)

		api.Group(func(trusted chi.Router) {
			trusted.Use(admin.RequireAdminToken(deps.AdminToken, deps.Logger))
			deps.Trust.Register(trusted)
		})
	})

	return r
}
