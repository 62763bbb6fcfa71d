package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vinylogix/api/internal/platform/httpx"
	"github.com/vinylogix/api/internal/platform/observability"
)

// RouteRegistrar mounts a group of routes.
type RouteRegistrar func(r chi.Router)

// Middleware is the chi middleware shape.
type Middleware = func(http.Handler) http.Handler

const (
	apiPrefix       = "/api/v1"
	tenantRoutePath = "/tenants/{tenantID}"
	requestTimeout  = 60 * time.Second
)

type routerConfig struct {
	global       []Middleware
	health       *HealthHandlers
	tenantRoutes []RouteRegistrar
	tenantChain  []Middleware
}

// Option customises NewRouter.
type Option func(*routerConfig)

// WithMiddlewares appends global middleware after request id, real ip and timeout.
func WithMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithHealthHandlers replaces the default /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithTenantRoutes mounts registrars under /api/v1/tenants/{tenantID}.
func WithTenantRoutes(regs ...RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.tenantRoutes = append(cfg.tenantRoutes, regs...) }
}

// WithTenantMiddlewares adds middleware that runs once the tenant is on the request context.
func WithTenantMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.tenantChain = append(cfg.tenantChain, mw...) }
}

// NewRouter builds the HTTP surface: probes at the root and every ledger route under the
// tenant group. Unknown routes answer with the JSON error envelope.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: []Middleware{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.global)
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix+tenantRoutePath, func(tenant chi.Router) {
		tenant.Use(observability.TenantMiddleware)
		use(tenant, cfg.tenantChain)

		mounted := 0
		for _, register := range cfg.tenantRoutes {
			if register != nil {
				register(tenant)
				mounted++
			}
		}
		if mounted == 0 {
			tenant.HandleFunc("/*", notImplemented)
		}
	})
	return r
}

func use(r chi.Router, chain []Middleware) {
	for _, mw := range chain {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func routeNotFound(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
}

func notImplemented(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", "tenant routes not implemented", http.StatusNotImplemented))
}
