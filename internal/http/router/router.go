// Package router es el agregador de rutas del servicio.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentauth/consentd/internal/cache"
	"github.com/agentauth/consentd/internal/http/controllers/consents"
	"github.com/agentauth/consentd/internal/http/controllers/decision"
	"github.com/agentauth/consentd/internal/http/controllers/system"
	httperrors "github.com/agentauth/consentd/internal/http/errors"
	mw "github.com/agentauth/consentd/internal/http/middlewares"
	"github.com/agentauth/consentd/internal/rate"
)

// Deps contiene las dependencias del router.
type Deps struct {
	Consents *consents.Controller
	Decision *decision.Controller
	System   *system.Controller

	MetricsHandler http.Handler

	// RateLimiter aplica a las rutas de decisión. Opcional.
	RateLimiter rate.Limiter
	// IdempotencyCache respalda Idempotency-Key en /v1/authorize. Opcional.
	IdempotencyCache cache.Client
	IdempotencyTTL   time.Duration
}

// New construye el router chi con el middleware chain completo.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middlewares globales: el orden importa (recover afuera de todo).
	r.Use(mw.WithRecover())
	r.Use(mw.WithRequestID())
	r.Use(mw.WithLogging())

	// Sistema: sin rate limit ni idempotencia.
	deps.System.Register(r)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Consents: rate limit si está configurado.
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(mw.WithRateLimit(mw.RateLimitConfig{Limiter: deps.RateLimiter}))
		}
		deps.Consents.Register(r)
	})

	// Decisión: rate limit + idempotencia en authorize.
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(mw.WithRateLimit(mw.RateLimitConfig{Limiter: deps.RateLimiter}))
		}
		r.Use(mw.WithIdempotency(deps.IdempotencyCache, deps.IdempotencyTTL))
		deps.Decision.Register(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.New(http.StatusMethodNotAllowed,
			"METHOD_NOT_ALLOWED", "Método no permitido para esta ruta."))
	})

	return r
}
