// Package system contiene health checks y el endpoint JWKS.
package system

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentauth/consentd/internal/cache"
	"github.com/agentauth/consentd/internal/http/dto"
	"github.com/agentauth/consentd/internal/http/helpers"
	"github.com/agentauth/consentd/internal/store/core"
	"github.com/agentauth/consentd/internal/token"
)

// Controller expone /healthz, /readyz y /.well-known/jwks.json.
type Controller struct {
	store   core.Store
	cache   cache.Client // puede ser nil
	keys    *token.Keys
	version string
}

func NewController(store core.Store, cc cache.Client, keys *token.Keys, version string) *Controller {
	return &Controller{store: store, cache: cc, keys: keys, version: version}
}

// Register monta las rutas de sistema.
func (c *Controller) Register(r chi.Router) {
	r.Get("/healthz", c.Healthz)
	r.Get("/readyz", c.Readyz)
	r.Get("/.well-known/jwks.json", c.JWKS)
}

// Healthz es liveness: el proceso responde.
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, dto.HealthResponse{
		Status:    "ready",
		Version:   c.version,
		Timestamp: time.Now().UTC(),
	})
}

// Readyz es readiness: verifica las dependencias con timeout corto.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]dto.ComponentStatus{}
	status := "ready"
	httpStatus := http.StatusOK

	if err := c.store.Ping(ctx); err != nil {
		components["store"] = dto.ComponentStatus{Status: "error", Message: err.Error()}
		status = "unavailable"
		httpStatus = http.StatusServiceUnavailable
	} else {
		components["store"] = dto.ComponentStatus{Status: "ok"}
	}

	if c.cache != nil {
		if err := c.cache.Ping(ctx); err != nil {
			components["cache"] = dto.ComponentStatus{Status: "error", Message: err.Error()}
			// El cache es acelerador, no autoridad: degradado pero servible.
			if status == "ready" {
				status = "degraded"
			}
		} else {
			components["cache"] = dto.ComponentStatus{Status: "ok"}
		}
	} else {
		components["cache"] = dto.ComponentStatus{Status: "disabled"}
	}

	helpers.WriteJSON(w, httpStatus, dto.HealthResponse{
		Status:     status,
		Components: components,
		Version:    c.version,
		Timestamp:  time.Now().UTC(),
	})
}

// JWKS publica las claves públicas de verificación (proof y auth codes)
// para que terceros validen sin llamar al servicio.
func (c *Controller) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(c.keys.JWKSJSON())
}
