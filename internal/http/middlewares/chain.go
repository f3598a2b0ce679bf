package middlewares

import "net/http"

// Middleware decora un http.Handler. El router los aplica vía chi.Use;
// las firmas acá devuelven Middleware para poder parametrizarlos
// (WithRateLimit(cfg), WithIdempotency(store, ttl)).
type Middleware func(http.Handler) http.Handler
