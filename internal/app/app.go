// Package app arma el grafo de dependencias del servicio a partir de
// la configuración: store, cache, tokens, engine, controllers y router.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agentauth/consentd/internal/cache"
	"github.com/agentauth/consentd/internal/config"
	"github.com/agentauth/consentd/internal/engine"
	"github.com/agentauth/consentd/internal/http/controllers/consents"
	"github.com/agentauth/consentd/internal/http/controllers/decision"
	"github.com/agentauth/consentd/internal/http/controllers/system"
	"github.com/agentauth/consentd/internal/http/router"
	"github.com/agentauth/consentd/internal/metrics"
	"github.com/agentauth/consentd/internal/observability/logger"
	"github.com/agentauth/consentd/internal/rate"
	"github.com/agentauth/consentd/internal/store/core"
	"github.com/agentauth/consentd/internal/store/memory"
	"github.com/agentauth/consentd/internal/store/pg"
	"github.com/agentauth/consentd/internal/token"
)

// Version se fija en build time con -ldflags.
var Version = "dev"

// App es la aplicación armada, lista para servir.
type App struct {
	Handler http.Handler
	Store   core.Store
	Cache   cache.Client

	ShutdownTimeout time.Duration
}

// New construye la aplicación completa desde la configuración.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Named("app")

	// 1. Store
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: store: %w", err)
	}

	// 2. Cache (consent cache + idempotencia)
	cc := buildCache(cfg)

	// 3. Claves y codec
	keys, err := buildKeys(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: keys: %w", err)
	}
	codec := token.NewCodec(cfg.Tokens.Issuer, keys)

	// 4. Engine + servicios
	consentCache := engine.NewConsentCache(store, cc,
		config.Dur(cfg.Consents.CacheTTL, time.Minute))

	eng := engine.New(store, codec, consentCache, engine.Options{
		CodeTTL: config.Dur(cfg.Tokens.CodeTTL, 300*time.Second),
	})
	consentSvc := engine.NewConsentService(store, codec, consentCache, engine.ConsentServiceOptions{
		DelegationTTL:   config.Dur(cfg.Tokens.DelegationTTL, time.Hour),
		RequireApproval: cfg.Consents.RequireApproval,
	})

	// 5. Rate limiter (opcional)
	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		window := config.Dur(cfg.Rate.Window, time.Minute)
		if cfg.Cache.Kind == "redis" {
			limiter = rate.NewRedisLimiter(
				rate.NewRedisClient(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB),
				cfg.Cache.Redis.Prefix+"rl:", cfg.Rate.MaxRequests, window)
		} else {
			limiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, window)
		}
		log.Info("rate limiting enabled",
			logger.Int("max_requests", cfg.Rate.MaxRequests),
			logger.String("window", cfg.Rate.Window))
	}

	// 6. Controllers + router
	handler := router.New(router.Deps{
		Consents:         consents.NewController(consentSvc),
		Decision:         decision.NewController(eng),
		System:           system.NewController(store, cc, keys, Version),
		MetricsHandler:   metrics.Register(prometheus.DefaultRegisterer),
		RateLimiter:      limiter,
		IdempotencyCache: cc,
		IdempotencyTTL:   config.Dur(cfg.Idempotency.TTL, 24*time.Hour),
	})

	return &App{
		Handler:         handler,
		Store:           store,
		Cache:           cc,
		ShutdownTimeout: config.Dur(cfg.Server.ShutdownTimeout, 10*time.Second),
	}, nil
}

// Close libera store y cache en orden inverso al armado.
func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("driver desconocido: %q", cfg.Storage.Driver)
	}
}

func buildCache(cfg *config.Config) cache.Client {
	if cfg.Cache.Kind == "redis" {
		return cache.NewRedis(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	}
	return cache.NewMemory(cfg.Cache.Redis.Prefix,
		config.Dur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute))
}

// buildKeys arma los tres pares ed25519. Sin seeds configuradas genera
// claves efímeras de desarrollo (los tokens no sobreviven reinicios).
func buildKeys(cfg *config.Config) (*token.Keys, error) {
	t := cfg.Tokens
	if t.DelegationSeed == "" && t.CodeSeed == "" && t.ProofSeed == "" {
		logger.Named("app").Warn("no signing seeds configured, using ephemeral dev keys")
		return token.NewDevKeys()
	}
	if t.DelegationSeed == "" || t.CodeSeed == "" || t.ProofSeed == "" {
		return nil, fmt.Errorf("las tres seeds (delegation, code, proof) son requeridas")
	}

	d, err := token.KeySetFromSeed("delegation-1", t.DelegationSeed)
	if err != nil {
		return nil, err
	}
	c, err := token.KeySetFromSeed("code-1", t.CodeSeed)
	if err != nil {
		return nil, err
	}
	p, err := token.KeySetFromSeed("proof-1", t.ProofSeed)
	if err != nil {
		return nil, err
	}
	return &token.Keys{Delegation: d, Code: c, Proof: p}, nil
}
