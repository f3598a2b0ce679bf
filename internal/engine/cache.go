package engine

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentauth/consentd/internal/cache"
	"github.com/agentauth/consentd/internal/consent"
	"github.com/agentauth/consentd/internal/store/core"
)

// ConsentCache pone un cache TTL delante del Consent Store para el hot
// path de Authorize. singleflight colapsa lookups concurrentes del mismo
// consent en una sola query.
//
// El cache nunca es autoridad sobre revocación dentro de su TTL: por eso
// el TTL es corto y Revoke invalida explícitamente.
type ConsentCache struct {
	store core.ConsentStore
	cache cache.Client
	ttl   time.Duration
	sf    singleflight.Group
}

func NewConsentCache(store core.ConsentStore, c cache.Client, ttl time.Duration) *ConsentCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ConsentCache{store: store, cache: c, ttl: ttl}
}

func (cc *ConsentCache) key(id string) string { return "consent:" + id }

// Get devuelve el consent, cache-first.
func (cc *ConsentCache) Get(ctx context.Context, id string) (*consent.Consent, error) {
	if cc.cache != nil {
		if raw, err := cc.cache.Get(ctx, cc.key(id)); err == nil {
			var c consent.Consent
			if json.Unmarshal([]byte(raw), &c) == nil {
				return &c, nil
			}
			// Entrada corrupta: descartarla y seguir al store.
			_ = cc.cache.Delete(ctx, cc.key(id))
		}
	}

	v, err, _ := cc.sf.Do(id, func() (any, error) {
		c, err := cc.store.GetConsent(ctx, id)
		if err != nil {
			return nil, err
		}
		if cc.cache != nil {
			if raw, err := json.Marshal(c); err == nil {
				_ = cc.cache.Set(ctx, cc.key(id), string(raw), cc.ttl)
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*consent.Consent), nil
}

// Invalidate borra la entrada (llamar tras cualquier transición).
func (cc *ConsentCache) Invalidate(ctx context.Context, id string) {
	if cc.cache != nil {
		_ = cc.cache.Delete(ctx, cc.key(id))
	}
}
