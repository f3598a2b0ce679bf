package middlewares

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/agentauth/consentd/internal/cache"
	"github.com/agentauth/consentd/internal/http/errors"
	"github.com/agentauth/consentd/internal/observability/logger"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	maxIdempotentBody  = 1 << 20 // 1MB
	idemKeyPrefix      = "idem:"
	replayHeader       = "X-Idempotent-Replay"
	maxIdempotencyKeyL = 128
)

// idemRecord es lo que se persiste en cache por Idempotency-Key:
// el hash del request y la respuesta completa a reproducir.
type idemRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status"`
	Body        string `json:"body"` // base64
	ContentType string `json:"content_type"`
}

// bodyRecorder buffer-ea la respuesta completa para poder almacenarla.
type bodyRecorder struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	wroteHeader bool
}

func (b *bodyRecorder) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyRecorder) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.status = http.StatusOK
		b.wroteHeader = true
	}
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

// WithIdempotency hace idempotentes los POST que traen Idempotency-Key:
// la misma key con el mismo body reproduce la respuesta almacenada; la
// misma key con un body distinto es un conflicto. Requests sin header
// pasan directo.
func WithIdempotency(store cache.Client, ttl time.Duration) Middleware {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyL {
				errors.WriteError(w, errors.ErrBadRequest.WithDetail("Idempotency-Key demasiado larga"))
				return
			}

			// Hashear el body y reponerlo para el handler.
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				errors.WriteError(w, errors.ErrBadRequest)
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			sum := blake2b.Sum256(body)
			reqHash := base64.RawURLEncoding.EncodeToString(sum[:])
			cacheKey := idemKeyPrefix + key

			ctx := r.Context()
			if raw, err := store.Get(ctx, cacheKey); err == nil {
				var rec idemRecord
				if json.Unmarshal([]byte(raw), &rec) == nil {
					if rec.RequestHash != reqHash {
						errors.WriteError(w, errors.ErrConflict.WithDetail(
							"Idempotency-Key reutilizada con un request distinto"))
						return
					}
					// Replay de la respuesta original.
					decoded, _ := base64.StdEncoding.DecodeString(rec.Body)
					w.Header().Set("Content-Type", rec.ContentType)
					w.Header().Set(replayHeader, "true")
					w.WriteHeader(rec.Status)
					_, _ = w.Write(decoded)
					return
				}
			}

			rec := &bodyRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Sólo respuestas definitivas se almacenan; un 5xx debe poder
			// reintentarse con la misma key.
			if rec.status >= http.StatusInternalServerError {
				return
			}

			stored, err := json.Marshal(idemRecord{
				RequestHash: reqHash,
				Status:      rec.status,
				Body:        base64.StdEncoding.EncodeToString(rec.buf.Bytes()),
				ContentType: rec.Header().Get("Content-Type"),
			})
			if err != nil {
				return
			}
			if _, err := store.SetNX(ctx, cacheKey, string(stored), ttl); err != nil {
				logger.From(ctx).Warn("idempotency store failed", logger.Err(err))
			}
		})
	}
}
