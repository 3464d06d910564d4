package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// cacheTTL bounds how long a replayed response stays valid.
const cacheTTL = 24 * time.Hour

// idempotencyHeader is the standard HTTP header carrying the client's key.
const idempotencyHeader = "Idempotency-Key"

// CachedResponse is what the cache stores per idempotency key.
type CachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// ResponseCache replays previously written responses. It is an HTTP-level
// optimization only; the transfer log's unique key remains the source of truth
// for exactly-once application.
type ResponseCache interface {
	// Get returns the cached response, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Save(ctx context.Context, key string, response CachedResponse, ttl time.Duration) error
}

// RequestLogger binds a request-scoped logger carrying the request id into the
// context, so every log line of one request (including fanned-out lookups)
// shares the same correlation id.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

// responseRecorder captures what the handler writes so it can be cached.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays cached responses for requests carrying an
// Idempotency-Key header. Cache failures fail open: the request proceeds.
func Idempotency(cache ResponseCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			cached, err := cache.Get(ctx, key)
			if err != nil {
				log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency cache lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Hit", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			recorder := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(recorder, r)

			// Server errors are not cached so the client can retry them.
			if recorder.statusCode < 500 {
				err := cache.Save(ctx, key, CachedResponse{
					StatusCode: recorder.statusCode,
					Body:       recorder.body.Bytes(),
				}, cacheTTL)
				if err != nil {
					log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency cache save failed")
				}
			}
		})
	}
}
