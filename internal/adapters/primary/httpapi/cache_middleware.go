package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jupiterclapton/feedrank/internal/core/ports"
)

// CacheLayer porte le protocole cache-aside : lecture avant handler,
// écriture fire-and-forget après. Le store est injecté (jamais de client
// global mutable).
type CacheLayer struct {
	store ports.CacheStore
}

func NewCacheLayer(store ports.CacheStore) *CacheLayer {
	return &CacheLayer{store: store}
}

type CacheOptions struct {
	Strategy KeyStrategy
	TTL      time.Duration
	Skip     SkipRule
}

// Wrap décore un handler avec le protocole cache-aside.
//
// Hit : payload servi tel quel, X-Cache: HIT, sans invoquer le handler.
// Miss : le handler tourne derrière un recorder, le payload intercepté part
// vers le store en fire-and-forget. Un échec du store est loggé et ne
// retarde ni ne fait échouer la réponse.
func (c *CacheLayer) Wrap(opts CacheOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkip(opts.Skip, r) {
			next.ServeHTTP(w, r)
			return
		}

		key := buildKey(opts.Strategy, r)

		payload, err := c.store.Get(r.Context(), key)
		if err != nil {
			// StoreUnavailable : on dégrade en miss, jamais d'erreur client
			slog.Warn("⚠️ Cache store unavailable, treating as miss", "key", key, "error", err)
		}
		if payload != nil {
			h := w.Header()
			h.Set("Content-Type", "application/json")
			h.Set("X-Cache", "HIT")
			h.Set("X-Cache-Key", key)
			h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(opts.TTL.Seconds())))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(payload)
			return
		}

		h := w.Header()
		h.Set("X-Cache", "MISS")
		h.Set("X-Cache-Key", key)

		// Cache-Control ne part qu'avec un 200 : une erreur n'est jamais
		// stockée, elle ne doit pas non plus s'annoncer cacheable
		rec := &captureWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
			cacheControl:   fmt.Sprintf("public, max-age=%d", int(opts.TTL.Seconds())),
		}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusOK && rec.body.Len() > 0 {
			body := bytes.Clone(rec.body.Bytes())
			// Détaché du cycle de vie de la requête : la latence du store
			// n'ajoute rien à la réponse déjà partie
			go func(ctx context.Context) {
				if err := c.store.Set(ctx, key, body, opts.TTL); err != nil {
					slog.Warn("⚠️ Cache store failed, response not cached", "key", key, "error", err)
				}
			}(context.WithoutCancel(r.Context()))
		}
	})
}

// PatternFunc calcule les patterns à purger à partir de la requête servie.
type PatternFunc func(r *http.Request, status int, payload []byte) []string

// InvalidateAfter purge les patterns après une réponse 2xx, en asynchrone :
// l'invalidation n'ajoute jamais de latence à la réponse. Une lecture qui
// suit immédiatement peut encore voir l'ancienne entrée (fenêtre d'eventual
// consistency documentée).
func (c *CacheLayer) InvalidateAfter(fn PatternFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status < 200 || rec.status >= 300 {
			return
		}

		patterns := fn(r, rec.status, rec.body.Bytes())
		if len(patterns) == 0 {
			return
		}

		go func(ctx context.Context) {
			for _, p := range patterns {
				if err := c.store.DeleteMatching(ctx, p); err != nil {
					slog.Error("❌ Deferred invalidation failed", "pattern", p, "error", err)
				}
			}
		}(context.WithoutCancel(r.Context()))
	})
}

// captureWriter écrit au client ET garde une copie du payload.
// cacheControl (optionnel) n'est émis qu'au moment où un 200 part.
type captureWriter struct {
	http.ResponseWriter
	body         bytes.Buffer
	status       int
	wroteHeader  bool
	cacheControl string
}

func (w *captureWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
		if status == http.StatusOK && w.cacheControl != "" {
			w.Header().Set("Cache-Control", w.cacheControl)
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
