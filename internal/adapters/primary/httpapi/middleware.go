package httpapi

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jupiterclapton/feedrank/internal/core/services"
)

type Middleware func(http.Handler) http.Handler

// Chain applique les middlewares dans l'ordre de déclaration (le premier de
// la liste est le plus externe).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Clé privée pour le contexte (évite les collisions)
type contextKey struct{ name string }

var viewerCtxKey = &contextKey{"viewer_id"}

// ViewerFromContext retourne l'id du viewer, "" si anonyme.
func ViewerFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(viewerCtxKey).(string)
	return raw
}

// RequestID attache un id de corrélation à chaque requête.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// Viewer extrait l'identité depuis le Bearer token. L'anonyme passe : le
// feed fonctionne sans viewer. La gestion des comptes reste un service
// externe, on ne fait ici que vérifier la signature et lire le Subject.
func Viewer(publicKey *rsa.PublicKey) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || publicKey == nil {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeEnvelope(w, http.StatusUnauthorized, nil, "invalid token format")
				return
			}

			token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
				// Sécurité : refuser tout alg autre que RSA (pas de "none")
				if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return publicKey, nil
			})
			if err != nil || !token.Valid {
				writeEnvelope(w, http.StatusUnauthorized, nil, "invalid or expired token")
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				writeEnvelope(w, http.StatusUnauthorized, nil, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), viewerCtxKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit gate la requête avec le preset fourni. Sur refus : 429 +
// Retry-After. Le rollback éventuel part une fois le statut connu.
func RateLimit(limiter *services.RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			res := limiter.Check(r.Context(), key)

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := int64(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
					Success:    false,
					Message:    "too many requests",
					RetryAfter: retryAfter,
				})
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			// Compensation best-effort, détachée de l'annulation client
			limiter.Rollback(context.WithoutCancel(r.Context()), key, sw.status)
		})
	}
}

// callerKey : viewer authentifié sinon IP client (X-Forwarded-For en tête,
// fallback RemoteAddr).
func callerKey(r *http.Request) string {
	if viewer := ViewerFromContext(r.Context()); viewer != "" {
		return "viewer:" + viewer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			xff = xff[:idx]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return "ip:" + ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// statusWriter mémorise le statut écrit (rollback rate limit + invalidation)
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Logging trace chaque requête au niveau debug.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Debug("📡 Request handled", "method", r.Method, "path", r.URL.Path, "status", sw.status)
	})
}
