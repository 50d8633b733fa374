package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jupiterclapton/feedrank/internal/core/ports"
)

// CountMode pilote le rollback optionnel du compteur une fois le statut de
// la réponse connu. Best-effort, PAS transactionnel : un crash entre
// l'incrément et le rollback consomme définitivement une unité de budget.
type CountMode int

const (
	CountAll CountMode = iota
	SkipSuccessful
	SkipFailed
)

// RateLimitConfig est un preset nommé (fenêtre fixe). Chaque preset possède
// son propre namespace de clés : les budgets ne se contaminent pas.
type RateLimitConfig struct {
	Name        string
	Window      time.Duration
	MaxRequests int64
	Mode        CountMode
}

// Presets par catégorie de route
var (
	PresetGeneral       = RateLimitConfig{Name: "general", Window: time.Minute, MaxRequests: 100}
	PresetTokenIssuance = RateLimitConfig{Name: "token-issuance", Window: time.Hour, MaxRequests: 10}
	PresetCreation      = RateLimitConfig{Name: "creation", Window: time.Hour, MaxRequests: 30}
	PresetAnalytics     = RateLimitConfig{Name: "analytics", Window: time.Minute, MaxRequests: 60}
)

type RateLimitResult struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

type RateLimiter struct {
	counters ports.CounterStore
	cfg      RateLimitConfig
}

func NewRateLimiter(counters ports.CounterStore, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{counters: counters, cfg: cfg}
}

func (l *RateLimiter) key(callerKey string) string {
	return fmt.Sprintf("rl:%s:%s", l.cfg.Name, callerKey)
}

// Check incrémente la fenêtre du caller et décide. Un seul INCR par check,
// l'atomicité vient du counter store, aucun verrou ici.
//
// Si le store est indisponible, on dégrade en allow-all : le rate limiting
// est une optimisation, jamais une raison de refuser la requête.
func (l *RateLimiter) Check(ctx context.Context, callerKey string) RateLimitResult {
	key := l.key(callerKey)
	now := time.Now()

	allowAll := RateLimitResult{
		Allowed:   true,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests,
		ResetAt:   now.Add(l.cfg.Window),
	}

	count, err := l.counters.Increment(ctx, key)
	if err != nil {
		slog.Warn("⚠️ Counter store unavailable, rate limiting bypassed", "key", key, "error", err)
		return allowAll
	}

	// Première requête de la fenêtre : on pose le TTL (fenêtre fixe, le
	// compteur retombe à 0 pile à l'expiration)
	if count == 1 {
		if err := l.counters.Expire(ctx, key, l.cfg.Window); err != nil {
			slog.Warn("⚠️ Failed to set rate window TTL", "key", key, "error", err)
		}
	}

	ttl, err := l.counters.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		ttl = l.cfg.Window
	}

	remaining := l.cfg.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	res := RateLimitResult{
		Allowed:   count <= l.cfg.MaxRequests,
		Limit:     l.cfg.MaxRequests,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res
}

// Rollback rend une unité de budget selon le CountMode, une fois le statut
// HTTP connu. Compensation best-effort (voir CountMode).
func (l *RateLimiter) Rollback(ctx context.Context, callerKey string, statusCode int) {
	var refund bool
	switch l.cfg.Mode {
	case SkipSuccessful:
		refund = statusCode < 400
	case SkipFailed:
		refund = statusCode >= 400
	}
	if !refund {
		return
	}

	if _, err := l.counters.Decrement(ctx, l.key(callerKey)); err != nil {
		slog.Warn("⚠️ Rate limit rollback failed", "key", l.key(callerKey), "error", err)
	}
}
