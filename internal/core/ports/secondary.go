package ports

import (
	"context"
	"time"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
)

// --- DRIVEN (Ce dont le service a besoin) ---

// ContentStore est le document store abstrait. L'indexation interne et le
// moteur de requête sont hors périmètre, on ne consomme que ce contrat.
type ContentStore interface {
	// FindMany retourne au plus limit items triés par date décroissante,
	// en sautant offset items
	FindMany(ctx context.Context, filter domain.ContentFilter, offset, limit int) ([]domain.ContentItem, error)

	// Sample tire n items uniformément au hasard parmi les candidats
	Sample(ctx context.Context, filter domain.ContentFilter, n int) ([]domain.ContentItem, error)

	// AggregateScored exécute scoring + tri + pagination côté store
	AggregateScored(ctx context.Context, q domain.ScoredQuery) ([]domain.ContentItem, error)

	Count(ctx context.Context, filter domain.ContentFilter) (int64, error)

	FindByID(ctx context.Context, id string) (*domain.ContentItem, error)
}

// AuthorStore résout les résumés d'auteurs en batch (hydratation réponse).
type AuthorStore interface {
	// Summaries retourne une map id -> résumé ; un id absent = non résolu
	Summaries(ctx context.Context, ids []string) (map[string]*domain.AuthorSummary, error)
}

// CacheStore : get/set/delete-par-pattern avec TTL. L'atomicité est fournie
// par le store lui-même, aucun verrou côté service.
type CacheStore interface {
	// Get retourne nil (sans erreur) sur cache miss
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteMatching supprime toutes les clés du pattern (wildcard).
	// Idempotent : deux appels successifs laissent le même état.
	DeleteMatching(ctx context.Context, pattern string) error
}

// CounterStore : incrément atomique + expiry, le socle du rate limiting.
type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Decrement(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// FollowGraph expose le graphe social (service externe).
type FollowGraph interface {
	// Following : les auteurs suivis par le viewer (contexte de ranking)
	Following(ctx context.Context, viewerID string) ([]string, error)

	// Followers : les abonnés d'un auteur (fan-out d'invalidation)
	Followers(ctx context.Context, authorID string) ([]string, error)
}
