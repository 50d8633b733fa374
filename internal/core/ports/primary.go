package ports

import (
	"context"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
)

// --- DRIVING (Ce que le service expose) ---

type FeedService interface {
	// Compose assemble une page de feed (home ou explore)
	Compose(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error)

	// Search interroge le store en plein texte, pagination déterministe
	Search(ctx context.Context, req domain.SearchRequest) (*domain.FeedPage, error)

	// Profile liste le contenu d'un auteur, trié par date
	Profile(ctx context.Context, req domain.ProfileRequest) (*domain.FeedPage, error)

	// Trending délègue le scoring au store (pipeline agrégé côté serveur)
	Trending(ctx context.Context, req domain.TrendingRequest) (*domain.FeedPage, error)
}

// CacheJanitor invalide les réponses mises en cache quand le contenu d'un
// auteur change. Appelé par le consumer NATS (asynchrone, best-effort).
type CacheJanitor interface {
	InvalidateContent(ctx context.Context, authorID string) error
}
