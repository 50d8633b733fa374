package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
	"github.com/jupiterclapton/feedrank/internal/core/ports"
)

const invalidationBatchSize = 1000 // Taille des paquets de followers

// CacheJanitor purge les réponses en cache quand le contenu d'un auteur
// change. Fan-out sur les abonnés de l'auteur : seules LEURS pages home sont
// touchées, le reste passe par des patterns globaux.
//
// Fenêtre d'eventual consistency assumée : une lecture juste après une
// invalidation différée peut encore voir l'ancienne page.
type CacheJanitor struct {
	cache ports.CacheStore
	graph ports.FollowGraph
}

func NewCacheJanitor(cache ports.CacheStore, graph ports.FollowGraph) *CacheJanitor {
	return &CacheJanitor{cache: cache, graph: graph}
}

func (j *CacheJanitor) InvalidateContent(ctx context.Context, authorID string) error {
	patterns := []string{
		"feed:explore:*",
		fmt.Sprintf("profile:%s:*", authorID),
		"trending:*",
	}

	followers, err := j.graph.Followers(ctx, authorID)
	if err != nil {
		// Pas de liste d'abonnés : on dégrade sur le pattern large plutôt
		// que de laisser des pages home rassies indéfiniment
		slog.Warn("⚠️ Followers lookup failed, falling back to wide home invalidation", "author_id", authorID, "error", err)
		patterns = append(patterns, "feed:home:*")
		followers = nil
	}

	// Chunking : on ne construit pas un pipeline géant d'un coup
	for i := 0; i < len(followers); i += invalidationBatchSize {
		end := min(i+invalidationBatchSize, len(followers))
		for _, uid := range followers[i:end] {
			patterns = append(patterns, fmt.Sprintf("feed:home:%s:*", uid))
		}
	}

	var failed int
	for _, p := range patterns {
		if err := j.cache.DeleteMatching(ctx, p); err != nil {
			failed++
			slog.Error("❌ Cache invalidation failed", "pattern", p, "error", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d/%d invalidation patterns failed", domain.ErrStoreUnavailable, failed, len(patterns))
	}

	slog.Debug("🧹 Cache invalidated", "author_id", authorID, "patterns", len(patterns))
	return nil
}
