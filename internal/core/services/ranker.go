package services

import (
	"math/rand/v2"
	"sort"
	"time"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
)

// Pondérations du score composite
const (
	followedBoost   = 100
	freshnessBoost  = 20
	freshnessWindow = 24 * time.Hour
	engagementCap   = 30
)

// Facteurs de sur-échantillonnage : on tire plus large que la page demandée
// pour que le tri/limit final garde de la variété (5×), ou pour survivre au
// filtrage par type (2× en ordre chronologique).
const (
	SampleOverFetch  = 5
	RecencyOverFetch = 2
)

// contentTypeBonus : lookup fixe par type. Le transactionnel remonte,
// le reste reçoit un défaut plat.
var contentTypeBonus = map[domain.ContentType]int64{
	domain.TypeProduct: 15,
	domain.TypeVideo:   8,
}

const defaultTypeBonus = 5

// RankContext porte le contexte viewer au moment du scoring.
type RankContext struct {
	Followed map[string]struct{}
	Now      time.Time
}

// Score calcule le score composite d'un item :
// 100·[auteur suivi] + 20·[< 24h] + min(30, likes + 2·comments + 3·shares) + bonus type
func Score(item domain.ContentItem, rc RankContext) int64 {
	var score int64

	if _, ok := rc.Followed[item.AuthorID]; ok {
		score += followedBoost
	}

	if !item.CreatedAt.Before(rc.Now.Add(-freshnessWindow)) {
		score += freshnessBoost
	}

	e := item.Engagement
	engagement := e.Likes + 2*e.Comments + 3*e.Shares
	if engagement > engagementCap {
		engagement = engagementCap
	}
	score += engagement

	if bonus, ok := contentTypeBonus[item.Type]; ok {
		score += bonus
	} else {
		score += defaultTypeBonus
	}

	return score
}

// SortItems trie in-place selon le mode demandé. Les égalités retombent
// toujours sur la date décroissante : le tri est déterministe pour un
// ensemble d'entrée figé.
func SortItems(items []domain.ContentItem, mode domain.SortMode, rc RankContext) {
	key := sortKey(mode, rc)
	sort.SliceStable(items, func(i, j int) bool {
		ki, kj := key(items[i]), key(items[j])
		if ki != kj {
			return ki > kj
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func sortKey(mode domain.SortMode, rc RankContext) func(domain.ContentItem) int64 {
	switch mode {
	case domain.SortLikes:
		return func(it domain.ContentItem) int64 { return it.Engagement.Likes }
	case domain.SortComments:
		return func(it domain.ContentItem) int64 { return it.Engagement.Comments }
	case domain.SortShares:
		return func(it domain.ContentItem) int64 { return it.Engagement.Shares }
	case domain.SortViews:
		return func(it domain.ContentItem) int64 { return it.Engagement.Views }
	case domain.SortComposite:
		return func(it domain.ContentItem) int64 { return Score(it, rc) }
	default: // domain.SortTime
		return func(it domain.ContentItem) int64 { return it.CreatedAt.UnixNano() }
	}
}

// SampleN tire un sous-ensemble uniforme sans remise de taille min(n, |pool|).
func SampleN(pool []domain.ContentItem, n int) []domain.ContentItem {
	if n >= len(pool) {
		out := make([]domain.ContentItem, len(pool))
		copy(out, pool)
		return out
	}

	// Tirage partiel Fisher–Yates : seuls les n premiers échanges comptent
	idx := rand.Perm(len(pool))
	out := make([]domain.ContentItem, n)
	for i := 0; i < n; i++ {
		out[i] = pool[idx[i]]
	}
	return out
}

// ShuffleItems mélange la page assemblée (Fisher–Yates uniforme).
func ShuffleItems(items []domain.FeedItem) {
	rand.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
