package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
)

// KeyStrategy est une stratégie de génération de clé nommée + paramètres,
// sélectionnée à la construction (pas de closures arbitraires : testable et
// sérialisable).
type KeyStrategy string

const (
	// StrategyDefault : méthode + chemin + viewer + query canonique
	StrategyDefault KeyStrategy = "default"
	// StrategyHome : viewer + page (le feed home est par-viewer)
	StrategyHome KeyStrategy = "home"
	// StrategyExplore : page + filtres + auteurs exclus ; le viewer n'entre
	// dans la clé que pour le tri composite (dépendant du graphe)
	StrategyExplore KeyStrategy = "explore"
	// StrategySearch : digest tronqué de query+filtres+page
	StrategySearch KeyStrategy = "search"
	// StrategyProfile : id de profil + type + page
	StrategyProfile KeyStrategy = "profile"
	// StrategyTrending : catégorie + localité + page
	StrategyTrending KeyStrategy = "trending"
	// StrategyCatalog : business + catégorie + page
	StrategyCatalog KeyStrategy = "catalog"
)

// SkipRule : prédicat de bypass nommé, évalué avant toute lecture du cache.
type SkipRule string

const (
	SkipNone SkipRule = ""
	// SkipOwnProfile : on ne sert jamais son propre profil depuis le cache
	SkipOwnProfile SkipRule = "own-profile"
	// SkipOnRefresh : flag live/refresh explicite du client
	SkipOnRefresh SkipRule = "refresh-flag"
	// SkipShortQuery : une recherche de moins de 2 caractères ne se cache pas
	SkipShortQuery SkipRule = "short-query"
)

// searchDigestLen : troncature volontaire du digest de recherche. Des
// collisions deviennent théoriquement possibles entre recherches distinctes ;
// compromis assumé pour garder des clés courtes sur un namespace très chaud.
const searchDigestLen = 12

const anonymousViewer = "anonymous"

func viewerOrAnonymous(r *http.Request) string {
	if v := ViewerFromContext(r.Context()); v != "" {
		return v
	}
	return anonymousViewer
}

func pageParam(r *http.Request) string {
	if p := r.URL.Query().Get("page"); p != "" {
		return p
	}
	return "1"
}

// encodeQuery produit un encodage canonique (clés triées) des paramètres.
// Deux URLs équivalentes à l'ordre près donnent la même clé.
func encodeQuery(r *http.Request) string {
	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		parts = append(parts, k+"="+strings.Join(vals, ","))
	}
	return strings.Join(parts, "&")
}

// buildKey est une fonction pure requête -> clé, sans effet de bord.
// Invariant : pas de collision entre tuples (route, viewer, query) distincts,
// à l'exception documentée de la troncature du digest de recherche.
func buildKey(strategy KeyStrategy, r *http.Request) string {
	q := r.URL.Query()
	page := pageParam(r)

	switch strategy {
	case StrategyHome:
		return fmt.Sprintf("feed:home:%s:p%s:l%s", viewerOrAnonymous(r), page, q.Get("limit"))

	case StrategyExplore:
		// Les auteurs exclus changent le contenu de la page, ils font
		// toujours partie de la clé. Le viewer n'y entre que pour le tri
		// composite : son graphe change l'ordre, les autres tris restent
		// partageables entre viewers.
		viewer := "-"
		if domain.SortMode(q.Get("sortBy")) == domain.SortComposite {
			viewer = viewerOrAnonymous(r)
		}
		return fmt.Sprintf("feed:explore:%s:p%s:l%s:t%s:s%s:x%s",
			viewer, page, q.Get("limit"), q.Get("types"), q.Get("sortBy"), q.Get("exclude"))

	case StrategySearch:
		material := strings.Join([]string{q.Get("q"), q.Get("types"), page}, "|")
		digest := fmt.Sprintf("%016x", xxhash.Sum64String(material))
		return fmt.Sprintf("search:%s:p%s", digest[:searchDigestLen], page)

	case StrategyProfile:
		return fmt.Sprintf("profile:%s:%s:p%s", r.PathValue("id"), q.Get("type"), page)

	case StrategyTrending:
		return fmt.Sprintf("trending:%s:%s:p%s", q.Get("category"), q.Get("locality"), page)

	case StrategyCatalog:
		return fmt.Sprintf("catalog:%s:%s:p%s", q.Get("business"), q.Get("category"), page)

	default:
		return fmt.Sprintf("cache:%s:%s:%s:%s", r.Method, r.URL.Path, viewerOrAnonymous(r), encodeQuery(r))
	}
}

func shouldSkip(rule SkipRule, r *http.Request) bool {
	switch rule {
	case SkipOwnProfile:
		viewer := ViewerFromContext(r.Context())
		return viewer != "" && viewer == r.PathValue("id")

	case SkipOnRefresh:
		q := r.URL.Query()
		return q.Get("refresh") == "true" || q.Get("live") == "true"

	case SkipShortQuery:
		return len(strings.TrimSpace(r.URL.Query().Get("q"))) < 2

	default:
		return false
	}
}
