package httpapi

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
	"github.com/jupiterclapton/feedrank/internal/core/ports"
	"github.com/jupiterclapton/feedrank/internal/core/services"
)

// Limiters regroupe les presets par catégorie de route (budgets isolés).
type Limiters struct {
	General   *services.RateLimiter
	Analytics *services.RateLimiter
	Creation  *services.RateLimiter
}

// TTLs par famille de cache
type CacheTTLs struct {
	Feed     time.Duration
	Search   time.Duration
	Profile  time.Duration
	Trending time.Duration
}

type Server struct {
	feed      ports.FeedService
	cache     *CacheLayer
	limiters  Limiters
	ttls      CacheTTLs
	publicKey *rsa.PublicKey
}

func NewServer(feed ports.FeedService, cache *CacheLayer, limiters Limiters, ttls CacheTTLs, publicKey *rsa.PublicKey) *Server {
	return &Server{
		feed:      feed,
		cache:     cache,
		limiters:  limiters,
		ttls:      ttls,
		publicKey: publicKey,
	}
}

// Handler assemble la chaîne complète :
// request-id → viewer → rate limit → cache-aside → handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /v1/feed/home", s.route(
		http.HandlerFunc(s.handleHome),
		s.limiters.General,
		CacheOptions{Strategy: StrategyHome, TTL: s.ttls.Feed, Skip: SkipOnRefresh},
	))

	mux.Handle("GET /v1/feed/explore", s.route(
		http.HandlerFunc(s.handleExplore),
		s.limiters.General,
		CacheOptions{Strategy: StrategyExplore, TTL: s.ttls.Feed, Skip: SkipOnRefresh},
	))

	mux.Handle("GET /v1/search", s.route(
		http.HandlerFunc(s.handleSearch),
		s.limiters.Analytics,
		CacheOptions{Strategy: StrategySearch, TTL: s.ttls.Search, Skip: SkipShortQuery},
	))

	mux.Handle("GET /v1/trending", s.route(
		http.HandlerFunc(s.handleTrending),
		s.limiters.Analytics,
		CacheOptions{Strategy: StrategyTrending, TTL: s.ttls.Trending},
	))

	mux.Handle("GET /v1/profiles/{id}/feed", s.route(
		http.HandlerFunc(s.handleProfile),
		s.limiters.General,
		CacheOptions{Strategy: StrategyProfile, TTL: s.ttls.Profile, Skip: SkipOwnProfile},
	))

	// Purge explicite du feed du viewer : wrapper d'invalidation, exécuté
	// après la réponse
	mux.Handle("POST /v1/feed/refresh", Chain(
		s.cache.InvalidateAfter(refreshPatterns, http.HandlerFunc(s.handleRefresh)),
		RateLimit(s.limiters.Creation),
	))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return Chain(mux, RequestID, Logging, Viewer(s.publicKey))
}

func (s *Server) route(h http.Handler, limiter *services.RateLimiter, opts CacheOptions) http.Handler {
	return Chain(h, RateLimit(limiter), func(next http.Handler) http.Handler {
		return s.cache.Wrap(opts, next)
	})
}

// --- Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	viewer := ViewerFromContext(r.Context())
	if viewer == "" {
		writeEnvelope(w, http.StatusUnauthorized, nil, "authentication required for home feed")
		return
	}

	req := parseFeedRequest(r)
	req.ViewerID = viewer
	req.Mode = domain.ModeHome
	if r.URL.Query().Get("sortBy") == "" {
		req.SortBy = domain.SortComposite
	}

	s.respondFeed(w, r, req)
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	req := parseFeedRequest(r)
	req.ViewerID = ViewerFromContext(r.Context())
	req.Mode = domain.ModeExplore

	s.respondFeed(w, r, req)
}

func (s *Server) respondFeed(w http.ResponseWriter, r *http.Request, req domain.FeedRequest) {
	page, err := s.feed.Compose(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, page, "feed fetched")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.feed.Search(r.Context(), domain.SearchRequest{
		Query: strings.TrimSpace(q.Get("q")),
		Types: parseTypes(q.Get("types")),
		Page:  atoiDefault(q.Get("page"), 1),
		Limit: atoiDefault(q.Get("limit"), domain.DefaultLimit),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, page, "search results fetched")
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.feed.Trending(r.Context(), domain.TrendingRequest{
		Category: q.Get("category"),
		Locality: q.Get("locality"),
		Page:     atoiDefault(q.Get("page"), 1),
		Limit:    atoiDefault(q.Get("limit"), domain.DefaultLimit),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, page, "trending fetched")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.feed.Profile(r.Context(), domain.ProfileRequest{
		AuthorID: r.PathValue("id"),
		Type:     domain.ContentType(q.Get("type")),
		Page:     atoiDefault(q.Get("page"), 1),
		Limit:    atoiDefault(q.Get("limit"), domain.DefaultLimit),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, page, "profile feed fetched")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if ViewerFromContext(r.Context()) == "" {
		writeEnvelope(w, http.StatusUnauthorized, nil, "authentication required")
		return
	}
	writeEnvelope(w, http.StatusOK, nil, "feed refresh scheduled")
}

// refreshPatterns : pages du viewer + pages explore partagées
func refreshPatterns(r *http.Request, status int, _ []byte) []string {
	viewer := ViewerFromContext(r.Context())
	if viewer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("feed:home:%s:*", viewer),
		"feed:explore:*",
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	// Une erreur du document store est fatale : pas de feed partiel
	if errors.Is(err, domain.ErrUpstreamQuery) {
		slog.Error("❌ Upstream query failed", "error", err)
		writeEnvelope(w, http.StatusInternalServerError, nil, "failed to fetch content")
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeEnvelope(w, http.StatusNotFound, nil, "content not found")
		return
	}
	slog.Error("❌ Unexpected error", "error", err)
	writeEnvelope(w, http.StatusInternalServerError, nil, "internal error")
}

// --- Parsing (ValidationError = défauts substitués, jamais de rejet) ---

func parseFeedRequest(r *http.Request) domain.FeedRequest {
	q := r.URL.Query()
	return domain.FeedRequest{
		Page:           atoiDefault(q.Get("page"), 1),
		Limit:          atoiDefault(q.Get("limit"), domain.DefaultLimit),
		Types:          parseTypes(q.Get("types")),
		SortBy:         domain.ParseSortMode(q.Get("sortBy")),
		BlockedAuthors: splitCSV(q.Get("exclude")),
	}
}

func atoiDefault(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func parseTypes(s string) []domain.ContentType {
	var types []domain.ContentType
	for _, part := range splitCSV(s) {
		types = append(types, domain.ContentType(part))
	}
	return types
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
