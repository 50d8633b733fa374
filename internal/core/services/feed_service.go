package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
	"github.com/jupiterclapton/feedrank/internal/core/ports"
)

// ShortFormSlots : nombre max d'items short-form par page. L'allocation est
// fixe : même si le pool clip est vide, le pool long-form ne récupère PAS les
// slots libérés (choix assumé, la page peut être sous-remplie).
const ShortFormSlots = 2

type FeedService struct {
	store   ports.ContentStore
	authors ports.AuthorStore
	graph   ports.FollowGraph
}

func NewFeedService(store ports.ContentStore, authors ports.AuthorStore, graph ports.FollowGraph) *FeedService {
	return &FeedService{
		store:   store,
		authors: authors,
		graph:   graph,
	}
}

func (s *FeedService) Compose(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error) {
	req.Normalize()

	shortSlots := min(ShortFormSlots, req.Limit)
	longSlots := req.Limit - shortSlots // jamais négatif après Normalize

	rc := RankContext{
		Followed: s.viewerContext(ctx, req.ViewerID),
		Now:      time.Now().UTC(),
	}

	// Filtres appliqués à la frontière de la requête : jamais de post-filtrage
	// des auteurs bloqués (sinon pages sous-remplies).
	base := domain.ContentFilter{
		VisibleOnly:    true,
		ExcludeAuthors: req.BlockedAuthors,
	}

	var shortPool, longPool []domain.ContentItem

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if shortSlots == 0 {
			return nil
		}
		filter := base
		filter.Types = []domain.ContentType{domain.TypeClip}

		pool, err := s.store.Sample(gctx, filter, shortSlots*SampleOverFetch)
		if err != nil {
			return fmt.Errorf("short-form pool: %w", err)
		}
		shortPool = pool
		return nil
	})

	g.Go(func() error {
		if longSlots == 0 {
			return nil
		}
		filter := base

		// Filtres de type explicites => plus d'échantillonnage aléatoire, on
		// sur-fetch 2× en ordre chronologique pour survivre au filtrage.
		if len(req.Types) > 0 {
			filter.Types = req.Types
			offset := (req.Page - 1) * longSlots
			pool, err := s.store.FindMany(gctx, filter, offset, longSlots*RecencyOverFetch)
			if err != nil {
				return fmt.Errorf("long-form pool: %w", err)
			}
			longPool = pool
			return nil
		}

		filter.Types = domain.LongFormTypes
		pool, err := s.store.Sample(gctx, filter, longSlots*SampleOverFetch)
		if err != nil {
			return fmt.Errorf("long-form pool: %w", err)
		}
		longPool = pool
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamQuery, err)
	}

	// Le tri demandé ne s'applique qu'au pool long-form ; le pool short-form
	// reste échantillonné pour préserver la diversité de découverte.
	SortItems(longPool, req.SortBy, rc)
	if len(longPool) > longSlots {
		longPool = longPool[:longSlots]
	}

	// Dédoublonnage par auteur entre pools : les slots découverte ne
	// re-présentent pas un auteur déjà dans le pool long-form. Appliqué avant
	// l'échantillonnage pour remplir les slots tant que le pool le permet.
	longAuthors := make(map[string]struct{}, len(longPool))
	for _, it := range longPool {
		longAuthors[it.AuthorID] = struct{}{}
	}
	dedup := shortPool[:0]
	for _, it := range shortPool {
		if _, dup := longAuthors[it.AuthorID]; !dup {
			dedup = append(dedup, it)
		}
	}
	shortPool = SampleN(dedup, shortSlots)

	items := s.assemble(ctx, longPool, shortPool, req, rc)

	page := &domain.FeedPage{
		Items: items,
		Pagination: domain.Pagination{
			Page:  req.Page,
			Limit: req.Limit,
			// Approximatif par construction : l'échantillonnage aléatoire ne
			// permet pas de compter le reste sans requête supplémentaire.
			HasNextPage: len(items) == req.Limit,
		},
	}

	// Total exact uniquement pour une première page pleine
	if req.Page == 1 && page.Pagination.HasNextPage {
		countFilter := base
		if len(req.Types) > 0 {
			countFilter.Types = req.Types
		}
		if total, err := s.store.Count(ctx, countFilter); err != nil {
			slog.Warn("⚠️ Count failed, total omitted", "error", err)
		} else {
			page.Pagination.Total = &total
		}
	}

	return page, nil
}

// assemble tague l'origine, attache les auteurs et fixe l'ordre final.
func (s *FeedService) assemble(ctx context.Context, longPool, shortPool []domain.ContentItem, req domain.FeedRequest, rc RankContext) []domain.FeedItem {
	authorIDs := make([]string, 0, len(longPool)+len(shortPool))
	seen := make(map[string]struct{})
	for _, it := range append(append([]domain.ContentItem{}, longPool...), shortPool...) {
		if _, ok := seen[it.AuthorID]; !ok {
			seen[it.AuthorID] = struct{}{}
			authorIDs = append(authorIDs, it.AuthorID)
		}
	}

	summaries := s.resolveAuthors(ctx, authorIDs)

	items := make([]domain.FeedItem, 0, len(longPool)+len(shortPool))
	for _, it := range longPool {
		items = append(items, domain.FeedItem{Content: it, Author: summaries[it.AuthorID], Origin: domain.OriginLongForm})
	}
	for _, it := range shortPool {
		items = append(items, domain.FeedItem{Content: it, Author: summaries[it.AuthorID], Origin: domain.OriginShortForm})
	}

	switch {
	case req.Mode == domain.ModeHome && req.SortBy == domain.SortComposite:
		// Feed home authentifié : l'ordre des scores traverse les deux pools
		sortFeedItemsByScore(items, rc)
	case req.Mode == domain.ModeHome:
		// Tri mono-dimension : le pool long garde son ordre, les clips suivent
	default:
		// Explore : shuffle uniforme de la page assemblée
		ShuffleItems(items)
	}

	return items
}

func sortFeedItemsByScore(items []domain.FeedItem, rc RankContext) {
	contents := make([]domain.ContentItem, len(items))
	byID := make(map[string]domain.FeedItem, len(items))
	for i, it := range items {
		contents[i] = it.Content
		byID[it.Content.ID] = it
	}
	SortItems(contents, domain.SortComposite, rc)
	for i, c := range contents {
		items[i] = byID[c.ID]
	}
}

// viewerContext charge les auteurs suivis. Le boost de ranking est une
// optimisation : si le graphe est indisponible on continue en anonyme.
func (s *FeedService) viewerContext(ctx context.Context, viewerID string) map[string]struct{} {
	if viewerID == "" {
		return nil
	}
	ids, err := s.graph.Following(ctx, viewerID)
	if err != nil {
		slog.Warn("⚠️ Follow graph unavailable, ranking without viewer context", "viewer_id", viewerID, "error", err)
		return nil
	}
	followed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		followed[id] = struct{}{}
	}
	return followed
}

// resolveAuthors hydrate les résumés en un seul batch. Un échec complet ne
// fait pas tomber la page : les items sortent avec un auteur null.
func (s *FeedService) resolveAuthors(ctx context.Context, ids []string) map[string]*domain.AuthorSummary {
	if len(ids) == 0 {
		return nil
	}
	summaries, err := s.authors.Summaries(ctx, ids)
	if err != nil {
		slog.Error("❌ Author resolution failed, returning null authors", "count", len(ids), "error", err)
		return nil
	}
	return summaries
}

func (s *FeedService) Search(ctx context.Context, req domain.SearchRequest) (*domain.FeedPage, error) {
	page, limit := normalizePage(req.Page, req.Limit)

	filter := domain.ContentFilter{
		Query:       req.Query,
		Types:       req.Types,
		VisibleOnly: true,
	}

	found, err := s.store.FindMany(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrUpstreamQuery, err)
	}

	return s.deterministicPage(ctx, found, page, limit), nil
}

func (s *FeedService) Profile(ctx context.Context, req domain.ProfileRequest) (*domain.FeedPage, error) {
	page, limit := normalizePage(req.Page, req.Limit)

	filter := domain.ContentFilter{
		AuthorID:    req.AuthorID,
		VisibleOnly: true,
	}
	if req.Type != "" {
		filter.Types = []domain.ContentType{req.Type}
	}

	found, err := s.store.FindMany(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", domain.ErrUpstreamQuery, req.AuthorID, err)
	}

	return s.deterministicPage(ctx, found, page, limit), nil
}

func (s *FeedService) Trending(ctx context.Context, req domain.TrendingRequest) (*domain.FeedPage, error) {
	page, limit := normalizePage(req.Page, req.Limit)

	found, err := s.store.AggregateScored(ctx, domain.ScoredQuery{
		Filter: domain.ContentFilter{
			Category:    req.Category,
			Locality:    req.Locality,
			VisibleOnly: true,
		},
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: trending: %v", domain.ErrUpstreamQuery, err)
	}

	return s.deterministicPage(ctx, found, page, limit), nil
}

func (s *FeedService) deterministicPage(ctx context.Context, found []domain.ContentItem, page, limit int) *domain.FeedPage {
	ids := make([]string, 0, len(found))
	seen := make(map[string]struct{})
	for _, it := range found {
		if _, ok := seen[it.AuthorID]; !ok {
			seen[it.AuthorID] = struct{}{}
			ids = append(ids, it.AuthorID)
		}
	}
	summaries := s.resolveAuthors(ctx, ids)

	items := make([]domain.FeedItem, 0, len(found))
	for _, it := range found {
		origin := domain.OriginLongForm
		if it.Type.IsShortForm() {
			origin = domain.OriginShortForm
		}
		items = append(items, domain.FeedItem{Content: it, Author: summaries[it.AuthorID], Origin: origin})
	}

	return &domain.FeedPage{
		Items: items,
		Pagination: domain.Pagination{
			Page:        page,
			Limit:       limit,
			HasNextPage: len(items) == limit,
		},
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = domain.DefaultLimit
	}
	if limit > domain.MaxLimit {
		limit = domain.MaxLimit
	}
	return page, limit
}
