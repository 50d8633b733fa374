package domain

type SortMode string

const (
	SortTime      SortMode = "time"
	SortLikes     SortMode = "likes"
	SortComments  SortMode = "comments"
	SortShares    SortMode = "shares"
	SortViews     SortMode = "views"
	SortComposite SortMode = "composite"
)

// ParseSortMode coerce une valeur inconnue vers le tri par date (ValidationError
// = substitution de défaut, jamais de rejet).
func ParseSortMode(s string) SortMode {
	switch SortMode(s) {
	case SortTime, SortLikes, SortComments, SortShares, SortViews, SortComposite:
		return SortMode(s)
	default:
		return SortTime
	}
}

type FeedMode string

const (
	// ModeHome : feed authentifié, l'ordre des scores est préservé
	ModeHome FeedMode = "home"
	// ModeExplore : découverte, shuffle uniforme du résultat final
	ModeExplore FeedMode = "explore"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// FeedRequest encapsule les critères de composition
type FeedRequest struct {
	ViewerID       string // vide = anonyme
	Mode           FeedMode
	Page           int
	Limit          int
	Types          []ContentType // filtrage optionnel (long-form)
	SortBy         SortMode
	BlockedAuthors []string
}

// Normalize coerce page/limit vers des entiers positifs bornés.
func (r *FeedRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Limit < 1 {
		r.Limit = DefaultLimit
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	if r.SortBy == "" {
		r.SortBy = SortTime
	}
	if r.Mode == "" {
		r.Mode = ModeExplore
	}
}

type SearchRequest struct {
	Query string
	Types []ContentType
	Page  int
	Limit int
}

type ProfileRequest struct {
	AuthorID string
	Type     ContentType // vide = tous
	Page     int
	Limit    int
}

type TrendingRequest struct {
	Category string
	Locality string
	Page     int
	Limit    int
}

type PoolOrigin string

const (
	OriginShortForm PoolOrigin = "short"
	OriginLongForm  PoolOrigin = "long"
)

// FeedItem est un ContentItem assemblé pour la réponse.
// Author reste nil quand l'auteur n'a pas pu être résolu (placeholder null).
type FeedItem struct {
	Content ContentItem    `json:"content"`
	Author  *AuthorSummary `json:"author"`
	Origin  PoolOrigin     `json:"origin"`
}

// Pagination est approximative quand l'échantillonnage est aléatoire :
// HasNextPage est déduit du nombre retourné, Total n'est calculé que pour
// une première page pleine (compromis latence/précision).
type Pagination struct {
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
	Total       *int64 `json:"total,omitempty"`
	HasNextPage bool   `json:"hasNextPage"`
}

type FeedPage struct {
	Items      []FeedItem `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// ContentFilter est le filtre passé au document store. Les auteurs bloqués et
// la visibilité sont appliqués à la frontière de la requête, jamais en
// post-filtrage (sinon pages sous-remplies).
type ContentFilter struct {
	Types          []ContentType
	AuthorID       string
	ExcludeAuthors []string
	Query          string
	Category       string
	Locality       string
	VisibleOnly    bool
}

// ScoredQuery décrit un scoring côté store (pipeline d'agrégation) avec tri
// et pagination serveur.
type ScoredQuery struct {
	Filter ContentFilter
	Page   int
	Limit  int
}
