package domain

import "time"

type ContentType string

const (
	// Format court (découverte, toujours échantillonné aléatoirement)
	TypeClip ContentType = "clip"

	// Formats longs
	TypePost    ContentType = "post"
	TypeVideo   ContentType = "video"
	TypeArticle ContentType = "article"
	TypeProduct ContentType = "product" // transactionnel
)

// LongFormTypes liste les types éligibles au pool long-form.
var LongFormTypes = []ContentType{TypePost, TypeVideo, TypeArticle, TypeProduct}

func (t ContentType) IsShortForm() bool { return t == TypeClip }

// Engagement regroupe les compteurs bruts. Un compteur absent vaut 0.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Views    int64 `json:"views"`
}

// ContentItem est la projection lecture seule du document store.
// Le store reste propriétaire de la donnée, on ne la persiste jamais ici.
type ContentItem struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"authorId"`
	Type       ContentType `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
	Engagement Engagement  `json:"engagement"`
	Visible    bool        `json:"-"`
}

// AuthorSummary est une projection dénormalisée, durée de vie = la requête.
type AuthorSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatarUrl"`
}
