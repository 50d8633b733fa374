package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
)

const contentColumns = "id, author_id, content_type, created_at, likes, comments, shares, views, visible"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresContentRepo est l'hôte concret du document store abstrait.
// Le subsystem ne connaît que le contrat (find/sample/aggregate/count) ;
// l'indexation reste l'affaire de la base.
type PostgresContentRepo struct {
	db *pgxpool.Pool
}

func NewPostgresContentRepo(db *pgxpool.Pool) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

// buildWhere traduit le filtre en clause SQL paramétrée. Les auteurs bloqués
// et la visibilité sont appliqués ICI, à la frontière de la requête.
func buildWhere(filter domain.ContentFilter) (string, []any) {
	var conds []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.VisibleOnly {
		conds = append(conds, "visible = true")
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conds = append(conds, fmt.Sprintf("content_type = ANY(%s)", arg(types)))
	}
	if filter.AuthorID != "" {
		conds = append(conds, fmt.Sprintf("author_id = %s", arg(filter.AuthorID)))
	}
	if len(filter.ExcludeAuthors) > 0 {
		conds = append(conds, fmt.Sprintf("NOT (author_id = ANY(%s))", arg(filter.ExcludeAuthors)))
	}
	if filter.Query != "" {
		// Le texte (colonne body) appartient au store, il n'est jamais
		// projeté dans le domaine. % et _ sont des métacaractères LIKE :
		// un terme utilisateur les matche littéralement.
		conds = append(conds, fmt.Sprintf(`body ILIKE '%%' || %s || '%%' ESCAPE '\'`, arg(likeEscaper.Replace(filter.Query))))
	}
	if filter.Category != "" {
		conds = append(conds, fmt.Sprintf("category = %s", arg(filter.Category)))
	}
	if filter.Locality != "" {
		conds = append(conds, fmt.Sprintf("locality = %s", arg(filter.Locality)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresContentRepo) FindMany(ctx context.Context, filter domain.ContentFilter, offset, limit int) ([]domain.ContentItem, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf(`
		SELECT %s FROM content_items
		%s
		ORDER BY created_at DESC
		OFFSET $%d LIMIT $%d
	`, contentColumns, where, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// Sample : tirage uniforme côté serveur. ORDER BY random() suffit pour des
// pools candidats bornés par le sur-échantillonnage.
func (r *PostgresContentRepo) Sample(ctx context.Context, filter domain.ContentFilter, n int) ([]domain.ContentItem, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf(`
		SELECT %s FROM content_items
		%s
		ORDER BY random()
		LIMIT $%d
	`, contentColumns, where, len(args)+1)
	args = append(args, n)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// AggregateScored : scoring d'engagement + tri + pagination entièrement
// côté base (l'équivalent du pipeline d'agrégation du document store).
func (r *PostgresContentRepo) AggregateScored(ctx context.Context, q domain.ScoredQuery) ([]domain.ContentItem, error) {
	where, args := buildWhere(q.Filter)
	query := fmt.Sprintf(`
		SELECT %s,
		       (likes + comments * 2 + shares * 3) AS engagement_score
		FROM content_items
		%s
		ORDER BY engagement_score DESC, created_at DESC
		OFFSET $%d LIMIT $%d
	`, contentColumns, where, len(args)+1, len(args)+2)
	args = append(args, (q.Page-1)*q.Limit, q.Limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ContentItem
	for rows.Next() {
		var it domain.ContentItem
		var contentType string
		var score int64
		if err := rows.Scan(&it.ID, &it.AuthorID, &contentType, &it.CreatedAt,
			&it.Engagement.Likes, &it.Engagement.Comments, &it.Engagement.Shares,
			&it.Engagement.Views, &it.Visible, &score); err != nil {
			return nil, err
		}
		it.Type = domain.ContentType(contentType)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PostgresContentRepo) Count(ctx context.Context, filter domain.ContentFilter) (int64, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT COUNT(*) FROM content_items %s", where)

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PostgresContentRepo) FindByID(ctx context.Context, id string) (*domain.ContentItem, error) {
	query := fmt.Sprintf("SELECT %s FROM content_items WHERE id = $1", contentColumns)

	it, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return it, nil
}

// Summaries : hydratation batch via ANY($1), une seule requête SQL pour
// tous les auteurs de la page.
func (r *PostgresContentRepo) Summaries(ctx context.Context, ids []string) (map[string]*domain.AuthorSummary, error) {
	if len(ids) == 0 {
		return map[string]*domain.AuthorSummary{}, nil
	}

	query := `
		SELECT id, display_name, handle, avatar_url
		FROM authors
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make(map[string]*domain.AuthorSummary, len(ids))
	for rows.Next() {
		var a domain.AuthorSummary
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Handle, &a.AvatarURL); err != nil {
			return nil, err
		}
		summaries[a.ID] = &a
	}
	return summaries, rows.Err()
}

// --- Helpers scan ---

func scanItem(row pgx.Row) (*domain.ContentItem, error) {
	var it domain.ContentItem
	var contentType string
	if err := row.Scan(&it.ID, &it.AuthorID, &contentType, &it.CreatedAt,
		&it.Engagement.Likes, &it.Engagement.Comments, &it.Engagement.Shares,
		&it.Engagement.Views, &it.Visible); err != nil {
		return nil, err
	}
	it.Type = domain.ContentType(contentType)
	return &it, nil
}

func collectItems(rows pgx.Rows) ([]domain.ContentItem, error) {
	var items []domain.ContentItem
	for rows.Next() {
		var it domain.ContentItem
		var contentType string
		if err := rows.Scan(&it.ID, &it.AuthorID, &contentType, &it.CreatedAt,
			&it.Engagement.Likes, &it.Engagement.Comments, &it.Engagement.Shares,
			&it.Engagement.Views, &it.Visible); err != nil {
			return nil, err
		}
		it.Type = domain.ContentType(contentType)
		items = append(items, it)
	}
	return items, rows.Err()
}
