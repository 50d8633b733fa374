package repository

import (
	"strings"
	"testing"

	"github.com/jupiterclapton/feedrank/internal/core/domain"
)

func TestBuildWhere(t *testing.T) {
	t.Run("empty filter yields no clause", func(t *testing.T) {
		where, args := buildWhere(domain.ContentFilter{})
		if where != "" || len(args) != 0 {
			t.Errorf("got %q with %d args", where, len(args))
		}
	})

	t.Run("filters combine with AND and sequential placeholders", func(t *testing.T) {
		where, args := buildWhere(domain.ContentFilter{
			VisibleOnly:    true,
			Types:          []domain.ContentType{domain.TypeVideo},
			ExcludeAuthors: []string{"u3"},
			Category:       "food",
		})
		if !strings.HasPrefix(where, "WHERE ") {
			t.Fatalf("clause = %q", where)
		}
		for _, want := range []string{"visible = true", "content_type = ANY($1)", "NOT (author_id = ANY($2))", "category = $3"} {
			if !strings.Contains(where, want) {
				t.Errorf("clause %q missing %q", where, want)
			}
		}
		if len(args) != 3 {
			t.Errorf("args = %v, want 3 entries", args)
		}
	})

	t.Run("search term binds through a parameter", func(t *testing.T) {
		where, args := buildWhere(domain.ContentFilter{Query: "coffee"})
		if !strings.Contains(where, "body ILIKE '%' || $1 || '%'") {
			t.Errorf("clause = %q", where)
		}
		if len(args) != 1 || args[0] != "coffee" {
			t.Errorf("args = %v", args)
		}
	})

	// % et _ dans le terme utilisateur doivent matcher littéralement, pas
	// comme wildcards LIKE.
	t.Run("like metacharacters are escaped", func(t *testing.T) {
		where, args := buildWhere(domain.ContentFilter{Query: `100%_off\`})
		if !strings.Contains(where, `ESCAPE '\'`) {
			t.Errorf("clause %q missing ESCAPE", where)
		}
		if len(args) != 1 || args[0] != `100\%\_off\\` {
			t.Errorf("escaped term = %v, want 100\\%%\\_off\\\\", args)
		}
	})
}
