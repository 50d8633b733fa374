package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jFollowGraph expose les deux sens de la relation FOLLOWS :
// Following pour le contexte de ranking, Followers pour le fan-out
// d'invalidation.
type Neo4jFollowGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jFollowGraph(driver neo4j.DriverWithContext) *Neo4jFollowGraph {
	return &Neo4jFollowGraph{driver: driver}
}

func (g *Neo4jFollowGraph) Following(ctx context.Context, viewerID string) ([]string, error) {
	query := `MATCH (v:User {id: $userId})-[:FOLLOWS]->(a:User) RETURN a.id as id`
	return g.collectIDs(ctx, query, viewerID)
}

func (g *Neo4jFollowGraph) Followers(ctx context.Context, authorID string) ([]string, error) {
	query := `MATCH (a:User {id: $userId})<-[:FOLLOWS]-(f:User) RETURN f.id as id`
	return g.collectIDs(ctx, query, authorID)
}

func (g *Neo4jFollowGraph) collectIDs(ctx context.Context, query, userID string) ([]string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"userId": userID})
		if err != nil {
			return nil, err
		}

		var ids []string
		for res.Next(ctx) {
			if id, ok := res.Record().Get("id"); ok {
				if s, ok := id.(string); ok {
					ids = append(ids, s)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}
