package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ns-3e/OpenMatch/internal/platform/tracing"
)

// QueryService answers ad hoc and canned Cypher queries over the golden
// record graph, including the Lineage Store's related_entities traversal.
type QueryService struct {
	client *Client
	logger ectologger.Logger
}

// NewQueryService creates a new query service.
func NewQueryService(client *Client, logger ectologger.Logger) *QueryService {
	return &QueryService{
		client: client,
		logger: logger,
	}
}

// QueryResult represents the result of a graph query.
type QueryResult struct {
	Nodes         []NodeResult `json:"nodes,omitempty"`
	Relationships []RelResult  `json:"relationships,omitempty"`
	Rows          []any        `json:"rows,omitempty"`
}

// NodeResult represents a node from query results.
type NodeResult struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// RelResult represents a relationship from query results.
type RelResult struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// ExecuteQuery runs a read-only Cypher query.
func (s *QueryService) ExecuteQuery(ctx context.Context, cypher string, params map[string]any) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.ExecuteQuery")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"query_len": len(cypher),
	})

	if params == nil {
		params = make(map[string]any)
	}

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}

		qr := &QueryResult{
			Nodes:         make([]NodeResult, 0),
			Relationships: make([]RelResult, 0),
			Rows:          make([]any, 0),
		}

		seenNodes := make(map[string]bool)
		seenRels := make(map[string]bool)

		for result.Next(ctx) {
			record := result.Record()
			row := make(map[string]any)

			for _, key := range record.Keys {
				val, _ := record.Get(key)
				row[key] = extractValue(val, qr, seenNodes, seenRels)
			}

			qr.Rows = append(qr.Rows, row)
		}

		return qr, nil
	})

	if err != nil {
		log.WithError(err).Error("failed to execute graph query")
		return nil, fmt.Errorf("failed to execute graph query: %w", err)
	}

	return result.(*QueryResult), nil
}

// FindShortestPath finds the shortest path between two golden records.
func (s *QueryService) FindShortestPath(ctx context.Context, fromGoldenID, toGoldenID string, maxHops int) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.FindShortestPath")
	defer span.End()

	if maxHops <= 0 {
		maxHops = 10
	}

	cypher := fmt.Sprintf(`
		MATCH (start:GoldenRecord {golden_id: $from_id})
		MATCH (end:GoldenRecord {golden_id: $to_id})
		MATCH p = shortestPath((start)-[*..%d]-(end))
		RETURN p
	`, maxHops)

	return s.ExecuteQuery(ctx, cypher, map[string]any{
		"from_id": fromGoldenID,
		"to_id":   toGoldenID,
	})
}

// FindNeighbors finds all golden records connected within N hops.
func (s *QueryService) FindNeighbors(ctx context.Context, goldenID string, hops int) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.FindNeighbors")
	defer span.End()

	if hops <= 0 {
		hops = 1
	}

	cypher := fmt.Sprintf(`
		MATCH (start:GoldenRecord {golden_id: $golden_id})
		MATCH (start)-[r*1..%d]-(neighbor:GoldenRecord)
		RETURN DISTINCT neighbor
	`, hops)

	return s.ExecuteQuery(ctx, cypher, map[string]any{
		"golden_id": goldenID,
	})
}

// RelatedEntities answers spec's related_entities(id, relation_type,
// at_time): every golden record connected to goldenID by an edge of
// relationType (any direction, any edge type when relationType is
// empty) that was active at atTime. A zero atTime defaults to now.
func (s *QueryService) RelatedEntities(ctx context.Context, goldenID, relationType string, atTime time.Time) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.RelatedEntities")
	defer span.End()

	if atTime.IsZero() {
		atTime = time.Now()
	}
	at := atTime.UTC().Format(timeLayout)

	relPattern := "r"
	if relationType != "" {
		relPattern = "r:" + sanitizeLabel(relationType)
	}

	cypher := fmt.Sprintf(`
		MATCH (g:GoldenRecord {golden_id: $golden_id})-[%s]-(related:GoldenRecord)
		WHERE r.valid_from <= $at AND (r.valid_to IS NULL OR r.valid_to > $at)
		RETURN DISTINCT related, r
	`, relPattern)

	return s.ExecuteQuery(ctx, cypher, map[string]any{
		"golden_id": goldenID,
		"at":        at,
	})
}

// extractValue converts neo4j types to standard Go types, collecting
// nodes and relationships encountered into qr as a side effect.
func extractValue(val any, qr *QueryResult, seenNodes, seenRels map[string]bool) any {
	if val == nil {
		return nil
	}

	switch v := val.(type) {
	case neo4j.Node:
		id := nodeIdentity(v)
		if !seenNodes[id] {
			seenNodes[id] = true
			qr.Nodes = append(qr.Nodes, NodeResult{
				ID:         id,
				Labels:     v.Labels,
				Properties: v.Props,
			})
		}
		return id

	case neo4j.Relationship:
		id := relIdentity(v)
		if !seenRels[id] {
			seenRels[id] = true
			qr.Relationships = append(qr.Relationships, RelResult{
				ID:         id,
				Type:       v.Type,
				Properties: v.Props,
			})
		}
		return id

	case neo4j.Path:
		for _, node := range v.Nodes {
			extractValue(node, qr, seenNodes, seenRels)
		}
		for _, rel := range v.Relationships {
			extractValue(rel, qr, seenNodes, seenRels)
		}
		return map[string]any{
			"node_count": len(v.Nodes),
			"rel_count":  len(v.Relationships),
		}

	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = extractValue(item, qr, seenNodes, seenRels)
		}
		return result

	default:
		return v
	}
}

func nodeIdentity(n neo4j.Node) string {
	if id, ok := n.Props["golden_id"]; ok {
		return fmt.Sprintf("%v", id)
	}
	return fmt.Sprintf("%v", n.ElementId)
}

func relIdentity(r neo4j.Relationship) string {
	if id, ok := r.Props["relation_id"]; ok {
		return fmt.Sprintf("%v", id)
	}
	return fmt.Sprintf("%v", r.ElementId)
}
