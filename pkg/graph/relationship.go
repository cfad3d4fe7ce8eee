package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ns-3e/OpenMatch/internal/platform/tracing"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// RelationshipService persists models.Relation edges between
// :GoldenRecord nodes, keyed by relation_id, with valid_from/valid_to
// time-versioning in place of the teacher's tenant_id scoping.
type RelationshipService struct {
	client *Client
	logger ectologger.Logger
}

// NewRelationshipService creates a new relationship service.
func NewRelationshipService(client *Client, logger ectologger.Logger) *RelationshipService {
	return &RelationshipService{
		client: client,
		logger: logger,
	}
}

// GetByID returns the properties of one relation edge by relation_id.
func (s *RelationshipService) GetByID(ctx context.Context, relationID, relationType string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationshipService.GetByID")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH ()-[r:%s {relation_id: $relation_id}]->()
		RETURN r
		LIMIT 1
	`, sanitizeLabel(relationType))

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"relation_id": relationID})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, nil
		}
		record := result.Record()
		relNode, _ := record.Get("r")
		r := relNode.(neo4j.Relationship)
		return r.Props, nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(map[string]any), nil
}

// CreateOrUpdate creates or updates a relation edge between two golden
// record nodes, matched on both endpoints plus relation_id.
func (s *RelationshipService) CreateOrUpdate(ctx context.Context, rel *models.Relation) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationshipService.CreateOrUpdate")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"relation_id":   rel.RelationID,
		"from":          rel.FromGoldenID,
		"to":            rel.ToGoldenID,
		"relation_type": rel.RelationType,
	})

	props := s.edgeProps(rel)

	cypher := fmt.Sprintf(`
		MATCH (from:GoldenRecord {golden_id: $from_id})
		MATCH (to:GoldenRecord {golden_id: $to_id})
		MERGE (from)-[r:%s {relation_id: $relation_id}]->(to)
		SET r += $props
		RETURN r
	`, sanitizeLabel(rel.RelationType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"from_id":     rel.FromGoldenID,
			"to_id":       rel.ToGoldenID,
			"relation_id": rel.RelationID,
			"props":       props,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("failed to create/update relation in graph")
		return fmt.Errorf("failed to create/update relation in graph: %w", err)
	}

	log.Debug("created/updated relation in graph")
	return nil
}

// Close sets a relation's valid_to, ending it as of t rather than deleting
// the edge — preserving history for related_entities(..., at_time) queries
// against points before the close.
func (s *RelationshipService) Close(ctx context.Context, relationID, relationType string, t time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationshipService.Close")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH ()-[r:%s {relation_id: $relation_id}]->()
		SET r.valid_to = $valid_to
		RETURN r
	`, sanitizeLabel(relationType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"relation_id": relationID,
			"valid_to":    t.UTC().Format(timeLayout),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to close relation in graph")
		return fmt.Errorf("failed to close relation in graph: %w", err)
	}

	return nil
}

// Delete hard-deletes a relation edge.
func (s *RelationshipService) Delete(ctx context.Context, relationID, relationType string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationshipService.Delete")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH ()-[r:%s {relation_id: $relation_id}]->()
		DELETE r
	`, sanitizeLabel(relationType))

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"relation_id": relationID})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to delete relation in graph")
		return fmt.Errorf("failed to delete relation in graph: %w", err)
	}

	return nil
}

// BatchCreateOrUpdate upserts multiple relations, grouped by relation
// type so each group can UNWIND through a single Cypher statement.
func (s *RelationshipService) BatchCreateOrUpdate(ctx context.Context, rels []*models.Relation) error {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationshipService.BatchCreateOrUpdate")
	defer span.End()

	if len(rels) == 0 {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(rels),
	})

	byType := make(map[string][]*models.Relation)
	for _, r := range rels {
		byType[r.RelationType] = append(byType[r.RelationType], r)
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for relType, typeRels := range byType {
			batchData := make([]map[string]any, len(typeRels))
			for i, rel := range typeRels {
				batchData[i] = map[string]any{
					"from_id":     rel.FromGoldenID,
					"to_id":       rel.ToGoldenID,
					"relation_id": rel.RelationID,
					"props":       s.edgeProps(rel),
				}
			}

			cypher := fmt.Sprintf(`
				UNWIND $batch AS data
				MATCH (from:GoldenRecord {golden_id: data.from_id})
				MATCH (to:GoldenRecord {golden_id: data.to_id})
				MERGE (from)-[r:%s {relation_id: data.relation_id}]->(to)
				SET r += data.props
			`, sanitizeLabel(relType))

			if _, err := tx.Run(ctx, cypher, map[string]any{"batch": batchData}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	if err != nil {
		log.WithError(err).Error("failed to batch create/update relations in graph")
		return fmt.Errorf("failed to batch create/update relations: %w", err)
	}

	log.Debug("batch created/updated relations in graph")
	return nil
}

// GetRelationships returns every relation touching a golden record,
// optionally restricted to one direction.
func (s *RelationshipService) GetRelationships(ctx context.Context, goldenID string, direction string) ([]map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.RelationshipService.GetRelationships")
	defer span.End()

	var cypher string
	switch direction {
	case "outgoing":
		cypher = `
			MATCH (g:GoldenRecord {golden_id: $golden_id})-[r]->(target)
			RETURN r, type(r) as relation_type, target
		`
	case "incoming":
		cypher = `
			MATCH (source)-[r]->(g:GoldenRecord {golden_id: $golden_id})
			RETURN r, type(r) as relation_type, source as target
		`
	default: // both
		cypher = `
			MATCH (g:GoldenRecord {golden_id: $golden_id})-[r]-(target)
			RETURN r, type(r) as relation_type, target
		`
	}

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"golden_id": goldenID})
		if err != nil {
			return nil, err
		}

		var rels []map[string]any
		for result.Next(ctx) {
			record := result.Record()
			relNode, _ := record.Get("r")
			relType, _ := record.Get("relation_type")
			targetNode, _ := record.Get("target")

			r := relNode.(neo4j.Relationship)
			t := targetNode.(neo4j.Node)

			rels = append(rels, map[string]any{
				"relation_id": r.Props["relation_id"],
				"type":        relType,
				"target_id":   t.Props["golden_id"],
				"properties":  r.Props,
			})
		}
		return rels, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get relations from graph: %w", err)
	}

	return result.([]map[string]any), nil
}

func (s *RelationshipService) edgeProps(rel *models.Relation) map[string]any {
	props := map[string]any{
		"relation_id": rel.RelationID,
		"valid_from":  rel.ValidFrom.UTC().Format(timeLayout),
	}
	if rel.ValidTo != nil {
		props["valid_to"] = rel.ValidTo.UTC().Format(timeLayout)
	}
	for k, v := range rel.Properties {
		props[k] = v
	}
	return props
}

// sanitizeLabel ensures a label is safe for Cypher interpolation.
func sanitizeLabel(label string) string {
	result := ""
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result += string(c)
		}
	}
	if result == "" {
		return "RELATED_TO"
	}
	return result
}
