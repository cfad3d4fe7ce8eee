package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ns-3e/OpenMatch/internal/platform/tracing"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// GoldenRecordService mirrors golden records into the graph as
// :GoldenRecord nodes keyed by golden_id, so RelationshipService and
// QueryService have a node to hang explicit relations and traversals off.
type GoldenRecordService struct {
	client *Client
	logger ectologger.Logger
}

// NewGoldenRecordService creates a new golden record sync service.
func NewGoldenRecordService(client *Client, logger ectologger.Logger) *GoldenRecordService {
	return &GoldenRecordService{
		client: client,
		logger: logger,
	}
}

// CreateOrUpdate upserts a golden record node, flattening its attributes
// onto the node and stashing provenance/cluster metadata as properties.
func (s *GoldenRecordService) CreateOrUpdate(ctx context.Context, golden *models.GoldenRecord) error {
	ctx, span := tracing.StartSpan(ctx, "graph.GoldenRecordService.CreateOrUpdate")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"golden_id":  golden.GoldenID,
		"cluster_id": golden.ClusterID,
	})

	props, err := s.nodeProps(golden)
	if err != nil {
		return err
	}

	cypher := `
		MERGE (g:GoldenRecord {golden_id: $golden_id})
		SET g = $props
		RETURN g
	`

	_, err = s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"golden_id": golden.GoldenID,
			"props":     props,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("failed to sync golden record to graph")
		return fmt.Errorf("failed to sync golden record to graph: %w", err)
	}

	log.Debug("synced golden record to graph")
	return nil
}

// Delete removes a golden record node (and, transitively via DETACH
// DELETE, every relation edge touching it).
func (s *GoldenRecordService) Delete(ctx context.Context, goldenID string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.GoldenRecordService.Delete")
	defer span.End()

	cypher := `
		MATCH (g:GoldenRecord {golden_id: $golden_id})
		DETACH DELETE g
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"golden_id": goldenID})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to delete golden record from graph")
		return fmt.Errorf("failed to delete golden record from graph: %w", err)
	}

	return nil
}

// Get retrieves a golden record node's properties by golden_id.
func (s *GoldenRecordService) Get(ctx context.Context, goldenID string) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.GoldenRecordService.Get")
	defer span.End()

	cypher := `
		MATCH (g:GoldenRecord {golden_id: $golden_id})
		RETURN g
	`

	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"golden_id": goldenID})
		if err != nil {
			return nil, err
		}

		if result.Next(ctx) {
			record := result.Record()
			node, ok := record.Get("g")
			if !ok {
				return nil, nil
			}
			n := node.(neo4j.Node)
			return n.Props, nil
		}
		return nil, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get golden record from graph: %w", err)
	}

	if result == nil {
		return nil, nil
	}

	return result.(map[string]any), nil
}

// BatchCreateOrUpdate upserts multiple golden record nodes in a single
// transaction, e.g. after a full-rebuild orchestrator run.
func (s *GoldenRecordService) BatchCreateOrUpdate(ctx context.Context, goldens []*models.GoldenRecord) error {
	ctx, span := tracing.StartSpan(ctx, "graph.GoldenRecordService.BatchCreateOrUpdate")
	defer span.End()

	if len(goldens) == 0 {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(goldens),
	})

	batchData := make([]map[string]any, 0, len(goldens))
	for _, golden := range goldens {
		props, err := s.nodeProps(golden)
		if err != nil {
			return err
		}
		batchData = append(batchData, props)
	}

	cypher := `
		UNWIND $batch AS props
		MERGE (g:GoldenRecord {golden_id: props.golden_id})
		SET g = props
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, map[string]any{"batch": batchData})
		return nil, err
	})

	if err != nil {
		log.WithError(err).Error("failed to batch sync golden records to graph")
		return fmt.Errorf("failed to batch sync golden records to graph: %w", err)
	}

	log.Debug("batch synced golden records to graph")
	return nil
}

func (s *GoldenRecordService) nodeProps(golden *models.GoldenRecord) (map[string]any, error) {
	provenance, err := json.Marshal(golden.Provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal golden record provenance: %w", err)
	}

	props := map[string]any{
		"golden_id":  golden.GoldenID,
		"cluster_id": golden.ClusterID,
		"version":    golden.Version,
		"created_at": golden.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"updated_at": golden.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"provenance": string(provenance),
	}
	for k, v := range golden.Attributes {
		props[k] = v
	}
	return props, nil
}
