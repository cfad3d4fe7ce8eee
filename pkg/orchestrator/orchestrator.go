// Package orchestrator drives one pipeline run: trust-score, block,
// evaluate pairs, cluster, and survive, in full-rebuild or incremental
// mode. A worker pool evaluates pairs and sends decisions over a single
// channel; clustering.Builder then applies them serially. Preprocessing
// and lineage writes are left to the caller.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/ns-3e/OpenMatch/pkg/blocking"
	"github.com/ns-3e/OpenMatch/pkg/clustering"
	"github.com/ns-3e/OpenMatch/pkg/lineage"
	"github.com/ns-3e/OpenMatch/pkg/matchengine"
	"github.com/ns-3e/OpenMatch/pkg/metrics"
	"github.com/ns-3e/OpenMatch/pkg/models"
	"github.com/ns-3e/OpenMatch/pkg/survivorship"
	"github.com/ns-3e/OpenMatch/pkg/trust"
)

// Mode selects full-rebuild or incremental processing.
type Mode string

const (
	ModeFullRebuild Mode = "full_rebuild"
	ModeIncremental Mode = "incremental"
)

// Config wires together the orchestrator's collaborators.
type Config struct {
	Mode              Mode
	Workers           int
	BlockerConfig     blocking.Config
	MatchConfig       matchengine.Config
	ClusteringConfig  clustering.Config
	TrustConfig       trust.Config
	SurvivorshipRules []survivorship.FieldRule
}

// Result summarizes one pipeline run, the derived statistics spec §4.9
// requires the orchestrator emit to the metrics sink.
type Result struct {
	PairsGenerated int
	PairsEvaluated int
	MatchCount     int
	ReviewCount    int
	NoMatchCount   int
	MeanScore      float64
	Clusters       []models.Cluster
	GoldenRecords  []models.GoldenRecord
	Events         []clustering.ClusterEvent
	// DemotedPairs are MATCH pairs the transitivity guard downgraded to
	// REVIEW (S2), routed here instead of being silently dropped.
	DemotedPairs []models.CandidatePair
	// ClosedGoldenIDs lists, per surviving cluster id, the golden ids a
	// MERGE event superseded (S5's earlier-created_at-wins rule).
	ClosedGoldenIDs map[string][]string
}

// Orchestrator runs a pipeline from normalized records through to golden
// records and lineage writes.
type Orchestrator struct {
	cfg     Config
	logger  ectologger.Logger
	trust   *trust.Scorer
	blocker *blocking.Blocker
	engine  *matchengine.Engine
	metrics metrics.Sink
	store   *lineage.Store
}

// New builds an Orchestrator. store may be nil for callers that only need
// in-memory matching/clustering (e.g. tests, dry runs).
func New(cfg Config, logger ectologger.Logger, metricsSink metrics.Sink, store *lineage.Store) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		trust:   trust.New(cfg.TrustConfig),
		blocker: blocking.New(cfg.BlockerConfig),
		engine:  matchengine.New(cfg.MatchConfig, logger),
		metrics: metricsSink,
		store:   store,
	}
}

// Run executes one full pipeline pass over records, optionally seeded with
// prior clusters and their existing golden records for incremental mode,
// and returns the batch's Result. Lineage persistence (ApplyMerge per
// cluster) is left to the caller via Result.GoldenRecords/Events so dry
// runs can inspect output before committing.
func (o *Orchestrator) Run(ctx context.Context, records []*models.Record, priorClusters []models.Cluster, priorGolden map[string]models.GoldenRecord) (*Result, error) {
	now := time.Now()

	normalized := o.preprocessAndScore(records, now)

	pairs, err := o.blocker.Run(normalized)
	if err != nil {
		return nil, err
	}
	o.emitGauge("pairs_generated", float64(len(pairs)))

	byID := make(map[string]*models.NormalizedRecord, len(normalized))
	for _, r := range normalized {
		byID[r.RecordID] = r
	}

	decisions := o.evaluatePairs(ctx, pairs, byID)
	o.emitGauge("pairs_evaluated", float64(len(decisions)))

	builder := clustering.New(o.cfg.ClusteringConfig)
	if o.cfg.Mode == ModeIncremental {
		builder.Seed(priorClusters)
	}
	builder.Apply(decisions)

	// Records that appear in no decision still form singleton clusters.
	seen := make(map[string]bool)
	for _, c := range builder.Clusters() {
		for _, m := range c.Members {
			seen[m] = true
		}
	}
	for _, r := range normalized {
		if !seen[r.RecordID] {
			builder.Seed([]models.Cluster{{ClusterID: uuid.NewString(), Members: []string{r.RecordID}}})
		}
	}

	clusters := builder.Clusters()
	events := builder.Events(priorClusters)
	demoted := builder.Demoted()

	survivor := survivorship.New()
	goldenRecords, closedGoldenIDs := o.buildGoldenRecords(events, byID, priorGolden, survivor, now)

	return o.summarize(pairs, decisions, clusters, goldenRecords, events, demoted, closedGoldenIDs), nil
}

// preprocessAndScore runs the Trust Scorer over every record in parallel;
// preprocessing (field-level Pipeline application) is the caller's
// responsibility before Run, since it is configuration the Preprocessor
// package owns per field, not the orchestrator.
func (o *Orchestrator) preprocessAndScore(records []*models.Record, now time.Time) []*models.NormalizedRecord {
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	out := make([]*models.NormalizedRecord, len(records))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, r := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, r *models.Record) {
			defer wg.Done()
			defer func() { <-sem }()

			nr := &models.NormalizedRecord{Record: *r, Normalized: r.Attributes}
			nr.Trust = ptrTrustScore(o.trust.Score(nr, now))
			out[i] = nr
		}(i, r)
	}
	wg.Wait()
	return out
}

func ptrTrustScore(t models.TrustScore) *models.TrustScore { return &t }

// pairJob is one unit of work fed to the evaluation worker pool.
type pairJob struct {
	pair  models.CandidatePair
	left  *models.NormalizedRecord
	right *models.NormalizedRecord
}

// evaluatePairs runs the Match Engine over every pair using a bounded
// worker pool; results are funneled through a single channel to a reducer
// goroutine, mirroring spec §5's "union-find is only written by a
// dedicated reducer task receiving MATCH decisions via a channel" — here
// the reducer simply collects every decision for the caller's clustering
// pass, keeping the channel discipline even though union-find itself
// lives in the clustering.Builder the caller drives next.
func (o *Orchestrator) evaluatePairs(ctx context.Context, pairs []models.CandidatePair, byID map[string]*models.NormalizedRecord) []models.MatchDecision {
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan pairJob, len(pairs))
	results := make(chan models.MatchDecision, len(pairs))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				results <- o.engine.Score(job.left, job.right)
			}
		}()
	}

	for _, pair := range pairs {
		left, leftOK := byID[pair.A]
		right, rightOK := byID[pair.B]
		if !leftOK || !rightOK {
			continue
		}
		jobs <- pairJob{pair: pair, left: left, right: right}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	decisions := make([]models.MatchDecision, 0, len(pairs))
	for d := range results {
		decisions = append(decisions, d)
	}
	return decisions
}

// buildGoldenRecords builds one GoldenRecord per affected cluster event
// (not per current cluster, so an unaffected cluster produces neither a
// new golden record nor a spurious write). CREATE events mint a fresh
// golden id; UPDATE events reuse the cluster's existing golden record via
// priorGolden so no new id is assigned (S4); MERGE events fold every
// contributing prior golden record through survivorship.ResolveMergeSurvivor
// (S5) and report every non-surviving id in the returned closed map, keyed
// by the merged event's cluster id.
func (o *Orchestrator) buildGoldenRecords(events []clustering.ClusterEvent, byID map[string]*models.NormalizedRecord, priorGolden map[string]models.GoldenRecord, survivor *survivorship.Survivor, now time.Time) ([]models.GoldenRecord, map[string][]string) {
	golden := make([]models.GoldenRecord, 0, len(events))
	closed := make(map[string][]string)

	for _, e := range events {
		members := make([]*models.NormalizedRecord, 0, len(e.Members))
		for _, id := range e.Members {
			if r, ok := byID[id]; ok {
				members = append(members, r)
			}
		}
		if len(members) == 0 {
			continue
		}

		var prior *models.GoldenRecord
		switch e.Kind {
		case clustering.EventUpdate:
			if g, ok := priorGolden[e.ClusterID]; ok {
				prior = &g
			}
		case clustering.EventMerge:
			survivorGolden, closedIDs := resolveMergeSurvivor(e.MergedFrom, priorGolden)
			prior = survivorGolden
			if len(closedIDs) > 0 {
				closed[e.ClusterID] = closedIDs
			}
		}

		golden = append(golden, survivor.Build(e.ClusterID, members, o.cfg.SurvivorshipRules, now, prior))
	}

	return golden, closed
}

// resolveMergeSurvivor folds survivorship.ResolveMergeSurvivor across every
// prior golden record contributing to a MERGE event, returning the overall
// survivor (reused as the merged cluster's golden id) and every other
// contributing golden id, to be closed via MergeWrite.ClosedGoldenIDs.
func resolveMergeSurvivor(mergedFrom []string, priorGolden map[string]models.GoldenRecord) (*models.GoldenRecord, []string) {
	var survivor *models.GoldenRecord
	var closedIDs []string

	for _, clusterID := range mergedFrom {
		candidate, ok := priorGolden[clusterID]
		if !ok {
			continue
		}
		if survivor == nil {
			survivor = &candidate
			continue
		}
		survivingID, closedID := survivorship.ResolveMergeSurvivor(*survivor, candidate)
		if survivingID == survivor.GoldenID {
			closedIDs = append(closedIDs, closedID)
		} else {
			closedIDs = append(closedIDs, survivor.GoldenID)
			survivor = &candidate
		}
	}

	return survivor, closedIDs
}

func (o *Orchestrator) summarize(pairs []models.CandidatePair, decisions []models.MatchDecision, clusters []models.Cluster, golden []models.GoldenRecord, events []clustering.ClusterEvent, demoted []models.CandidatePair, closedGoldenIDs map[string][]string) *Result {
	result := &Result{
		PairsGenerated:  len(pairs),
		PairsEvaluated:  len(decisions),
		Clusters:        clusters,
		GoldenRecords:   golden,
		Events:          events,
		DemotedPairs:    demoted,
		ClosedGoldenIDs: closedGoldenIDs,
	}

	var sum float64
	for _, d := range decisions {
		sum += d.OverallScore
		switch d.Verdict {
		case models.VerdictMatch:
			result.MatchCount++
		case models.VerdictReview:
			result.ReviewCount++
		default:
			result.NoMatchCount++
		}
	}
	if len(decisions) > 0 {
		result.MeanScore = sum / float64(len(decisions))
	}
	// Demoted pairs never reach evaluatePairs' decisions as REVIEW (the
	// transitivity guard demotes them after a MATCH verdict), so they are
	// routed to the review queue here instead of being silently dropped.
	result.ReviewCount += len(demoted)

	o.emitGauge("match_count", float64(result.MatchCount))
	o.emitGauge("review_count", float64(result.ReviewCount))
	o.emitGauge("no_match_count", float64(result.NoMatchCount))
	o.emitGauge("mean_score", result.MeanScore)
	o.emitGauge("cluster_count", float64(len(clusters)))

	return result
}

func (o *Orchestrator) emitGauge(name string, value float64) {
	if o.metrics == nil {
		return
	}
	o.metrics.Gauge(name, value, nil)
}

// NewEventID is the id the orchestrator assigns to CREATE/UPDATE/MERGE
// events it hands to the Lineage Store; exported for the CLI's
// process-batch command to stamp events before calling ApplyMerge.
func NewEventID() string { return uuid.NewString() }
