// Command openmatch is the entity-resolution core's CLI: init the
// relational schema, pull a batch through the pipeline (full-rebuild or
// incremental), roll back to a prior event, or inspect a golden record.
// No CLI framework is wired here — the teacher ships no cmd/ at all in
// the retrieved source, so a minimal flag-based subcommand dispatcher is
// used in place of grafting an unrelated repo's cobra/cli skeleton onto
// it.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ns-3e/OpenMatch/config"
	"github.com/ns-3e/OpenMatch/internal/httpapi"
	"github.com/ns-3e/OpenMatch/internal/platform/database"
	"github.com/ns-3e/OpenMatch/internal/platform/middleware"
	"github.com/ns-3e/OpenMatch/internal/platform/tracing"
	"github.com/ns-3e/OpenMatch/pkg/audit"
	"github.com/ns-3e/OpenMatch/pkg/clustering"
	"github.com/ns-3e/OpenMatch/pkg/graph"
	"github.com/ns-3e/OpenMatch/pkg/ingestion"
	"github.com/ns-3e/OpenMatch/pkg/ingestion/filesource"
	"github.com/ns-3e/OpenMatch/pkg/ingestion/kafkasource"
	"github.com/ns-3e/OpenMatch/pkg/lineage"
	"github.com/ns-3e/OpenMatch/pkg/metrics"
	"github.com/ns-3e/OpenMatch/pkg/models"
	"github.com/ns-3e/OpenMatch/pkg/orchestrator"
	"github.com/ns-3e/OpenMatch/pkg/preprocessor"
)

// exit codes per the CLI-visible contract: 0 success, 1 configuration
// error (no state change), 2 data error (partial progress preserved and
// logged), 3 cancellation.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitDataError    = 2
	exitCancellation = 3
)

// configError marks a failure that happened before any state was
// touched — bad flags, an unreadable domain file, a broken DSN.
// httperror's taxonomy has no accessor for recovering a status/code
// from an error it wraps (only a constructor is observable anywhere in
// the retrieval pack), so exit-code classification uses this small
// local type instead of trying to unwrap httperror.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func wrapConfigErr(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfigError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch:", err)
		return classify(err)
	}
	defer app.close()

	switch args[0] {
	case "init":
		return app.runInit(ctx)
	case "process-batch":
		return app.runProcessBatch(ctx, args[1:], orchestrator.ModeIncremental)
	case "rebuild":
		return app.runProcessBatch(ctx, args[1:], orchestrator.ModeFullRebuild)
	case "rollback":
		return app.runRollback(ctx, args[1:])
	case "inspect":
		return app.runInspect(ctx, args[1:])
	case "serve":
		return app.runServe(ctx)
	default:
		usage()
		return exitConfigError
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: openmatch <command> [flags]

commands:
  init                          run pending relational schema migrations
  process-batch -source <file|kafka> [-file path]   incremental pipeline run
  rebuild -file path             full-rebuild pipeline run over a file source
  rollback -to-event EVENT_ID    roll back golden state to before an event
  inspect -golden-id ID          print a golden record and its xrefs
  serve                           run the inspect/health HTTP surface`)
}

// classify maps an error to the CLI's 0/1/2/3 exit-code contract.
func classify(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitCancellation
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return exitConfigError
	}
	return exitDataError
}

// app is the CLI's composition root: every collaborator the pipeline
// needs, built once per invocation from Process+Domain configuration.
type app struct {
	process *config.Process
	domain  *config.Domain
	logger  ectologger.Logger

	tracerProvider *sdktrace.TracerProvider

	sqlDB *sqlx.DB
	db    database.DB
	store *lineage.Store

	graphClient *graph.Client
	goldenGraph *graph.GoldenRecordService
	relGraph    *graph.RelationshipService
	queryGraph  *graph.QueryService

	metricsSink metrics.Sink
	auditSink   audit.Sink
}

func bootstrap() (*app, error) {
	process, err := config.LoadProcess()
	if err != nil {
		return nil, wrapConfigErr(fmt.Errorf("loading process config: %w", err))
	}

	domain, err := config.LoadDomain(process.DomainConfigPath)
	if err != nil {
		return nil, wrapConfigErr(fmt.Errorf("loading domain config: %w", err))
	}

	logger := ectologger.NewDefaultEctoLogger()

	tracerProvider := sdktrace.NewTracerProvider()
	tracing.SetTracer(tracerProvider.Tracer(process.AppName))

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		process.DatabaseHost, process.DatabasePort, process.DatabaseUserName,
		process.DatabasePassword, process.DatabaseName, process.DatabaseSSLMode)
	sqlDB, err := sqlx.Connect(process.DatabaseDriver, dsn)
	if err != nil {
		return nil, wrapConfigErr(fmt.Errorf("connecting to database: %w", err))
	}
	sqlDB.SetMaxOpenConns(process.DatabaseMaxOpenConns)
	sqlDB.SetMaxIdleConns(process.DatabaseMaxIdleConns)
	sqlDB.SetConnMaxLifetime(process.DatabaseConnMaxLifetime)

	db := database.NewDatabaseInstance(sqlDB, logger)
	store := lineage.New(db, logger)

	var goldenGraph *graph.GoldenRecordService
	var relGraph *graph.RelationshipService
	var queryGraph *graph.QueryService
	graphClient, err := graph.NewClient(graph.Config{
		Host:     process.GraphDBHost,
		Port:     process.GraphDBPort,
		Username: process.GraphDBUser,
		Password: process.GraphDBPassword,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("graph mirror unavailable, continuing without it")
		graphClient = nil
	} else {
		goldenGraph = graph.NewGoldenRecordService(graphClient, logger)
		relGraph = graph.NewRelationshipService(graphClient, logger)
		queryGraph = graph.NewQueryService(graphClient, logger)
	}

	metricsSink := metrics.NewPromSink(process.MetricsNamespace, nil)

	var auditSink audit.Sink = audit.NoopSink{}
	if len(process.KafkaBrokers) > 0 && process.KafkaAuditTopic != "" {
		auditSink = audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: process.KafkaBrokers,
			Topic:   process.KafkaAuditTopic,
		}, logger)
	}

	return &app{
		process:        process,
		domain:         domain,
		logger:         logger,
		tracerProvider: tracerProvider,
		sqlDB:          sqlDB,
		db:             db,
		store:          store,
		graphClient:    graphClient,
		goldenGraph:    goldenGraph,
		relGraph:       relGraph,
		queryGraph:     queryGraph,
		metricsSink:    metricsSink,
		auditSink:      auditSink,
	}, nil
}

func (a *app) close() {
	if a.graphClient != nil {
		_ = a.graphClient.Close(context.Background())
	}
	if closer, ok := a.auditSink.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	_ = a.tracerProvider.Shutdown(context.Background())
	_ = a.sqlDB.Close()
}

func (a *app) runInit(ctx context.Context) int {
	driver, err := migratepostgres.WithInstance(a.sqlDB.DB, &migratepostgres.Config{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: building migration driver failed:", err)
		return exitConfigError
	}

	ms := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.process.DatabaseMigrationFolderPath,
		AutoRollback:        true,
	})
	if err := ms.Migrate(a.process.DatabaseName, driver); err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: migration failed:", err)
		return classify(err)
	}
	fmt.Println("schema up to date")
	return exitOK
}

func (a *app) ingestionSchema() ingestion.Schema {
	var schema ingestion.Schema
	for _, f := range a.domain.Fields {
		schema = append(schema, ingestion.FieldSchema{Field: f.Name, Required: f.Required, Tag: f.ValidateTag})
	}
	return schema
}

// normalize applies a default cleanup pipeline to every string attribute,
// the minimal preprocessing Orchestrator.Run expects callers to have
// already done before it copies Attributes into NormalizedRecord.Normalized.
var defaultPipeline = preprocessor.NewPipeline("strip", "collapse_whitespace", "lower")

func normalize(records []*models.Record) {
	for _, r := range records {
		for field, v := range r.Attributes {
			s, ok := v.(string)
			if !ok {
				continue
			}
			r.Attributes[field] = defaultPipeline.Run(s)
		}
	}
}

func (a *app) runProcessBatch(ctx context.Context, args []string, mode orchestrator.Mode) int {
	fs := flag.NewFlagSet("process-batch", flag.ContinueOnError)
	sourceKind := fs.String("source", "file", "record source: file or kafka")
	filePath := fs.String("file", "", "path to a newline-delimited JSON record file (file source)")
	batchSize := fs.Int("batch-size", 500, "records pulled per source batch")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	var source ingestion.Source
	switch *sourceKind {
	case "file":
		if *filePath == "" {
			fmt.Fprintln(os.Stderr, "openmatch: -file is required for the file source")
			return exitConfigError
		}
		fileSource, err := filesource.Open(*filePath, *batchSize)
		if err != nil {
			fmt.Fprintln(os.Stderr, "openmatch:", err)
			return exitConfigError
		}
		defer fileSource.Close()
		source = fileSource
	case "kafka":
		source = kafkasource.New(kafkasource.Config{
			Brokers:       a.process.KafkaBrokers,
			Topic:         a.process.KafkaInputTopic,
			ConsumerGroup: a.process.KafkaConsumerGroup,
			BatchSize:     *batchSize,
		})
	default:
		fmt.Fprintln(os.Stderr, "openmatch: unknown source", *sourceKind)
		return exitConfigError
	}

	ingestor := ingestion.New(ingestion.Config{
		Schema:     a.ingestionSchema(),
		MaxBatches: a.process.MaxBatchesPerRun,
	}, ingestion.DiscardDeadLetterSink{}, a.logger)

	records, err := ingestor.Pull(ctx, source)
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: ingestion failed:", err)
		return classify(err)
	}
	normalize(records)

	orch := orchestrator.New(orchestrator.Config{
		Mode:              mode,
		Workers:           a.process.Workers,
		BlockerConfig:     a.domain.BlockingConfig(),
		MatchConfig:       a.domain.MatchEngineConfig(),
		ClusteringConfig:  clustering.Config{TransitivityGuard: true},
		TrustConfig:       a.domain.TrustConfig(),
		SurvivorshipRules: a.domain.SurvivorshipRules(),
	}, a.logger, a.metricsSink, a.store)

	var priorClusters []models.Cluster
	var priorGolden map[string]models.GoldenRecord
	if mode == orchestrator.ModeIncremental {
		priorClusters, priorGolden, err = a.store.PriorState(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "openmatch: loading prior state failed:", err)
			return classify(err)
		}
	}

	result, err := orch.Run(ctx, records, priorClusters, priorGolden)
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: pipeline run failed:", err)
		return classify(err)
	}

	if err := a.persist(ctx, result); err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: persisting results failed:", err)
		return classify(err)
	}

	fmt.Printf("pairs_generated=%d pairs_evaluated=%d matches=%d reviews=%d no_match=%d clusters=%d golden_records=%d\n",
		result.PairsGenerated, result.PairsEvaluated, result.MatchCount, result.ReviewCount,
		result.NoMatchCount, len(result.Clusters), len(result.GoldenRecords))
	return exitOK
}

// persist writes each golden record produced by a run to the lineage
// store and mirrors it to the graph, then publishes one audit event per
// cluster-lifecycle event the run emitted. Before touching any state it
// snapshots the golden records and xrefs the event is about to overwrite,
// so RollbackToEvent has exact prior state to restore (spec invariant 4 /
// property 3).
func (a *app) persist(ctx context.Context, result *orchestrator.Result) error {
	now := time.Now()
	goldenByCluster := make(map[string]*models.GoldenRecord, len(result.GoldenRecords))
	for i := range result.GoldenRecords {
		g := result.GoldenRecords[i]
		goldenByCluster[g.ClusterID] = &g
	}

	for _, event := range result.Events {
		golden, ok := goldenByCluster[event.ClusterID]
		if !ok {
			continue
		}
		closedIDs := result.ClosedGoldenIDs[event.ClusterID]

		goldenIDs := append([]string{golden.GoldenID}, closedIDs...)
		goldenRows, err := a.store.GoldenByIDs(ctx, goldenIDs)
		if err != nil {
			return err
		}
		goldenBefore := make(map[string]*models.GoldenRecord, len(goldenIDs))
		for _, id := range goldenIDs {
			if g, ok := goldenRows[id]; ok {
				gCopy := g
				goldenBefore[id] = &gCopy
			} else {
				goldenBefore[id] = nil
			}
		}

		xrefRows, err := a.store.OpenXrefsFor(ctx, event.Members)
		if err != nil {
			return err
		}
		xrefBefore := make(map[string]*models.Xref, len(event.Members))
		for _, id := range event.Members {
			if x, ok := xrefRows[id]; ok {
				xCopy := x
				xrefBefore[id] = &xCopy
			} else {
				xrefBefore[id] = nil
			}
		}

		var xrefs []models.Xref
		for _, recordID := range event.Members {
			// Result carries a cluster-level MeanScore, not a per-member
			// decision score, so every member of a newly (re)built
			// cluster links at full confidence; a future per-pair score
			// would need Orchestrator.Result to surface it.
			xrefs = append(xrefs, models.Xref{
				SourceRecordID: recordID,
				GoldenID:       golden.GoldenID,
				ValidFrom:      now,
				Confidence:     1.0,
			})
		}

		mergeEvent := models.MergeEvent{
			EventID:           orchestrator.NewEventID(),
			EventType:         models.EventType(event.Kind),
			Timestamp:         now,
			Actor:             "openmatch-cli",
			AffectedGoldenIDs: goldenIDs,
			AffectedRecordIDs: event.Members,
			BeforeState:       lineage.BuildBeforeState(goldenBefore, xrefBefore),
			AfterState:        map[string]any{"golden_record": golden},
		}

		if err := a.store.ApplyMerge(ctx, lineage.MergeWrite{
			Golden:          *golden,
			Xrefs:           xrefs,
			Event:           mergeEvent,
			ClosedGoldenIDs: closedIDs,
		}); err != nil {
			return err
		}

		if a.goldenGraph != nil {
			if err := a.goldenGraph.CreateOrUpdate(ctx, golden); err != nil {
				a.logger.WithContext(ctx).WithError(err).Warn("graph mirror write failed")
			}
		}

		if err := a.auditSink.Publish(ctx, mergeEvent); err != nil {
			a.logger.WithContext(ctx).WithError(err).Warn("audit publish failed")
		}
	}
	return nil
}

func (a *app) runRollback(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	toEvent := fs.String("to-event", "", "roll back to the state immediately before this event id")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *toEvent == "" {
		fmt.Fprintln(os.Stderr, "openmatch: -to-event is required")
		return exitConfigError
	}

	err := a.store.RollbackToEvent(ctx, *toEvent, "openmatch-cli", func() sql.NullTime {
		return sql.NullTime{Time: time.Now(), Valid: true}
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: rollback failed:", err)
		return classify(err)
	}
	fmt.Println("rolled back to before", *toEvent)
	return exitOK
}

func (a *app) runInspect(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	goldenID := fs.String("golden-id", "", "golden record id to inspect")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *goldenID == "" {
		fmt.Fprintln(os.Stderr, "openmatch: -golden-id is required")
		return exitConfigError
	}

	golden, err := a.store.GoldenByID(ctx, *goldenID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: inspect failed:", err)
		return classify(err)
	}
	xrefs, err := a.store.XrefsForGolden(ctx, *goldenID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "openmatch: inspect failed:", err)
		return classify(err)
	}

	out := map[string]any{"golden_record": golden, "xrefs": xrefs}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	return exitOK
}

// runServe starts the thin inspect/health HTTP surface (internal/httpapi)
// alongside the CLI's own read paths — an operational nicety, not a
// pipeline requirement.
func (a *app) runServe(ctx context.Context) int {
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(a.process.AppName))
	e.Use(middleware.Logger(a.logger))
	e.HTTPErrorHandler = middleware.Error(a.logger)

	checker := httpapi.NewChecker(a.db, a.graphClient, "dev")
	checker.RegisterRoutes(e)

	inspect := httpapi.NewInspectHandler(a.store, a.queryGraph, a.logger)
	inspect.RegisterRoutes(e.Group("/api/v1"))

	checker.SetReady(true)

	addr := fmt.Sprintf(":%d", a.process.Port)
	a.logger.Info("serving inspect/health HTTP surface on " + addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintln(os.Stderr, "openmatch: http server failed:", err)
		return exitDataError
	}
	return exitOK
}
