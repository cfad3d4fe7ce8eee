// Package lineage persists the four logical tables of the entity-resolution
// core — golden_record, xref, merge_event, field_history — guaranteeing
// that a single merge's writes to golden_record, xref, and merge_event are
// atomic, and that a rollback by event id restores exact prior state.
package lineage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/ns-3e/OpenMatch/internal/platform/database"
	"github.com/ns-3e/OpenMatch/internal/platform/tracing"
	"github.com/ns-3e/OpenMatch/pkg/models"
)

// Store is the Lineage Store's persistence boundary over Postgres.
type Store struct {
	db     database.DB
	logger ectologger.Logger
}

// New builds a Store.
func New(db database.DB, logger ectologger.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// goldenRow is golden_record's wire shape.
type goldenRow struct {
	GoldenID   string                          `db:"golden_id"`
	Attributes database.JSONB[map[string]any]  `db:"attributes"`
	ClusterID  string                          `db:"cluster_id"`
	Version    int                             `db:"version"`
	CreatedAt  sql.NullTime                    `db:"created_at"`
	UpdatedAt  sql.NullTime                    `db:"updated_at"`
}

func toGoldenRow(g models.GoldenRecord) goldenRow {
	return goldenRow{
		GoldenID:   g.GoldenID,
		Attributes: database.JSONB[map[string]any]{Data: g.Attributes},
		ClusterID:  g.ClusterID,
		Version:    g.Version,
		CreatedAt:  sql.NullTime{Time: g.CreatedAt, Valid: !g.CreatedAt.IsZero()},
		UpdatedAt:  sql.NullTime{Time: g.UpdatedAt, Valid: !g.UpdatedAt.IsZero()},
	}
}

func (r goldenRow) toModel() models.GoldenRecord {
	return models.GoldenRecord{
		GoldenID:   r.GoldenID,
		Attributes: r.Attributes.Data,
		ClusterID:  r.ClusterID,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt.Time,
		UpdatedAt:  r.UpdatedAt.Time,
	}
}

// xrefRow is xref's wire shape.
type xrefRow struct {
	SourceRecordID string       `db:"source_record_id"`
	SourceSystem   string       `db:"source_system"`
	GoldenID       string       `db:"golden_id"`
	ValidFrom      sql.NullTime `db:"valid_from"`
	ValidTo        sql.NullTime `db:"valid_to"`
	Confidence     float64      `db:"confidence"`
}

func toXrefRow(x models.Xref) xrefRow {
	row := xrefRow{
		SourceRecordID: x.SourceRecordID,
		SourceSystem:   x.SourceSystem,
		GoldenID:       x.GoldenID,
		ValidFrom:      sql.NullTime{Time: x.ValidFrom, Valid: !x.ValidFrom.IsZero()},
		Confidence:     x.Confidence,
	}
	if x.ValidTo != nil {
		row.ValidTo = sql.NullTime{Time: *x.ValidTo, Valid: true}
	}
	return row
}

func (r xrefRow) toModel() models.Xref {
	x := models.Xref{
		SourceRecordID: r.SourceRecordID,
		SourceSystem:   r.SourceSystem,
		GoldenID:       r.GoldenID,
		ValidFrom:      r.ValidFrom.Time,
		Confidence:     r.Confidence,
	}
	if r.ValidTo.Valid {
		t := r.ValidTo.Time
		x.ValidTo = &t
	}
	return x
}

// eventRow is merge_event's wire shape.
type eventRow struct {
	EventID           string                         `db:"event_id"`
	EventType         string                         `db:"event_type"`
	Timestamp         sql.NullTime                   `db:"event_timestamp"`
	Actor             string                         `db:"actor"`
	AffectedGoldenIDs database.JSONB[[]string]       `db:"affected_golden_ids"`
	AffectedRecordIDs database.JSONB[[]string]       `db:"affected_record_ids"`
	BeforeState       database.JSONB[map[string]any] `db:"before_state"`
	AfterState        database.JSONB[map[string]any] `db:"after_state"`
}

func toEventRow(e models.MergeEvent) eventRow {
	return eventRow{
		EventID:           e.EventID,
		EventType:         string(e.EventType),
		Timestamp:         sql.NullTime{Time: e.Timestamp, Valid: !e.Timestamp.IsZero()},
		Actor:             e.Actor,
		AffectedGoldenIDs: database.JSONB[[]string]{Data: e.AffectedGoldenIDs},
		AffectedRecordIDs: database.JSONB[[]string]{Data: e.AffectedRecordIDs},
		BeforeState:       database.JSONB[map[string]any]{Data: e.BeforeState},
		AfterState:        database.JSONB[map[string]any]{Data: e.AfterState},
	}
}

func (r eventRow) toModel() models.MergeEvent {
	return models.MergeEvent{
		EventID:           r.EventID,
		EventType:         models.EventType(r.EventType),
		Timestamp:         r.Timestamp.Time,
		Actor:             r.Actor,
		AffectedGoldenIDs: r.AffectedGoldenIDs.Data,
		AffectedRecordIDs: r.AffectedRecordIDs.Data,
		BeforeState:       r.BeforeState.Data,
		AfterState:        r.AfterState.Data,
	}
}

// MergeWrite bundles everything one merge atomically commits: the golden
// record's new (or updated) state, every xref row touched, and the
// MergeEvent describing the transition.
type MergeWrite struct {
	Golden models.GoldenRecord
	Xrefs  []models.Xref
	Event  models.MergeEvent
	// ClosedGoldenIDs lists golden records being closed as a result of
	// this merge (the losing side of a golden-golden MERGE); their
	// xrefs are not deleted, only superseded via ValidTo.
	ClosedGoldenIDs []string
}

// ApplyMerge commits golden_record, xref, and merge_event writes for one
// merge inside a single transaction, per spec §4.8's atomicity contract.
func (s *Store) ApplyMerge(ctx context.Context, write MergeWrite) error {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.ApplyMerge")
	defer span.End()

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to begin transaction: %v", err)
	}

	if err := s.upsertGolden(ctx, tx, write.Golden); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	for _, x := range write.Xrefs {
		if err := s.reassignXref(ctx, tx, x); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	for _, closedID := range write.ClosedGoldenIDs {
		if err := s.closeXrefsForGolden(ctx, tx, closedID, write.Event.Timestamp); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	if err := s.insertEvent(ctx, tx, write.Event); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to commit merge: %v", err)
	}
	return nil
}

func (s *Store) upsertGolden(ctx context.Context, tx database.Tx, g models.GoldenRecord) error {
	row := toGoldenRow(g)
	attrsJSON, err := json.Marshal(row.Attributes.Data)
	if err != nil {
		return fmt.Errorf("lineage: marshal golden attributes: %w", err)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("golden_record")
	ib.Cols("golden_id", "attributes", "cluster_id", "version", "created_at", "updated_at")
	ib.Values(row.GoldenID, attrsJSON, row.ClusterID, row.Version, row.CreatedAt.Time, row.UpdatedAt.Time)
	ib.SQL("ON CONFLICT (golden_id) DO UPDATE SET attributes = EXCLUDED.attributes, cluster_id = EXCLUDED.cluster_id, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at")

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"golden_id": g.GoldenID}).Error("failed to upsert golden_record")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to upsert golden_record: %v", err)
	}
	return nil
}

func (s *Store) upsertXref(ctx context.Context, tx database.Tx, x models.Xref) error {
	row := toXrefRow(x)

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("xref")
	ib.Cols("source_record_id", "source_system", "golden_id", "valid_from", "valid_to", "confidence")
	var validTo any
	if row.ValidTo.Valid {
		validTo = row.ValidTo.Time
	}
	ib.Values(row.SourceRecordID, row.SourceSystem, row.GoldenID, row.ValidFrom.Time, validTo, row.Confidence)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"source_record_id": x.SourceRecordID}).Error("failed to insert xref")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to insert xref: %v", err)
	}
	return nil
}

// CloseXref sets valid_to on the current open xref for a source record,
// used when reassigning it to a different golden_id.
func (s *Store) CloseXref(ctx context.Context, tx database.Tx, sourceRecordID string, at sql.NullTime) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("xref")
	ub.Set(ub.Assign("valid_to", at.Time))
	ub.Where(ub.Equal("source_record_id", sourceRecordID), ub.IsNull("valid_to"))

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to close xref: %v", err)
	}
	return nil
}

// reassignXref is the forward half of spec §4.8's "valid_to is set when a
// record is reassigned": if the record's currently open xref already
// points at x.GoldenID, nothing changes; if it points elsewhere, it is
// closed via CloseXref before x is inserted; if there is none, x is just
// inserted.
func (s *Store) reassignXref(ctx context.Context, tx database.Tx, x models.Xref) error {
	current, err := s.currentXrefTx(ctx, tx, x.SourceRecordID)
	if err != nil {
		return err
	}
	if current != nil {
		if current.GoldenID == x.GoldenID {
			return nil
		}
		if err := s.CloseXref(ctx, tx, x.SourceRecordID, sql.NullTime{Time: x.ValidFrom, Valid: true}); err != nil {
			return err
		}
	}
	return s.upsertXref(ctx, tx, x)
}

// currentXrefTx fetches a record's open xref (if any) inside tx, so
// reassignXref sees writes already made earlier in the same transaction.
func (s *Store) currentXrefTx(ctx context.Context, tx database.Tx, sourceRecordID string) (*models.Xref, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("source_record_id", "source_system", "golden_id", "valid_from", "valid_to", "confidence")
	sb.From("xref")
	sb.Where(sb.Equal("source_record_id", sourceRecordID), sb.IsNull("valid_to"))

	query, args := sb.Build()
	var row xrefRow
	if err := tx.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch current xref: %v", err)
	}
	x := row.toModel()
	return &x, nil
}

// closeXrefsForGolden closes every currently open xref pointing at
// goldenID, used for a MERGE event's non-surviving golden record
// (MergeWrite.ClosedGoldenIDs) so members this batch never re-observed
// don't keep pointing at a superseded golden id.
func (s *Store) closeXrefsForGolden(ctx context.Context, tx database.Tx, goldenID string, at time.Time) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("xref")
	ub.Set(ub.Assign("valid_to", at))
	ub.Where(ub.Equal("golden_id", goldenID), ub.IsNull("valid_to"))

	query, args := ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to close xrefs for golden_id: %v", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx database.Tx, e models.MergeEvent) error {
	row := toEventRow(e)
	affectedGolden, _ := json.Marshal(row.AffectedGoldenIDs.Data)
	affectedRecords, _ := json.Marshal(row.AffectedRecordIDs.Data)
	before, _ := json.Marshal(row.BeforeState.Data)
	after, _ := json.Marshal(row.AfterState.Data)

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("merge_event")
	ib.Cols("event_id", "event_type", "event_timestamp", "actor", "affected_golden_ids", "affected_record_ids", "before_state", "after_state")
	ib.Values(row.EventID, row.EventType, row.Timestamp.Time, row.Actor, affectedGolden, affectedRecords, before, after)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_id": e.EventID}).Error("failed to insert merge_event")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to insert merge_event: %v", err)
	}
	return nil
}

// RecordFieldHistory appends one observed-value row per survived attribute,
// called alongside ApplyMerge by the orchestrator.
func (s *Store) RecordFieldHistory(ctx context.Context, entries []models.FieldHistory) error {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.RecordFieldHistory")
	defer span.End()

	for _, h := range entries {
		valueJSON, err := json.Marshal(h.Value)
		if err != nil {
			return fmt.Errorf("lineage: marshal field history value: %w", err)
		}

		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto("field_history")
		ib.Cols("golden_id", "field", "value", "source_record_id", "source_system", "observed_at")
		ib.Values(h.GoldenID, h.Field, valueJSON, h.SourceRecordID, h.SourceSystem, h.ObservedAt)

		query, args := ib.Build()
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("failed to insert field_history")
			return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to insert field_history: %v", err)
		}
	}
	return nil
}

// GoldenByID fetches one golden_record by id.
func (s *Store) GoldenByID(ctx context.Context, goldenID string) (*models.GoldenRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.GoldenByID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("golden_id", "attributes", "cluster_id", "version", "created_at", "updated_at")
	sb.From("golden_record")
	sb.Where(sb.Equal("golden_id", goldenID))

	query, args := sb.Build()
	var row goldenRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch golden_record: %v", err)
	}
	golden := row.toModel()
	return &golden, nil
}

// XrefsForGolden returns every xref row currently or historically pointing
// at goldenID.
func (s *Store) XrefsForGolden(ctx context.Context, goldenID string) ([]models.Xref, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.XrefsForGolden")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("source_record_id", "source_system", "golden_id", "valid_from", "valid_to", "confidence")
	sb.From("xref")
	sb.Where(sb.Equal("golden_id", goldenID))
	sb.OrderBy("valid_from")

	query, args := sb.Build()
	var rows []xrefRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch xrefs: %v", err)
	}

	xrefs := make([]models.Xref, len(rows))
	for i, r := range rows {
		xrefs[i] = r.toModel()
	}
	return xrefs, nil
}

// PriorState derives the lineage store's current clustering state — one
// Cluster per golden record, membership taken from currently open xrefs
// — for seeding an incremental Orchestrator.Run, alongside the existing
// GoldenRecord for each cluster (keyed by cluster id) so an UPDATE
// reuses its golden id and created_at instead of minting a new one.
func (s *Store) PriorState(ctx context.Context) ([]models.Cluster, map[string]models.GoldenRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.PriorState")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("golden_id", "attributes", "cluster_id", "version", "created_at", "updated_at")
	sb.From("golden_record")
	query, args := sb.Build()

	var goldenRows []goldenRow
	if err := s.db.SelectContext(ctx, &goldenRows, query, args...); err != nil {
		return nil, nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch golden_record rows: %v", err)
	}

	byClusterID := make(map[string]models.GoldenRecord, len(goldenRows))
	clusterOfGolden := make(map[string]string, len(goldenRows))
	for _, r := range goldenRows {
		g := r.toModel()
		byClusterID[g.ClusterID] = g
		clusterOfGolden[g.GoldenID] = g.ClusterID
	}

	xb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	xb.Select("source_record_id", "source_system", "golden_id", "valid_from", "valid_to", "confidence")
	xb.From("xref")
	xb.Where(xb.IsNull("valid_to"))
	xquery, xargs := xb.Build()

	var xrefRows []xrefRow
	if err := s.db.SelectContext(ctx, &xrefRows, xquery, xargs...); err != nil {
		return nil, nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch open xrefs: %v", err)
	}

	membersByCluster := make(map[string][]string)
	for _, r := range xrefRows {
		clusterID, ok := clusterOfGolden[r.GoldenID]
		if !ok {
			continue
		}
		membersByCluster[clusterID] = append(membersByCluster[clusterID], r.SourceRecordID)
	}

	clusters := make([]models.Cluster, 0, len(membersByCluster))
	for clusterID, members := range membersByCluster {
		sort.Strings(members)
		clusters = append(clusters, models.Cluster{ClusterID: clusterID, Members: members})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ClusterID < clusters[j].ClusterID })

	return clusters, byClusterID, nil
}

// GoldenByIDs fetches the current golden_record row for each of the
// given ids, keyed by golden_id. A missing key means the id does not
// exist yet — the caller is about to create it.
func (s *Store) GoldenByIDs(ctx context.Context, goldenIDs []string) (map[string]models.GoldenRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.GoldenByIDs")
	defer span.End()

	out := make(map[string]models.GoldenRecord, len(goldenIDs))
	if len(goldenIDs) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("golden_id", "attributes", "cluster_id", "version", "created_at", "updated_at")
	sb.From("golden_record")
	sb.Where(sb.In("golden_id", toAnySlice(goldenIDs)...))

	query, args := sb.Build()
	var rows []goldenRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch golden_record rows: %v", err)
	}
	for _, r := range rows {
		out[r.GoldenID] = r.toModel()
	}
	return out, nil
}

// OpenXrefsFor returns the current open xref for each of the given source
// record ids, keyed by source_record_id. A missing key means the record
// has no open xref yet.
func (s *Store) OpenXrefsFor(ctx context.Context, sourceRecordIDs []string) (map[string]models.Xref, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.OpenXrefsFor")
	defer span.End()

	out := make(map[string]models.Xref, len(sourceRecordIDs))
	if len(sourceRecordIDs) == 0 {
		return out, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("source_record_id", "source_system", "golden_id", "valid_from", "valid_to", "confidence")
	sb.From("xref")
	sb.Where(sb.In("source_record_id", toAnySlice(sourceRecordIDs)...), sb.IsNull("valid_to"))

	query, args := sb.Build()
	var rows []xrefRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch open xrefs: %v", err)
	}
	for _, r := range rows {
		out[r.SourceRecordID] = r.toModel()
	}
	return out, nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// EventsFrom returns every merge_event whose event_timestamp is at or after
// fromEventID's timestamp (the from event included), ordered by
// event_timestamp ascending, the input RollbackToEvent consumes
// in reverse.
func (s *Store) EventsFrom(ctx context.Context, fromEventID string) ([]models.MergeEvent, error) {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.EventsFrom")
	defer span.End()

	fromRow, err := s.eventByID(ctx, fromEventID)
	if err != nil {
		return nil, err
	}
	if fromRow == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "lineage: event %q not found", fromEventID)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("event_id", "event_type", "event_timestamp", "actor", "affected_golden_ids", "affected_record_ids", "before_state", "after_state")
	sb.From("merge_event")
	sb.Where(sb.GTE("event_timestamp", fromRow.Timestamp.Time))
	sb.OrderBy("event_timestamp")

	query, args := sb.Build()
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch events: %v", err)
	}

	events := make([]models.MergeEvent, len(rows))
	for i, r := range rows {
		events[i] = r.toModel()
	}
	return events, nil
}

func (s *Store) eventByID(ctx context.Context, eventID string) (*eventRow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("event_id", "event_type", "event_timestamp", "actor", "affected_golden_ids", "affected_record_ids", "before_state", "after_state")
	sb.From("merge_event")
	sb.Where(sb.Equal("event_id", eventID))

	query, args := sb.Build()
	var row eventRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to fetch event: %v", err)
	}
	return &row, nil
}

// RollbackToEvent applies events from fromEventID through the most recent
// event in reverse order, restoring each event's before_state for its
// golden_record rows, inside one transaction. Idempotent: re-running after
// a successful rollback finds no events at or after fromEventID still
// reflecting their after_state, so it is a no-op.
func (s *Store) RollbackToEvent(ctx context.Context, fromEventID string, actor string, now func() (ts sql.NullTime)) error {
	ctx, span := tracing.StartSpan(ctx, "lineage.Store.RollbackToEvent")
	defer span.End()

	events, err := s.EventsFrom(ctx, fromEventID)
	if err != nil {
		return err
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to begin rollback transaction: %v", err)
	}

	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if err := s.restoreBeforeState(ctx, tx, event); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	rollbackEvent := models.MergeEvent{
		EventID:   fmt.Sprintf("rollback-%s", fromEventID),
		EventType: models.EventUpdate,
		Timestamp: now().Time,
		Actor:     actor,
		BeforeState: map[string]any{"rolled_back_from": fromEventID},
	}
	if err := s.insertEvent(ctx, tx, rollbackEvent); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to commit rollback: %v", err)
	}
	return nil
}

// BuildBeforeState captures every affected golden record's and xref's state
// immediately prior to a merge, in the shape restoreBeforeState expects: a
// "golden" map of golden_id to either its prior row (being updated, so
// rollback restores it) or nil (being freshly created, so rollback deletes
// it), and an "xrefs" map of source_record_id to either its prior open xref
// (being reassigned, so rollback reopens it) or nil (having none yet, so
// rollback deletes whatever the forward write opened). Per spec invariant
// 4 / property 3, this is what makes RollbackToEvent restore exact prior
// state instead of a no-op.
func BuildBeforeState(goldenBefore map[string]*models.GoldenRecord, xrefBefore map[string]*models.Xref) map[string]any {
	golden := make(map[string]any, len(goldenBefore))
	for id, g := range goldenBefore {
		if g == nil {
			golden[id] = nil
			continue
		}
		golden[id] = *g
	}

	xrefs := make(map[string]any, len(xrefBefore))
	for id, x := range xrefBefore {
		if x == nil {
			xrefs[id] = nil
			continue
		}
		xrefs[id] = *x
	}

	return map[string]any{"golden": golden, "xrefs": xrefs}
}

// restoreBeforeState reverses one event's golden_record and xref writes
// using its before_state snapshot. A nil golden entry means the event
// created that record, so it is deleted outright; a nil xref entry means
// the event opened a fresh xref where none was open before, so that row is
// deleted. Non-nil entries are restored to their captured prior values.
func (s *Store) restoreBeforeState(ctx context.Context, tx database.Tx, event models.MergeEvent) error {
	golden, _ := event.BeforeState["golden"].(map[string]any)
	for goldenID, snapshot := range golden {
		if snapshot == nil {
			if err := s.deleteGolden(ctx, tx, goldenID); err != nil {
				return err
			}
			continue
		}
		fields, ok := snapshot.(map[string]any)
		if !ok {
			continue
		}
		if err := s.restoreGoldenSnapshot(ctx, tx, fields); err != nil {
			return err
		}
	}

	xrefs, _ := event.BeforeState["xrefs"].(map[string]any)
	for sourceRecordID, snapshot := range xrefs {
		if snapshot == nil {
			if err := s.deleteOpenXref(ctx, tx, sourceRecordID); err != nil {
				return err
			}
			continue
		}
		fields, ok := snapshot.(map[string]any)
		if !ok {
			continue
		}
		if err := s.reopenXref(ctx, tx, sourceRecordID, fields); err != nil {
			return err
		}
	}

	return nil
}

// deleteGolden removes a golden_record row a rolled-back CREATE produced,
// per spec S3's "rollback of a CREATE removes the golden record."
func (s *Store) deleteGolden(ctx context.Context, tx database.Tx, goldenID string) error {
	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("golden_record")
	db.Where(db.Equal("golden_id", goldenID))

	query, args := db.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to delete golden_record on rollback: %v", err)
	}
	return nil
}

// restoreGoldenSnapshot writes a captured prior golden_record row back,
// overwriting whatever the rolled-back event left in place.
func (s *Store) restoreGoldenSnapshot(ctx context.Context, tx database.Tx, fields map[string]any) error {
	goldenID, _ := fields["golden_id"].(string)
	if goldenID == "" {
		return nil
	}
	attrs, _ := fields["attributes"].(map[string]any)
	clusterID, _ := fields["cluster_id"].(string)
	version, _ := fields["version"].(float64)
	createdAt := parseSnapshotTime(fields["created_at"])
	updatedAt := parseSnapshotTime(fields["updated_at"])

	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("lineage: marshal rollback attributes: %w", err)
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("golden_record")
	ib.Cols("golden_id", "attributes", "cluster_id", "version", "created_at", "updated_at")
	ib.Values(goldenID, attrsJSON, clusterID, int(version), createdAt, updatedAt)
	ib.SQL("ON CONFLICT (golden_id) DO UPDATE SET attributes = EXCLUDED.attributes, cluster_id = EXCLUDED.cluster_id, version = EXCLUDED.version, created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at")

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to restore golden_record: %v", err)
	}
	return nil
}

// deleteOpenXref removes a source record's currently open xref, used both
// to undo an event's fresh xref (no prior state to reopen) and as the
// first step of reopenXref when the forward write pointed the record at a
// different golden_id.
func (s *Store) deleteOpenXref(ctx context.Context, tx database.Tx, sourceRecordID string) error {
	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("xref")
	db.Where(db.Equal("source_record_id", sourceRecordID), db.IsNull("valid_to"))

	query, args := db.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to delete xref on rollback: %v", err)
	}
	return nil
}

// reopenXref restores sourceRecordID's previously open xref: the row the
// forward write left open (if any, possibly pointing at a different
// golden_id) is deleted, then the prior row — identified by its original
// golden_id and valid_from, left in place closed by reassignXref — is
// reopened by clearing valid_to. If that row is gone (e.g. the golden
// record it pointed at was itself deleted earlier in this rollback), it is
// reinserted instead.
func (s *Store) reopenXref(ctx context.Context, tx database.Tx, sourceRecordID string, fields map[string]any) error {
	goldenID, _ := fields["golden_id"].(string)
	sourceSystem, _ := fields["source_system"].(string)
	confidence, _ := fields["confidence"].(float64)
	validFrom := parseSnapshotTime(fields["valid_from"])

	if err := s.deleteOpenXref(ctx, tx, sourceRecordID); err != nil {
		return err
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("xref")
	ub.Set(ub.Assign("valid_to", nil))
	ub.Where(
		ub.Equal("source_record_id", sourceRecordID),
		ub.Equal("golden_id", goldenID),
		ub.Equal("valid_from", validFrom),
	)

	query, args := ub.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "lineage: failed to reopen xref: %v", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return s.upsertXref(ctx, tx, models.Xref{
			SourceRecordID: sourceRecordID,
			SourceSystem:   sourceSystem,
			GoldenID:       goldenID,
			ValidFrom:      validFrom,
			Confidence:     confidence,
		})
	}
	return nil
}

// parseSnapshotTime parses a before_state timestamp that has round-tripped
// through JSON (RFC3339Nano string per encoding/json's time.Time format),
// returning the zero time if v isn't a valid timestamp string.
func parseSnapshotTime(v any) time.Time {
	str, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}
	}
	return t
}
