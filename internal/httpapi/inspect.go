package httpapi

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/ns-3e/OpenMatch/pkg/graph"
	"github.com/ns-3e/OpenMatch/pkg/lineage"
)

// InspectHandler exposes read-only views over a golden record's current
// state, its cross-references, its related entities in the graph
// mirror, and the merge-event stream — the same views the CLI's
// inspect/rollback commands read from.
type InspectHandler struct {
	store   *lineage.Store
	queries *graph.QueryService
	logger  ectologger.Logger
}

// NewInspectHandler builds an InspectHandler. queries may be nil if the
// graph mirror is not configured; the related-entities route then
// responds 503 rather than panicking.
func NewInspectHandler(store *lineage.Store, queries *graph.QueryService, logger ectologger.Logger) *InspectHandler {
	return &InspectHandler{store: store, queries: queries, logger: logger}
}

// RegisterRoutes wires the inspect endpoints under g.
func (h *InspectHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/golden/:id", h.GetGolden)
	g.GET("/golden/:id/xrefs", h.GetXrefs)
	g.GET("/golden/:id/related", h.GetRelated)
	g.GET("/events", h.GetEvents)
}

// GetGolden returns the current golden record by ID.
func (h *InspectHandler) GetGolden(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	golden, err := h.store.GoldenByID(ctx, id)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("inspect: failed to fetch golden record")
		return err
	}
	if golden == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "golden record %q not found", id)
	}
	return c.JSON(http.StatusOK, golden)
}

// GetXrefs returns every source-record cross-reference for a golden
// record, current and historical.
func (h *InspectHandler) GetXrefs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	xrefs, err := h.store.XrefsForGolden(ctx, id)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("inspect: failed to fetch xrefs")
		return err
	}
	return c.JSON(http.StatusOK, xrefs)
}

// GetRelated returns entities related to a golden record through the
// graph mirror, optionally filtered by relation type and as-of time.
// Query params: relation_type, at (RFC3339).
func (h *InspectHandler) GetRelated(c echo.Context) error {
	if h.queries == nil {
		return httperror.NewHTTPErrorf(http.StatusServiceUnavailable, "graph mirror not configured")
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	relationType := c.QueryParam("relation_type")

	at := time.Now()
	if raw := c.QueryParam("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid at: %v", err)
		}
		at = parsed
	}

	result, err := h.queries.RelatedEntities(ctx, id, relationType, at)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("inspect: failed to query related entities")
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// GetEvents returns the merge-event stream from a given event ID
// (inclusive), oldest first. Query param: from (event ID, required).
func (h *InspectHandler) GetEvents(c echo.Context) error {
	ctx := c.Request().Context()
	from := c.QueryParam("from")
	if from == "" {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "from is required")
	}

	events, err := h.store.EventsFrom(ctx, from)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("inspect: failed to fetch events")
		return err
	}
	return c.JSON(http.StatusOK, events)
}
