package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_LiveAlwaysOK(t *testing.T) {
	c := NewChecker(nil, nil, "test")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, c.Live(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChecker_ReadyReflectsSetReady(t *testing.T) {
	c := NewChecker(nil, nil, "test")
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, c.Ready(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil)
	rec = httptest.NewRecorder()
	require.NoError(t, c.Ready(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChecker_HealthUnhealthyWithoutDatabase(t *testing.T) {
	c := NewChecker(nil, nil, "test")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, c.Health(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInspectHandler_GetRelated_GraphNotConfigured(t *testing.T) {
	h := NewInspectHandler(nil, nil, nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/golden/g1/related", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("g1")

	err := h.GetRelated(ctx)
	require.Error(t, err)
}

func TestInspectHandler_GetEvents_RequiresFrom(t *testing.T) {
	h := NewInspectHandler(nil, nil, nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()

	err := h.GetEvents(e.NewContext(req, rec))
	require.Error(t, err)
}
