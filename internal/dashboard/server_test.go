package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/pipeline"
	"github.com/qepting91/price-tracker/internal/scheduler"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHistory []domain.Record

func (h staticHistory) All() []domain.Record { return append([]domain.Record(nil), h...) }

type staticChanges []domain.WindowChange

func (c staticChanges) Changes() []domain.WindowChange { return c }

func (c staticChanges) Latest() pipeline.Result {
	return pipeline.Result{RunID: "run-1", Targets: 2, Fetched: 2, Changes: c}
}

type fakeController struct {
	mu      sync.Mutex
	running bool
	busy    bool
	runErr  error
	cadence scheduler.Cadence
	runs    int
}

func (c *fakeController) Start() { c.mu.Lock(); c.running = true; c.mu.Unlock() }
func (c *fakeController) Stop()  { c.mu.Lock(); c.running = false; c.mu.Unlock() }

func (c *fakeController) SetCadence(cad scheduler.Cadence) error {
	if err := cad.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cadence = cad
	c.mu.Unlock()
	return nil
}

func (c *fakeController) RunNow(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false, nil
	}
	c.runs++
	return true, c.runErr
}

func (c *fakeController) Status() scheduler.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return scheduler.Status{Running: c.running, Cadence: c.cadence, Runs: int64(c.runs)}
}

func rec(id, price string, hour int) domain.Record {
	return domain.Record{
		ItemID:     id,
		Title:      id + " title",
		Price:      decimal.RequireFromString(price),
		URL:        "https://example.com/dp/" + id,
		CapturedAt: time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC),
		Category:   "Other",
	}
}

func newTestServer(ctl *fakeController) *Server {
	history := staticHistory{rec("mouse", "29.99", 8), rec("mouse", "26.50", 20), rec("desk", "120", 9)}
	changes := staticChanges{{
		ItemID:     "mouse",
		FirstPrice: decimal.RequireFromString("29.99"),
		LastPrice:  decimal.RequireFromString("26.50"),
		Delta:      decimal.RequireFromString("-3.49"),
		Samples:    2,
	}}
	return NewServer(history, changes, ctl, nil)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestIndex_RendersCharts(t *testing.T) {
	rr := do(t, newTestServer(&fakeController{}), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Price History")
	assert.Contains(t, rr.Body.String(), "mouse")
	assert.Contains(t, rr.Body.String(), "westeros")
}

func TestChartPNG(t *testing.T) {
	rr := do(t, newTestServer(&fakeController{}), http.MethodGet, "/chart.png", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "\x89PNG"))
}

func TestChartPNG_NotEnoughData(t *testing.T) {
	s := NewServer(staticHistory{rec("desk", "120", 9)}, staticChanges{}, &fakeController{}, nil)
	rr := do(t, s, http.MethodGet, "/chart.png", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChanges_JSON(t *testing.T) {
	rr := do(t, newTestServer(&fakeController{}), http.MethodGet, "/api/changes", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got []domain.WindowChange
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.True(t, got[0].Delta.Equal(decimal.RequireFromString("-3.49")))
}

func TestHistory_FiltersByItem(t *testing.T) {
	s := newTestServer(&fakeController{})

	var all, mouse []domain.Record
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/api/history", "").Body.Bytes(), &all))
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/api/history?item=mouse", "").Body.Bytes(), &mouse))
	assert.Len(t, all, 3)
	assert.Len(t, mouse, 2)
}

func TestExport_CSV(t *testing.T) {
	rr := do(t, newTestServer(&fakeController{}), http.MethodGet, "/export.csv", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "product_type,"))
}

func TestSchedulerControl(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(ctl)

	rr := do(t, s, http.MethodPost, "/api/scheduler/start", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.True(t, st.Running)

	rr = do(t, s, http.MethodPost, "/api/scheduler/stop", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.False(t, st.Running)

	rr = do(t, s, http.MethodGet, "/api/scheduler/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var full struct {
		Running    bool             `json:"running"`
		LastResult *pipeline.Result `json:"last_result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &full))
	require.NotNil(t, full.LastResult)
	assert.Equal(t, "run-1", full.LastResult.RunID)

	// control routes are method-scoped
	rr = do(t, s, http.MethodGet, "/api/scheduler/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRunNow(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(ctl)

	rr := do(t, s, http.MethodPost, "/api/scheduler/run", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, ctl.runs)

	ctl.busy = true
	rr = do(t, s, http.MethodPost, "/api/scheduler/run", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, 1, ctl.runs)

	ctl.busy = false
	ctl.runErr = &domain.StoreIOError{Op: "rename", Path: "h.csv", Err: assert.AnError}
	rr = do(t, s, http.MethodPost, "/api/scheduler/run", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSetCadence(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(ctl)

	rr := do(t, s, http.MethodPut, "/api/scheduler/cadence", `{"mode":"interval","value":30,"unit":"minutes"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, scheduler.Every(30, scheduler.Minutes), ctl.cadence)

	rr = do(t, s, http.MethodPut, "/api/scheduler/cadence", `{"mode":"fixed-times","fixed_times":["25:00"]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, scheduler.Every(30, scheduler.Minutes), ctl.cadence)

	rr = do(t, s, http.MethodPut, "/api/scheduler/cadence", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
