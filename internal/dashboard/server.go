package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/pipeline"
	"github.com/qepting91/price-tracker/internal/scheduler"
	"github.com/qepting91/price-tracker/internal/storage"
)

// HistoryReader exposes the persisted price history read-only.
type HistoryReader interface {
	All() []domain.Record
}

// PipelineView exposes the trailing-window changes and the last execution.
type PipelineView interface {
	Changes() []domain.WindowChange
	Latest() pipeline.Result
}

// statusResponse is the scheduler status plus the last successful execution.
type statusResponse struct {
	scheduler.Status
	LastResult *pipeline.Result `json:"last_result,omitempty"`
}

// Server is the presentation and control surface. It reads history and
// changes, and drives the scheduler only through its Controller.
type Server struct {
	history HistoryReader
	changes PipelineView
	ctl     scheduler.Controller
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(history HistoryReader, changes PipelineView, ctl scheduler.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{history: history, changes: changes, ctl: ctl, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /chart.png", s.handleChartPNG)
	s.mux.HandleFunc("GET /export.csv", s.handleExport)
	s.mux.HandleFunc("GET /api/changes", s.handleChanges)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/scheduler/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/scheduler/start", s.handleStart)
	s.mux.HandleFunc("POST /api/scheduler/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/scheduler/run", s.handleRun)
	s.mux.HandleFunc("PUT /api/scheduler/cadence", s.handleCadence)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	records := s.history.All()

	// 1. Price history per item
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Price History"}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "Price ($)"}),
	)

	byItem := make(map[string][]domain.Record)
	for _, rec := range records {
		byItem[rec.ItemID] = append(byItem[rec.ItemID], rec)
	}
	items := make([]string, 0, len(byItem))
	for id := range byItem {
		items = append(items, id)
	}
	sort.Strings(items)

	for _, id := range items {
		rs := byItem[id]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].CapturedAt.Before(rs[j].CapturedAt) })
		points := make([]opts.LineData, 0, len(rs))
		for _, rec := range rs {
			points = append(points, opts.LineData{
				Value: []interface{}{rec.CapturedAt.Format(time.RFC3339), rec.Price.InexactFloat64()},
			})
		}
		line.AddSeries(id, points)
	}

	// 2. Trailing window movement
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: "Price Change (trailing window)"}))

	var barX []string
	var barY []opts.BarData
	for _, c := range s.changes.Changes() {
		barX = append(barX, c.ItemID)
		barY = append(barY, opts.BarData{Value: c.Delta.InexactFloat64()})
	}
	bar.SetXAxis(barX).AddSeries("Delta", barY)

	page := components.NewPage()
	page.AddCharts(line, bar)
	if err := page.Render(w); err != nil {
		s.logger.Error("Dashboard render failed", "err", err)
	}
}

func (s *Server) handleChartPNG(w http.ResponseWriter, r *http.Request) {
	png, err := RenderPriceChart(s.history.All())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="cleaned_price_history.csv"`)
	if err := storage.WriteExport(w, s.history.All()); err != nil {
		s.logger.Error("Export failed", "err", err)
	}
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	changes := s.changes.Changes()
	if changes == nil {
		changes = []domain.WindowChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	item := r.URL.Query().Get("item")
	out := []domain.Record{}
	for _, rec := range s.history.All() {
		if item == "" || rec.ItemID == item {
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.ctl.Start()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctl.Stop()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// the execution outlives a disconnecting client
	ran, err := s.ctl.RunNow(context.WithoutCancel(r.Context()))
	resp := map[string]interface{}{"ran": ran}
	status := http.StatusOK
	switch {
	case !ran:
		status = http.StatusConflict
		resp["error"] = "an execution is already in progress"
	case err != nil:
		status = http.StatusInternalServerError
		resp["error"] = err.Error()
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCadence(w http.ResponseWriter, r *http.Request) {
	var c scheduler.Cadence
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := s.ctl.SetCadence(c); err != nil {
		var cfgErr *domain.ScheduleConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() statusResponse {
	resp := statusResponse{Status: s.ctl.Status()}
	if latest := s.changes.Latest(); latest.RunID != "" {
		resp.LastResult = &latest
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
