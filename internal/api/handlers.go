package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/benchmark"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/metrics"
)

// Server serves stored benchmark runs over HTTP.
type Server struct {
	repo database.Repo
	log  *zap.Logger
}

// NewServer creates a new API server.
func NewServer(repo database.Repo, log *zap.Logger) *Server {
	return &Server{repo: repo, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/metrics", s.handleGetMetrics)
	mux.HandleFunc("GET /api/v1/runs/{id}/summary", s.handleGetSummary)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.RunFilter{
		Status:    q.Get("status"),
		Warehouse: q.Get("warehouse"),
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = n
	}

	runs, err := s.repo.ListRuns(r.Context(), f)
	if err != nil {
		s.log.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if runs == nil {
		runs = []database.BenchmarkRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Status == database.StatusPending || run.Status == database.StatusRunning {
		writeError(w, http.StatusConflict, "run is "+run.Status)
		return
	}
	if err := s.repo.DeleteRun(r.Context(), run.ID); err != nil {
		s.log.Error("delete run", zap.String("run", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.combinedRows(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.combinedRows(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summaries": metrics.Summarize(rows),
		"means":     metrics.Aggregate(rows),
	})
}

// lookupRun loads the run named in the path, writing the error response
// itself when there is none.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*database.BenchmarkRun, bool) {
	runID := r.PathValue("id")
	run, err := s.repo.GetBenchmarkRun(r.Context(), runID)
	if err != nil {
		s.log.Error("get run", zap.String("run", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (s *Server) combinedRows(w http.ResponseWriter, r *http.Request) ([]metrics.CombinedRow, bool) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return nil, false
	}
	stored, err := s.repo.GetMetricsByRunID(r.Context(), run.ID)
	if err != nil {
		s.log.Error("get metrics", zap.String("run", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return nil, false
	}
	if len(stored) == 0 {
		writeError(w, http.StatusNotFound, "metrics not found")
		return nil, false
	}
	return benchmark.CombinedRows(stored), true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
