package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"fluxcov/internal"
	"fluxcov/ports"
)

// reportFileName is the rendered report each run drops in its products
// directory.
const reportFileName = "report.html"

// Server is the results browser: a read-only HTTP surface over the products
// tree and, when a ledger is configured, the persisted run manifests and
// summary tables. It never triggers analyses.
type Server struct {
	router      *chi.Mux
	results     ports.ResultsRepository
	productsDir string
	port        string
	logger      *internal.Logger
}

// Config holds results browser configuration
type Config struct {
	// ProductsDir is the results root the browser serves; each run writes
	// a dated subdirectory beneath it.
	ProductsDir string
	Port        string
}

// NewServer creates a results browser. results may be nil when no ledger is
// configured; the ledger-backed endpoints then answer 503.
func NewServer(config Config, results ports.ResultsRepository, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	port := config.Port
	if port == "" {
		port = "8080"
	}

	s := &Server{
		router:      chi.NewRouter(),
		results:     results,
		productsDir: config.ProductsDir,
		port:        port,
		logger:      logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/report", s.handleReport)

	// API endpoints
	s.router.Get("/api/runs", s.handleRecentRuns)
	s.router.Get("/api/summary", s.handleSummary)

	// Raw product files (CSV matrices, workbooks, reports)
	if s.productsDir != "" {
		fileServer := http.FileServer(http.Dir(s.productsDir))
		s.router.Handle("/products/*", http.StripPrefix("/products/", fileServer))
	}
}

// Router exposes the handler for embedding and tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := ":" + s.port
	s.logger.Info("Starting results browser on %s (products: %s)", addr, s.productsDir)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
}

// handleRecentRuns returns the latest run manifests from the ledger
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.results == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "results ledger not configured"})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.results.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Listing runs failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "failed to list runs"})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleSummary returns the summary table of one run; without a run query
// parameter it answers for the most recent run.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.results == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "results ledger not configured"})
		return
	}

	var runID uuid.UUID
	if raw := r.URL.Query().Get("run"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "run must be a UUID"})
			return
		}
		runID = parsed
	} else {
		runs, err := s.results.RecentRuns(r.Context(), 1)
		if err != nil {
			s.logger.Error("Resolving latest run failed: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "failed to resolve latest run"})
			return
		}
		if len(runs) == 0 {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"error": "no runs recorded"})
			return
		}
		runID = runs[0].ID
	}

	cells, err := s.results.RunSummary(r.Context(), runID)
	if err != nil {
		s.logger.Error("Loading summary for run %s failed: %v", runID, err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "failed to load summary"})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id": runID,
		"cells":  cells,
		"count":  len(cells),
	})
}

// handleReport serves the newest rendered report under the products root.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	path, ok := s.latestReport()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "no report available"})
		return
	}
	http.ServeFile(w, r, path)
}

// latestReport scans the products root for the newest run directory that
// contains a rendered report. Run directories are date-prefixed, so the
// lexicographically greatest name is the newest.
func (s *Server) latestReport() (string, bool) {
	if s.productsDir == "" {
		return "", false
	}
	if p := filepath.Join(s.productsDir, reportFileName); fileExists(p) {
		return p, true
	}

	entries, err := os.ReadDir(s.productsDir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		if p := filepath.Join(s.productsDir, name, reportFileName); fileExists(p) {
			return p, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
