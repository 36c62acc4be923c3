package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/pillars.detect/internal/detect"
	sqlite "github.com/banshee-data/pillars.detect/internal/detect/storage/sqlite"
	"github.com/banshee-data/pillars.detect/internal/detectdb"
	"github.com/banshee-data/pillars.detect/internal/security"
	"github.com/banshee-data/pillars.detect/internal/version"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for inspecting detection runs.
// It provides endpoints for health checks, live pipeline statistics and
// the stored outputs of past runs, plus echarts debug views.
type WebServer struct {
	address     string
	stats       *detect.Stats
	server      *http.Server
	modelName   string
	snapshotDir string
	runs        *sqlite.RunStore
	dets        *sqlite.DetectionStore
	adminDB     *detectdb.DB
	startTime   time.Time
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address     string
	Stats       *detect.Stats
	ModelName   string
	SnapshotDir string
	Runs        *sqlite.RunStore
	Detections  *sqlite.DetectionStore
	AdminDB     *detectdb.DB // optional; mounts the tailsql/tsweb debug routes
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:     config.Address,
		stats:       config.Stats,
		modelName:   config.ModelName,
		snapshotDir: config.SnapshotDir,
		runs:        config.Runs,
		dets:        config.Detections,
		adminDB:     config.AdminDB,
		startTime:   time.Now(),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown
func (ws *WebServer) Start(ctx context.Context) error {
	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Create a shutdown context with a shorter timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/detect/stats", ws.handleStats)
	mux.HandleFunc("/api/detect/run", ws.handleRun)
	mux.HandleFunc("/api/detect/runs", ws.handleRuns)
	mux.HandleFunc("/api/detect/detections", ws.handleDetections)
	mux.HandleFunc("/api/detect/snapshot", ws.handleSnapshot)
	mux.HandleFunc("/api/detect/snapshot/file", ws.handleSnapshotFile)
	mux.HandleFunc("/debug/charts/scores", ws.handleScoreChart)
	mux.HandleFunc("/debug/charts/classes", ws.handleClassChart)
	mux.HandleFunc("/debug/charts/bev", ws.handleBEVChart)

	if ws.adminDB != nil {
		ws.adminDB.AttachAdminRoutes(mux)
	}

	return mux
}

// handleHealth handles the health check endpoint
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "detect", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	// Load and parse the HTML template from embedded filesystem
	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var runs []sqlite.RunSummary
	if ws.runs != nil {
		runs, err = ws.runs.ListRecent(10)
		if err != nil {
			http.Error(w, "Error listing runs: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	var snap *detect.StatsSnapshot
	if ws.stats != nil {
		s := ws.stats.Snapshot()
		snap = &s
	}

	// Template data
	data := struct {
		ModelName    string
		Version      string
		HTTPAddress  string
		Uptime       string
		DBConfigured bool
		Stats        *detect.StatsSnapshot
		Runs         []sqlite.RunSummary
	}{
		ModelName:    ws.modelName,
		Version:      version.Version,
		HTTPAddress:  ws.address,
		Uptime:       time.Since(ws.startTime).Round(time.Second).String(),
		DBConfigured: ws.runs != nil,
		Stats:        snap,
		Runs:         runs,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleStats returns the current pipeline counters as JSON.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.stats == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no pipeline stats available")
		return
	}

	snap := ws.stats.Snapshot()
	out := struct {
		detect.StatsSnapshot
		AvgForwardUs     float64 `json:"avg_forward_us"`
		AvgPostprocessUs float64 `json:"avg_postprocess_us"`
		UptimeSec        float64 `json:"uptime_sec"`
	}{
		StatsSnapshot:    snap,
		AvgForwardUs:     float64(ws.stats.AvgForward().Microseconds()),
		AvgPostprocessUs: float64(ws.stats.AvgPostprocess().Microseconds()),
		UptimeSec:        time.Since(ws.startTime).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// resolveRunID returns the run id to serve: the run_id query parameter if
// present, otherwise the most recent run. An empty string with a written
// response means the handler should return immediately.
func (ws *WebServer) resolveRunID(w http.ResponseWriter, r *http.Request) string {
	if ws.runs == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for run lookup")
		return ""
	}
	runID := r.URL.Query().Get("run_id")
	if runID != "" {
		return runID
	}
	latest, err := ws.runs.Latest()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get latest run: %v", err))
		return ""
	}
	if latest == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no runs recorded")
		return ""
	}
	return latest.RunID
}

// handleRun returns a JSON summary of one run.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
func (ws *WebServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	run, err := ws.runs.Get(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get run: %v", err))
		return
	}
	if run == nil {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no run with id '%s'", runID))
		return
	}

	count := 0
	if ws.dets != nil {
		count, err = ws.dets.CountByRun(runID)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("count detections: %v", err))
			return
		}
	}

	out := struct {
		*sqlite.Run
		Detections int `json:"detections"`
	}{Run: run, Detections: count}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleRuns returns a JSON array of recent run summaries.
// Query params:
//
//	limit (optional, default 20, max 100)
func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.runs == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for run lookup")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	runs, err := ws.runs.ListRecent(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list runs: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// handleDetections returns the stored detections of a run as a JSON array.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
func (ws *WebServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.dets == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for detection lookup")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	dets, err := ws.dets.ListByRun(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list detections: %v", err))
		return
	}
	if dets == nil {
		dets = []sqlite.Detection{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dets)
}

// handleSnapshot renders a BEV plot of a run's detections to the snapshot
// directory and returns the written path.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.dets == nil {
		ws.writeJSONError(w, http.StatusInternalServerError, "no database configured for detection lookup")
		return
	}
	if ws.snapshotDir == "" {
		ws.writeJSONError(w, http.StatusNotImplemented, "no snapshot directory configured")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	dets, err := ws.dets.ListByRun(runID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list detections: %v", err))
		return
	}
	if len(dets) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no detections for run '%s'", runID))
		return
	}

	plotter := NewBEVPlotter(ws.snapshotDir)
	path, err := plotter.RenderRun(runID, dets)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render snapshot: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "run_id": runID, "path": path})
	log.Printf("Rendered BEV snapshot for run '%s' to %s", runID, path)
}

// handleSnapshotFile serves the most recent rendered BEV snapshot of a
// run as a PNG.
// Query params:
//
//	run_id (optional, defaults to the most recent run)
func (ws *WebServer) handleSnapshotFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.snapshotDir == "" {
		ws.writeJSONError(w, http.StatusNotImplemented, "no snapshot directory configured")
		return
	}
	runID := ws.resolveRunID(w, r)
	if runID == "" {
		return
	}

	dir := filepath.Join(ws.snapshotDir, security.SanitizeFilename(runID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no snapshots for run '%s'", runID))
		return
	}

	// Timestamped names sort lexicographically, so the greatest name is
	// the newest snapshot.
	var newest string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "bev_") && strings.HasSuffix(name, ".png") && name > newest {
			newest = name
		}
	}
	if newest == "" {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no snapshots for run '%s'", runID))
		return
	}

	path := filepath.Join(dir, newest)
	if err := security.ValidatePathWithinDirectory(path, ws.snapshotDir); err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "invalid snapshot path")
		return
	}
	http.ServeFile(w, r, path)
}

// Close shuts down the web server
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}
