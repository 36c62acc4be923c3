package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/pillars.detect/internal/config"
	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/monitor"
	"github.com/banshee-data/pillars.detect/internal/detect/pipeline"
	sqlite "github.com/banshee-data/pillars.detect/internal/detect/storage/sqlite"
	"github.com/banshee-data/pillars.detect/internal/detect/synthetic"
	"github.com/banshee-data/pillars.detect/internal/detectdb"
	"github.com/banshee-data/pillars.detect/internal/tensorfile"
	"github.com/banshee-data/pillars.detect/internal/version"
)

var (
	listen      = flag.String("listen", ":8082", "HTTP listen address for the monitor (serve mode)")
	dbFile      = flag.String("db", "detect_data.db", "Path to the SQLite database file")
	tuningFile  = flag.String("tuning", "", "Path to a tuning config JSON (built-in defaults when empty)")
	inputDir    = flag.String("input", "", "Directory with anchors/box_preds/cls_preds .npy tensors (synthetic scene when empty)")
	modelName   = flag.String("model", "pillars", "Model name recorded with the run")
	batchSize   = flag.Int("batch", 2, "Synthetic batch size (ignored with -input)")
	seed        = flag.Int64("seed", 42, "Synthetic generator seed (ignored with -input)")
	serve       = flag.Bool("serve", false, "Keep running and serve the monitor after processing")
	renderBEV   = flag.Bool("bev", false, "Render a BEV snapshot of the run")
	snapshotDir = flag.String("snapshot-dir", "snapshots", "Directory for BEV snapshots")
)

// Main
func main() {
	flag.Parse()

	// Handle migrate subcommand before touching the pipeline
	if flag.Arg(0) == "migrate" {
		runMigrateCommand(flag.Args()[1:], *dbFile)
		return
	}

	log.Printf("detect %s", version.Short())

	tuning := loadTuning(*tuningFile)

	pl, err := pipeline.New(pipeline.ConfigFromTuning(tuning))
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	anchors, preds, source, err := loadInputs(*inputDir)
	if err != nil {
		log.Fatalf("Failed to load inputs: %v", err)
	}

	// Initialize database
	db, err := detectdb.OpenAndMigrate(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runStore := sqlite.NewRunStore(db.DB)
	detStore := sqlite.NewDetectionStore(db.DB)

	runID, err := processRun(pl, runStore, detStore, anchors, preds, source)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	if *renderBEV {
		rows, err := detStore.ListByRun(runID)
		if err != nil {
			log.Fatalf("Failed to load detections for snapshot: %v", err)
		}
		path, err := monitor.NewBEVPlotter(*snapshotDir).RenderRun(runID, rows)
		if err != nil {
			log.Fatalf("Failed to render BEV snapshot: %v", err)
		}
		log.Printf("BEV snapshot written to %s", path)
	}

	if !*serve {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flusher := detect.NewStatsFlusher(detect.StatsFlusherConfig{
		Stats:    pl.Stats(),
		Interval: tuning.GetFlushInterval(),
	})
	go flusher.Run(ctx)

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:     *listen,
		Stats:       pl.Stats(),
		ModelName:   *modelName,
		SnapshotDir: *snapshotDir,
		Runs:        runStore,
		Detections:  detStore,
		AdminDB:     db,
	})

	if err := ws.Start(ctx); err != nil {
		log.Printf("Monitor server error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadTuning reads the tuning file, or falls back to the built-in
// defaults every getter carries.
func loadTuning(path string) *config.TuningConfig {
	if path == "" {
		return config.EmptyTuningConfig()
	}
	tc, err := config.LoadTuningConfig(path)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	log.Printf("Loaded tuning config from %s", path)
	return tc
}

// loadInputs assembles the batch to process: .npy tensors from -input,
// or a seeded synthetic scene when no directory is given.
func loadInputs(dir string) ([]float32, detect.BatchPreds, string, error) {
	if dir == "" {
		gen := synthetic.NewGenerator(*seed)
		scene, err := gen.Scene(*batchSize)
		if err != nil {
			return nil, detect.BatchPreds{}, "", fmt.Errorf("generate scene: %w", err)
		}
		log.Printf("Generated synthetic scene: %d samples, %d anchors", *batchSize, scene.NumAnchors)
		return scene.Anchors, scene.Preds, "synthetic", nil
	}

	store := tensorfile.OSStore()

	anchors, err := store.LoadFloat32(filepath.Join(dir, "anchors.npy"))
	if err != nil {
		return nil, detect.BatchPreds{}, "", fmt.Errorf("load anchors: %w", err)
	}
	if len(anchors.Data) == 0 || len(anchors.Data)%detect.BoxStride != 0 {
		return nil, detect.BatchPreds{}, "", fmt.Errorf("anchors length %d is not a positive multiple of %d", len(anchors.Data), detect.BoxStride)
	}

	boxPreds, err := store.LoadFloat32(filepath.Join(dir, "box_preds.npy"))
	if err != nil {
		return nil, detect.BatchPreds{}, "", fmt.Errorf("load box preds: %w", err)
	}
	clsPreds, err := store.LoadFloat32(filepath.Join(dir, "cls_preds.npy"))
	if err != nil {
		return nil, detect.BatchPreds{}, "", fmt.Errorf("load cls preds: %w", err)
	}

	batch := len(boxPreds.Rows())
	if got := len(clsPreds.Rows()); got != batch {
		return nil, detect.BatchPreds{}, "", fmt.Errorf("box preds have %d samples but cls preds have %d", batch, got)
	}

	preds := detect.BatchPreds{
		BatchSize:  batch,
		NumAnchors: len(anchors.Data) / detect.BoxStride,
		BoxPreds:   boxPreds.Data,
		ClsPreds:   clsPreds.Data,
	}

	// Direction head output is optional; the pipeline validates the
	// shape against the tuning config either way.
	dirPath := filepath.Join(dir, "dir_preds.npy")
	if _, err := os.Stat(dirPath); err == nil {
		dirPreds, err := store.LoadFloat32(dirPath)
		if err != nil {
			return nil, detect.BatchPreds{}, "", fmt.Errorf("load dir preds: %w", err)
		}
		preds.DirPreds = dirPreds.Data
	}

	log.Printf("Loaded tensors from %s: %d samples, %d anchors", dir, batch, preds.NumAnchors)
	return anchors.Data, preds, dir, nil
}

// processRun records a run, predicts the batch and persists the output.
func processRun(pl *pipeline.Pipeline, runs *sqlite.RunStore, dets *sqlite.DetectionStore, anchors []float32, preds detect.BatchPreds, source string) (string, error) {
	params, err := json.Marshal(pl.Config())
	if err != nil {
		return "", fmt.Errorf("marshal run params: %w", err)
	}

	run := &sqlite.Run{
		ModelName:  *modelName,
		Source:     source,
		BatchSize:  preds.BatchSize,
		NumAnchors: preds.NumAnchors,
		ParamsJSON: params,
	}
	if err := runs.Insert(run); err != nil {
		return "", err
	}

	start := time.Now()
	results, err := pl.Predict(anchors, preds, nil)
	if err != nil {
		markFailed(runs, run.RunID, err)
		return "", fmt.Errorf("predict: %w", err)
	}
	elapsed := time.Since(start)

	var records []detect.Detection
	for _, r := range results {
		records = append(records, r.Records()...)
	}

	if err := dets.InsertBatch(run.RunID, records); err != nil {
		markFailed(runs, run.RunID, err)
		return "", err
	}
	if err := runs.Complete(run.RunID, time.Now().UTC(), ""); err != nil {
		return "", err
	}

	log.Printf("Run %s: %d samples, %d detections in %s", run.RunID, preds.BatchSize, len(records), elapsed.Round(time.Microsecond))
	return run.RunID, nil
}

// markFailed closes a run with an error status, keeping the original
// failure as the one that gets reported.
func markFailed(runs *sqlite.RunStore, runID string, cause error) {
	if err := runs.Complete(runID, time.Now().UTC(), cause.Error()); err != nil {
		log.Printf("Failed to mark run %s failed: %v", runID, err)
	}
}
