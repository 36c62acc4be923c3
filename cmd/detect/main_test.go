package main

import (
	"flag"
	"path/filepath"
	"testing"

	"github.com/banshee-data/pillars.detect/internal/config"
	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/pipeline"
	sqlite "github.com/banshee-data/pillars.detect/internal/detect/storage/sqlite"
	"github.com/banshee-data/pillars.detect/internal/detect/synthetic"
	"github.com/banshee-data/pillars.detect/internal/detectdb"
	"github.com/banshee-data/pillars.detect/internal/tensorfile"
)

// TestServeFlagDefault verifies the --serve flag exists and defaults to
// one-shot mode (process the batch and exit).
func TestServeFlagDefault(t *testing.T) {
	if serve == nil {
		t.Fatal("serve flag not defined")
	}
	if *serve != false {
		t.Errorf("expected serve default to be false, got %v", *serve)
	}
}

// TestBatchFlagDefault verifies the --batch flag exists and has the
// correct default value.
func TestBatchFlagDefault(t *testing.T) {
	if batchSize == nil {
		t.Fatal("batch flag not defined")
	}
	if *batchSize != 2 {
		t.Errorf("expected batch default to be 2, got %d", *batchSize)
	}
}

// TestFlagParsing verifies that the flags can be parsed correctly.
// This uses a separate FlagSet to avoid polluting the global flags.
func TestFlagParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantBool bool
	}{
		{
			name:     "flag not set",
			args:     []string{},
			wantBool: false,
		},
		{
			name:     "flag set explicitly true",
			args:     []string{"--bev=true"},
			wantBool: true,
		},
		{
			name:     "flag set without value (implies true)",
			args:     []string{"--bev"},
			wantBool: true,
		},
		{
			name:     "flag set explicitly false",
			args:     []string{"--bev=false"},
			wantBool: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			bevFlag := fs.Bool("bev", false, "Render a BEV snapshot of the run")

			err := fs.Parse(tc.args)
			if err != nil {
				t.Fatalf("failed to parse flags: %v", err)
			}

			if *bevFlag != tc.wantBool {
				t.Errorf("bev = %v, want %v", *bevFlag, tc.wantBool)
			}
		})
	}
}

// TestLoadTuningBuiltinDefaults verifies that an empty tuning path falls
// back to the built-in defaults rather than failing.
func TestLoadTuningBuiltinDefaults(t *testing.T) {
	tc := loadTuning("")
	if tc == nil {
		t.Fatal("loadTuning(\"\") returned nil")
	}
	if tc.GetNumClass() < 1 {
		t.Errorf("expected at least one class from defaults, got %d", tc.GetNumClass())
	}
	if tc.GetNMSPostMaxSize() <= 0 {
		t.Errorf("expected positive NMS post max size, got %d", tc.GetNMSPostMaxSize())
	}
}

// TestLoadInputsSynthetic verifies the synthetic path produces a
// well-formed batch matching the flag defaults.
func TestLoadInputsSynthetic(t *testing.T) {
	anchors, preds, source, err := loadInputs("")
	if err != nil {
		t.Fatalf("loadInputs failed: %v", err)
	}
	if source != "synthetic" {
		t.Errorf("expected source \"synthetic\", got %q", source)
	}
	if len(anchors) == 0 || len(anchors)%detect.BoxStride != 0 {
		t.Errorf("anchors length %d is not a positive multiple of %d", len(anchors), detect.BoxStride)
	}
	if preds.BatchSize != *batchSize {
		t.Errorf("expected batch size %d, got %d", *batchSize, preds.BatchSize)
	}
	if preds.NumAnchors != len(anchors)/detect.BoxStride {
		t.Errorf("NumAnchors %d does not match anchors tensor (%d rows)", preds.NumAnchors, len(anchors)/detect.BoxStride)
	}
	if preds.DirPreds == nil {
		t.Error("synthetic scenes should include direction logits")
	}
}

// TestLoadInputsTensorDir verifies loading a saved .npy bundle, with and
// without the optional direction head output.
func TestLoadInputsTensorDir(t *testing.T) {
	dir := t.TempDir()
	store := tensorfile.OSStore()

	const numAnchors = 4
	anchorData := make([]float32, numAnchors*detect.BoxStride)
	for i := range anchorData {
		anchorData[i] = float32(i) * 0.5
	}
	boxData := make([]float32, numAnchors*detect.BoxStride)
	clsData := make([]float32, numAnchors)

	if err := store.SaveFloat32(filepath.Join(dir, "anchors.npy"), []int{numAnchors, detect.BoxStride}, anchorData); err != nil {
		t.Fatalf("failed to save anchors: %v", err)
	}
	if err := store.SaveFloat32(filepath.Join(dir, "box_preds.npy"), []int{1, numAnchors * detect.BoxStride}, boxData); err != nil {
		t.Fatalf("failed to save box preds: %v", err)
	}
	if err := store.SaveFloat32(filepath.Join(dir, "cls_preds.npy"), []int{1, numAnchors}, clsData); err != nil {
		t.Fatalf("failed to save cls preds: %v", err)
	}

	anchors, preds, source, err := loadInputs(dir)
	if err != nil {
		t.Fatalf("loadInputs failed: %v", err)
	}
	if source != dir {
		t.Errorf("expected source %q, got %q", dir, source)
	}
	if len(anchors) != numAnchors*detect.BoxStride {
		t.Errorf("expected %d anchor values, got %d", numAnchors*detect.BoxStride, len(anchors))
	}
	if preds.BatchSize != 1 {
		t.Errorf("expected batch size 1, got %d", preds.BatchSize)
	}
	if preds.NumAnchors != numAnchors {
		t.Errorf("expected %d anchors, got %d", numAnchors, preds.NumAnchors)
	}
	if preds.DirPreds != nil {
		t.Error("expected nil DirPreds without dir_preds.npy")
	}

	// Add the direction head output and reload.
	dirData := make([]float32, numAnchors*2)
	if err := store.SaveFloat32(filepath.Join(dir, "dir_preds.npy"), []int{1, numAnchors * 2}, dirData); err != nil {
		t.Fatalf("failed to save dir preds: %v", err)
	}
	_, preds, _, err = loadInputs(dir)
	if err != nil {
		t.Fatalf("loadInputs with dir preds failed: %v", err)
	}
	if len(preds.DirPreds) != numAnchors*2 {
		t.Errorf("expected %d direction logits, got %d", numAnchors*2, len(preds.DirPreds))
	}
}

// TestLoadInputsSampleMismatch verifies that bundles with inconsistent
// sample counts across heads are rejected.
func TestLoadInputsSampleMismatch(t *testing.T) {
	dir := t.TempDir()
	store := tensorfile.OSStore()

	const numAnchors = 2
	if err := store.SaveFloat32(filepath.Join(dir, "anchors.npy"), []int{numAnchors, detect.BoxStride}, make([]float32, numAnchors*detect.BoxStride)); err != nil {
		t.Fatalf("failed to save anchors: %v", err)
	}
	if err := store.SaveFloat32(filepath.Join(dir, "box_preds.npy"), []int{1, numAnchors * detect.BoxStride}, make([]float32, numAnchors*detect.BoxStride)); err != nil {
		t.Fatalf("failed to save box preds: %v", err)
	}
	// Two samples of class logits against one sample of box regressions.
	if err := store.SaveFloat32(filepath.Join(dir, "cls_preds.npy"), []int{2, numAnchors}, make([]float32, 2*numAnchors)); err != nil {
		t.Fatalf("failed to save cls preds: %v", err)
	}

	if _, _, _, err := loadInputs(dir); err == nil {
		t.Error("expected error for mismatched sample counts, got nil")
	}
}

// TestProcessRun runs a synthetic batch end to end against a temporary
// database and verifies the run record and its detections.
func TestProcessRun(t *testing.T) {
	db, err := detectdb.OpenAndMigrate(filepath.Join(t.TempDir(), "detect.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runStore := sqlite.NewRunStore(db.DB)
	detStore := sqlite.NewDetectionStore(db.DB)

	pl, err := pipeline.New(pipeline.ConfigFromTuning(config.EmptyTuningConfig()))
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}

	scene, err := synthetic.NewGenerator(7).Scene(2)
	if err != nil {
		t.Fatalf("failed to generate scene: %v", err)
	}

	runID, err := processRun(pl, runStore, detStore, scene.Anchors, scene.Preds, "synthetic")
	if err != nil {
		t.Fatalf("processRun failed: %v", err)
	}

	run, err := runStore.Get(runID)
	if err != nil {
		t.Fatalf("failed to load run: %v", err)
	}
	if run == nil {
		t.Fatal("run not found after processRun")
	}
	if run.Status != sqlite.StatusCompleted {
		t.Errorf("expected status %q, got %q", sqlite.StatusCompleted, run.Status)
	}
	if run.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if run.BatchSize != 2 {
		t.Errorf("expected batch size 2, got %d", run.BatchSize)
	}

	count, err := detStore.CountByRun(runID)
	if err != nil {
		t.Fatalf("failed to count detections: %v", err)
	}
	if count == 0 {
		t.Error("expected detections persisted for the synthetic scene")
	}
}
