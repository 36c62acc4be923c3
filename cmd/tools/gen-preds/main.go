// Command gen-preds generates synthetic detector-head .npy bundles for
// pipeline demos and training-side fixtures.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/synthetic"
	"github.com/banshee-data/pillars.detect/internal/tensorfile"
)

func main() {
	output := flag.String("o", "testdata/preds", "output directory for the bundle")
	batch := flag.Int("batch", 2, "samples per bundle")
	seed := flag.Int64("seed", 42, "generator seed")
	objects := flag.Int("objects", 8, "objects planted per sample")
	classes := flag.Int("classes", 1, "foreground class count")
	noise := flag.Float64("noise", 0.02, "residual noise stddev")
	flag.Parse()

	gen := synthetic.NewGenerator(*seed)
	gen.ObjectCount = *objects
	gen.NumClass = *classes
	gen.ResidualNoise = float32(*noise)

	scene, err := gen.Scene(*batch)
	if err != nil {
		log.Fatalf("generate scene: %v", err)
	}

	if err := os.MkdirAll(*output, 0755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	store := tensorfile.OSStore()
	n := scene.NumAnchors

	save := func(name string, shape []int, data []float32) {
		if err := store.SaveFloat32(filepath.Join(*output, name), shape, data); err != nil {
			log.Fatalf("save %s: %v", name, err)
		}
	}

	save("anchors.npy", []int{n, detect.BoxStride}, scene.Anchors)
	save("box_preds.npy", []int{*batch, n * detect.BoxStride}, scene.Preds.BoxPreds)
	save("cls_preds.npy", []int{*batch, n * *classes}, scene.Preds.ClsPreds)
	save("dir_preds.npy", []int{*batch, n * 2}, scene.Preds.DirPreds)

	// Training-side targets ride along so loss code can replay the
	// same scene; labels are flat, readers split by sample count.
	var labels []int32
	var regTargets []float32
	for b := 0; b < *batch; b++ {
		labels = append(labels, scene.Labels[b]...)
		regTargets = append(regTargets, scene.RegTargets[b]...)
	}
	if err := store.SaveInt32(filepath.Join(*output, "labels.npy"), labels); err != nil {
		log.Fatalf("save labels.npy: %v", err)
	}
	save("reg_targets.npy", []int{*batch, n * detect.BoxStride}, regTargets)

	log.Printf("✓ Created: %s (%d samples, %d anchors, %d classes)", *output, *batch, n, *classes)
}
