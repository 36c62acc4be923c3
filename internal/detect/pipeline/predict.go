package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/boxcoder"
	"github.com/banshee-data/pillars.detect/internal/detect/geom"
	"github.com/banshee-data/pillars.detect/internal/detect/loss"
	"github.com/banshee-data/pillars.detect/internal/detect/nms"
)

// Pipeline is the assembled post-processing layer. Construct with New;
// the zero value is not usable. A Pipeline is immutable after
// construction and safe for concurrent use.
type Pipeline struct {
	cfg   Config
	coder boxcoder.Coder
	sup   nms.Suppressor
	stats *detect.Stats
}

// New validates cfg and builds a Pipeline around it.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	return &Pipeline{
		cfg:   cfg,
		sup:   cfg.suppressor(),
		stats: detect.NewStats(),
	}, nil
}

// Config returns a copy of the active configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Stats returns the pipeline's runtime counters.
func (p *Pipeline) Stats() *detect.Stats { return p.stats }

// Predict converts one forward pass into per-sample detections.
//
// anchors is the shared flat [numAnchors*7] tensor. masks optionally
// restricts the anchors eligible per sample (nil means all anchors);
// each row must cover every anchor. Results are ordered by sample
// index regardless of worker fan-out. A sample with no survivors gets
// an empty Detections value, never an error.
func (p *Pipeline) Predict(anchors []float32, preds detect.BatchPreds, masks [][]bool) ([]detect.Detections, error) {
	start := time.Now()
	numAnchors, err := p.validateShapes(anchors, preds, masks)
	if err != nil {
		return nil, err
	}

	results := make([]detect.Detections, preds.BatchSize)
	maskRow := func(b int) []bool {
		if masks == nil {
			return nil
		}
		return masks[b]
	}

	workers := p.cfg.Workers
	if workers > preds.BatchSize {
		workers = preds.BatchSize
	}
	if workers <= 1 {
		for b := 0; b < preds.BatchSize; b++ {
			results[b], err = p.predictSample(b, anchors, preds, maskRow(b), numAnchors)
			if err != nil {
				return nil, err
			}
		}
	} else {
		// Samples are independent; workers write disjoint result slots.
		var wg sync.WaitGroup
		jobs := make(chan int)
		errs := make([]error, preds.BatchSize)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for b := range jobs {
					results[b], errs[b] = p.predictSample(b, anchors, preds, maskRow(b), numAnchors)
				}
			}()
		}
		for b := 0; b < preds.BatchSize; b++ {
			jobs <- b
		}
		close(jobs)
		wg.Wait()
		for _, e := range errs {
			if e != nil {
				return nil, e
			}
		}
	}

	var total, empty int
	for _, r := range results {
		total += len(r.Boxes)
		if r.Empty() {
			empty++
		}
	}
	p.stats.AddBatch(preds.BatchSize, total, empty, time.Since(start))
	return results, nil
}

// validateShapes checks every tensor length against the configuration
// before any per-sample work starts. Shape mismatches are caller bugs
// and fail the whole batch.
func (p *Pipeline) validateShapes(anchors []float32, preds detect.BatchPreds, masks [][]bool) (int, error) {
	if len(anchors) == 0 || len(anchors)%detect.BoxStride != 0 {
		return 0, fmt.Errorf("predict: anchors length %d is not a positive multiple of %d", len(anchors), detect.BoxStride)
	}
	numAnchors := len(anchors) / detect.BoxStride
	if preds.NumAnchors != numAnchors {
		return 0, fmt.Errorf("predict: preds declare %d anchors but the anchor tensor holds %d", preds.NumAnchors, numAnchors)
	}
	if preds.BatchSize < 0 {
		return 0, fmt.Errorf("predict: negative batch size %d", preds.BatchSize)
	}
	if want := preds.BatchSize * numAnchors * boxcoder.CodeSize; len(preds.BoxPreds) != want {
		return 0, fmt.Errorf("predict: box preds length %d, want %d", len(preds.BoxPreds), want)
	}
	if want := preds.BatchSize * numAnchors * p.cfg.numClassWithBg(); len(preds.ClsPreds) != want {
		return 0, fmt.Errorf("predict: cls preds length %d, want %d", len(preds.ClsPreds), want)
	}
	if p.cfg.UseDirectionClassifier {
		if want := preds.BatchSize * numAnchors * 2; len(preds.DirPreds) != want {
			return 0, fmt.Errorf("predict: dir preds length %d, want %d", len(preds.DirPreds), want)
		}
	}
	if masks != nil {
		if len(masks) != preds.BatchSize {
			return 0, fmt.Errorf("predict: %d mask rows for batch size %d", len(masks), preds.BatchSize)
		}
		for b, m := range masks {
			if len(m) != numAnchors {
				return 0, fmt.Errorf("predict: mask row %d length %d, want %d", b, len(m), numAnchors)
			}
		}
	}
	return numAnchors, nil
}

// predictSample runs the fixed stage order for one batch element:
// anchor mask, decode, direction argmax, score activation, suppression,
// yaw correction.
func (p *Pipeline) predictSample(b int, anchors []float32, preds detect.BatchPreds, mask []bool, numAnchors int) (detect.Detections, error) {
	out := detect.Detections{SampleIdx: int64(b)}
	ch := p.cfg.numClassWithBg()
	boxRow := preds.BoxPreds[b*numAnchors*boxcoder.CodeSize:]
	clsRow := preds.ClsPreds[b*numAnchors*ch:]

	// 1. Anchor mask: collect the eligible anchors.
	active := make([]int, 0, numAnchors)
	for a := 0; a < numAnchors; a++ {
		if mask == nil || mask[a] {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return out, nil
	}

	// 2. Decode residuals against their anchors.
	boxes := make([]detect.Box, len(active))
	for i, a := range active {
		boxes[i] = p.coder.Decode(boxRow[a*boxcoder.CodeSize:(a+1)*boxcoder.CodeSize], detect.BoxAt(anchors, a))
	}

	// 3. Predicted hemisphere per candidate. Ties take the first class.
	var dirLabels []int32
	if p.cfg.UseDirectionClassifier {
		dirRow := preds.DirPreds[b*numAnchors*2:]
		dirLabels = make([]int32, len(active))
		for i, a := range active {
			if dirRow[a*2+1] > dirRow[a*2] {
				dirLabels[i] = 1
			}
		}
	}

	// 4. Activate scores; the background column, when present, is gone
	// after this.
	scores := p.activateScores(clsRow, active, ch)

	// 5. Suppression.
	var (
		keptIdx    []int
		keptScores []float32
		keptLabels []int32
	)
	if p.cfg.UseMulticlassNMS {
		var err error
		keptIdx, keptScores, keptLabels, err = p.selectMulticlass(boxes, scores)
		if err != nil {
			return out, err
		}
	} else {
		keptIdx, keptScores, keptLabels = p.selectTopClass(boxes, scores)
	}
	if len(keptIdx) == 0 {
		return out, nil
	}

	// 6. Assemble survivors, adding π where the decoded yaw's hemisphere
	// disagrees with the predicted one.
	out.Boxes = make([]detect.Box, len(keptIdx))
	out.Scores = keptScores
	out.Labels = keptLabels
	if dirLabels != nil {
		out.DirLabels = make([]int32, len(keptIdx))
	}
	for k, i := range keptIdx {
		box := boxes[i]
		if dirLabels != nil {
			dir := dirLabels[i]
			out.DirLabels[k] = dir
			if (box.Yaw > 0) != (dir == loss.DirClassPositive) {
				box.Yaw += math32.Pi
			}
		}
		out.Boxes[k] = box
	}
	return out, nil
}

// activateScores turns raw classification logits into foreground class
// scores for the active candidates, row-major [len(active)*NumClass].
func (p *Pipeline) activateScores(clsRow []float32, active []int, ch int) []float32 {
	scores := make([]float32, len(active)*p.cfg.NumClass)
	switch {
	case p.cfg.EncodeBackgroundAsZeros:
		// ch == NumClass: every channel is a foreground class.
		for i, a := range active {
			for c := 0; c < ch; c++ {
				scores[i*ch+c] = sigmoid(clsRow[a*ch+c])
			}
		}
	case p.cfg.UseSigmoidScore:
		for i, a := range active {
			for c := 1; c < ch; c++ {
				scores[i*p.cfg.NumClass+c-1] = sigmoid(clsRow[a*ch+c])
			}
		}
	default:
		for i, a := range active {
			softmaxForeground(scores[i*p.cfg.NumClass:(i+1)*p.cfg.NumClass], clsRow[a*ch:(a+1)*ch])
		}
	}
	return scores
}

// selectTopClass implements the single-pass path: best class per
// candidate, score filter, one suppression over what remains.
func (p *Pipeline) selectTopClass(boxes []detect.Box, scores []float32) (idx []int, outScores []float32, outLabels []int32) {
	n := len(boxes)
	topScores := make([]float32, n)
	topLabels := make([]int32, n)
	if p.cfg.NumClass == 1 {
		copy(topScores, scores)
	} else {
		for i := 0; i < n; i++ {
			row := scores[i*p.cfg.NumClass : (i+1)*p.cfg.NumClass]
			best := 0
			for c := 1; c < len(row); c++ {
				if row[c] > row[best] {
					best = c
				}
			}
			topScores[i] = row[best]
			topLabels[i] = int32(best)
		}
	}

	// Score filter: >= keeps, zero threshold disables.
	cands := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if p.cfg.NMSScoreThreshold > 0 && topScores[i] < p.cfg.NMSScoreThreshold {
			continue
		}
		cands = append(cands, i)
	}
	if len(cands) == 0 {
		return nil, nil, nil
	}

	bev := make([]geom.BEVBox, len(cands))
	candScores := make([]float32, len(cands))
	for k, i := range cands {
		bev[k] = bevOf(boxes[i])
		candScores[k] = topScores[i]
	}
	for _, k := range p.sup.Suppress(bev, candScores, p.cfg.NMS) {
		i := cands[k]
		idx = append(idx, i)
		outScores = append(outScores, topScores[i])
		outLabels = append(outLabels, topLabels[i])
	}
	return idx, outScores, outLabels
}

// selectMulticlass suppresses each class over the shared proposals and
// merges survivors class by class, each class best-score first.
func (p *Pipeline) selectMulticlass(boxes []detect.Box, scores []float32) (idx []int, outScores []float32, outLabels []int32, err error) {
	bev := make([]geom.BEVBox, len(boxes))
	for i, b := range boxes {
		bev[i] = bevOf(b)
	}
	selected, err := nms.Multiclass(p.sup, bev, scores, p.cfg.NumClass, p.cfg.NMSScoreThreshold, p.cfg.NMS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("predict: %w", err)
	}
	for class, keep := range selected {
		for _, i := range keep {
			idx = append(idx, i)
			outScores = append(outScores, scores[i*p.cfg.NumClass+class])
			outLabels = append(outLabels, int32(class))
		}
	}
	return idx, outScores, outLabels, nil
}

// bevOf projects a 7-DOF box onto the ground plane.
func bevOf(b detect.Box) geom.BEVBox {
	return geom.BEVBox{X: b.X, Y: b.Y, Length: b.Length, Width: b.Width, Yaw: b.Yaw}
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// softmaxForeground writes softmax(row) minus its background column
// (index 0) into dst. Max-shifted for stability.
func softmaxForeground(dst, row []float32) {
	maxv := row[0]
	for _, v := range row[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float32
	for _, v := range row {
		sum += math32.Exp(v - maxv)
	}
	for i := range dst {
		dst[i] = math32.Exp(row[i+1]-maxv) / sum
	}
}
