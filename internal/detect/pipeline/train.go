package pipeline

import (
	"fmt"

	"github.com/banshee-data/pillars.detect/internal/detect"
	"github.com/banshee-data/pillars.detect/internal/detect/boxcoder"
	"github.com/banshee-data/pillars.detect/internal/detect/loss"
)

// Targets carries the per-anchor training signals derived from assigned
// labels and regression targets. Direction fields are nil when the
// direction classifier is disabled.
type Targets struct {
	Weights    *loss.Weights
	ClsTargets [][]int32   // cared-masked labels per sample
	DirTargets [][]int32   // hemisphere classes per sample
	DirWeights [][]float32 // positive-anchor weights per sample
}

// TrainingTargets derives the weight tensors and classification and
// direction targets for one batch. labels and regTargets have one row
// per sample; anchors is the shared flat [numAnchors*7] tensor.
func (p *Pipeline) TrainingTargets(anchors []float32, labels [][]int32, regTargets [][]float32) (*Targets, error) {
	if len(anchors) == 0 || len(anchors)%detect.BoxStride != 0 {
		return nil, fmt.Errorf("targets: anchors length %d is not a positive multiple of %d", len(anchors), detect.BoxStride)
	}
	numAnchors := len(anchors) / detect.BoxStride
	if len(labels) != len(regTargets) {
		return nil, fmt.Errorf("targets: %d label rows but %d reg target rows", len(labels), len(regTargets))
	}
	for b, row := range labels {
		if len(row) != numAnchors {
			return nil, fmt.Errorf("targets: label row %d length %d, want %d", b, len(row), numAnchors)
		}
	}

	w, err := loss.PrepareWeights(labels, p.cfg.PosClassWeight, p.cfg.NegClassWeight, p.cfg.LossNorm)
	if err != nil {
		return nil, err
	}

	t := &Targets{
		Weights:    w,
		ClsTargets: make([][]int32, len(labels)),
	}
	for b, row := range labels {
		t.ClsTargets[b] = loss.CaredLabels(row)
	}
	if p.cfg.UseDirectionClassifier {
		t.DirTargets, err = loss.DirectionTargets(anchors, regTargets)
		if err != nil {
			return nil, err
		}
		t.DirWeights = loss.DirectionWeights(labels)
	}
	return t, nil
}

// LossBreakdown is the reduced scalar view of one batch's loss. Loc,
// Cls and Dir already carry their configured mix-in weights; Total is
// their sum. ClsPos and ClsNeg are diagnostic shares of the raw
// classification loss, each divided by its class weight so the two are
// comparable regardless of weighting.
type LossBreakdown struct {
	Total  float32
	Loc    float32
	Cls    float32
	Dir    float32
	ClsPos float32
	ClsNeg float32
}

// ComputeLoss runs the full training-side reduction for one batch:
// weight preparation, target derivation, functor invocation and scalar
// reduction. The differentiable losses themselves live with the
// training framework and come in as functors; dirFtor may be nil when
// the direction classifier is disabled.
func (p *Pipeline) ComputeLoss(locFtor, clsFtor, dirFtor loss.Functor, anchors []float32, preds detect.BatchPreds, labels [][]int32, regTargets [][]float32) (*LossBreakdown, error) {
	targets, err := p.TrainingTargets(anchors, labels, regTargets)
	if err != nil {
		return nil, err
	}
	batch := len(labels)
	if preds.BatchSize != batch {
		return nil, fmt.Errorf("loss: preds batch size %d but %d label rows", preds.BatchSize, batch)
	}
	if batch == 0 {
		return nil, fmt.Errorf("loss: empty batch")
	}
	numAnchors := len(anchors) / detect.BoxStride
	ch := p.cfg.numClassWithBg()
	if want := batch * numAnchors * boxcoder.CodeSize; len(preds.BoxPreds) != want {
		return nil, fmt.Errorf("loss: box preds length %d, want %d", len(preds.BoxPreds), want)
	}
	if want := batch * numAnchors * ch; len(preds.ClsPreds) != want {
		return nil, fmt.Errorf("loss: cls preds length %d, want %d", len(preds.ClsPreds), want)
	}

	locLosses, clsLosses, err := loss.CreateLoss(locFtor, clsFtor, loss.CreateLossArgs{
		BoxPreds:                splitRows(preds.BoxPreds, batch),
		ClsPreds:                splitRows(preds.ClsPreds, batch),
		Labels:                  labels,
		RegTargets:              regTargets,
		Weights:                 targets.Weights,
		NumClass:                p.cfg.NumClass,
		CodeSize:                boxcoder.CodeSize,
		EncodeBackgroundAsZeros: p.cfg.EncodeBackgroundAsZeros,
		EncodeRadErrorBySin:     p.cfg.EncodeRadErrorBySin,
	})
	if err != nil {
		return nil, err
	}

	bf := float32(batch)
	breakdown := &LossBreakdown{
		Loc: sumRows(locLosses) / bf * p.cfg.LocLossWeight,
		Cls: sumRows(clsLosses) / bf * p.cfg.ClsLossWeight,
	}

	clsPos, clsNeg, err := loss.PosNegSplit(clsLosses, labels, ch)
	if err != nil {
		return nil, err
	}
	breakdown.ClsPos = clsPos / p.cfg.PosClassWeight
	breakdown.ClsNeg = clsNeg / p.cfg.NegClassWeight

	if p.cfg.UseDirectionClassifier {
		if dirFtor == nil {
			return nil, fmt.Errorf("loss: direction classifier enabled but no direction functor supplied")
		}
		if want := batch * numAnchors * 2; len(preds.DirPreds) != want {
			return nil, fmt.Errorf("loss: dir preds length %d, want %d", len(preds.DirPreds), want)
		}
		var dirSum float64
		dirRows := splitRows(preds.DirPreds, batch)
		for b := 0; b < batch; b++ {
			oneHot := loss.OneHot(targets.DirTargets[b], 2)
			for _, v := range dirFtor.Loss(dirRows[b], oneHot, 2, targets.DirWeights[b]) {
				dirSum += float64(v)
			}
		}
		breakdown.Dir = float32(dirSum) / bf * p.cfg.DirectionLossWeight
	}

	breakdown.Total = breakdown.Loc + breakdown.Cls + breakdown.Dir
	return breakdown, nil
}

// splitRows views a flat batch tensor as per-sample rows without
// copying.
func splitRows(flat []float32, batch int) [][]float32 {
	rowLen := len(flat) / batch
	rows := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		rows[b] = flat[b*rowLen : (b+1)*rowLen]
	}
	return rows
}

func sumRows(rows [][]float32) float32 {
	var sum float64
	for _, row := range rows {
		for _, v := range row {
			sum += float64(v)
		}
	}
	return float32(sum)
}
