package loss

import (
	"fmt"
)

// Functor is the contract of the external differentiable losses
// (smooth-L1 localisation, focal or softmax classification). preds and
// targets are flat row-major [n*channels] tensors; weights carries one
// value per anchor row. The result is shaped like preds: one loss value
// per anchor per channel, already weighted.
type Functor interface {
	Loss(preds, targets []float32, channels int, weights []float32) []float32
}

// CreateLossArgs bundles the per-batch tensors CreateLoss consumes.
// Rows are batch samples throughout.
type CreateLossArgs struct {
	BoxPreds   [][]float32 // flat [numAnchors*CodeSize] per sample
	ClsPreds   [][]float32 // flat [numAnchors*clsChannels] per sample
	Labels     [][]int32   // raw labels: -1 ignored, 0 background, >=1 class
	RegTargets [][]float32 // flat [numAnchors*CodeSize] per sample
	Weights    *Weights

	NumClass                int
	CodeSize                int
	EncodeBackgroundAsZeros bool
	EncodeRadErrorBySin     bool
}

// clsChannels is the classification channel count implied by the
// background encoding: an explicit background column adds one.
func (a CreateLossArgs) clsChannels() int {
	if a.EncodeBackgroundAsZeros {
		return a.NumClass
	}
	return a.NumClass + 1
}

// CreateLoss prepares classification targets (cared-masked one-hot, with
// the background column dropped when background is encoded as zeros),
// optionally applies the sin-difference yaw encoding, and runs both
// functors. Results are per-sample flat tensors shaped like the inputs.
func CreateLoss(locFtor, clsFtor Functor, args CreateLossArgs) (locLosses, clsLosses [][]float32, err error) {
	if args.NumClass <= 0 {
		return nil, nil, fmt.Errorf("create loss: class count must be positive, got %d", args.NumClass)
	}
	if args.CodeSize <= 0 {
		return nil, nil, fmt.Errorf("create loss: code size must be positive, got %d", args.CodeSize)
	}
	batch := len(args.Labels)
	if len(args.BoxPreds) != batch || len(args.ClsPreds) != batch || len(args.RegTargets) != batch {
		return nil, nil, fmt.Errorf("create loss: batch dims differ (labels %d, box %d, cls %d, reg %d)",
			batch, len(args.BoxPreds), len(args.ClsPreds), len(args.RegTargets))
	}

	ch := args.clsChannels()
	locLosses = make([][]float32, batch)
	clsLosses = make([][]float32, batch)

	for b := 0; b < batch; b++ {
		numAnchors := len(args.Labels[b])
		if len(args.BoxPreds[b]) != numAnchors*args.CodeSize {
			return nil, nil, fmt.Errorf("create loss: sample %d box preds length %d, want %d", b, len(args.BoxPreds[b]), numAnchors*args.CodeSize)
		}
		if len(args.RegTargets[b]) != numAnchors*args.CodeSize {
			return nil, nil, fmt.Errorf("create loss: sample %d reg targets length %d, want %d", b, len(args.RegTargets[b]), numAnchors*args.CodeSize)
		}
		if len(args.ClsPreds[b]) != numAnchors*ch {
			return nil, nil, fmt.Errorf("create loss: sample %d cls preds length %d, want %d", b, len(args.ClsPreds[b]), numAnchors*ch)
		}

		// Cared-masked one-hot targets. With background-as-zeros the
		// background column is dropped, so background anchors get an
		// all-zero row.
		clsTargets := CaredLabels(args.Labels[b])
		oneHot := make([]float32, numAnchors*ch)
		for a, id := range clsTargets {
			if args.EncodeBackgroundAsZeros {
				if id >= 1 && int(id) <= args.NumClass {
					oneHot[a*ch+int(id)-1] = 1
				}
			} else if id >= 0 && int(id) <= args.NumClass {
				oneHot[a*ch+int(id)] = 1
			}
		}

		boxPreds := args.BoxPreds[b]
		regTargets := args.RegTargets[b]
		if args.EncodeRadErrorBySin {
			boxPreds, regTargets, err = AddSinDifference(boxPreds, regTargets, args.CodeSize)
			if err != nil {
				return nil, nil, fmt.Errorf("create loss: sample %d: %w", b, err)
			}
		}

		locLosses[b] = locFtor.Loss(boxPreds, regTargets, args.CodeSize, args.Weights.Reg[b])
		clsLosses[b] = clsFtor.Loss(args.ClsPreds[b], oneHot, ch, args.Weights.Cls[b])
	}
	return locLosses, clsLosses, nil
}

// PosNegSplit separates the classification loss into positive- and
// negative-anchor contributions, each summed over the batch and divided
// by the batch size. Scalar-channel tensors split by the label masks;
// per-class tensors split their first column (the background column
// when one is present) against the rest.
func PosNegSplit(clsLosses [][]float32, labels [][]int32, channels int) (pos, neg float32, err error) {
	if channels <= 0 {
		return 0, 0, fmt.Errorf("pos/neg split: channels must be positive, got %d", channels)
	}
	batch := len(clsLosses)
	if batch == 0 {
		return 0, 0, nil
	}
	if len(labels) != batch {
		return 0, 0, fmt.Errorf("pos/neg split: labels batch %d does not match losses batch %d", len(labels), batch)
	}

	var posSum, negSum float64
	for b, row := range clsLosses {
		if len(row) != len(labels[b])*channels {
			return 0, 0, fmt.Errorf("pos/neg split: sample %d loss length %d, want %d", b, len(row), len(labels[b])*channels)
		}
		if channels == 1 {
			for a, v := range row {
				switch {
				case labels[b][a] > 0:
					posSum += float64(v)
				case labels[b][a] == 0:
					negSum += float64(v)
				}
			}
			continue
		}
		for i, v := range row {
			if i%channels == 0 {
				negSum += float64(v)
			} else {
				posSum += float64(v)
			}
		}
	}
	bf := float64(batch)
	return float32(posSum / bf), float32(negSum / bf), nil
}
