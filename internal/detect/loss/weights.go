package loss

import (
	"fmt"
)

// NormType selects how per-anchor weights are normalised within each
// batch row. Policy names match the tuning-config vocabulary.
type NormType string

const (
	// NormByNumExamples divides classification weights by the cared-anchor
	// count and regression weights by the positive count.
	NormByNumExamples NormType = "NormByNumExamples"
	// NormByNumPositives divides both tensors by the positive count. This
	// is the default, appropriate when the classification loss already
	// down-weights easy negatives (focal style).
	NormByNumPositives NormType = "NormByNumPositives"
	// NormByNumPosNeg divides each anchor's classification weight by the
	// size of its own group (positives or negatives) and regression
	// weights by the positive count.
	NormByNumPosNeg NormType = "NormByNumPosNeg"
)

// ParseNormType validates a policy name from configuration. An unknown
// name is a configuration error and must abort startup, never fall back.
func ParseNormType(s string) (NormType, error) {
	switch NormType(s) {
	case NormByNumExamples, NormByNumPositives, NormByNumPosNeg:
		return NormType(s), nil
	}
	return "", fmt.Errorf("unknown loss norm type %q (available: %s, %s, %s)",
		s, NormByNumExamples, NormByNumPositives, NormByNumPosNeg)
}

// Weights is the per-batch training-signal bundle derived from labels.
// Rows follow the label rows; anchors with label -1 are "not cared" and
// carry zero weight everywhere.
type Weights struct {
	Cls   [][]float32
	Reg   [][]float32
	Cared [][]bool
}

// PrepareWeights converts integer labels (-1 ignored, 0 background, >=1
// positive class) into normalised classification and regression weights.
//
// Base weights per anchor, before normalisation:
//
//	cls = cared ? negClsWeight + posClsWeight·1[label>0] : 0
//	reg = 1[label>0]
//
// Normalisation divides row-wise with the policy's counts, each clamped
// to >= 1 before dividing so rows with zero positives produce zeros
// rather than NaN.
func PrepareWeights(labels [][]int32, posClsWeight, negClsWeight float32, norm NormType) (*Weights, error) {
	if _, err := ParseNormType(string(norm)); err != nil {
		return nil, err
	}

	w := &Weights{
		Cls:   make([][]float32, len(labels)),
		Reg:   make([][]float32, len(labels)),
		Cared: make([][]bool, len(labels)),
	}

	for row, rowLabels := range labels {
		n := len(rowLabels)
		cls := make([]float32, n)
		reg := make([]float32, n)
		cared := make([]bool, n)

		var caredCount, posCount, negCount int
		for i, label := range rowLabels {
			switch {
			case label > 0:
				cared[i] = true
				caredCount++
				posCount++
				cls[i] = negClsWeight + posClsWeight
				reg[i] = 1
			case label == 0:
				cared[i] = true
				caredCount++
				negCount++
				cls[i] = negClsWeight
			default:
				// Ignored anchor: zero weight, not cared.
			}
		}

		switch norm {
		case NormByNumExamples:
			clsDiv := clampCount(caredCount)
			regDiv := clampCount(posCount)
			for i := range cls {
				cls[i] /= clsDiv
				reg[i] /= regDiv
			}
		case NormByNumPositives:
			div := clampCount(posCount)
			for i := range cls {
				cls[i] /= div
				reg[i] /= div
			}
		case NormByNumPosNeg:
			regDiv := clampCount(posCount)
			for i, label := range rowLabels {
				// Each cared anchor normalises by its own group's size;
				// ignored anchors are already zero and divide by 1.
				group := 1
				if label > 0 {
					group = posCount
				} else if label == 0 {
					group = negCount
				}
				cls[i] /= clampCount(group)
				reg[i] /= regDiv
			}
		}

		w.Cls[row] = cls
		w.Reg[row] = reg
		w.Cared[row] = cared
	}
	return w, nil
}

// clampCount converts a count to a divisor clamped at one.
func clampCount(n int) float32 {
	if n < 1 {
		return 1
	}
	return float32(n)
}
