package pipeline

import (
	"fmt"

	"github.com/banshee-data/pillars.detect/internal/detect/loss"
	"github.com/banshee-data/pillars.detect/internal/detect/nms"
)

// Config controls both sides of the post-processing layer: the
// inference assembler (scoring, suppression, direction resolution) and
// the training facade (weight normalisation, loss mixing).
type Config struct {
	// NumClass is the foreground class count (background excluded).
	NumClass int

	// EncodeBackgroundAsZeros drops the explicit background column: the
	// classification head emits NumClass channels and background is the
	// all-zero row. Requires sigmoid scoring.
	EncodeBackgroundAsZeros bool

	// UseSigmoidScore selects per-channel sigmoid scoring; otherwise the
	// head output is softmaxed and the background column dropped.
	UseSigmoidScore bool

	// UseDirectionClassifier enables the two-channel hemisphere head and
	// the yaw correction applied to survivors.
	UseDirectionClassifier bool

	// UseRotateNMS suppresses on exact rotated overlap instead of
	// standup (axis-aligned hull) overlap.
	UseRotateNMS bool

	// UseMulticlassNMS runs suppression per class over class-agnostic
	// proposals instead of once over per-anchor best classes.
	UseMulticlassNMS bool

	// NMSScoreThreshold drops candidates scoring below it before
	// suppression (>= keeps). Zero disables the filter.
	NMSScoreThreshold float32

	// NMS carries the suppression knobs shared by both strategies.
	NMS nms.Params

	// Workers caps the goroutines Predict fans samples out to.
	// Zero or one runs the batch serially.
	Workers int

	// Training-side knobs.
	PosClassWeight      float32       // scales the positive-anchor classification weight
	NegClassWeight      float32       // scales the negative-anchor classification weight
	LossNorm            loss.NormType // weight normalisation policy
	LocLossWeight       float32       // localisation term mix-in
	ClsLossWeight       float32       // classification term mix-in
	DirectionLossWeight float32       // direction term mix-in
	EncodeRadErrorBySin bool          // sin-difference yaw encoding for the localisation loss
}

// DefaultConfig returns the single-class ground-plane defaults.
func DefaultConfig() Config {
	return Config{
		NumClass:                1,
		EncodeBackgroundAsZeros: true,
		UseSigmoidScore:         true,
		UseDirectionClassifier:  true,
		UseRotateNMS:            false,
		UseMulticlassNMS:        false,
		NMSScoreThreshold:       0.05,
		NMS: nms.Params{
			PreMaxSize:   1000,
			PostMaxSize:  300,
			IoUThreshold: 0.5,
		},
		PosClassWeight:      1.0,
		NegClassWeight:      1.0,
		LossNorm:            loss.NormByNumPositives,
		LocLossWeight:       2.0,
		ClsLossWeight:       1.0,
		DirectionLossWeight: 0.2,
		EncodeRadErrorBySin: true,
	}
}

// Validate checks the configuration is internally consistent.
// Returns an error if any parameter is out of acceptable range.
func (c *Config) Validate() error {
	if c.NumClass < 1 {
		return fmt.Errorf("NumClass must be at least 1, got %d", c.NumClass)
	}
	if c.EncodeBackgroundAsZeros && !c.UseSigmoidScore {
		return fmt.Errorf("EncodeBackgroundAsZeros requires UseSigmoidScore: softmax needs an explicit background column")
	}
	if c.NMSScoreThreshold < 0 || c.NMSScoreThreshold >= 1 {
		return fmt.Errorf("NMSScoreThreshold must be in [0, 1), got %f", c.NMSScoreThreshold)
	}
	if c.NMS.IoUThreshold < 0 || c.NMS.IoUThreshold > 1 {
		return fmt.Errorf("NMS.IoUThreshold must be in [0, 1], got %f", c.NMS.IoUThreshold)
	}
	if c.NMS.PreMaxSize < 1 {
		return fmt.Errorf("NMS.PreMaxSize must be positive, got %d", c.NMS.PreMaxSize)
	}
	if c.NMS.PostMaxSize < 1 {
		return fmt.Errorf("NMS.PostMaxSize must be positive, got %d", c.NMS.PostMaxSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("Workers must be non-negative, got %d", c.Workers)
	}
	if c.PosClassWeight <= 0 {
		return fmt.Errorf("PosClassWeight must be positive, got %f", c.PosClassWeight)
	}
	if c.NegClassWeight <= 0 {
		return fmt.Errorf("NegClassWeight must be positive, got %f", c.NegClassWeight)
	}
	if _, err := loss.ParseNormType(string(c.LossNorm)); err != nil {
		return err
	}
	if c.LocLossWeight < 0 {
		return fmt.Errorf("LocLossWeight must be non-negative, got %f", c.LocLossWeight)
	}
	if c.ClsLossWeight < 0 {
		return fmt.Errorf("ClsLossWeight must be non-negative, got %f", c.ClsLossWeight)
	}
	if c.DirectionLossWeight < 0 {
		return fmt.Errorf("DirectionLossWeight must be non-negative, got %f", c.DirectionLossWeight)
	}
	return nil
}

// numClassWithBg is the classification channel count of the head output.
func (c *Config) numClassWithBg() int {
	if c.EncodeBackgroundAsZeros {
		return c.NumClass
	}
	return c.NumClass + 1
}

// suppressor returns the configured suppression strategy.
func (c *Config) suppressor() nms.Suppressor {
	if c.UseRotateNMS {
		return nms.Rotated{}
	}
	return nms.Standup{}
}
