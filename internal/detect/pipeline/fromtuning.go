package pipeline

import (
	"github.com/banshee-data/pillars.detect/internal/config"
	"github.com/banshee-data/pillars.detect/internal/detect/loss"
	"github.com/banshee-data/pillars.detect/internal/detect/nms"
)

// ConfigFromTuning builds a pipeline Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
// Fields omitted from the tuning file fall back to the same values as
// DefaultConfig, so a partial file only overrides what it names.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		NumClass:                cfg.GetNumClass(),
		EncodeBackgroundAsZeros: cfg.GetEncodeBackgroundAsZeros(),
		UseSigmoidScore:         cfg.GetUseSigmoidScore(),
		UseDirectionClassifier:  cfg.GetUseDirectionClassifier(),
		UseRotateNMS:            cfg.GetUseRotateNMS(),
		UseMulticlassNMS:        cfg.GetUseMulticlassNMS(),
		NMSScoreThreshold:       float32(cfg.GetNMSScoreThreshold()),
		NMS: nms.Params{
			PreMaxSize:   cfg.GetNMSPreMaxSize(),
			PostMaxSize:  cfg.GetNMSPostMaxSize(),
			IoUThreshold: float32(cfg.GetNMSIoUThreshold()),
		},
		Workers:             cfg.GetPredictWorkers(),
		PosClassWeight:      float32(cfg.GetPosClassWeight()),
		NegClassWeight:      float32(cfg.GetNegClassWeight()),
		LossNorm:            loss.NormType(cfg.GetLossNormType()),
		LocLossWeight:       float32(cfg.GetLocLossWeight()),
		ClsLossWeight:       float32(cfg.GetClsLossWeight()),
		DirectionLossWeight: float32(cfg.GetDirectionLossWeight()),
		EncodeRadErrorBySin: cfg.GetEncodeRadErrorBySin(),
	}
}
