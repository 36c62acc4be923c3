package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the detection
// post-processing layer. The schema matches the /api/detect/params
// endpoint so the same JSON can be used for both startup configuration
// and runtime updates.
type TuningConfig struct {
	// Scoring params
	NumClass                *int  `json:"num_class,omitempty"`
	EncodeBackgroundAsZeros *bool `json:"encode_background_as_zeros,omitempty"`
	UseSigmoidScore         *bool `json:"use_sigmoid_score,omitempty"`
	UseDirectionClassifier  *bool `json:"use_direction_classifier,omitempty"`

	// Suppression params
	UseRotateNMS      *bool    `json:"use_rotate_nms,omitempty"`
	UseMulticlassNMS  *bool    `json:"use_multiclass_nms,omitempty"`
	NMSScoreThreshold *float64 `json:"nms_score_threshold,omitempty"`
	NMSPreMaxSize     *int     `json:"nms_pre_max_size,omitempty"`
	NMSPostMaxSize    *int     `json:"nms_post_max_size,omitempty"`
	NMSIoUThreshold   *float64 `json:"nms_iou_threshold,omitempty"`
	PredictWorkers    *int     `json:"predict_workers,omitempty"`

	// Loss params
	LossNormType        *string  `json:"loss_norm_type,omitempty"`
	PosClassWeight      *float64 `json:"pos_class_weight,omitempty"`
	NegClassWeight      *float64 `json:"neg_class_weight,omitempty"`
	LocLossWeight       *float64 `json:"loc_loss_weight,omitempty"`
	ClsLossWeight       *float64 `json:"cls_loss_weight,omitempty"`
	DirectionLossWeight *float64 `json:"direction_loss_weight,omitempty"`
	EncodeRadErrorBySin *bool    `json:"encode_rad_error_by_sin,omitempty"`

	// Reporting params
	ClassNames    []string `json:"class_names,omitempty"`
	FlushInterval *string  `json:"flush_interval,omitempty"` // duration string like "60s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/detect/pipeline/
		"../../../../" + DefaultConfigPath,    // from internal/detect/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Range checks
// only; cross-field consistency (sigmoid vs background encoding, norm
// type names) is enforced where the values are consumed.
func (c *TuningConfig) Validate() error {
	if c.NumClass != nil && *c.NumClass < 1 {
		return fmt.Errorf("num_class must be at least 1, got %d", *c.NumClass)
	}
	if c.NMSScoreThreshold != nil {
		if *c.NMSScoreThreshold < 0 || *c.NMSScoreThreshold >= 1 {
			return fmt.Errorf("nms_score_threshold must be in [0, 1), got %f", *c.NMSScoreThreshold)
		}
	}
	if c.NMSIoUThreshold != nil {
		if *c.NMSIoUThreshold < 0 || *c.NMSIoUThreshold > 1 {
			return fmt.Errorf("nms_iou_threshold must be between 0 and 1, got %f", *c.NMSIoUThreshold)
		}
	}
	if c.NMSPreMaxSize != nil && *c.NMSPreMaxSize < 1 {
		return fmt.Errorf("nms_pre_max_size must be positive, got %d", *c.NMSPreMaxSize)
	}
	if c.NMSPostMaxSize != nil && *c.NMSPostMaxSize < 1 {
		return fmt.Errorf("nms_post_max_size must be positive, got %d", *c.NMSPostMaxSize)
	}
	if c.PredictWorkers != nil && *c.PredictWorkers < 0 {
		return fmt.Errorf("predict_workers must be non-negative, got %d", *c.PredictWorkers)
	}
	if c.PosClassWeight != nil && *c.PosClassWeight <= 0 {
		return fmt.Errorf("pos_class_weight must be positive, got %f", *c.PosClassWeight)
	}
	if c.NegClassWeight != nil && *c.NegClassWeight <= 0 {
		return fmt.Errorf("neg_class_weight must be positive, got %f", *c.NegClassWeight)
	}

	// Validate FlushInterval can be parsed if set
	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	return nil
}

// GetNumClass returns the num_class value or the default.
func (c *TuningConfig) GetNumClass() int {
	if c.NumClass == nil {
		return 1
	}
	return *c.NumClass
}

// GetEncodeBackgroundAsZeros returns the encode_background_as_zeros value or the default.
func (c *TuningConfig) GetEncodeBackgroundAsZeros() bool {
	if c.EncodeBackgroundAsZeros == nil {
		return true
	}
	return *c.EncodeBackgroundAsZeros
}

// GetUseSigmoidScore returns the use_sigmoid_score value or the default.
func (c *TuningConfig) GetUseSigmoidScore() bool {
	if c.UseSigmoidScore == nil {
		return true
	}
	return *c.UseSigmoidScore
}

// GetUseDirectionClassifier returns the use_direction_classifier value or the default.
func (c *TuningConfig) GetUseDirectionClassifier() bool {
	if c.UseDirectionClassifier == nil {
		return true
	}
	return *c.UseDirectionClassifier
}

// GetUseRotateNMS returns the use_rotate_nms value or the default.
func (c *TuningConfig) GetUseRotateNMS() bool {
	if c.UseRotateNMS == nil {
		return false
	}
	return *c.UseRotateNMS
}

// GetUseMulticlassNMS returns the use_multiclass_nms value or the default.
func (c *TuningConfig) GetUseMulticlassNMS() bool {
	if c.UseMulticlassNMS == nil {
		return false
	}
	return *c.UseMulticlassNMS
}

// GetNMSScoreThreshold returns the nms_score_threshold value or the default.
func (c *TuningConfig) GetNMSScoreThreshold() float64 {
	if c.NMSScoreThreshold == nil {
		return 0.05
	}
	return *c.NMSScoreThreshold
}

// GetNMSPreMaxSize returns the nms_pre_max_size value or the default.
func (c *TuningConfig) GetNMSPreMaxSize() int {
	if c.NMSPreMaxSize == nil {
		return 1000
	}
	return *c.NMSPreMaxSize
}

// GetNMSPostMaxSize returns the nms_post_max_size value or the default.
func (c *TuningConfig) GetNMSPostMaxSize() int {
	if c.NMSPostMaxSize == nil {
		return 300
	}
	return *c.NMSPostMaxSize
}

// GetNMSIoUThreshold returns the nms_iou_threshold value or the default.
func (c *TuningConfig) GetNMSIoUThreshold() float64 {
	if c.NMSIoUThreshold == nil {
		return 0.5
	}
	return *c.NMSIoUThreshold
}

// GetPredictWorkers returns the predict_workers value or the default.
func (c *TuningConfig) GetPredictWorkers() int {
	if c.PredictWorkers == nil {
		return 0 // serial
	}
	return *c.PredictWorkers
}

// GetLossNormType returns the loss_norm_type value or the default.
func (c *TuningConfig) GetLossNormType() string {
	if c.LossNormType == nil {
		return "NormByNumPositives"
	}
	return *c.LossNormType
}

// GetPosClassWeight returns the pos_class_weight value or the default.
func (c *TuningConfig) GetPosClassWeight() float64 {
	if c.PosClassWeight == nil {
		return 1.0
	}
	return *c.PosClassWeight
}

// GetNegClassWeight returns the neg_class_weight value or the default.
func (c *TuningConfig) GetNegClassWeight() float64 {
	if c.NegClassWeight == nil {
		return 1.0
	}
	return *c.NegClassWeight
}

// GetLocLossWeight returns the loc_loss_weight value or the default.
func (c *TuningConfig) GetLocLossWeight() float64 {
	if c.LocLossWeight == nil {
		return 2.0
	}
	return *c.LocLossWeight
}

// GetClsLossWeight returns the cls_loss_weight value or the default.
func (c *TuningConfig) GetClsLossWeight() float64 {
	if c.ClsLossWeight == nil {
		return 1.0
	}
	return *c.ClsLossWeight
}

// GetDirectionLossWeight returns the direction_loss_weight value or the default.
func (c *TuningConfig) GetDirectionLossWeight() float64 {
	if c.DirectionLossWeight == nil {
		return 0.2
	}
	return *c.DirectionLossWeight
}

// GetEncodeRadErrorBySin returns the encode_rad_error_by_sin value or the default.
func (c *TuningConfig) GetEncodeRadErrorBySin() bool {
	if c.EncodeRadErrorBySin == nil {
		return true
	}
	return *c.EncodeRadErrorBySin
}

// GetClassNames returns the class_names value or the default.
func (c *TuningConfig) GetClassNames() []string {
	if len(c.ClassNames) == 0 {
		return []string{"vehicle"}
	}
	return c.ClassNames
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}
