package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Params defines the tunable parameters of the bandit scorer.
type Params struct {
	ExplorationConstant float64 `json:"exploration_constant"` // UCB1 confidence multiplier (default: 1.5)
	PriorCTR            float64 `json:"prior_ctr"`            // Assumed CTR for unobserved items (default: 0.02)
	CommissionWeight    float64 `json:"commission_weight"`    // Weight for the commission bonus signal (default: 0.2)
	FreshnessWeight     float64 `json:"freshness_weight"`     // Weight for the freshness signal (default: 0.1)

	// FreshnessHorizon is the window over which freshness decays linearly
	// from 1 to 0. Stored in hours in calibration files.
	FreshnessHorizon time.Duration `json:"-"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
// Fields are pointers so that an absent key and an explicit zero can be told
// apart: a file may legitimately set a weight to 0 to switch a signal off.
type CalibrationConfig struct {
	Version               string   `json:"version"` // Config version for future compatibility
	ExplorationConstant   *float64 `json:"exploration_constant"`
	PriorCTR              *float64 `json:"prior_ctr"`
	CommissionWeight      *float64 `json:"commission_weight"`
	FreshnessWeight       *float64 `json:"freshness_weight"`
	FreshnessHorizonHours *float64 `json:"freshness_horizon_hours"`
}

// DefaultFreshnessHorizon is the default decay window for the freshness
// signal: a story updated seven days ago scores 0.
const DefaultFreshnessHorizon = 7 * 24 * time.Hour

// DefaultParams returns the default bandit scoring parameters.
//
// Score formula: score = ctr + exploration_bonus + business_term, where
//   - ctr falls back to PriorCTR for items with no observed views
//   - exploration_bonus = C * sqrt(ln(T) / views), the UCB1 confidence term
//   - business_term = (commission * 0.2) + (freshness * 0.1)
//
// The prior CTR is supplied externally (it is not trained here) and the
// defaults are calibrated so that engagement dominates business nudges.
func DefaultParams() *Params {
	return &Params{
		ExplorationConstant: 1.5,
		PriorCTR:            0.02,
		CommissionWeight:    0.2,
		FreshnessWeight:     0.1,
		FreshnessHorizon:    DefaultFreshnessHorizon,
	}
}

// LoadCalibration loads bandit parameters from a JSON calibration file.
// If the file doesn't exist or can't be parsed, returns default parameters
// with an error so the caller can log the degradation. Partial
// configurations are merged with defaults.
func LoadCalibration(filePath string) (*Params, error) {
	if filePath == "" {
		return DefaultParams(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultParams(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultParams(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultParams()
	merged := MergeCalibration(defaults, &config)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges calibration overrides with base parameters.
// Only keys present in the file are applied, which allows partial overrides;
// an explicit zero is a valid override.
func MergeCalibration(base *Params, override *CalibrationConfig) *Params {
	if base == nil {
		base = DefaultParams()
	}

	result := *base
	if override == nil {
		return &result
	}

	if override.ExplorationConstant != nil {
		result.ExplorationConstant = *override.ExplorationConstant
	}
	if override.PriorCTR != nil {
		result.PriorCTR = *override.PriorCTR
	}
	if override.CommissionWeight != nil {
		result.CommissionWeight = *override.CommissionWeight
	}
	if override.FreshnessWeight != nil {
		result.FreshnessWeight = *override.FreshnessWeight
	}
	if override.FreshnessHorizonHours != nil {
		result.FreshnessHorizon = time.Duration(*override.FreshnessHorizonHours * float64(time.Hour))
	}

	return &result
}

// logCalibrationOverrides logs which parameters were overridden from defaults.
func logCalibrationOverrides(defaults *Params, loaded *Params) {
	var overrides []string

	if loaded.ExplorationConstant != defaults.ExplorationConstant {
		overrides = append(overrides, fmt.Sprintf("exploration_constant: %.2f -> %.2f",
			defaults.ExplorationConstant, loaded.ExplorationConstant))
	}
	if loaded.PriorCTR != defaults.PriorCTR {
		overrides = append(overrides, fmt.Sprintf("prior_ctr: %.3f -> %.3f",
			defaults.PriorCTR, loaded.PriorCTR))
	}
	if loaded.CommissionWeight != defaults.CommissionWeight {
		overrides = append(overrides, fmt.Sprintf("commission_weight: %.2f -> %.2f",
			defaults.CommissionWeight, loaded.CommissionWeight))
	}
	if loaded.FreshnessWeight != defaults.FreshnessWeight {
		overrides = append(overrides, fmt.Sprintf("freshness_weight: %.2f -> %.2f",
			defaults.FreshnessWeight, loaded.FreshnessWeight))
	}
	if loaded.FreshnessHorizon != defaults.FreshnessHorizon {
		overrides = append(overrides, fmt.Sprintf("freshness_horizon: %s -> %s",
			defaults.FreshnessHorizon, loaded.FreshnessHorizon))
	}

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
