package config

import (
	"math"
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// EngineConfig holds every tunable of the decision engine. Thresholds that
// diverged across earlier iterations (MinSignals, MinWinRate,
// MaxConsecutiveLosses) are deliberately configuration, not constants.
type EngineConfig struct {
	// Trade gate
	MinSignals           int     `yaml:"min_signals"`            // default 3
	MinSampleSize        uint    `yaml:"min_sample_size"`        // default 3
	MinWinRate           float64 `yaml:"min_win_rate"`           // default 0.5
	MaxConsecutiveLosses uint    `yaml:"max_consecutive_losses"` // default 2
	// ExploreUnseen approves patterns with no recorded outcomes. Fail-open
	// is the default; set false for conservative gating.
	ExploreUnseen *bool `yaml:"explore_unseen"`

	// Position sizing
	BaseFraction    float64 `yaml:"base_fraction"`     // default 0.01 = 1% of capital
	MaxPositionSize float64 `yaml:"max_position_size"` // default 0.02
	MaxTotalRisk    float64 `yaml:"max_total_risk"`    // default 0.05

	// Risk limits
	MaxDailyDrawdown    float64 `yaml:"max_daily_drawdown"`     // default 0.03
	RiskScoreCeiling    float64 `yaml:"risk_score_ceiling"`     // default 80
	ExposureWeight      float64 `yaml:"exposure_weight"`        // default 40
	DrawdownWeight      float64 `yaml:"drawdown_weight"`        // default 60, weights sum to 100
	MinOrderIntervalSec int     `yaml:"min_order_interval_sec"` // default 60

	// Stop computation
	StopATRMultiple float64 `yaml:"stop_atr_multiple"` // default 2

	// Exchange order increments
	QuantityPrecision int     `yaml:"quantity_precision"` // default 2
	MinQty            float64 `yaml:"min_qty"`            // default 0.001
	StepSize          float64 `yaml:"step_size"`          // default 0.0001

	// Pattern memory
	RecentOutcomeWindow int `yaml:"recent_outcome_window"` // default 5
	TradeMetricsWindow  int `yaml:"trade_metrics_window"`  // default 100
}

// Default returns the documented defaults.
func Default() EngineConfig {
	explore := true
	return EngineConfig{
		MinSignals:           3,
		MinSampleSize:        3,
		MinWinRate:           0.5,
		MaxConsecutiveLosses: 2,
		ExploreUnseen:        &explore,
		BaseFraction:         0.01,
		MaxPositionSize:      0.02,
		MaxTotalRisk:         0.05,
		MaxDailyDrawdown:     0.03,
		RiskScoreCeiling:     80,
		ExposureWeight:       40,
		DrawdownWeight:       60,
		MinOrderIntervalSec:  60,
		StopATRMultiple:      2,
		QuantityPrecision:    2,
		MinQty:               0.001,
		StepSize:             0.0001,
		RecentOutcomeWindow:  5,
		TradeMetricsWindow:   100,
	}
}

// Explore reports whether unseen patterns trade. Nil means the fail-open
// default.
func (c *EngineConfig) Explore() bool {
	return c.ExploreUnseen == nil || *c.ExploreUnseen
}

// Validate checks that all numeric fields are within sensible bounds.
// It returns the first encountered error, allowing the caller to surface a
// clear configuration problem before any trading starts.
func (c *EngineConfig) Validate() error {
	if c.MinSignals < 1 {
		return errors.New("MinSignals must be at least 1")
	}
	if c.MinSampleSize == 0 {
		return errors.New("MinSampleSize must be positive")
	}
	if c.MinWinRate < 0 || c.MinWinRate > 1 {
		return errors.Errorf("MinWinRate (%f) must be within [0,1]", c.MinWinRate)
	}
	if c.MaxConsecutiveLosses == 0 {
		return errors.New("MaxConsecutiveLosses must be positive")
	}
	if c.BaseFraction <= 0 || c.BaseFraction > 0.5 {
		return errors.Errorf("BaseFraction (%f) must be >0 and <=0.5", c.BaseFraction)
	}
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 0.5 {
		return errors.Errorf("MaxPositionSize (%f) must be >0 and <=0.5", c.MaxPositionSize)
	}
	if c.MaxTotalRisk <= 0 || c.MaxTotalRisk > 1 {
		return errors.Errorf("MaxTotalRisk (%f) must be >0 and <=1", c.MaxTotalRisk)
	}
	if c.MaxDailyDrawdown <= 0 || c.MaxDailyDrawdown > 0.5 {
		return errors.Errorf("MaxDailyDrawdown (%f) must be >0 and <=0.5", c.MaxDailyDrawdown)
	}
	if c.RiskScoreCeiling <= 0 || c.RiskScoreCeiling > 100 {
		return errors.Errorf("RiskScoreCeiling (%f) must be within (0,100]", c.RiskScoreCeiling)
	}
	// Tolerance absorbs representation error in fractional weights
	// like 33.3/66.7.
	if math.Abs(c.ExposureWeight+c.DrawdownWeight-100) > 1e-6 {
		return errors.Errorf("ExposureWeight+DrawdownWeight must sum to 100, got %f",
			c.ExposureWeight+c.DrawdownWeight)
	}
	if c.MinOrderIntervalSec < 0 {
		return errors.New("MinOrderIntervalSec cannot be negative")
	}
	if c.StopATRMultiple <= 0 {
		return errors.New("StopATRMultiple must be positive")
	}
	if c.QuantityPrecision < 0 {
		return errors.New("QuantityPrecision cannot be negative")
	}
	if c.MinQty < 0 {
		return errors.New("MinQty cannot be negative")
	}
	if c.StepSize <= 0 {
		return errors.New("StepSize must be positive")
	}
	if c.RecentOutcomeWindow <= 0 {
		return errors.New("RecentOutcomeWindow must be positive")
	}
	if c.TradeMetricsWindow <= 0 {
		return errors.New("TradeMetricsWindow must be positive")
	}
	return nil
}

// Load reads a YAML file over the defaults, so a partial file only needs
// the keys it overrides. The CONFIG_FILE env var wins over the argument.
func Load(path string) (EngineConfig, error) {
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		path = env
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config: read file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "config: parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "config: validate")
	}
	return cfg, nil
}
