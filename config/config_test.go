package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !cfg.Explore() {
		t.Fatal("default must be fail-open exploration")
	}
}

func TestValidateFailsOnBadWeights(t *testing.T) {
	cfg := Default()
	cfg.ExposureWeight = 50 // 50+60 != 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for weights not summing to 100")
	}
}

func TestValidateAcceptsFractionalWeights(t *testing.T) {
	cfg := Default()
	cfg.ExposureWeight = 33.3
	cfg.DrawdownWeight = 66.7 // sums to 100 only up to float representation
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected fractional weights to pass, got %v", err)
	}
}

func TestValidateFailsOnBadBaseFraction(t *testing.T) {
	cfg := Default()
	cfg.BaseFraction = -0.01
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative BaseFraction")
	}
}

func TestValidateFailsOnZeroStepSize(t *testing.T) {
	cfg := Default()
	cfg.StepSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero StepSize")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	body := "min_signals: 2\nmin_win_rate: 0.4\nexplore_unseen: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MinSignals != 2 {
		t.Fatalf("override lost, MinSignals=%d", cfg.MinSignals)
	}
	if cfg.MinWinRate != 0.4 {
		t.Fatalf("override lost, MinWinRate=%v", cfg.MinWinRate)
	}
	if cfg.Explore() {
		t.Fatal("explore_unseen: false not honored")
	}
	// Untouched keys keep their defaults.
	if cfg.MaxTotalRisk != 0.05 {
		t.Fatalf("default lost, MaxTotalRisk=%v", cfg.MaxTotalRisk)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte("step_size: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
