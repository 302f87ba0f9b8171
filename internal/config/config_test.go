package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	for _, env := range []string{
		EnvPort, EnvLogLevel, EnvDataDir, EnvLeaseSeconds, EnvMaxAttempts,
		EnvRetryBaseSeconds, EnvPollSeconds, EnvClipWorkers, EnvVisionModel,
	} {
		os.Unsetenv(env)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("LogLevel() = %s", cfg.LogLevel())
	}
	if cfg.LeaseDuration() != 5*time.Minute {
		t.Errorf("LeaseDuration() = %v", cfg.LeaseDuration())
	}
	if cfg.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts() = %d", cfg.MaxAttempts())
	}
	if cfg.RetryBaseDelay() != 30*time.Second {
		t.Errorf("RetryBaseDelay() = %v", cfg.RetryBaseDelay())
	}
	if cfg.ClipWorkers() != DefaultClipWorkers {
		t.Errorf("ClipWorkers() = %d", cfg.ClipWorkers())
	}
	if cfg.AnalysisWorkers() != 1 {
		t.Errorf("AnalysisWorkers() = %d", cfg.AnalysisWorkers())
	}
	if cfg.VisionModel() != DefaultVisionModel {
		t.Errorf("VisionModel() = %s", cfg.VisionModel())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvDataDir, "/tmp/clipforge-test")
	t.Setenv(EnvLeaseSeconds, "60")
	t.Setenv(EnvClipWorkers, "4")
	t.Setenv(EnvVisionModel, "test-model")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.Port() != 9000 {
		t.Errorf("Port() = %d", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() = %s", cfg.LogLevel())
	}
	if cfg.DataDir() != "/tmp/clipforge-test" {
		t.Errorf("DataDir() = %s", cfg.DataDir())
	}
	if cfg.LeaseDuration() != time.Minute {
		t.Errorf("LeaseDuration() = %v", cfg.LeaseDuration())
	}
	if cfg.ClipWorkers() != 4 {
		t.Errorf("ClipWorkers() = %d", cfg.ClipWorkers())
	}
	if cfg.VisionModel() != "test-model" {
		t.Errorf("VisionModel() = %s", cfg.VisionModel())
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"lease below minimum", EnvLeaseSeconds, "0"},
		{"max attempts below minimum", EnvMaxAttempts, "0"},
		{"workers not a number", EnvClipWorkers, "two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%s succeeded, want error", tt.env, tt.value)
			}
		})
	}
}

func TestDataDirLayout(t *testing.T) {
	t.Setenv(EnvDataDir, "/data")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := cfg.DBPath(); got != filepath.Join("/data", DBFilename) {
		t.Errorf("DBPath() = %s", got)
	}
	if got := cfg.UploadsDir(); got != "/data/uploads" {
		t.Errorf("UploadsDir() = %s", got)
	}
	if got := cfg.KeyframesDir("p1"); got != "/data/keyframes/p1" {
		t.Errorf("KeyframesDir() = %s", got)
	}
	if got := cfg.ClipsDir("p1"); got != "/data/clips/p1" {
		t.Errorf("ClipsDir() = %s", got)
	}
	if got := cfg.ExportsDir("p1"); got != "/data/exports/p1" {
		t.Errorf("ExportsDir() = %s", got)
	}
}
