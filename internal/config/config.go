// Package config provides configuration management for the ClipForge agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipforge"

	// Environment variable names
	EnvPort     = "CLIPFORGE_PORT"
	EnvLogLevel = "CLIPFORGE_LOG_LEVEL"
	EnvDataDir  = "CLIPFORGE_DATA_DIR"

	EnvFFmpeg  = "CLIPFORGE_FFMPEG"
	EnvFFprobe = "CLIPFORGE_FFPROBE"

	EnvVisionBaseURL = "CLIPFORGE_VISION_BASE_URL"
	EnvVisionAPIKey  = "CLIPFORGE_VISION_API_KEY"
	EnvVisionModel   = "CLIPFORGE_VISION_MODEL"

	EnvLeaseSeconds     = "CLIPFORGE_LEASE_SECONDS"
	EnvMaxAttempts      = "CLIPFORGE_MAX_ATTEMPTS"
	EnvRetryBaseSeconds = "CLIPFORGE_RETRY_BASE_SECONDS"
	EnvPollSeconds      = "CLIPFORGE_POLL_SECONDS"
	EnvClipWorkers      = "CLIPFORGE_CLIP_WORKERS"

	// Database filename
	DBFilename = "clipforge.db"

	// Queue defaults
	DefaultLeaseSeconds     = 300 // 5 minutes
	DefaultMaxAttempts      = 3
	DefaultRetryBaseSeconds = 30
	DefaultPollSeconds      = 2
	DefaultClipWorkers      = 2
	DefaultAnalysisWorkers  = 1

	// Analysis defaults
	DefaultKeyframeInterval = 3  // seconds between sampled frames
	DefaultBatchSize        = 10 // frames per vision request

	// Vision defaults
	DefaultVisionModel = "claude-sonnet-4-5-20250929"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	UploadsDir() string
	KeyframesDir(projectID string) string
	ClipsDir(projectID string) string
	ExportsDir(projectID string) string

	FFmpegPath() string
	FFprobePath() string

	VisionBaseURL() string
	VisionAPIKey() string
	VisionModel() string

	LeaseDuration() time.Duration
	MaxAttempts() int
	RetryBaseDelay() time.Duration
	PollInterval() time.Duration
	ClipWorkers() int
	AnalysisWorkers() int

	KeyframeInterval() int
	BatchSize() int
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpegPath  string
	ffprobePath string

	visionBaseURL string
	visionAPIKey  string
	visionModel   string

	leaseSeconds     int
	maxAttempts      int
	retryBaseSeconds int
	pollSeconds      int
	clipWorkers      int
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          defaultDataDir(),
		visionModel:      DefaultVisionModel,
		leaseSeconds:     DefaultLeaseSeconds,
		maxAttempts:      DefaultMaxAttempts,
		retryBaseSeconds: DefaultRetryBaseSeconds,
		pollSeconds:      DefaultPollSeconds,
		clipWorkers:      DefaultClipWorkers,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpeg)
	cfg.ffprobePath = os.Getenv(EnvFFprobe)

	cfg.visionBaseURL = os.Getenv(EnvVisionBaseURL)
	cfg.visionAPIKey = os.Getenv(EnvVisionAPIKey)
	if m := os.Getenv(EnvVisionModel); m != "" {
		cfg.visionModel = m
	}

	intVars := []struct {
		env string
		dst *int
		min int
	}{
		{EnvLeaseSeconds, &cfg.leaseSeconds, 1},
		{EnvMaxAttempts, &cfg.maxAttempts, 1},
		{EnvRetryBaseSeconds, &cfg.retryBaseSeconds, 0},
		{EnvPollSeconds, &cfg.pollSeconds, 1},
		{EnvClipWorkers, &cfg.clipWorkers, 1},
	}
	for _, v := range intVars {
		raw := os.Getenv(v.env)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", v.env, err)
		}
		if n < v.min {
			return nil, fmt.Errorf("invalid %s: must be >= %d", v.env, v.min)
		}
		*v.dst = n
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// UploadsDir returns the directory where source videos are stored
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// KeyframesDir returns the per-project directory for extracted frames and audio
func (c *EnvConfig) KeyframesDir(projectID string) string {
	return filepath.Join(c.dataDir, "keyframes", projectID)
}

// ClipsDir returns the per-project directory for cut clip files
func (c *EnvConfig) ClipsDir(projectID string) string {
	return filepath.Join(c.dataDir, "clips", projectID)
}

// ExportsDir returns the per-project directory for export archives
func (c *EnvConfig) ExportsDir(projectID string) string {
	return filepath.Join(c.dataDir, "exports", projectID)
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) VisionBaseURL() string {
	return c.visionBaseURL
}

func (c *EnvConfig) VisionAPIKey() string {
	return c.visionAPIKey
}

func (c *EnvConfig) VisionModel() string {
	return c.visionModel
}

func (c *EnvConfig) LeaseDuration() time.Duration {
	return time.Duration(c.leaseSeconds) * time.Second
}

func (c *EnvConfig) MaxAttempts() int {
	return c.maxAttempts
}

func (c *EnvConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.retryBaseSeconds) * time.Second
}

func (c *EnvConfig) PollInterval() time.Duration {
	return time.Duration(c.pollSeconds) * time.Second
}

func (c *EnvConfig) ClipWorkers() int {
	return c.clipWorkers
}

func (c *EnvConfig) AnalysisWorkers() int {
	return DefaultAnalysisWorkers
}

func (c *EnvConfig) KeyframeInterval() int {
	return DefaultKeyframeInterval
}

func (c *EnvConfig) BatchSize() int {
	return DefaultBatchSize
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
