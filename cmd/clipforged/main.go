package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"github.com/clipforge/clipforge-agent/internal/analysis"
	"github.com/clipforge/clipforge-agent/internal/api"
	"github.com/clipforge/clipforge-agent/internal/clipgen"
	"github.com/clipforge/clipforge-agent/internal/cloud"
	"github.com/clipforge/clipforge-agent/internal/config"
	"github.com/clipforge/clipforge-agent/internal/db"
	"github.com/clipforge/clipforge-agent/internal/export"
	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/logging"
	"github.com/clipforge/clipforge-agent/internal/playback"
	"github.com/clipforge/clipforge-agent/internal/project"
	"github.com/clipforge/clipforge-agent/internal/transcode"
	"github.com/clipforge/clipforge-agent/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Optional; absent .env files are not an error.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.UploadsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create uploads dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipforge agent",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	// One agent per data dir; two processes sharing the SQLite queue would
	// double-lease jobs the moment a lease expires.
	lockPath := filepath.Join(cfg.DataDir(), "agent.lock")
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another agent is already running on %s", cfg.DataDir())
	}
	defer fileLock.Unlock()

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := project.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}
	logger.Info("api ready", "url", fmt.Sprintf("http://127.0.0.1:%d", cfg.Port()), "auth_token", authToken)

	queue := jobs.NewStore(database.Conn(), logger,
		jobs.WithMaxAttempts(cfg.MaxAttempts()),
		jobs.WithRetryBaseDelay(cfg.RetryBaseDelay()),
	)

	transcoder, err := transcode.New(transcode.Config{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	var intel cloud.SceneIntelligence
	if cfg.VisionAPIKey() != "" {
		intel = cloud.NewHTTPClient(cfg.VisionBaseURL(), cfg.VisionAPIKey(), cfg.VisionModel(), logger)
		logger.Info("vision analysis enabled", "model", cfg.VisionModel())
	} else {
		intel = cloud.NewStubClient(logger)
		logger.Warn("no vision API key configured, analysis will produce empty timelines")
	}

	projectSvc := project.NewService(repo, queue, cfg.KeyframeInterval(), logger)

	analysisPipeline := analysis.NewPipeline(repo, transcoder, intel, cfg.KeyframesDir, cfg.BatchSize(), logger)
	clipPipeline := clipgen.NewPipeline(repo, transcoder, cfg.ClipsDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	analysisPool := worker.NewPool(queue, analysisPipeline, cfg.AnalysisWorkers(), cfg.PollInterval(), cfg.LeaseDuration(), logger)
	clipPool := worker.NewPool(queue, clipPipeline, cfg.ClipWorkers(), cfg.PollInterval(), cfg.LeaseDuration(), logger)

	var pools sync.WaitGroup
	pools.Add(2)
	go func() {
		defer pools.Done()
		analysisPool.Start(ctx)
	}()
	go func() {
		defer pools.Done()
		clipPool.Start(ctx)
	}()

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		UploadsDir: cfg.UploadsDir(),
		Repository: repo,
		Projects:   projectSvc,
		Jobs:       queue,
		Intel:      intel,
		Playback:   playback.NewServer(logger),
		Archiver:   export.NewArchiver(repo, cfg.ExportsDir),
		Logger:     logger,
		StartTime:  startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// In-flight jobs settle their Complete/Fail writes before the
	// process exits; otherwise they wait out a full lease on restart.
	pools.Wait()

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
