package cloud

import (
	"context"
	"io"
	"log/slog"

	"github.com/clipforge/clipforge-agent/internal/project"
)

// StubClient is the offline SceneIntelligence used when no API key is
// configured. Analysis jobs still run their media steps; the intelligence
// results are simply empty.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StubClient{logger: logger}
}

func (s *StubClient) AnalyzeBatch(ctx context.Context, framePaths []string, batchStartOffset float64, intervalSeconds int) ([]project.SceneAnalysis, error) {
	s.logger.Info("scene intelligence stub: batch analysis requested", "frames", len(framePaths))
	return nil, nil
}

func (s *StubClient) DetectClips(ctx context.Context, timeline []project.SceneAnalysis, videoDuration float64) ([]ClipSuggestion, error) {
	s.logger.Info("scene intelligence stub: clip detection requested", "scenes", len(timeline))
	return nil, nil
}

func (s *StubClient) GenerateCaption(ctx context.Context, clipDescription, productInfo, tone string) (CaptionResult, error) {
	s.logger.Info("scene intelligence stub: caption generation requested")
	return CaptionResult{Caption: clipDescription}, nil
}

func (s *StubClient) MatchProduct(ctx context.Context, title, category string, timeline []project.SceneAnalysis) ([]project.SceneMatch, error) {
	s.logger.Info("scene intelligence stub: product matching requested", "title", title)
	return nil, nil
}
