// Package analysis runs the video-analysis job: probe the source, sample
// keyframes, describe them with the vision model, persist the scene timeline
// and seed pending clips from the model's suggestions.
package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge-agent/internal/cloud"
	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/project"
	"github.com/clipforge/clipforge-agent/internal/transcode"
)

// Pipeline handles jobs of type video-analysis. Every step is written to be
// repeatable so a reclaimed job can run again from the top: keyframes and the
// audio track are overwritten, the timeline is replaced wholesale, and the
// project transitions re-enter their current status without error.
type Pipeline struct {
	repo       project.Repository
	transcoder transcode.Transcoder
	intel      cloud.SceneIntelligence
	logger     *slog.Logger

	// keyframesDir yields the working directory for a project's frames.
	keyframesDir func(projectID string) string
	batchSize    int
}

func NewPipeline(repo project.Repository, transcoder transcode.Transcoder, intel cloud.SceneIntelligence, keyframesDir func(string) string, batchSize int, logger *slog.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		repo:         repo,
		transcoder:   transcoder,
		intel:        intel,
		logger:       logger,
		keyframesDir: keyframesDir,
		batchSize:    batchSize,
	}
}

func (p *Pipeline) Type() jobs.Type {
	return jobs.TypeAnalysis
}

func (p *Pipeline) Handle(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) (any, error) {
	payload, err := jobs.DecodeAnalysisPayload(job.Payload)
	if err != nil {
		return nil, err
	}
	interval := payload.IntervalSeconds
	if interval <= 0 {
		interval = 3
	}

	logger := p.logger.With("job_id", job.ID, "project_id", payload.ProjectID)

	proj, err := p.repo.GetProject(ctx, payload.ProjectID)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, fmt.Errorf("%w: project %s", jobs.ErrNotFound, payload.ProjectID)
	}

	if err := p.repo.TransitionProject(ctx, payload.ProjectID, project.ProjectAnalyzing); err != nil {
		return nil, err
	}
	report(5)

	duration, err := p.transcoder.ProbeDuration(ctx, payload.VideoPath)
	if err != nil {
		return nil, err
	}
	if err := p.repo.SetProjectDuration(ctx, payload.ProjectID, duration); err != nil {
		return nil, err
	}
	report(10)
	logger.Info("video probed", "duration_seconds", duration)

	frameDir := p.keyframesDir(payload.ProjectID)
	frames, err := p.transcoder.ExtractKeyframes(ctx, payload.VideoPath, frameDir, interval)
	if err != nil {
		return nil, err
	}
	report(30)
	logger.Info("keyframes extracted", "count", len(frames), "interval_seconds", interval)

	// A silent video is still analyzable; audio extraction failure only
	// costs the transcript, not the job.
	audioPath := filepath.Join(frameDir, "audio.wav")
	if _, err := p.transcoder.ExtractAudio(ctx, payload.VideoPath, audioPath); err != nil {
		logger.Warn("audio extraction skipped", "error", err)
	}
	report(40)

	timeline, batchErr := p.analyzeFrames(ctx, logger, frames, interval)
	if len(timeline) == 0 && batchErr != nil {
		// Nothing survived; surface the last batch error so the job
		// retries instead of completing with an empty timeline.
		return nil, batchErr
	}
	report(70)

	if err := p.repo.SetProjectTimeline(ctx, payload.ProjectID, timeline); err != nil {
		return nil, err
	}
	if err := p.repo.TransitionProject(ctx, payload.ProjectID, project.ProjectAnalyzed); err != nil {
		return nil, err
	}
	report(80)
	logger.Info("timeline persisted", "scenes", len(timeline))

	suggestions, err := p.intel.DetectClips(ctx, timeline, duration)
	if err != nil {
		return nil, err
	}
	report(90)

	created := p.createPendingClips(ctx, logger, payload.ProjectID, duration, suggestions)
	logger.Info("analysis complete", "scenes", len(timeline), "clips", created)

	return jobs.AnalysisResult{SceneCount: len(timeline), ClipCount: created}, nil
}

// analyzeFrames walks the keyframes in fixed-size batches, in order, and
// concatenates the per-batch scenes. A failed batch is logged and dropped; the
// surviving batches still produce a usable timeline. The last batch error is
// returned so the caller can fail the job when every batch was lost.
func (p *Pipeline) analyzeFrames(ctx context.Context, logger *slog.Logger, frames []string, interval int) ([]project.SceneAnalysis, error) {
	var timeline []project.SceneAnalysis
	var lastErr error
	for start := 0; start < len(frames); start += p.batchSize {
		end := start + p.batchSize
		if end > len(frames) {
			end = len(frames)
		}
		offset := float64(start * interval)
		scenes, err := p.intel.AnalyzeBatch(ctx, frames[start:end], offset, interval)
		if err != nil {
			logger.Warn("frame batch dropped", "batch_start", start, "error", err)
			lastErr = err
			continue
		}
		timeline = append(timeline, scenes...)
	}
	return timeline, lastErr
}

// createPendingClips inserts a pending clip per vision suggestion. Suggestions
// with bad bounds are skipped; the model occasionally hallucinates ranges past
// the end of the video.
func (p *Pipeline) createPendingClips(ctx context.Context, logger *slog.Logger, projectID string, duration float64, suggestions []cloud.ClipSuggestion) int {
	created := 0
	now := time.Now().UTC()
	for _, s := range suggestions {
		if err := project.ValidateClipRange(s.StartTime, s.EndTime, duration); err != nil {
			logger.Warn("clip suggestion skipped", "start", s.StartTime, "end", s.EndTime, "error", err)
			continue
		}
		clip := &project.Clip{
			ID:              project.NewID(),
			ProjectID:       projectID,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			Description:     s.Description,
			ConfidenceScore: s.ConfidenceScore,
			Format:          project.FormatTikTok,
			Caption:         s.SuggestedCaption,
			Status:          project.ClipPending,
			CreatedAt:       now,
		}
		if err := p.repo.CreateClip(ctx, clip); err != nil {
			logger.Warn("clip suggestion insert failed", "error", err)
			continue
		}
		created++
	}
	return created
}

// HandleFinalFailure marks the project failed once the job has exhausted its
// attempts. The transition is best effort; the job row already records the
// error for operators.
func (p *Pipeline) HandleFinalFailure(ctx context.Context, job *jobs.Job) {
	payload, err := jobs.DecodeAnalysisPayload(job.Payload)
	if err != nil {
		return
	}
	if err := p.repo.TransitionProject(ctx, payload.ProjectID, project.ProjectFailed); err != nil {
		p.logger.Warn("project failure transition rejected", "job_id", job.ID, "project_id", payload.ProjectID, "error", err)
	}
}
