// Package clipgen runs the clip-generation job: cut one clip out of the
// source video, optionally burn a caption into it, and record the output on
// the clip row.
package clipgen

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/project"
	"github.com/clipforge/clipforge-agent/internal/transcode"
)

// Pipeline handles jobs of type clip-generation. Validation runs before any
// ffmpeg invocation so a clip with impossible bounds dead-letters immediately
// instead of burning encoder time across retries.
type Pipeline struct {
	repo       project.Repository
	transcoder transcode.Transcoder
	logger     *slog.Logger

	// clipsDir yields the output directory for a project's rendered clips.
	clipsDir func(projectID string) string
}

func NewPipeline(repo project.Repository, transcoder transcode.Transcoder, clipsDir func(string) string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{repo: repo, transcoder: transcoder, clipsDir: clipsDir, logger: logger}
}

func (p *Pipeline) Type() jobs.Type {
	return jobs.TypeClipGeneration
}

func (p *Pipeline) Handle(ctx context.Context, job *jobs.Job, report jobs.ProgressFunc) (any, error) {
	payload, err := jobs.DecodeClipPayload(job.Payload)
	if err != nil {
		return nil, err
	}

	logger := p.logger.With("job_id", job.ID, "project_id", payload.ProjectID, "clip_id", payload.ClipID)

	clip, err := p.repo.GetClip(ctx, payload.ClipID)
	if err != nil {
		return nil, err
	}
	if clip == nil {
		return nil, fmt.Errorf("%w: clip %s", jobs.ErrNotFound, payload.ClipID)
	}
	proj, err := p.repo.GetProject(ctx, payload.ProjectID)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, fmt.Errorf("%w: project %s", jobs.ErrNotFound, payload.ProjectID)
	}

	format, ok := project.ParseFormat(payload.Format)
	if !ok {
		return nil, fmt.Errorf("%w: unknown clip format %q", jobs.ErrValidation, payload.Format)
	}
	if err := project.ValidateClipRange(payload.StartTime, payload.EndTime, proj.Duration); err != nil {
		return nil, err
	}

	if err := p.repo.TransitionClip(ctx, payload.ClipID, project.ClipProcessing); err != nil {
		return nil, err
	}
	report(10)

	outDir := p.clipsDir(payload.ProjectID)
	outputPath := filepath.Join(outDir, payload.ClipID+".mp4")
	if _, err := p.transcoder.Cut(ctx, payload.VideoPath, outputPath, payload.StartTime, payload.EndTime, format); err != nil {
		return nil, err
	}
	report(70)
	logger.Info("clip cut", "output", outputPath, "format", format)

	if payload.BurnCaption != "" {
		captionedPath := filepath.Join(outDir, payload.ClipID+"_captioned.mp4")
		if _, err := p.transcoder.BurnCaptions(ctx, outputPath, captionedPath, payload.BurnCaption); err != nil {
			return nil, err
		}
		outputPath = captionedPath
	}
	report(90)

	if err := p.repo.SetClipOutput(ctx, payload.ClipID, outputPath, format); err != nil {
		return nil, err
	}
	if err := p.repo.TransitionClip(ctx, payload.ClipID, project.ClipDone); err != nil {
		return nil, err
	}
	logger.Info("clip rendered", "output", outputPath)

	return jobs.ClipResult{OutputPath: outputPath}, nil
}

// HandleFinalFailure marks the clip failed once the job has exhausted its
// attempts. OutputPath stays empty; a half-written file on disk is never
// recorded.
func (p *Pipeline) HandleFinalFailure(ctx context.Context, job *jobs.Job) {
	payload, err := jobs.DecodeClipPayload(job.Payload)
	if err != nil {
		return
	}
	if err := p.repo.TransitionClip(ctx, payload.ClipID, project.ClipFailed); err != nil {
		p.logger.Warn("clip failure transition rejected", "job_id", job.ID, "clip_id", payload.ClipID, "error", err)
	}
}
