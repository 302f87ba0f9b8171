package project

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipforge/clipforge-agent/internal/jobs"
)

// Service owns entity-level operations and the enqueue side of the two job
// types. Pipeline-side mutations go through the repository directly.
type Service struct {
	repo   Repository
	queue  *jobs.Store
	logger *slog.Logger

	keyframeInterval int
}

func NewService(repo Repository, queue *jobs.Store, keyframeInterval int, logger *slog.Logger) *Service {
	if keyframeInterval <= 0 {
		keyframeInterval = 3
	}
	return &Service{repo: repo, queue: queue, logger: logger, keyframeInterval: keyframeInterval}
}

func (s *Service) CreateProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		name = "Untitled Project"
	}
	now := time.Now().UTC()
	p := &Project{
		ID:        NewID(),
		Name:      name,
		Status:    ProjectCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("project created", "project_id", p.ID, "name", name)
	}
	return p, nil
}

// AttachUpload records an uploaded source video on the project.
func (s *Service) AttachUpload(ctx context.Context, projectID, videoPath, videoName string) error {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: project %s", jobs.ErrNotFound, projectID)
	}
	if err := s.repo.SetProjectUpload(ctx, projectID, videoPath, videoName); err != nil {
		return err
	}
	return s.repo.TransitionProject(ctx, projectID, ProjectUploading)
}

// RequestAnalysis enqueues a video-analysis job for the project's source
// video. The job ID is returned for status polling.
func (s *Service) RequestAnalysis(ctx context.Context, projectID string) (string, error) {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", fmt.Errorf("%w: project %s", jobs.ErrNotFound, projectID)
	}
	if p.SourceVideoPath == "" {
		return "", fmt.Errorf("%w: project %s has no uploaded video", jobs.ErrValidation, projectID)
	}

	jobID, err := s.queue.EnqueueAnalysis(ctx, jobs.AnalysisPayload{
		ProjectID:       projectID,
		VideoPath:       p.SourceVideoPath,
		IntervalSeconds: s.keyframeInterval,
	})
	if err != nil {
		return "", err
	}
	if s.logger != nil {
		s.logger.Info("analysis requested", "project_id", projectID, "job_id", jobID)
	}
	return jobID, nil
}

// CreateClipParams describes a user- or suggestion-created clip.
type CreateClipParams struct {
	ProjectID       string
	StartTime       float64
	EndTime         float64
	Description     string
	ConfidenceScore float64
	Format          ClipFormat
	Caption         string
	BurnCaption     string
	ProductLinkID   string
	Enqueue         bool
}

// CreateClip validates bounds against the project duration, inserts a pending
// clip, and optionally enqueues its generation job.
func (s *Service) CreateClip(ctx context.Context, params CreateClipParams) (*Clip, string, error) {
	p, err := s.repo.GetProject(ctx, params.ProjectID)
	if err != nil {
		return nil, "", err
	}
	if p == nil || p.SourceVideoPath == "" {
		return nil, "", fmt.Errorf("%w: project %s or its video", jobs.ErrNotFound, params.ProjectID)
	}

	if err := ValidateClipRange(params.StartTime, params.EndTime, p.Duration); err != nil {
		return nil, "", err
	}

	format := params.Format
	if format == "" {
		format = FormatTikTok
	}

	clip := &Clip{
		ID:              NewID(),
		ProjectID:       params.ProjectID,
		StartTime:       params.StartTime,
		EndTime:         params.EndTime,
		Description:     params.Description,
		ConfidenceScore: params.ConfidenceScore,
		Format:          format,
		Caption:         params.Caption,
		ProductLinkID:   params.ProductLinkID,
		Status:          ClipPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateClip(ctx, clip); err != nil {
		return nil, "", err
	}

	if !params.Enqueue {
		return clip, "", nil
	}

	jobID, err := s.queue.EnqueueClip(ctx, jobs.ClipPayload{
		ProjectID:   params.ProjectID,
		ClipID:      clip.ID,
		VideoPath:   p.SourceVideoPath,
		StartTime:   params.StartTime,
		EndTime:     params.EndTime,
		Format:      string(format),
		BurnCaption: params.BurnCaption,
	})
	if err != nil {
		return nil, "", err
	}
	return clip, jobID, nil
}

// QueuedClip pairs a clip with the generation job created for it.
type QueuedClip struct {
	ClipID string `json:"clip_id"`
	JobID  string `json:"job_id"`
}

// GenerateAllPending enqueues generation jobs for every pending clip of a
// project, all in the requested format.
func (s *Service) GenerateAllPending(ctx context.Context, projectID string, format ClipFormat) ([]QueuedClip, error) {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.SourceVideoPath == "" {
		return nil, fmt.Errorf("%w: project %s or its video", jobs.ErrNotFound, projectID)
	}
	if format == "" {
		format = FormatTikTok
	}

	clips, err := s.repo.ListClipsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var queued []QueuedClip
	for _, clip := range clips {
		if clip.Status != ClipPending {
			continue
		}
		jobID, err := s.queue.EnqueueClip(ctx, jobs.ClipPayload{
			ProjectID: projectID,
			ClipID:    clip.ID,
			VideoPath: p.SourceVideoPath,
			StartTime: clip.StartTime,
			EndTime:   clip.EndTime,
			Format:    string(format),
		})
		if err != nil {
			return nil, err
		}
		queued = append(queued, QueuedClip{ClipID: clip.ID, JobID: jobID})
	}

	if s.logger != nil {
		s.logger.Info("pending clips queued", "project_id", projectID, "count", len(queued))
	}
	return queued, nil
}

// ValidateClipRange enforces 0 <= start < end <= duration. The upper bound is
// skipped while the project duration is still unknown.
func ValidateClipRange(start, end, duration float64) error {
	if start < 0 {
		return fmt.Errorf("%w: start time %.2f is negative", jobs.ErrValidation, start)
	}
	if end <= start {
		return fmt.Errorf("%w: end time %.2f must be after start time %.2f", jobs.ErrValidation, end, start)
	}
	if duration > 0 && end > duration {
		return fmt.Errorf("%w: end time %.2f exceeds video duration %.2f", jobs.ErrValidation, end, duration)
	}
	return nil
}
