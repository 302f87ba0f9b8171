package clipgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/clipforge/clipforge-agent/internal/db"
	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/project"
)

type fakeTranscoder struct {
	cutErr  error
	burnErr error

	cutCalls  int
	burnCalls int
	lastStart float64
	lastEnd   float64
	lastFmt   project.ClipFormat
}

func (f *fakeTranscoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return 0, errors.New("not used")
}

func (f *fakeTranscoder) ExtractKeyframes(ctx context.Context, path, outDir string, intervalSeconds int) ([]string, error) {
	return nil, errors.New("not used")
}

func (f *fakeTranscoder) ExtractAudio(ctx context.Context, path, outPath string) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeTranscoder) Cut(ctx context.Context, path, outPath string, start, end float64, format project.ClipFormat) (string, error) {
	f.cutCalls++
	f.lastStart, f.lastEnd, f.lastFmt = start, end, format
	if f.cutErr != nil {
		return "", f.cutErr
	}
	return outPath, nil
}

func (f *fakeTranscoder) BurnCaptions(ctx context.Context, inputPath, outPath, caption string) (string, error) {
	f.burnCalls++
	if f.burnErr != nil {
		return "", f.burnErr
	}
	return outPath, nil
}

func setupPipeline(t *testing.T, transcoder *fakeTranscoder) (*Pipeline, project.Repository, string) {
	t.Helper()
	tmpDir := t.TempDir()

	database, err := db.New(filepath.Join(tmpDir, "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := project.NewRepository(database.Conn())
	clipsDir := func(projectID string) string {
		return filepath.Join(tmpDir, "clips", projectID)
	}
	return NewPipeline(repo, transcoder, clipsDir, nil), repo, tmpDir
}

func seedClip(t *testing.T, repo project.Repository, duration float64) (*project.Project, *project.Clip) {
	t.Helper()
	ctx := context.Background()

	p := &project.Project{
		ID:              project.NewID(),
		Name:            "Demo",
		SourceVideoPath: "/videos/demo.mp4",
		Duration:        duration,
		Status:          project.ProjectAnalyzed,
	}
	if err := repo.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	c := &project.Clip{
		ID:        project.NewID(),
		ProjectID: p.ID,
		StartTime: 10,
		EndTime:   25,
		Format:    project.FormatTikTok,
		Status:    project.ClipPending,
	}
	if err := repo.CreateClip(ctx, c); err != nil {
		t.Fatalf("CreateClip() error = %v", err)
	}
	return p, c
}

func clipJob(t *testing.T, p *project.Project, c *project.Clip, format, burnCaption string) *jobs.Job {
	t.Helper()
	payload, err := json.Marshal(jobs.ClipPayload{
		ProjectID:   p.ID,
		ClipID:      c.ID,
		VideoPath:   p.SourceVideoPath,
		StartTime:   c.StartTime,
		EndTime:     c.EndTime,
		Format:      format,
		BurnCaption: burnCaption,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &jobs.Job{ID: "job-1", Type: jobs.TypeClipGeneration, Payload: payload}
}

func TestPipeline_Handle(t *testing.T) {
	transcoder := &fakeTranscoder{}
	pipeline, repo, tmpDir := setupPipeline(t, transcoder)
	ctx := context.Background()
	p, c := seedClip(t, repo, 90)

	var progress []int
	result, err := pipeline.Handle(ctx, clipJob(t, p, c, "reels", ""), func(n int) { progress = append(progress, n) })
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if want := []int{10, 70, 90}; !reflect.DeepEqual(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}

	res := result.(jobs.ClipResult)
	wantPath := filepath.Join(tmpDir, "clips", p.ID, c.ID+".mp4")
	if res.OutputPath != wantPath {
		t.Errorf("OutputPath = %s, want %s", res.OutputPath, wantPath)
	}

	if transcoder.cutCalls != 1 || transcoder.burnCalls != 0 {
		t.Errorf("cutCalls = %d, burnCalls = %d", transcoder.cutCalls, transcoder.burnCalls)
	}
	if transcoder.lastStart != 10 || transcoder.lastEnd != 25 || transcoder.lastFmt != project.FormatReels {
		t.Errorf("cut args = %v-%v %s", transcoder.lastStart, transcoder.lastEnd, transcoder.lastFmt)
	}

	got, _ := repo.GetClip(ctx, c.ID)
	if got.Status != project.ClipDone {
		t.Errorf("clip status = %s, want done", got.Status)
	}
	if got.OutputPath != wantPath {
		t.Errorf("clip output path = %s, want %s", got.OutputPath, wantPath)
	}
	if got.Format != project.FormatReels {
		t.Errorf("clip format = %s, want reels", got.Format)
	}
}

func TestPipeline_Handle_BurnCaption(t *testing.T) {
	transcoder := &fakeTranscoder{}
	pipeline, repo, tmpDir := setupPipeline(t, transcoder)
	ctx := context.Background()
	p, c := seedClip(t, repo, 90)

	result, err := pipeline.Handle(ctx, clipJob(t, p, c, "tiktok", "WAIT FOR IT"), func(int) {})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if transcoder.burnCalls != 1 {
		t.Fatalf("burnCalls = %d, want 1", transcoder.burnCalls)
	}

	wantPath := filepath.Join(tmpDir, "clips", p.ID, c.ID+"_captioned.mp4")
	if res := result.(jobs.ClipResult); res.OutputPath != wantPath {
		t.Errorf("OutputPath = %s, want captioned file %s", res.OutputPath, wantPath)
	}

	got, _ := repo.GetClip(ctx, c.ID)
	if got.OutputPath != wantPath {
		t.Errorf("clip output path = %s, want %s", got.OutputPath, wantPath)
	}
}

func TestPipeline_Handle_ValidatesBeforeCutting(t *testing.T) {
	transcoder := &fakeTranscoder{}
	pipeline, repo, _ := setupPipeline(t, transcoder)
	ctx := context.Background()
	p, c := seedClip(t, repo, 20) // clip runs 10-25, past the 20s duration

	_, err := pipeline.Handle(ctx, clipJob(t, p, c, "tiktok", ""), func(int) {})
	if !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("Handle() error = %v, want ErrValidation", err)
	}
	if jobs.Retryable(err) {
		t.Error("bounds violation should not be retryable")
	}
	if transcoder.cutCalls != 0 {
		t.Errorf("cutCalls = %d, want 0 before validation", transcoder.cutCalls)
	}

	got, _ := repo.GetClip(ctx, c.ID)
	if got.Status != project.ClipPending {
		t.Errorf("clip status = %s, want still pending", got.Status)
	}
}

func TestPipeline_Handle_UnknownFormat(t *testing.T) {
	pipeline, repo, _ := setupPipeline(t, &fakeTranscoder{})
	p, c := seedClip(t, repo, 90)

	_, err := pipeline.Handle(context.Background(), clipJob(t, p, c, "betamax", ""), func(int) {})
	if !errors.Is(err, jobs.ErrValidation) {
		t.Fatalf("Handle() error = %v, want ErrValidation", err)
	}
}

func TestPipeline_Handle_CutFailure(t *testing.T) {
	cutErr := fmt.Errorf("%w: ffmpeg exit 1", jobs.ErrExternalTool)
	transcoder := &fakeTranscoder{cutErr: cutErr}
	pipeline, repo, _ := setupPipeline(t, transcoder)
	ctx := context.Background()
	p, c := seedClip(t, repo, 90)

	_, err := pipeline.Handle(ctx, clipJob(t, p, c, "tiktok", ""), func(int) {})
	if !errors.Is(err, jobs.ErrExternalTool) {
		t.Fatalf("Handle() error = %v, want ErrExternalTool", err)
	}
	if !jobs.Retryable(err) {
		t.Error("encoder failure should be retryable")
	}

	got, _ := repo.GetClip(ctx, c.ID)
	if got.Status != project.ClipProcessing {
		t.Errorf("clip status = %s, want processing until retries settle", got.Status)
	}
	if got.OutputPath != "" {
		t.Errorf("clip output path = %q, want empty after failed cut", got.OutputPath)
	}
}

func TestPipeline_Handle_MissingClip(t *testing.T) {
	pipeline, repo, _ := setupPipeline(t, &fakeTranscoder{})
	p, _ := seedClip(t, repo, 90)

	ghost := &project.Clip{ID: "ghost", StartTime: 0, EndTime: 5}
	_, err := pipeline.Handle(context.Background(), clipJob(t, p, ghost, "tiktok", ""), func(int) {})
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("Handle() error = %v, want ErrNotFound", err)
	}
}

func TestPipeline_Handle_RerunAfterReclaim(t *testing.T) {
	transcoder := &fakeTranscoder{}
	pipeline, repo, _ := setupPipeline(t, transcoder)
	ctx := context.Background()
	p, c := seedClip(t, repo, 90)

	// The previous holder died mid-cut: the clip is stuck in processing
	// and the job gets leased again. The rerun repeats every step.
	if err := repo.TransitionClip(ctx, c.ID, project.ClipProcessing); err != nil {
		t.Fatalf("TransitionClip() error = %v", err)
	}

	if _, err := pipeline.Handle(ctx, clipJob(t, p, c, "tiktok", ""), func(int) {}); err != nil {
		t.Fatalf("Handle() after reclaim error = %v", err)
	}
	if transcoder.cutCalls != 1 {
		t.Errorf("cutCalls = %d, want 1", transcoder.cutCalls)
	}

	got, _ := repo.GetClip(ctx, c.ID)
	if got.Status != project.ClipDone {
		t.Errorf("clip status = %s, want done", got.Status)
	}
}

func TestPipeline_HandleFinalFailure(t *testing.T) {
	pipeline, repo, _ := setupPipeline(t, &fakeTranscoder{})
	ctx := context.Background()
	p, c := seedClip(t, repo, 90)

	if err := repo.TransitionClip(ctx, c.ID, project.ClipProcessing); err != nil {
		t.Fatalf("TransitionClip() error = %v", err)
	}

	pipeline.HandleFinalFailure(ctx, clipJob(t, p, c, "tiktok", ""))

	got, _ := repo.GetClip(ctx, c.ID)
	if got.Status != project.ClipFailed {
		t.Errorf("clip status = %s, want failed", got.Status)
	}
}
