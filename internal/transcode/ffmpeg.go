package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/logging"
	"github.com/clipforge/clipforge-agent/internal/project"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// 9:16 center crop followed by a fixed portrait scale, applied to every
	// format except raw.
	portraitFilter = "crop=ih*9/16:ih:(iw-ih*9/16)/2:0,scale=1080:1920"
)

// Config holds the ffmpeg runner's configuration.
type Config struct {
	FFmpegPath   string        // path to ffmpeg binary; empty = auto-detect
	FFprobePath  string        // path to ffprobe binary; empty = auto-detect
	ProbeTimeout time.Duration // timeout for duration probes
	MediaTimeout time.Duration // timeout for extraction/cut/burn operations
	Logger       *slog.Logger
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ProbeTimeout: 30 * time.Second,
		MediaTimeout: 15 * time.Minute,
		Logger:       logger,
	}
}

// FFmpeg is the production Transcoder backed by the ffmpeg and ffprobe
// command line tools.
type FFmpeg struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// New creates an FFmpeg transcoder, resolving both binaries up front.
func New(cfg Config) (*FFmpeg, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 15 * time.Minute
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("transcoder initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)
	}
	return &FFmpeg{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: ffprobe %s: %v: %s",
			jobs.ErrExternalTool, logging.SanitizePath(path), err, truncate(stderr.String(), 512))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe returned unparsable duration %q", jobs.ErrExternalTool, stdout.String())
	}
	return duration, nil
}

func (f *FFmpeg) ExtractKeyframes(ctx context.Context, path, outDir string, intervalSeconds int) ([]string, error) {
	if intervalSeconds <= 0 {
		intervalSeconds = 3
	}
	// A re-run must not inherit frames from an earlier extraction with a
	// longer source or a different interval.
	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("cannot clear keyframes dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create keyframes dir: %w", err)
	}

	err := f.run(ctx, f.cfg.MediaTimeout,
		"-y",
		"-i", path,
		"-vf", fmt.Sprintf("fps=1/%d", intervalSeconds),
		"-q:v", "2",
		filepath.Join(outDir, "frame_%04d.jpg"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read keyframes dir: %w", err)
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			frames = append(frames, filepath.Join(outDir, e.Name()))
		}
	}
	// frame_%04d naming makes lexical order the timestamp order
	sort.Strings(frames)
	return frames, nil
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, path, outPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("cannot create audio dir: %w", err)
	}

	err := f.run(ctx, f.cfg.MediaTimeout,
		"-y",
		"-i", path,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outPath,
	)
	if err != nil {
		return "", err
	}
	return outPath, nil
}

func (f *FFmpeg) Cut(ctx context.Context, path, outPath string, start, end float64, format project.ClipFormat) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return "", fmt.Errorf("cannot create clips dir: %w", err)
	}

	args := []string{
		"-y",
		"-ss", formatSeconds(start),
		"-i", path,
		"-t", formatSeconds(end - start),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", "fast",
	}
	if format != project.FormatRaw {
		args = append(args, "-vf", portraitFilter)
	}
	args = append(args, outPath)

	if err := f.run(ctx, f.cfg.MediaTimeout, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

func (f *FFmpeg) BurnCaptions(ctx context.Context, inputPath, outPath, caption string) (string, error) {
	drawtext := fmt.Sprintf(
		"drawtext=text='%s':fontsize=42:fontcolor=white:borderw=3:bordercolor=black:x=(w-text_w)/2:y=h-th-100",
		escapeDrawtext(caption),
	)
	err := f.run(ctx, f.cfg.MediaTimeout,
		"-y",
		"-i", inputPath,
		"-vf", drawtext,
		"-c:a", "copy",
		outPath,
	)
	if err != nil {
		return "", err
	}
	return outPath, nil
}

// run is the core ffmpeg execution helper.
func (f *FFmpeg) run(ctx context.Context, timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, f.ffmpeg, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		if f.cfg.Logger != nil {
			f.cfg.Logger.Warn("ffmpeg command failed",
				"exit_code", exitCode,
				"duration_ms", elapsed.Milliseconds(),
				"stderr_tail", truncate(stderrBuf.String(), 512),
			)
		}
		return fmt.Errorf("%w: ffmpeg exited %d: %s",
			jobs.ErrExternalTool, exitCode, truncate(stderrBuf.String(), 512))
	}

	if f.cfg.Logger != nil {
		f.cfg.Logger.Debug("ffmpeg command succeeded", "duration_ms", elapsed.Milliseconds())
	}
	return nil
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// drawtextEscaper rewrites every filter metacharacter in one pass, so an
// already-escaped backslash is never escaped twice.
var drawtextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`:`, `\:`,
	`%`, `\%`,
)

func escapeDrawtext(s string) string {
	return drawtextEscaper.Replace(s)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
