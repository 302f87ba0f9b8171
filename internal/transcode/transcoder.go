// Package transcode provides subprocess-based execution of ffmpeg/ffprobe for
// the media operations the pipelines depend on: duration probing, keyframe
// sampling, audio extraction, clip cutting and caption burn-in.
package transcode

import (
	"context"

	"github.com/clipforge/clipforge-agent/internal/project"
)

// Transcoder is the media execution contract consumed by the pipelines.
// Every operation is safe to repeat: outputs are overwritten in place so a
// reclaimed job can re-run its steps without accumulating files.
type Transcoder interface {
	// ProbeDuration returns the container duration of a video in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// ExtractKeyframes samples one frame every intervalSeconds into outDir
	// and returns the frame paths in timestamp order.
	ExtractKeyframes(ctx context.Context, path, outDir string, intervalSeconds int) ([]string, error)

	// ExtractAudio writes a 16 kHz mono WAV next to the keyframes. Callers
	// tolerate failure here; the video may have no audio stream.
	ExtractAudio(ctx context.Context, path, outPath string) (string, error)

	// Cut renders [start, end) of the source into outPath. Formats other
	// than raw are center-cropped to 9:16 and scaled to 1080x1920.
	Cut(ctx context.Context, path, outPath string, start, end float64, format project.ClipFormat) (string, error)

	// BurnCaptions renders the caption text onto the input, producing a
	// second output file.
	BurnCaptions(ctx context.Context, inputPath, outPath, caption string) (string, error)
}
