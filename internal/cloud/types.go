// Package cloud provides the scene-intelligence client: keyframe batches in,
// scene timelines, clip suggestions, captions, and product matches out. The
// hosted model is treated as an opaque collaborator behind the
// SceneIntelligence interface.
package cloud

import (
	"context"

	"github.com/clipforge/clipforge-agent/internal/project"
)

// SceneIntelligence is the model-facing contract consumed by the pipelines
// and the API layer.
type SceneIntelligence interface {
	// AnalyzeBatch sends one batch of keyframe images and returns their
	// scene analyses. A malformed model response yields an empty slice and
	// is logged; it never fails the caller.
	AnalyzeBatch(ctx context.Context, framePaths []string, batchStartOffset float64, intervalSeconds int) ([]project.SceneAnalysis, error)

	// DetectClips turns a scene timeline into short-form clip suggestions.
	DetectClips(ctx context.Context, timeline []project.SceneAnalysis, videoDuration float64) ([]ClipSuggestion, error)

	// GenerateCaption produces a caption, hashtags and a call-to-action for
	// a clip description. productInfo and tone may be empty.
	GenerateCaption(ctx context.Context, clipDescription, productInfo, tone string) (CaptionResult, error)

	// MatchProduct finds the timestamp ranges of the timeline where a
	// product appears.
	MatchProduct(ctx context.Context, title, category string, timeline []project.SceneAnalysis) ([]project.SceneMatch, error)
}

// ClipSuggestion is one model-proposed clip.
type ClipSuggestion struct {
	StartTime        float64 `json:"startTime"`
	EndTime          float64 `json:"endTime"`
	Description      string  `json:"description"`
	ConfidenceScore  float64 `json:"confidenceScore"`
	Type             string  `json:"type"`
	SuggestedCaption string  `json:"suggestedCaption"`
}

// CaptionResult is the social caption bundle for a clip.
type CaptionResult struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
	CTA      string   `json:"cta"`
}

// messagesRequest is the wire shape of a model invocation.
type messagesRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system,omitempty"`
	Messages  []requestMessage `json:"messages"`
}

type requestMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// messagesResponse is the wire shape of a model reply.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (r messagesResponse) text() string {
	for _, block := range r.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}
