// Package project holds the persisted entities of the agent: projects with
// their analyzed scene timelines, clips, and product links. The status fields
// are state machines; pipelines advance them only through the checked
// transition methods on the repository.
package project

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the project lifecycle state.
type ProjectStatus string

const (
	ProjectCreated    ProjectStatus = "created"
	ProjectUploading  ProjectStatus = "uploading"
	ProjectAnalyzing  ProjectStatus = "analyzing"
	ProjectAnalyzed   ProjectStatus = "analyzed"
	ProjectGenerating ProjectStatus = "generating"
	ProjectDone       ProjectStatus = "done"
	ProjectFailed     ProjectStatus = "failed"
)

// ClipStatus is the clip lifecycle state, owned exclusively by the
// clip-generation pipeline once a job is in flight.
type ClipStatus string

const (
	ClipPending    ClipStatus = "pending"
	ClipProcessing ClipStatus = "processing"
	ClipDone       ClipStatus = "done"
	ClipFailed     ClipStatus = "failed"
)

// ClipFormat selects the output aspect treatment. Everything except raw is
// center-cropped to 9:16 and scaled to 1080x1920.
type ClipFormat string

const (
	FormatTikTok ClipFormat = "tiktok"
	FormatReels  ClipFormat = "reels"
	FormatShorts ClipFormat = "shorts"
	FormatRaw    ClipFormat = "raw"
)

// ParseFormat validates a clip format string, defaulting empty to tiktok.
func ParseFormat(value string) (ClipFormat, bool) {
	switch ClipFormat(value) {
	case FormatTikTok, FormatReels, FormatShorts, FormatRaw:
		return ClipFormat(value), true
	case "":
		return FormatTikTok, true
	default:
		return "", false
	}
}

// SceneAnalysis is one analyzed keyframe. Immutable once produced.
type SceneAnalysis struct {
	Timestamp        float64  `json:"timestamp"`
	Description      string   `json:"description"`
	Products         []string `json:"products"`
	Actions          []string `json:"actions"`
	EmotionalTone    string   `json:"emotional_tone"`
	ClipWorthy       bool     `json:"clip_worthy"`
	ClipWorthyReason string   `json:"clip_worthy_reason,omitempty"`
}

// SceneMatch is a timestamp range where a product appears.
type SceneMatch struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

type Project struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	SourceVideoPath string          `json:"source_video_path,omitempty"`
	SourceVideoName string          `json:"source_video_name,omitempty"`
	Duration        float64         `json:"duration,omitempty"`
	SceneTimeline   []SceneAnalysis `json:"scene_timeline,omitempty"`
	Status          ProjectStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Clip struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	StartTime       float64    `json:"start_time"`
	EndTime         float64    `json:"end_time"`
	Description     string     `json:"description,omitempty"`
	ConfidenceScore float64    `json:"confidence_score,omitempty"`
	OutputPath      string     `json:"output_path,omitempty"`
	Format          ClipFormat `json:"format"`
	Caption         string     `json:"caption,omitempty"`
	Hashtags        []string   `json:"hashtags,omitempty"`
	CTAText         string     `json:"cta_text,omitempty"`
	ProductLinkID   string     `json:"product_link_id,omitempty"`
	Status          ClipStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ProductLink is an affiliate link attached to a project. MatchedScenes is a
// snapshot against the timeline at creation time; it goes stale if the
// project is re-analyzed and is not reconciled.
type ProductLink struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	URL           string       `json:"url"`
	Title         string       `json:"title,omitempty"`
	Category      string       `json:"category,omitempty"`
	MatchedScenes []SceneMatch `json:"matched_scenes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectCreated:    {ProjectUploading, ProjectAnalyzing, ProjectFailed},
	ProjectUploading:  {ProjectAnalyzing, ProjectFailed},
	ProjectAnalyzing:  {ProjectAnalyzed, ProjectFailed},
	ProjectAnalyzed:   {ProjectAnalyzing, ProjectGenerating, ProjectFailed},
	ProjectGenerating: {ProjectDone, ProjectFailed},
	ProjectDone:       {ProjectAnalyzing, ProjectGenerating},
	ProjectFailed:     {ProjectAnalyzing},
}

var clipTransitions = map[ClipStatus][]ClipStatus{
	ClipPending:    {ClipProcessing, ClipFailed},
	ClipProcessing: {ClipDone, ClipFailed},
	ClipFailed:     {ClipProcessing},
}

// ValidProjectTransition reports whether a project may move between two
// statuses. Re-entering the current status is always allowed so that a
// reclaimed job can repeat its steps.
func ValidProjectTransition(from, to ProjectStatus) bool {
	if from == to {
		return true
	}
	for _, next := range projectTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidClipTransition reports whether a clip may move between two statuses.
func ValidClipTransition(from, to ClipStatus) bool {
	if from == to {
		return true
	}
	for _, next := range clipTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}
