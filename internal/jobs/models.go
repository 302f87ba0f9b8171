// Package jobs implements the durable at-least-once job queue backing the
// analysis and clip-generation pipelines. Jobs live in SQLite so in-flight
// work survives a process restart and is recovered through lease expiry.
package jobs

import (
	"encoding/json"
	"time"
)

// Type identifies which pipeline consumes a job.
type Type string

const (
	TypeAnalysis       Type = "video-analysis"
	TypeClipGeneration Type = "clip-generation"
)

// Status represents the lifecycle of a queue job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusLeased    Status = "leased"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a queue row. Once leased it is mutated only by the worker that
// holds the lease; the store enforces this on every write.
type Job struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	Status         Status          `json:"status"`
	Payload        json.RawMessage `json:"payload"`
	Progress       int             `json:"progress"`
	Attempt        int             `json:"attempt"`
	LeasedBy       string          `json:"leased_by,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	RunAt          time.Time       `json:"run_at"`
	Result         json.RawMessage `json:"result,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ProgressFunc reports pipeline progress (0-100) for the job being handled.
// Implementations also extend the caller's lease.
type ProgressFunc func(progress int)

// AnalysisPayload is the typed payload for TypeAnalysis jobs.
type AnalysisPayload struct {
	ProjectID       string `json:"project_id"`
	VideoPath       string `json:"video_path"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

// ClipPayload is the typed payload for TypeClipGeneration jobs.
type ClipPayload struct {
	ProjectID   string  `json:"project_id"`
	ClipID      string  `json:"clip_id"`
	VideoPath   string  `json:"video_path"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Format      string  `json:"format"`
	BurnCaption string  `json:"burn_caption,omitempty"`
}

// DecodeAnalysisPayload parses a job payload into an AnalysisPayload.
func DecodeAnalysisPayload(raw json.RawMessage) (AnalysisPayload, error) {
	var p AnalysisPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

// DecodeClipPayload parses a job payload into a ClipPayload.
func DecodeClipPayload(raw json.RawMessage) (ClipPayload, error) {
	var p ClipPayload
	err := json.Unmarshal(raw, &p)
	return p, err
}

// AnalysisResult is the result recorded on a completed analysis job.
type AnalysisResult struct {
	SceneCount int `json:"scene_count"`
	ClipCount  int `json:"clip_count"`
}

// ClipResult is the result recorded on a completed clip-generation job.
type ClipResult struct {
	OutputPath string `json:"output_path"`
}
