package api

import (
	"time"

	"github.com/clipforge/clipforge-agent/internal/jobs"
	"github.com/clipforge/clipforge-agent/internal/project"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string       `json:"state"`
	LastError     string       `json:"last_error,omitempty"`
	ProjectsCount int          `json:"projects_count"`
	JobsRunning   int          `json:"jobs_running"`
	ActiveJob     *JobResponse `json:"active_job,omitempty"`
}

type CreateProjectRequest struct {
	Name string `json:"name"`
}

type ProjectResponse struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	SourceVideoName string                  `json:"source_video_name,omitempty"`
	Duration        float64                 `json:"duration,omitempty"`
	SceneCount      int                     `json:"scene_count"`
	SceneTimeline   []project.SceneAnalysis `json:"scene_timeline,omitempty"`
	Status          string                  `json:"status"`
	CreatedAt       string                  `json:"created_at"`
	UpdatedAt       string                  `json:"updated_at"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type UploadResponse struct {
	ProjectID string `json:"project_id"`
	VideoName string `json:"video_name"`
	SizeBytes int64  `json:"size_bytes"`
}

type AnalyzeResponse struct {
	JobID string `json:"job_id"`
}

type CreateClipRequest struct {
	StartTime       float64 `json:"start_time"`
	EndTime         float64 `json:"end_time"`
	Description     string  `json:"description,omitempty"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"`
	Format          string  `json:"format,omitempty"`
	Caption         string  `json:"caption,omitempty"`
	BurnCaption     string  `json:"burn_caption,omitempty"`
	ProductLinkID   string  `json:"product_link_id,omitempty"`
	Generate        bool    `json:"generate,omitempty"`
}

type CreateClipResponse struct {
	Clip  ClipResponse `json:"clip"`
	JobID string       `json:"job_id,omitempty"`
}

type ClipResponse struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	StartTime       float64  `json:"start_time"`
	EndTime         float64  `json:"end_time"`
	Description     string   `json:"description,omitempty"`
	ConfidenceScore float64  `json:"confidence_score,omitempty"`
	OutputPath      string   `json:"output_path,omitempty"`
	Format          string   `json:"format"`
	Caption         string   `json:"caption,omitempty"`
	Hashtags        []string `json:"hashtags,omitempty"`
	CTAText         string   `json:"cta_text,omitempty"`
	ProductLinkID   string   `json:"product_link_id,omitempty"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type GenerateClipsRequest struct {
	Format string `json:"format,omitempty"`
}

type GenerateClipsResponse struct {
	Queued []project.QueuedClip `json:"queued"`
}

type GenerateCaptionRequest struct {
	Tone string `json:"tone,omitempty"`
}

type CaptionResponse struct {
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags,omitempty"`
	CTA      string   `json:"cta,omitempty"`
}

type CreateProductLinkRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
}

type ProductLinkResponse struct {
	ID            string               `json:"id"`
	ProjectID     string               `json:"project_id"`
	URL           string               `json:"url"`
	Title         string               `json:"title,omitempty"`
	Category      string               `json:"category,omitempty"`
	MatchedScenes []project.SceneMatch `json:"matched_scenes,omitempty"`
	CreatedAt     string               `json:"created_at"`
}

type ProductLinksResponse struct {
	Products []ProductLinkResponse `json:"products"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *project.Project, includeTimeline bool) ProjectResponse {
	resp := ProjectResponse{
		ID:              p.ID,
		Name:            p.Name,
		SourceVideoName: p.SourceVideoName,
		Duration:        p.Duration,
		SceneCount:      len(p.SceneTimeline),
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
	if includeTimeline {
		resp.SceneTimeline = p.SceneTimeline
	}
	return resp
}

func ClipToResponse(c *project.Clip) ClipResponse {
	return ClipResponse{
		ID:              c.ID,
		ProjectID:       c.ProjectID,
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		Description:     c.Description,
		ConfidenceScore: c.ConfidenceScore,
		OutputPath:      c.OutputPath,
		Format:          string(c.Format),
		Caption:         c.Caption,
		Hashtags:        c.Hashtags,
		CTAText:         c.CTAText,
		ProductLinkID:   c.ProductLinkID,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
}

func ProductLinkToResponse(l *project.ProductLink) ProductLinkResponse {
	return ProductLinkResponse{
		ID:            l.ID,
		ProjectID:     l.ProjectID,
		URL:           l.URL,
		Title:         l.Title,
		Category:      l.Category,
		MatchedScenes: l.MatchedScenes,
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      string(j.Type),
		Status:    string(j.Status),
		Progress:  j.Progress,
		Attempt:   j.Attempt,
		Error:     j.LastError,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
