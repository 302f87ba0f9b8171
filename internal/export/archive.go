// Package export bundles a project's rendered clips into a zip archive with a
// metadata manifest, ready to hand off to a posting workflow.
package export

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge-agent/internal/project"
)

// ClipManifest is the per-clip entry written to metadata.json inside the
// archive.
type ClipManifest struct {
	ID              string   `json:"id"`
	Filename        string   `json:"filename"`
	StartTime       float64  `json:"start_time"`
	EndTime         float64  `json:"end_time"`
	Description     string   `json:"description,omitempty"`
	ConfidenceScore float64  `json:"confidence_score,omitempty"`
	Format          string   `json:"format"`
	Caption         string   `json:"caption,omitempty"`
	Hashtags        []string `json:"hashtags,omitempty"`
	CTAText         string   `json:"cta_text,omitempty"`
}

// Manifest is the metadata.json document.
type Manifest struct {
	ProjectID   string         `json:"project_id"`
	ProjectName string         `json:"project_name"`
	ExportedAt  string         `json:"exported_at"`
	Clips       []ClipManifest `json:"clips"`
}

// Result reports what the archive ended up containing.
type Result struct {
	OutputPath   string   `json:"output_path"`
	ClipCount    int      `json:"clip_count"`
	MissingClips []string `json:"missing_clips,omitempty"`
}

// Archiver writes project export archives under exportsDir(projectID).
type Archiver struct {
	repo       project.Repository
	exportsDir func(projectID string) string
}

func NewArchiver(repo project.Repository, exportsDir func(string) string) *Archiver {
	return &Archiver{repo: repo, exportsDir: exportsDir}
}

// Archive zips every done clip of the project together with metadata.json.
// Clips whose output file disappeared from disk are listed in the result
// rather than failing the export.
func (a *Archiver) Archive(ctx context.Context, projectID string) (*Result, error) {
	proj, err := a.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, fmt.Errorf("project %s not found", projectID)
	}

	clips, err := a.repo.ListClipsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var done []*project.Clip
	for _, c := range clips {
		if c.Status == project.ClipDone && c.OutputPath != "" {
			done = append(done, c)
		}
	}
	if len(done) == 0 {
		return nil, fmt.Errorf("project %s has no completed clips to export", projectID)
	}

	outDir := a.exportsDir(projectID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create exports dir: %w", err)
	}

	name := SanitizeName(proj.Name, 120)
	if name == "" {
		name = projectID
	}
	outputPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.zip", name, time.Now().UTC().Format("20060102_150405")))

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	manifest := Manifest{
		ProjectID:   proj.ID,
		ProjectName: proj.Name,
		ExportedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	var missing []string

	for _, c := range done {
		filename := filepath.Base(c.OutputPath)
		if err := addFile(zw, c.OutputPath, filename); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, c.ID)
				continue
			}
			zw.Close()
			return nil, err
		}
		manifest.Clips = append(manifest.Clips, ClipManifest{
			ID:              c.ID,
			Filename:        filename,
			StartTime:       c.StartTime,
			EndTime:         c.EndTime,
			Description:     c.Description,
			ConfidenceScore: c.ConfidenceScore,
			Format:          string(c.Format),
			Caption:         c.Caption,
			Hashtags:        c.Hashtags,
			CTAText:         c.CTAText,
		})
	}

	if len(manifest.Clips) == 0 {
		zw.Close()
		os.Remove(outputPath)
		return nil, fmt.Errorf("no clip files present on disk for project %s", projectID)
	}

	meta, err := zw.Create("metadata.json")
	if err != nil {
		zw.Close()
		return nil, err
	}
	enc := json.NewEncoder(meta)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		zw.Close()
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return &Result{
		OutputPath:   outputPath,
		ClipCount:    len(manifest.Clips),
		MissingClips: missing,
	}, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
