package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change violates the
// lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error
	SetProjectUpload(ctx context.Context, id, videoPath, videoName string) error
	SetProjectDuration(ctx context.Context, id string, duration float64) error
	SetProjectTimeline(ctx context.Context, id string, timeline []SceneAnalysis) error
	TransitionProject(ctx context.Context, id string, to ProjectStatus) error

	CreateClip(ctx context.Context, c *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClipsByProject(ctx context.Context, projectID string) ([]*Clip, error)
	DeleteClip(ctx context.Context, id string) error
	SetClipOutput(ctx context.Context, id, outputPath string, format ClipFormat) error
	SetClipCaption(ctx context.Context, id, caption string, hashtags []string, cta string) error
	TransitionClip(ctx context.Context, id string, to ClipStatus) error

	CreateProductLink(ctx context.Context, l *ProductLink) error
	GetProductLink(ctx context.Context, id string) (*ProductLink, error)
	ListProductLinksByProject(ctx context.Context, projectID string) ([]*ProductLink, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const projectColumns = `id, name, source_video_path, source_video_name, duration, scene_timeline, status, created_at, updated_at`

func (r *SQLiteRepository) CreateProject(ctx context.Context, p *Project) error {
	var timeline any
	if p.SceneTimeline != nil {
		raw, err := json.Marshal(p.SceneTimeline)
		if err != nil {
			return err
		}
		timeline = string(raw)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, source_video_path, source_video_name, duration,
			scene_timeline, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, nullString(p.SourceVideoPath), nullString(p.SourceVideoName), p.Duration,
		timeline, string(p.Status), p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

func (r *SQLiteRepository) SetProjectUpload(ctx context.Context, id, videoPath, videoName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET source_video_path = ?, source_video_name = ?, updated_at = ?
		WHERE id = ?
	`, videoPath, videoName, now(), id)
	return err
}

func (r *SQLiteRepository) SetProjectDuration(ctx context.Context, id string, duration float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE projects SET duration = ?, updated_at = ? WHERE id = ?
	`, duration, now(), id)
	return err
}

// SetProjectTimeline overwrites the scene timeline wholesale. Re-running an
// analysis replaces the previous run's timeline rather than appending.
func (r *SQLiteRepository) SetProjectTimeline(ctx context.Context, id string, timeline []SceneAnalysis) error {
	raw, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("marshal scene timeline: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE projects SET scene_timeline = ?, updated_at = ? WHERE id = ?
	`, string(raw), now(), id)
	return err
}

func (r *SQLiteRepository) TransitionProject(ctx context.Context, id string, to ProjectStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM projects WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("project %s not found", id)
		}
		return err
	}
	if !ValidProjectTransition(ProjectStatus(current), to) {
		return fmt.Errorf("%w: project %s -> %s", ErrInvalidTransition, current, to)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), now(), id); err != nil {
		return err
	}
	return tx.Commit()
}

const clipColumns = `id, project_id, start_time, end_time, description, confidence_score, output_path, format, caption, hashtags, cta_text, product_link_id, status, created_at`

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	var hashtags any
	if c.Hashtags != nil {
		raw, err := json.Marshal(c.Hashtags)
		if err != nil {
			return err
		}
		hashtags = string(raw)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (id, project_id, start_time, end_time, description, confidence_score,
			format, caption, hashtags, cta_text, product_link_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ProjectID, c.StartTime, c.EndTime, nullString(c.Description), c.ConfidenceScore,
		string(c.Format), nullString(c.Caption), hashtags, nullString(c.CTAText),
		nullString(c.ProductLinkID), string(c.Status), c.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepository) ListClipsByProject(ctx context.Context, projectID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clipColumns+` FROM clips WHERE project_id = ? ORDER BY start_time`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) DeleteClip(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM clips WHERE id = ?`, id)
	return err
}

func (r *SQLiteRepository) SetClipOutput(ctx context.Context, id, outputPath string, format ClipFormat) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET output_path = ?, format = ? WHERE id = ?
	`, outputPath, string(format), id)
	return err
}

func (r *SQLiteRepository) SetClipCaption(ctx context.Context, id, caption string, hashtags []string, cta string) error {
	raw, err := json.Marshal(hashtags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE clips SET caption = ?, hashtags = ?, cta_text = ? WHERE id = ?
	`, caption, string(raw), cta, id)
	return err
}

func (r *SQLiteRepository) TransitionClip(ctx context.Context, id string, to ClipStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM clips WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("clip %s not found", id)
		}
		return err
	}
	if !ValidClipTransition(ClipStatus(current), to) {
		return fmt.Errorf("%w: clip %s -> %s", ErrInvalidTransition, current, to)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE clips SET status = ? WHERE id = ?`, string(to), id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteRepository) CreateProductLink(ctx context.Context, l *ProductLink) error {
	var matched any
	if l.MatchedScenes != nil {
		raw, err := json.Marshal(l.MatchedScenes)
		if err != nil {
			return err
		}
		matched = string(raw)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_links (id, project_id, url, title, category, matched_scenes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.ProjectID, l.URL, nullString(l.Title), nullString(l.Category),
		matched, l.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetProductLink(ctx context.Context, id string) (*ProductLink, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, url, title, category, matched_scenes, created_at
		FROM product_links WHERE id = ?
	`, id)
	l, err := scanProductLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (r *SQLiteRepository) ListProductLinksByProject(ctx context.Context, projectID string) ([]*ProductLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, url, title, category, matched_scenes, created_at
		FROM product_links WHERE project_id = ? ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*ProductLink
	for rows.Next() {
		l, err := scanProductLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var sourcePath, sourceName, timeline sql.NullString
	var duration sql.NullFloat64
	var status, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Name, &sourcePath, &sourceName, &duration, &timeline,
		&status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.SourceVideoPath = sourcePath.String
	p.SourceVideoName = sourceName.String
	p.Duration = duration.Float64
	p.Status = ProjectStatus(status)
	if timeline.Valid && timeline.String != "" {
		if err := json.Unmarshal([]byte(timeline.String), &p.SceneTimeline); err != nil {
			return nil, fmt.Errorf("decode scene timeline for project %s: %w", p.ID, err)
		}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func scanClip(row rowScanner) (*Clip, error) {
	var c Clip
	var description, outputPath, caption, hashtags, cta, productLinkID sql.NullString
	var confidence sql.NullFloat64
	var format, status, createdAt string

	err := row.Scan(&c.ID, &c.ProjectID, &c.StartTime, &c.EndTime, &description, &confidence,
		&outputPath, &format, &caption, &hashtags, &cta, &productLinkID, &status, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.ConfidenceScore = confidence.Float64
	c.OutputPath = outputPath.String
	c.Format = ClipFormat(format)
	c.Caption = caption.String
	if hashtags.Valid && hashtags.String != "" {
		if err := json.Unmarshal([]byte(hashtags.String), &c.Hashtags); err != nil {
			return nil, fmt.Errorf("decode hashtags for clip %s: %w", c.ID, err)
		}
	}
	c.CTAText = cta.String
	c.ProductLinkID = productLinkID.String
	c.Status = ClipStatus(status)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func scanProductLink(row rowScanner) (*ProductLink, error) {
	var l ProductLink
	var title, category, matched sql.NullString
	var createdAt string

	err := row.Scan(&l.ID, &l.ProjectID, &l.URL, &title, &category, &matched, &createdAt)
	if err != nil {
		return nil, err
	}

	l.Title = title.String
	l.Category = category.String
	if matched.Valid && matched.String != "" {
		if err := json.Unmarshal([]byte(matched.String), &l.MatchedScenes); err != nil {
			return nil, fmt.Errorf("decode matched scenes for link %s: %w", l.ID, err)
		}
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &l, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
