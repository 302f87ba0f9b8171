package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge-agent/internal/project"
)

// maxUploadBytes bounds a single source video upload.
const maxUploadBytes = 4 << 30

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Repository.ListProjects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p, false)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.Projects.CreateProject(r.Context(), req.Name)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusCreated, ProjectToResponse(p, false))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, err := cfg.Repository.GetProject(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if p == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, ProjectToResponse(p, true))
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Repository.DeleteProject(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// uploadHandler saves a multipart "video" part under the uploads dir and
// attaches it to the project.
func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		p, err := cfg.Repository.GetProject(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if p == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("video")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "video file part is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		videoName := filepath.Base(header.Filename)
		if videoName == "" || videoName == "." || strings.ContainsAny(videoName, "/\\") {
			WriteError(w, http.StatusBadRequest, "invalid video filename", "BAD_REQUEST")
			return
		}

		destDir := filepath.Join(cfg.UploadsDir, projectID)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to create upload dir", "INTERNAL_ERROR")
			return
		}
		destPath := filepath.Join(destDir, videoName)

		dest, err := os.Create(destPath)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write upload", "INTERNAL_ERROR")
			return
		}
		written, err := io.Copy(dest, file)
		if cerr := dest.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(destPath)
			WriteError(w, http.StatusInternalServerError, "failed to write upload", "INTERNAL_ERROR")
			return
		}

		if err := cfg.Projects.AttachUpload(r.Context(), projectID, destPath, videoName); err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, UploadResponse{
			ProjectID: projectID,
			VideoName: videoName,
			SizeBytes: written,
		})
	}
}

func analyzeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		jobID, err := cfg.Projects.RequestAnalysis(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, AnalyzeResponse{JobID: jobID})
	}
}

func listProductLinksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		links, err := cfg.Repository.ListProductLinksByProject(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ProductLinksResponse{Products: make([]ProductLinkResponse, len(links))}
		for i, l := range links {
			resp.Products[i] = ProductLinkToResponse(l)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// createProductLinkHandler stores an affiliate link and, when the project has
// an analyzed timeline, asks the vision model which scenes show the product.
func createProductLinkHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		var req CreateProductLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.URL == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.Repository.GetProject(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if p == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		link := &project.ProductLink{
			ID:        project.NewID(),
			ProjectID: projectID,
			URL:       req.URL,
			Title:     req.Title,
			Category:  req.Category,
			CreatedAt: time.Now().UTC(),
		}

		if len(p.SceneTimeline) > 0 && req.Title != "" {
			matches, err := cfg.Intel.MatchProduct(r.Context(), req.Title, req.Category, p.SceneTimeline)
			if err != nil {
				cfg.Logger.Warn("product matching failed", "project_id", projectID, "error", err)
			} else {
				link.MatchedScenes = matches
			}
		}

		if err := cfg.Repository.CreateProductLink(r.Context(), link); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusCreated, ProductLinkToResponse(link))
	}
}

func exportProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		result, err := cfg.Archiver.Archive(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusUnprocessableEntity, err.Error(), "EXPORT_FAILED")
			return
		}

		WriteJSON(w, http.StatusOK, result)
	}
}
