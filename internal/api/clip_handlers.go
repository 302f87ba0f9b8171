package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge-agent/internal/project"
)

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		clips, err := cfg.Repository.ListClipsByProject(r.Context(), projectID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		var req CreateClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		format, ok := project.ParseFormat(req.Format)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown clip format", "BAD_REQUEST")
			return
		}

		clip, jobID, err := cfg.Projects.CreateClip(r.Context(), project.CreateClipParams{
			ProjectID:       projectID,
			StartTime:       req.StartTime,
			EndTime:         req.EndTime,
			Description:     req.Description,
			ConfidenceScore: req.ConfidenceScore,
			Format:          format,
			Caption:         req.Caption,
			BurnCaption:     req.BurnCaption,
			ProductLinkID:   req.ProductLinkID,
			Enqueue:         req.Generate,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, CreateClipResponse{
			Clip:  ClipToResponse(clip),
			JobID: jobID,
		})
	}
}

func generateClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		var req GenerateClipsRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		format, ok := project.ParseFormat(req.Format)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown clip format", "BAD_REQUEST")
			return
		}

		queued, err := cfg.Projects.GenerateAllPending(r.Context(), projectID, format)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		WriteJSON(w, http.StatusAccepted, GenerateClipsResponse{Queued: queued})
	}
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		clip, err := cfg.Repository.GetClip(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

func deleteClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Repository.DeleteClip(r.Context(), id); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// generateCaptionHandler asks the language model for a social caption and
// persists it on the clip. The product link, when attached, feeds its title
// and URL into the prompt.
func generateCaptionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req GenerateCaptionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}
		tone := req.Tone
		if tone == "" {
			tone = "energetic"
		}

		clip, err := cfg.Repository.GetClip(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}

		productInfo := ""
		if clip.ProductLinkID != "" {
			link, err := cfg.Repository.GetProductLink(r.Context(), clip.ProductLinkID)
			if err == nil && link != nil {
				productInfo = link.Title + " " + link.URL
			}
		}

		caption, err := cfg.Intel.GenerateCaption(r.Context(), clip.Description, productInfo, tone)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
			return
		}

		if err := cfg.Repository.SetClipCaption(r.Context(), id, caption.Caption, caption.Hashtags, caption.CTA); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, CaptionResponse{
			Caption:  caption.Caption,
			Hashtags: caption.Hashtags,
			CTA:      caption.CTA,
		})
	}
}

func downloadClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		clip, err := cfg.Repository.GetClip(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		if clip.Status != project.ClipDone || clip.OutputPath == "" {
			WriteError(w, http.StatusConflict, "clip is not rendered yet", "NOT_READY")
			return
		}

		if err := cfg.Playback.ServeClip(w, r, clip.OutputPath, filepath.Base(clip.OutputPath)); err != nil {
			cfg.Logger.Error("clip download error", "error", err, "clip_id", id)
		}
	}
}
