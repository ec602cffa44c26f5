package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/explainer/internal/db"
	"github.com/bobarin/explainer/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultTopicCategory = "general"

// VideoStore is the slice of the database the API needs.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.VideoJob) error
	GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errorMessage *string) error
	PingContext(ctx context.Context) error
}

// JobQueue schedules generation jobs.
type JobQueue interface {
	EnqueueGenerateVideo(ctx context.Context, videoID, userID uuid.UUID, topicCategory string) error
	Ping(ctx context.Context) error
}

type Handler struct {
	db    VideoStore
	queue JobQueue
}

func NewHandler(store VideoStore, q JobQueue) *Handler {
	return &Handler{
		db:    store,
		queue: q,
	}
}

// CreateVideo handles POST /v1/videos.
// When video_id is given the row must already exist in queued state (the
// caller created it); otherwise a new row is created from prompt.
func (h *Handler) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	category := strings.TrimSpace(req.TopicCategory)
	if category == "" {
		category = defaultTopicCategory
	}

	var (
		video  *models.VideoJob
		status = http.StatusAccepted
	)

	if req.VideoID != nil {
		existing, err := h.db.GetVideo(r.Context(), *req.VideoID)
		if errors.Is(err, db.ErrVideoNotFound) {
			respondError(w, http.StatusNotFound, "Video not found")
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to get video")
			return
		}
		if existing.UserID != req.UserID {
			respondError(w, http.StatusForbidden, "Video belongs to another user")
			return
		}
		if existing.Status != models.JobStatusQueued {
			respondError(w, http.StatusConflict, "Video is already "+string(existing.Status))
			return
		}
		video = existing
	} else {
		prompt := strings.TrimSpace(req.Prompt)
		if prompt == "" {
			respondError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		video = &models.VideoJob{
			ID:            uuid.New(),
			UserID:        req.UserID,
			Prompt:        prompt,
			TopicCategory: category,
			Status:        models.JobStatusQueued,
		}
		if err := h.db.CreateVideo(r.Context(), video); err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to create video")
			return
		}
		status = http.StatusCreated
	}

	if err := h.queue.EnqueueGenerateVideo(r.Context(), video.ID, video.UserID, category); err != nil {
		log.Error().Err(err).Str("video_id", video.ID.String()).Msg("failed to enqueue video")

		msg := "failed to enqueue generation job"
		if err := h.db.UpdateStatus(r.Context(), video.ID, models.JobStatusFailed, &msg); err != nil {
			log.Error().Err(err).Str("video_id", video.ID.String()).Msg("failed to mark video failed")
		}
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, status, models.CreateVideoResponse{
		VideoID: video.ID,
		Status:  video.Status,
	})
}

// GetVideo handles GET /v1/videos/{id}
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	videoID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid video ID")
		return
	}

	video, err := h.db.GetVideo(r.Context(), videoID)
	if errors.Is(err, db.ErrVideoNotFound) {
		respondError(w, http.StatusNotFound, "Video not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get video")
		return
	}

	respondJSON(w, http.StatusOK, video)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Index handles GET /
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"service": "explainer", "status": "running"})
}

// Health reports database and queue reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"status": "ok", "database": "ok", "queue": "ok"}
	code := http.StatusOK

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		checks["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := h.queue.Ping(ctx); err != nil {
		checks["queue"] = err.Error()
		checks["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}

	respondJSON(w, code, checks)
}
