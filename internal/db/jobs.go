package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/explainer/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrVideoNotFound     = errors.New("video not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var allStatuses = []models.JobStatus{
	models.JobStatusQueued,
	models.JobStatusGenerating,
	models.JobStatusCompleted,
	models.JobStatusFailed,
}

// previousStatuses lists the states a job may move to next from.
func previousStatuses(next models.JobStatus) []string {
	var from []string
	for _, s := range allStatuses {
		if s.CanTransitionTo(next) {
			from = append(from, string(s))
		}
	}
	return from
}

func (db *DB) CreateVideo(ctx context.Context, video *models.VideoJob) error {
	query := `
		INSERT INTO video_generations (
			id, user_id, prompt, topic_category, generation_status
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		video.ID, video.UserID, video.Prompt, video.TopicCategory, video.Status,
	).Scan(&video.CreatedAt, &video.UpdatedAt)
}

func (db *DB) GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoJob, error) {
	query := `
		SELECT
			id, user_id, prompt, COALESCE(topic_category, 'general'), generation_status,
			generation_error, video_url, stream_uid, title, description,
			duration_seconds, created_at, updated_at
		FROM video_generations
		WHERE id = $1
	`

	video := &models.VideoJob{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&video.ID, &video.UserID, &video.Prompt, &video.TopicCategory, &video.Status,
		&video.Error, &video.VideoURL, &video.StreamUID, &video.Title, &video.Description,
		&video.DurationSeconds, &video.CreatedAt, &video.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// UpdateStatus moves a video to status. The update only applies when the
// stored status may transition to it, so a finished job never changes.
func (db *DB) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errorMessage *string) error {
	query := `
		UPDATE video_generations
		SET generation_status = $1, generation_error = $2, updated_at = NOW()
		WHERE id = $3 AND generation_status = ANY($4)
	`

	res, err := db.ExecContext(ctx, query, status, errorMessage, id, pq.Array(previousStatuses(status)))
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, id, status)
	}
	return nil
}

// Complete records the published video and marks the job completed.
func (db *DB) Complete(ctx context.Context, id uuid.UUID, video models.PublishedVideo, durationSeconds int, title, description string) error {
	var streamUID *string
	if video.StreamUID != "" {
		streamUID = &video.StreamUID
	}

	query := `
		UPDATE video_generations
		SET video_url = $1, stream_uid = $2, title = $3, description = $4,
			duration_seconds = $5, generation_status = $6, generation_error = NULL,
			updated_at = NOW()
		WHERE id = $7 AND generation_status = $8
	`

	res, err := db.ExecContext(ctx, query,
		video.URL, streamUID, title, description, durationSeconds,
		models.JobStatusCompleted, id, models.JobStatusGenerating,
	)
	if err != nil {
		return fmt.Errorf("failed to complete video: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete video: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is not generating", ErrInvalidTransition, id)
	}
	return nil
}
