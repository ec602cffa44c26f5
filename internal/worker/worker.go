package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobarin/explainer/internal/db"
	"github.com/bobarin/explainer/internal/models"
	"github.com/bobarin/explainer/internal/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	pollTimeout  = 5 * time.Second
	errorBackoff = time.Second
)

// JobSource yields queued generation jobs.
type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// VideoStore loads the job row and records crashes.
type VideoStore interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errorMessage *string) error
}

// Runner produces one video end to end.
type Runner interface {
	Run(ctx context.Context, job models.VideoJob) error
}

type Worker struct {
	queue  JobSource
	videos VideoStore
	runner Runner

	pollTimeout  time.Duration
	errorBackoff time.Duration
}

func New(q JobSource, videos VideoStore, runner Runner) *Worker {
	return &Worker{
		queue:        q,
		videos:       videos,
		runner:       runner,
		pollTimeout:  pollTimeout,
		errorBackoff: errorBackoff,
	}
}

// Start runs concurrency consumers and blocks until ctx is cancelled and
// every in-flight job has returned.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	log.Info().Int("concurrency", concurrency).Msg("worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.processQueue(ctx, id)
		}(i)
	}

	<-ctx.Done()
	log.Info().Msg("worker shutting down")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context, consumer int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queue.QueueGenerateVideo, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("consumer", consumer).Msg("failed to dequeue")
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errorBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		w.handle(ctx, job)
	}
}

// handle runs one job. A panic inside the pipeline fails the job instead of
// killing the consumer.
func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	logger := log.With().
		Str("job_id", job.VideoID.String()).
		Str("queue_job", job.ID.String()).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
			w.markFailed(job.VideoID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	video, err := w.videos.GetVideo(ctx, job.VideoID)
	if errors.Is(err, db.ErrVideoNotFound) {
		logger.Warn().Msg("video row missing, dropping job")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to load video")
		w.markFailed(job.VideoID, "failed to load video")
		return
	}

	if video.Status != models.JobStatusQueued {
		logger.Warn().Str("status", string(video.Status)).Msg("video not queued, skipping duplicate delivery")
		return
	}
	if job.TopicCategory != "" {
		video.TopicCategory = job.TopicCategory
	}

	logger.Info().Str("topic", video.Prompt).Msg("processing video")
	start := time.Now()

	if err := w.runner.Run(ctx, *video); err != nil {
		logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("video failed")
		return
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("video done")
}

func (w *Worker) markFailed(videoID uuid.UUID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.videos.UpdateStatus(ctx, videoID, models.JobStatusFailed, &msg); err != nil {
		log.Error().Err(err).Str("job_id", videoID.String()).Msg("failed to mark video failed")
	}
}
