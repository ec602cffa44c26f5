package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/explainer/internal/assembly"
	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxErrorMessage bounds the failure text stored on a job.
const maxErrorMessage = 500

// statusWriteTimeout bounds status writes made after the job context ended.
const statusWriteTimeout = 10 * time.Second

// JobStore records job progress.
type JobStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errorMessage *string) error
	Complete(ctx context.Context, id uuid.UUID, video models.PublishedVideo, durationSeconds int, title, description string) error
}

// CreditStore charges users for finished videos.
type CreditStore interface {
	DeductForVideo(ctx context.Context, userID, videoID uuid.UUID, amount int, description string) error
}

// Publisher hosts the final video.
type Publisher interface {
	Publish(ctx context.Context, videoID uuid.UUID, path, title string) (models.PublishedVideo, error)
}

// ScriptGenerator writes the narrated segments for a topic.
type ScriptGenerator interface {
	GenerateSegments(ctx context.Context, topic, category string, count int) ([]models.Segment, error)
}

// MetadataGenerator titles and describes a finished video. Both calls fall
// back to generated text instead of failing.
type MetadataGenerator interface {
	GenerateTitle(ctx context.Context, topic string) string
	GenerateDescription(ctx context.Context, topic, title string) string
}

// Voicer narrates segments.
type Voicer interface {
	Generate(ctx context.Context, segments []models.Segment) []AudioResult
}

// TimelineAssembler stitches clips into the deliverable.
type TimelineAssembler interface {
	Assemble(ctx context.Context, clips []models.RenderedClip, outputPath string) (assembly.Result, error)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Jobs       JobStore
	Credits    CreditStore
	Publisher  Publisher
	Script     ScriptGenerator
	Metadata   MetadataGenerator
	Voices     Voicer
	Animations AnimationGenerator // nil renders every segment with the local fallback
	Renderer   func(scratchDir string) ClipRenderer
	Assembler  TimelineAssembler
}

// Controller runs one job from topic to published video.
type Controller struct {
	deps             Deps
	cfg              config.Pipeline
	segments         int
	tokensPerSegment int
}

func NewController(deps Deps, cfg config.Pipeline, segments, tokensPerSegment int) *Controller {
	return &Controller{deps: deps, cfg: cfg, segments: segments, tokensPerSegment: tokensPerSegment}
}

// outcome is what a successful run hands to the job store.
type outcome struct {
	video       models.PublishedVideo
	duration    float64
	title       string
	description string
	segments    int
}

// Run drives job through every stage. On failure the job is marked failed
// with a readable message, nothing is published and the returned error
// names the failed stage.
func (c *Controller) Run(ctx context.Context, job models.VideoJob) error {
	logger := log.With().Str("job_id", job.ID.String()).Logger()
	start := time.Now()

	scratch := filepath.Join(c.cfg.ScratchDir, job.ID.String())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return c.fail(ctx, job, models.NewStageError("setup", models.KindResource, err))
	}
	defer os.RemoveAll(scratch)

	if err := c.deps.Jobs.UpdateStatus(ctx, job.ID, models.JobStatusGenerating, nil); err != nil {
		return c.fail(ctx, job, models.NewStageError("setup", models.KindPipeline,
			fmt.Errorf("failed to mark job generating: %w", err)))
	}

	out, err := c.produce(ctx, job, scratch)
	if err != nil {
		return c.fail(ctx, job, err)
	}

	// The video is public from here on; the remaining writes outlive a
	// cancelled job context.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()

	durationSeconds := int(math.Round(out.duration))
	if err := c.deps.Jobs.Complete(writeCtx, job.ID, out.video, durationSeconds, out.title, out.description); err != nil {
		return c.fail(ctx, job, models.NewStageError("complete", models.KindPipeline,
			fmt.Errorf("failed to mark job completed: %w", err)))
	}

	amount := out.segments * c.tokensPerSegment
	if amount > 0 {
		desc := fmt.Sprintf("Video: %d segments", out.segments)
		if err := c.deps.Credits.DeductForVideo(writeCtx, job.UserID, job.ID, amount, desc); err != nil {
			logger.Error().Err(err).Int("amount", amount).Msg("credit deduction failed")
		}
	}

	logger.Info().
		Str("url", out.video.URL).
		Int("duration", durationSeconds).
		Dur("elapsed", time.Since(start)).
		Msg("video completed")

	return nil
}

func (c *Controller) produce(ctx context.Context, job models.VideoJob, scratch string) (outcome, error) {
	logger := log.With().Str("job_id", job.ID.String()).Logger()

	logger.Info().Str("stage", "script").Int("segments", c.segments).Msg("generating script")
	segments, err := c.deps.Script.GenerateSegments(ctx, job.Prompt, job.TopicCategory, c.segments)
	if err != nil {
		return outcome{}, models.NewStageError("script", models.KindPipeline, err)
	}

	logger.Info().Str("stage", "audio").Int("segments", len(segments)).Msg("generating narration")
	voiced := Voiced(segments, c.deps.Voices.Generate(ctx, segments))
	if len(voiced) == 0 {
		return outcome{}, models.NewStageError("audio", models.KindPipeline,
			fmt.Errorf("no narration produced for any of %d segments", len(segments)))
	}

	logger.Info().Str("stage", "render").Int("segments", len(voiced)).Msg("rendering clips")
	scheduler := NewScheduler(c.deps.Animations, c.deps.Renderer(scratch), c.cfg)
	clips, err := scheduler.RenderAll(ctx, voiced)
	if err != nil {
		return outcome{}, err
	}

	logger.Info().Str("stage", "assembly").Int("clips", len(clips)).Msg("assembling video")
	result, err := c.deps.Assembler.Assemble(ctx, clips, filepath.Join(scratch, "final.mp4"))
	if err != nil {
		return outcome{}, err
	}
	logger.Info().
		Float64("duration", result.DurationSeconds).
		Bool("music", result.MusicMixed).
		Bool("fallback", result.UsedFallback).
		Msg("video assembled")

	logger.Info().Str("stage", "metadata").Msg("generating title and description")
	title := c.deps.Metadata.GenerateTitle(ctx, job.Prompt)
	description := c.deps.Metadata.GenerateDescription(ctx, job.Prompt, title)

	logger.Info().Str("stage", "publish").Msg("publishing video")
	video, err := c.deps.Publisher.Publish(ctx, job.ID, result.Path, title)
	if err != nil {
		return outcome{}, models.NewStageError("publish", models.KindPipeline, err)
	}

	return outcome{
		video:       video,
		duration:    result.DurationSeconds,
		title:       title,
		description: description,
		segments:    len(segments),
	}, nil
}

// fail records err on the job. The write outlives a cancelled job context.
func (c *Controller) fail(ctx context.Context, job models.VideoJob, err error) error {
	msg := FailureMessage(err)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if uerr := c.deps.Jobs.UpdateStatus(writeCtx, job.ID, models.JobStatusFailed, &msg); uerr != nil {
		log.Error().Err(uerr).Str("job_id", job.ID.String()).Msg("failed to record job failure")
	}

	log.Error().
		Err(err).
		Str("job_id", job.ID.String()).
		Str("kind", string(models.KindOf(err))).
		Msg("video generation failed")

	return err
}

// FailureMessage is the text shown to users for a failed job.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "generation was cancelled"
	} else if errors.Is(err, context.DeadlineExceeded) {
		msg = "generation timed out: " + msg
	}
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage-3] + "..."
	}
	return msg
}

// Voiced merges audio results into their segments and drops every segment
// without narration. Order follows segments.
func Voiced(segments []models.Segment, results []AudioResult) []models.Segment {
	byIndex := make(map[int]AudioResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}

	var voiced []models.Segment
	for _, seg := range segments {
		r, ok := byIndex[seg.Index]
		if !ok || r.Absent() {
			log.Warn().Int("segment", seg.Index).Msg("segment has no narration, skipping")
			continue
		}
		seg.Audio = r.Audio
		seg.AudioDurationSeconds = r.DurationSeconds
		voiced = append(voiced, seg)
	}
	return voiced
}
