package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/models"
	"github.com/bobarin/explainer/internal/services"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// AnimationGenerator produces the animation document for a segment.
type AnimationGenerator interface {
	Generate(ctx context.Context, segment models.Segment, durationSeconds float64) (models.AnimationDocument, error)
}

// ClipRenderer turns a voiced segment into a clip.
type ClipRenderer interface {
	Render(ctx context.Context, segment models.Segment, audio []byte, durationSeconds float64, doc models.AnimationDocument) (models.RenderedClip, error)
	RenderPlaceholder(ctx context.Context, segment models.Segment, audio []byte, durationSeconds float64) (models.RenderedClip, error)
}

// Scheduler renders voiced segments batch by batch.
type Scheduler struct {
	animations AnimationGenerator // nil disables generated animations
	renderer   ClipRenderer
	cfg        config.Pipeline
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewScheduler(animations AnimationGenerator, renderer ClipRenderer, cfg config.Pipeline) *Scheduler {
	return &Scheduler{animations: animations, renderer: renderer, cfg: cfg, sleep: sleepCtx}
}

// RenderAll renders every segment that has audio and returns the clips that
// succeeded, ordered by segment index. Segment failures are logged and
// skipped; only an empty result is an error.
func (s *Scheduler) RenderAll(ctx context.Context, segments []models.Segment) ([]models.RenderedClip, error) {
	batches := Batches(segments, s.cfg.BatchSize)

	var clips []models.RenderedClip
	for b, batch := range batches {
		if b > 0 && s.cfg.BatchPause > 0 {
			if err := s.sleep(ctx, s.cfg.BatchPause); err != nil {
				return nil, models.NewStageError("render", models.KindPipeline, err)
			}
		}

		log.Info().
			Int("batch", b+1).
			Int("batches", len(batches)).
			Int("segments", len(batch)).
			Msg("rendering batch")

		clips = append(clips, s.renderBatch(ctx, batch)...)
	}

	sort.Slice(clips, func(i, j int) bool { return clips[i].SegmentIndex < clips[j].SegmentIndex })

	if len(clips) == 0 {
		return nil, models.NewStageError("render", models.KindPipeline, errors.New("no clips rendered"))
	}

	log.Info().
		Int("clips", len(clips)).
		Int("segments", len(segments)).
		Str("dropped", describeDropped(segments, clips)).
		Msg("rendering finished")

	return clips, nil
}

// renderBatch fans one render task per segment out and waits for all of
// them. A failed task never cancels its siblings.
func (s *Scheduler) renderBatch(ctx context.Context, batch []models.Segment) []models.RenderedClip {
	docs := s.documents(ctx, batch)

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		clips []models.RenderedClip
	)
	for i, seg := range batch {
		wg.Add(1)
		go func(seg models.Segment, doc models.AnimationDocument) {
			defer wg.Done()

			taskCtx, cancel := context.WithTimeout(ctx, s.cfg.RenderTimeout)
			defer cancel()

			clip, err := s.renderSegment(taskCtx, seg, doc)
			if err != nil {
				log.Error().
					Err(err).
					Int("segment", seg.Index).
					Str("kind", string(models.KindOf(err))).
					Msg("segment dropped")
				return
			}

			mu.Lock()
			clips = append(clips, clip)
			mu.Unlock()
		}(seg, docs[i])
	}
	wg.Wait()

	return clips
}

// renderSegment renders with the given document. A content failure of a
// generated document is retried once with the local fallback; any other
// failure is final unless placeholders are enabled.
func (s *Scheduler) renderSegment(ctx context.Context, seg models.Segment, doc models.AnimationDocument) (models.RenderedClip, error) {
	clip, err := s.renderer.Render(ctx, seg, seg.Audio, seg.AudioDurationSeconds, doc)
	if err == nil {
		return clip, nil
	}

	if models.KindOf(err) == models.KindContent && doc.Source == models.AnimationSourceGenerated {
		log.Warn().
			Err(err).
			Int("segment", seg.Index).
			Msg("generated animation unusable, rendering fallback")
		clip, err = s.renderer.Render(ctx, seg, seg.Audio, seg.AudioDurationSeconds, s.fallback(seg))
		if err == nil {
			return clip, nil
		}
	}

	if s.cfg.PlaceholderOnFailure && ctx.Err() == nil && models.KindOf(err) != models.KindResource {
		log.Warn().
			Err(err).
			Int("segment", seg.Index).
			Msg("rendering placeholder clip")
		if clip, perr := s.renderer.RenderPlaceholder(ctx, seg, seg.Audio, seg.AudioDurationSeconds); perr == nil {
			return clip, nil
		}
	}

	return models.RenderedClip{}, err
}

// documents fetches one animation document per segment concurrently, each
// under the animation timeout, substituting the fallback on any failure.
func (s *Scheduler) documents(ctx context.Context, batch []models.Segment) []models.AnimationDocument {
	docs := make([]models.AnimationDocument, len(batch))
	if s.animations == nil || !s.cfg.UseAIAnimations {
		for i, seg := range batch {
			docs[i] = s.fallback(seg)
		}
		return docs
	}

	var g errgroup.Group
	for i, seg := range batch {
		i, seg := i, seg
		g.Go(func() error {
			genCtx, cancel := context.WithTimeout(ctx, s.cfg.AnimationTimeout)
			defer cancel()

			doc, err := s.animations.Generate(genCtx, seg, s.cfg.ClipTargetSeconds(seg.AudioDurationSeconds))
			if err != nil {
				log.Warn().
					Err(err).
					Int("segment", seg.Index).
					Msg("animation generation failed, using fallback")
				doc = s.fallback(seg)
			}
			docs[i] = doc
			return nil
		})
	}
	g.Wait()

	return docs
}

func (s *Scheduler) fallback(seg models.Segment) models.AnimationDocument {
	return services.FallbackAnimation(seg, s.cfg.ClipTargetSeconds(seg.AudioDurationSeconds))
}

// Batches splits segments into consecutive groups of at most size,
// preserving order.
func Batches(segments []models.Segment, size int) [][]models.Segment {
	if size <= 0 {
		size = len(segments)
	}
	var batches [][]models.Segment
	for start := 0; start < len(segments); start += size {
		end := start + size
		if end > len(segments) {
			end = len(segments)
		}
		batches = append(batches, segments[start:end])
	}
	return batches
}

// describeDropped summarises which requested segments are missing from clips.
func describeDropped(segments []models.Segment, clips []models.RenderedClip) string {
	have := make(map[int]bool, len(clips))
	for _, c := range clips {
		have[c.SegmentIndex] = true
	}
	var missing []int
	for _, seg := range segments {
		if !have[seg.Index] {
			missing = append(missing, seg.Index)
		}
	}
	if len(missing) == 0 {
		return "none"
	}
	return fmt.Sprint(missing)
}
