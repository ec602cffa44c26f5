package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/models"
	"github.com/bobarin/explainer/internal/services"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// narrationStyle is the delivery hint passed to every speech call.
const narrationStyle = "clear, warm, educational"

// AudioResult is the narration for one segment. Audio is nil when every
// attempt failed.
type AudioResult struct {
	Index           int
	Audio           []byte
	DurationSeconds float64
}

// Absent reports whether the segment has no usable narration.
func (r AudioResult) Absent() bool {
	return r.Audio == nil
}

// AudioPool voices segments with a bounded number of concurrent speech calls.
type AudioPool struct {
	tts   services.TTSService
	cfg   config.Pipeline
	sleep func(ctx context.Context, d time.Duration) error
}

func NewAudioPool(tts services.TTSService, cfg config.Pipeline) *AudioPool {
	return &AudioPool{tts: tts, cfg: cfg, sleep: sleepCtx}
}

// Generate returns one result per segment, in the order given. A failed
// segment comes back absent; Generate itself never fails.
func (p *AudioPool) Generate(ctx context.Context, segments []models.Segment) []AudioResult {
	results := make([]AudioResult, len(segments))

	var g errgroup.Group
	g.SetLimit(p.cfg.AudioWorkers)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			results[i] = p.generateOne(ctx, seg)
			return nil
		})
	}
	g.Wait()

	absent := 0
	for _, r := range results {
		if r.Absent() {
			absent++
		}
	}
	log.Info().
		Int("segments", len(segments)).
		Int("absent", absent).
		Msg("audio generation finished")

	return results
}

func (p *AudioPool) generateOne(ctx context.Context, seg models.Segment) AudioResult {
	result := AudioResult{Index: seg.Index}

	for attempt := 1; attempt <= p.cfg.AudioMaxAttempts; attempt++ {
		audio, duration, err := p.attempt(ctx, seg)
		if err == nil {
			result.Audio = audio
			result.DurationSeconds = duration
			log.Debug().
				Int("segment", seg.Index).
				Int("bytes", len(audio)).
				Float64("duration", duration).
				Msg("audio generated")
			return result
		}

		log.Warn().
			Err(err).
			Int("segment", seg.Index).
			Int("attempt", attempt).
			Msg("audio generation failed")

		if attempt < p.cfg.AudioMaxAttempts {
			if err := p.sleep(ctx, time.Duration(attempt)*p.cfg.AudioRetryBackoff); err != nil {
				break
			}
		}
	}

	return result
}

func (p *AudioPool) attempt(ctx context.Context, seg models.Segment) ([]byte, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AudioTimeout)
	defer cancel()

	resp, err := p.tts.GenerateSpeech(callCtx, seg.NarrationText, narrationStyle)
	if err != nil {
		return nil, 0, err
	}
	if resp == nil || len(resp.AudioData) <= p.cfg.MinAudioBytes {
		size := 0
		if resp != nil {
			size = len(resp.AudioData)
		}
		return nil, 0, fmt.Errorf("audio too small: %d bytes", size)
	}

	if resp.DurationMs > 0 {
		return resp.AudioData, float64(resp.DurationMs) / 1000, nil
	}
	return resp.AudioData, p.EstimateDuration(len(resp.AudioData)), nil
}

// EstimateDuration guesses narration length from payload size when the
// provider reports none.
func (p *AudioPool) EstimateDuration(size int) float64 {
	d := float64(size) / p.cfg.AudioBytesPerSecond
	if d < p.cfg.MinAudioDuration {
		return p.cfg.MinAudioDuration
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
