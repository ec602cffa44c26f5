package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/models"
	"github.com/bobarin/explainer/internal/services"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Encoder turns captured frames and narration into a profile-conformant clip.
type Encoder interface {
	MuxClip(ctx context.Context, req services.MuxRequest) error
	RenderPlaceholder(ctx context.Context, req services.PlaceholderRequest) error
}

// Renderer produces one normalized clip per segment inside a job's scratch
// directory.
type Renderer struct {
	surface Surface
	encoder Encoder
	cfg     config.Pipeline
	outDir  string
}

func NewRenderer(surface Surface, encoder Encoder, cfg config.Pipeline, outDir string) *Renderer {
	return &Renderer{surface: surface, encoder: encoder, cfg: cfg, outDir: outDir}
}

// ClipPath is where the clip for a segment index is written.
func (r *Renderer) ClipPath(index int) string {
	return filepath.Join(r.outDir, fmt.Sprintf("clip_%03d.mp4", index))
}

// Render records doc for the clip's target duration and muxes it with the
// narration. Every failure is a *models.SegmentError; no partial clip is
// left behind.
func (r *Renderer) Render(ctx context.Context, segment models.Segment, audio []byte, durationSeconds float64, doc models.AnimationDocument) (models.RenderedClip, error) {
	idx := segment.Index
	if len(audio) <= r.cfg.MinAudioBytes {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource,
			fmt.Errorf("audio payload too small (%d bytes)", len(audio)))
	}

	target := r.cfg.ClipTargetSeconds(durationSeconds)
	if doc.MinDurationSeconds > target {
		target = doc.MinDurationSeconds
	}
	targetMs := int64(math.Round(target * 1000))

	workDir := filepath.Join(r.outDir, fmt.Sprintf("segment_%03d", idx))
	frameDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(frameDir, 0755); err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, fmt.Errorf("failed to create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	audioPath := filepath.Join(workDir, "audio.wav")
	if err := os.WriteFile(audioPath, audio, 0644); err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, fmt.Errorf("failed to write audio: %w", err))
	}

	htmlPath := filepath.Join(workDir, "animation.html")
	if err := os.WriteFile(htmlPath, []byte(PrepareDocument(doc)), 0644); err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, fmt.Errorf("failed to write document: %w", err))
	}

	log.Debug().
		Int("segment", idx).
		Float64("target", target).
		Str("source", string(doc.Source)).
		Msg("capturing animation")

	frames, err := r.surface.Capture(ctx, CaptureRequest{
		HTMLPath:   htmlPath,
		Width:      r.cfg.Width,
		Height:     r.cfg.Height,
		ReadyExpr:  ReadinessExpression(doc.RequiredGlobals),
		ReadyGrace: r.cfg.ReadyGrace,
		DurationMs: targetMs,
		Timeout:    time.Duration(targetMs)*time.Millisecond + r.cfg.CaptureSlack,
		FrameDir:   frameDir,
	})
	if err != nil {
		kind := models.KindResource
		if errors.Is(err, ErrNotReady) {
			kind = models.KindContent
		}
		return models.RenderedClip{}, models.NewSegmentError(idx, kind, fmt.Errorf("capture failed: %w", err))
	}

	listPath := filepath.Join(workDir, "frames.ffconcat")
	if err := WriteConcatList(listPath, frames, target); err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, err)
	}

	clipPath := r.ClipPath(idx)
	encodeCtx, cancel := context.WithTimeout(ctx, r.cfg.ClipEncodeTimeout)
	err = r.encoder.MuxClip(encodeCtx, services.MuxRequest{
		FrameList:       listPath,
		AudioPath:       audioPath,
		OutputPath:      clipPath,
		DurationSeconds: target,
		Width:           r.cfg.Width,
		Height:          r.cfg.Height,
		FrameRate:       r.cfg.FrameRate,
	})
	cancel()
	if err != nil {
		os.Remove(clipPath)
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindEncoding, err)
	}

	clip, err := r.verify(idx, clipPath, target)
	if err != nil {
		return models.RenderedClip{}, err
	}

	log.Info().
		Int("segment", idx).
		Int("frames", len(frames)).
		Str("size", humanize.Bytes(uint64(clip.SizeBytes))).
		Float64("duration", target).
		Msg("clip rendered")

	return clip, nil
}

// RenderPlaceholder encodes a title card over the narration for a segment
// whose animation could not be captured.
func (r *Renderer) RenderPlaceholder(ctx context.Context, segment models.Segment, audio []byte, durationSeconds float64) (models.RenderedClip, error) {
	idx := segment.Index
	if len(audio) <= r.cfg.MinAudioBytes {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource,
			fmt.Errorf("audio payload too small (%d bytes)", len(audio)))
	}
	target := r.cfg.ClipTargetSeconds(durationSeconds)

	workDir := filepath.Join(r.outDir, fmt.Sprintf("placeholder_%03d", idx))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, err)
	}
	defer os.RemoveAll(workDir)

	audioPath := filepath.Join(workDir, "audio.wav")
	if err := os.WriteFile(audioPath, audio, 0644); err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, err)
	}

	caption := segment.VisualHint
	if caption == "" {
		caption = fmt.Sprintf("Part %d", idx+1)
	}

	clipPath := r.ClipPath(idx)
	encodeCtx, cancel := context.WithTimeout(ctx, r.cfg.ClipEncodeTimeout)
	err := r.encoder.RenderPlaceholder(encodeCtx, services.PlaceholderRequest{
		Caption:         caption,
		AudioPath:       audioPath,
		OutputPath:      clipPath,
		DurationSeconds: target,
		Width:           r.cfg.Width,
		Height:          r.cfg.Height,
	})
	cancel()
	if err != nil {
		os.Remove(clipPath)
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindEncoding, err)
	}

	return r.verify(idx, clipPath, target)
}

func (r *Renderer) verify(idx int, clipPath string, target float64) (models.RenderedClip, error) {
	info, err := os.Stat(clipPath)
	if err != nil {
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource, fmt.Errorf("clip missing: %w", err))
	}
	if info.Size() < r.cfg.MinClipBytes {
		os.Remove(clipPath)
		return models.RenderedClip{}, models.NewSegmentError(idx, models.KindResource,
			fmt.Errorf("clip too small (%d bytes)", info.Size()))
	}

	return models.RenderedClip{
		SegmentIndex:           idx,
		FilePath:               clipPath,
		SizeBytes:              info.Size(),
		Profile:                models.ClipProfile,
		NominalDurationSeconds: target,
	}, nil
}
