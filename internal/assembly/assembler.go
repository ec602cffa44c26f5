package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/models"
	"github.com/bobarin/explainer/internal/services"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const stageName = "assembly"

const (
	fastPreset     = "veryfast"
	fallbackPreset = "medium"
)

// Runner executes encoder passes.
type Runner interface {
	Run(ctx context.Context, args ...string) error
	ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error
	MixBackgroundMusic(ctx context.Context, videoPath, outputPath string, mix services.MusicMix) error
}

// Prober reads a media file's real duration.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Result describes the assembled video.
type Result struct {
	Path            string
	DurationSeconds float64
	Transitions     []Transition
	UsedFallback    bool
	// MusicMixed is false when no music is configured or the mix failed
	// and the narration-only clip was published instead.
	MusicMixed bool
}

// Assembler stitches rendered clips into the final video.
type Assembler struct {
	runner Runner
	prober Prober
	cfg    config.Pipeline

	mu  sync.Mutex
	rng *rand.Rand
}

func NewAssembler(runner Runner, prober Prober, cfg config.Pipeline) *Assembler {
	return &Assembler{
		runner: runner,
		prober: prober,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Assemble joins clips in segment order into outputPath. A fast encode is
// tried first; if it fails or produces a broken file the inputs are fully
// re-encoded once. Clip files are deleted only after the output is verified.
func (a *Assembler) Assemble(ctx context.Context, clips []models.RenderedClip, outputPath string) (Result, error) {
	if len(clips) == 0 {
		return Result{}, models.NewStageError(stageName, models.KindPipeline, errors.New("no clips to assemble"))
	}

	ordered := append([]models.RenderedClip(nil), clips...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].SegmentIndex < ordered[j].SegmentIndex })

	for _, clip := range ordered {
		if err := a.checkFile(clip.FilePath); err != nil {
			return Result{}, models.NewStageError(stageName, models.KindResource,
				fmt.Errorf("clip for segment %d unusable: %w", clip.SegmentIndex, err))
		}
	}

	var (
		result Result
		err    error
	)
	if len(ordered) == 1 {
		result, err = a.assembleSingle(ctx, ordered[0], outputPath)
	} else {
		result, err = a.assembleTimeline(ctx, ordered, outputPath)
	}
	if err != nil {
		os.Remove(outputPath)
		return Result{}, err
	}

	for _, clip := range ordered {
		os.Remove(clip.FilePath)
	}

	info, _ := os.Stat(outputPath)
	var size uint64
	if info != nil {
		size = uint64(info.Size())
	}
	log.Info().
		Int("clips", len(ordered)).
		Float64("duration", result.DurationSeconds).
		Str("size", humanize.Bytes(size)).
		Bool("fallback", result.UsedFallback).
		Msg("video assembled")

	return result, nil
}

// assembleSingle skips the transition graph entirely.
func (a *Assembler) assembleSingle(ctx context.Context, clip models.RenderedClip, outputPath string) (Result, error) {
	duration := a.probe(ctx, clip)

	mixed := false
	if mix := a.musicMix(duration); mix != nil {
		encodeCtx, cancel := context.WithTimeout(ctx, a.cfg.FastEncodeTimeout)
		err := a.runner.MixBackgroundMusic(encodeCtx, clip.FilePath, outputPath, *mix)
		cancel()
		if err == nil {
			err = a.checkFile(outputPath)
		}
		if err != nil {
			log.Warn().Err(err).Msg("music mix failed, publishing narration only")
			os.Remove(outputPath)
		} else {
			mixed = true
		}
	}

	if !mixed {
		if err := copyFile(clip.FilePath, outputPath); err != nil {
			return Result{}, models.NewStageError(stageName, models.KindResource, err)
		}
	}

	if d, err := a.prober.ProbeDuration(ctx, outputPath); err == nil {
		duration = d
	}
	return Result{Path: outputPath, DurationSeconds: duration, MusicMixed: mixed}, nil
}

// assembleTimeline runs probing, graph building, the fast encode and, when
// needed, the fallback encode. No step is repeated.
func (a *Assembler) assembleTimeline(ctx context.Context, clips []models.RenderedClip, outputPath string) (Result, error) {
	durations := make([]float64, len(clips))
	paths := make([]string, len(clips))
	for i, clip := range clips {
		durations[i] = a.probe(ctx, clip)
		paths[i] = clip.FilePath
	}

	transition := 0.0
	if a.cfg.TransitionsEnabled {
		transition = a.cfg.TransitionDuration
	}
	a.mu.Lock()
	plan, err := BuildPlan(durations, transition, a.cfg.TransitionPalette, a.rng)
	a.mu.Unlock()
	if err != nil {
		return Result{}, models.NewStageError(stageName, models.KindPipeline, err)
	}

	opts := graphOptions{
		Width:      a.cfg.Width,
		Height:     a.cfg.Height,
		FrameRate:  a.cfg.FrameRate,
		Music:      a.musicMix(plan.TotalSeconds),
		MusicInput: len(clips),
	}

	log.Debug().
		Int("clips", len(clips)).
		Float64("transition", plan.TransitionSeconds).
		Float64("expected_duration", plan.TotalSeconds).
		Msg("timeline planned")

	result := Result{Path: outputPath, Transitions: plan.Transitions, MusicMixed: opts.Music != nil}
	if plan.TransitionSeconds == 0 {
		result.Transitions = nil
	}

	fastErr := a.fastEncode(ctx, paths, plan, opts, outputPath)
	if fastErr == nil {
		fastErr = a.checkFile(outputPath)
	}
	if fastErr == nil {
		result.DurationSeconds, fastErr = a.prober.ProbeDuration(ctx, outputPath)
	}
	if fastErr == nil {
		return result, nil
	}

	log.Warn().
		Err(fastErr).
		Int("clips", len(clips)).
		Msg("fast assembly failed; clips did not match the clip profile, re-encoding every input")
	os.Remove(outputPath)

	opts.Normalize = true
	encodeCtx, cancel := context.WithTimeout(ctx, a.cfg.FallbackEncodeTimeout)
	err = a.runner.Run(encodeCtx, encodeArgs(paths, plan, opts, fallbackPreset, outputPath)...)
	cancel()
	if err == nil {
		err = a.checkFile(outputPath)
	}
	if err != nil {
		return Result{}, models.NewStageError(stageName, models.KindEncoding,
			fmt.Errorf("fallback encode failed after fast path error (%v): %w", fastErr, err))
	}

	result.UsedFallback = true
	result.DurationSeconds = plan.TotalSeconds
	if d, err := a.prober.ProbeDuration(ctx, outputPath); err == nil {
		result.DurationSeconds = d
	}
	return result, nil
}

// fastEncode is a veryfast pass through the transition graph, or a stream
// copy concat plus music mix when transitions are off.
func (a *Assembler) fastEncode(ctx context.Context, paths []string, plan Plan, opts graphOptions, outputPath string) error {
	encodeCtx, cancel := context.WithTimeout(ctx, a.cfg.FastEncodeTimeout)
	defer cancel()

	if plan.TransitionSeconds > 0 {
		return a.runner.Run(encodeCtx, encodeArgs(paths, plan, opts, fastPreset, outputPath)...)
	}

	if opts.Music == nil {
		return a.runner.ConcatenateClips(encodeCtx, paths, outputPath)
	}

	joined := outputPath + ".joined.mp4"
	defer os.Remove(joined)
	if err := a.runner.ConcatenateClips(encodeCtx, paths, joined); err != nil {
		return err
	}
	return a.runner.MixBackgroundMusic(encodeCtx, joined, outputPath, *opts.Music)
}

// probe re-derives a clip's duration from the file, falling back to its
// nominal duration.
func (a *Assembler) probe(ctx context.Context, clip models.RenderedClip) float64 {
	d, err := a.prober.ProbeDuration(ctx, clip.FilePath)
	if err == nil && d > 0 {
		return d
	}

	fallback := clip.NominalDurationSeconds
	if fallback <= 0 {
		fallback = a.cfg.MinClipDuration
	}
	log.Warn().
		Err(err).
		Int("segment", clip.SegmentIndex).
		Float64("nominal", fallback).
		Msg("probe failed, using nominal clip duration")
	return fallback
}

func (a *Assembler) musicMix(total float64) *services.MusicMix {
	if !services.MusicAvailable(a.cfg.MusicPath) {
		return nil
	}
	return &services.MusicMix{
		Path:         a.cfg.MusicPath,
		Volume:       a.cfg.MusicVolume,
		FadeSeconds:  a.cfg.MusicFade,
		TotalSeconds: total,
	}
}

func (a *Assembler) checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() < a.cfg.MinClipBytes {
		return fmt.Errorf("%s is too small (%d bytes)", path, info.Size())
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
