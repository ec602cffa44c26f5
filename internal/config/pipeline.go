package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTransitionPalette lists the ffmpeg xfade transitions picked at random
// per clip boundary.
var DefaultTransitionPalette = []string{
	"fade",
	"wipeleft", "wiperight", "wipeup", "wipedown",
	"slideleft", "slideright", "slideup", "slidedown",
	"circleopen", "circleclose",
	"dissolve",
}

// Pipeline holds every tunable of the render and assembly pipeline. It is
// threaded through constructors; nothing reads it from process state.
type Pipeline struct {
	// Render batch scheduler
	BatchSize            int           `yaml:"batch_size"`
	RenderTimeout        time.Duration `yaml:"render_timeout"`
	BatchPause           time.Duration `yaml:"batch_pause"`
	AnimationTimeout     time.Duration `yaml:"animation_timeout"`
	UseAIAnimations      bool          `yaml:"use_ai_animations"`
	PlaceholderOnFailure bool          `yaml:"placeholder_on_failure"`

	// Audio generation pool
	AudioWorkers        int           `yaml:"audio_workers"`
	AudioMaxAttempts    int           `yaml:"audio_max_attempts"`
	AudioRetryBackoff   time.Duration `yaml:"audio_retry_backoff"`
	AudioTimeout        time.Duration `yaml:"audio_timeout"`
	MinAudioBytes       int           `yaml:"min_audio_bytes"`
	AudioBytesPerSecond float64       `yaml:"audio_bytes_per_second"`
	MinAudioDuration    float64       `yaml:"min_audio_duration_seconds"`

	// Clip renderer
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	FrameRate         int           `yaml:"frame_rate"`
	MinClipDuration   float64       `yaml:"min_clip_duration_seconds"`
	ClipPad           float64       `yaml:"clip_pad_seconds"`
	ReadyGrace        time.Duration `yaml:"ready_grace"`
	CaptureSlack      time.Duration `yaml:"capture_slack"`
	ClipEncodeTimeout time.Duration `yaml:"clip_encode_timeout"`
	MinClipBytes      int64         `yaml:"min_clip_bytes"`
	ChromePath        string        `yaml:"chrome_path"`

	// Timeline assembler
	TransitionsEnabled    bool          `yaml:"transitions_enabled"`
	TransitionDuration    float64       `yaml:"transition_duration_seconds"`
	TransitionPalette     []string      `yaml:"transition_palette"`
	FastEncodeTimeout     time.Duration `yaml:"fast_encode_timeout"`
	FallbackEncodeTimeout time.Duration `yaml:"fallback_encode_timeout"`
	MusicPath             string        `yaml:"music_path"`
	MusicVolume           float64       `yaml:"music_volume"`
	MusicFade             float64       `yaml:"music_fade_seconds"`

	// Scratch area
	ScratchDir    string        `yaml:"scratch_dir"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`
}

// DefaultPipeline returns the production defaults.
func DefaultPipeline() Pipeline {
	return Pipeline{
		BatchSize:        10,
		RenderTimeout:    5 * time.Minute,
		BatchPause:       2 * time.Second,
		AnimationTimeout: 60 * time.Second,
		UseAIAnimations:  true,

		AudioWorkers:        10,
		AudioMaxAttempts:    2,
		AudioRetryBackoff:   2 * time.Second,
		AudioTimeout:        30 * time.Second,
		MinAudioBytes:       1000,
		AudioBytesPerSecond: 172000,
		MinAudioDuration:    8,

		Width:             1920,
		Height:            1080,
		FrameRate:         30,
		MinClipDuration:   12,
		ClipPad:           1,
		ReadyGrace:        5 * time.Second,
		CaptureSlack:      10 * time.Second,
		ClipEncodeTimeout: 180 * time.Second,
		MinClipBytes:      10000,

		TransitionsEnabled:    true,
		TransitionDuration:    0.5,
		TransitionPalette:     append([]string(nil), DefaultTransitionPalette...),
		FastEncodeTimeout:     5 * time.Minute,
		FallbackEncodeTimeout: 15 * time.Minute,
		MusicPath:             "assets/music/music.mp3",
		MusicVolume:           0.12,
		MusicFade:             2,

		ScratchDir:    "/tmp/explainer",
		SweepInterval: 30 * time.Minute,
		SweepMaxAge:   6 * time.Hour,
	}
}

// LoadPipelineFile overlays a YAML file onto the defaults. Keys absent from
// the file keep their default value.
func LoadPipelineFile(path string) (Pipeline, error) {
	p := DefaultPipeline()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
	}

	return p, nil
}

// Validate rejects settings the pipeline cannot run with.
func (p Pipeline) Validate() error {
	switch {
	case p.BatchSize <= 0:
		return fmt.Errorf("pipeline: batch_size must be positive")
	case p.RenderTimeout <= 0:
		return fmt.Errorf("pipeline: render_timeout must be positive")
	case p.BatchPause < 0:
		return fmt.Errorf("pipeline: batch_pause must not be negative")
	case p.AudioWorkers <= 0:
		return fmt.Errorf("pipeline: audio_workers must be positive")
	case p.AudioMaxAttempts <= 0:
		return fmt.Errorf("pipeline: audio_max_attempts must be at least 1")
	case p.AudioBytesPerSecond <= 0:
		return fmt.Errorf("pipeline: audio_bytes_per_second must be positive")
	case p.Width <= 0 || p.Height <= 0 || p.FrameRate <= 0:
		return fmt.Errorf("pipeline: width, height and frame_rate must be positive")
	case p.MinClipDuration <= 0:
		return fmt.Errorf("pipeline: min_clip_duration_seconds must be positive")
	case p.ClipPad < 0:
		return fmt.Errorf("pipeline: clip_pad_seconds must not be negative")
	case p.ReadyGrace <= 0 || p.CaptureSlack <= 0 || p.ClipEncodeTimeout <= 0:
		return fmt.Errorf("pipeline: ready_grace, capture_slack and clip_encode_timeout must be positive")
	case p.TransitionDuration < 0:
		return fmt.Errorf("pipeline: transition_duration_seconds must not be negative")
	case p.TransitionDuration >= p.MinClipDuration:
		return fmt.Errorf("pipeline: transition_duration_seconds (%.2f) must be shorter than min_clip_duration_seconds (%.2f)", p.TransitionDuration, p.MinClipDuration)
	case p.TransitionsEnabled && len(p.TransitionPalette) == 0:
		return fmt.Errorf("pipeline: transition_palette is empty")
	case p.FastEncodeTimeout <= 0 || p.FallbackEncodeTimeout <= 0:
		return fmt.Errorf("pipeline: encode timeouts must be positive")
	case p.MusicVolume < 0 || p.MusicVolume > 1:
		return fmt.Errorf("pipeline: music_volume must be within [0, 1]")
	case p.ScratchDir == "":
		return fmt.Errorf("pipeline: scratch_dir is required")
	}
	return nil
}

// ClipTargetSeconds is the exact clip length for a narration of the given
// duration: the narration plus the pad, never shorter than the minimum.
func (p Pipeline) ClipTargetSeconds(audioSeconds float64) float64 {
	target := audioSeconds + p.ClipPad
	if target < p.MinClipDuration {
		return p.MinClipDuration
	}
	return target
}
