package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bobarin/explainer/internal/media/ffprobe"
	"github.com/rs/zerolog/log"
)

// ClipProfileArgs returns the encoder flags every rendered clip is produced
// with. Clips sharing these flags can be joined by stream copy.
func ClipProfileArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", "medium",
		"-profile:v", "high",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-r", "30",
		"-video_track_timescale", "30000",
		"-vsync", "cfr",
		"-g", "30",
		"-keyint_min", "30",
		"-sc_threshold", "0",
		"-b:v", "5000k",
		"-maxrate", "5500k",
		"-bufsize", "10000k",
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
	}
}

// stderrTailBytes bounds how much encoder output is kept for error messages.
const stderrTailBytes = 2048

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	binary      string
	probeBinary string
}

// NewFFmpegService makes sure the scratch root exists.
func NewFFmpegService(tempDir string) *FFmpegService {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &FFmpegService{
		binary:      "ffmpeg",
		probeBinary: "ffprobe",
	}
}

// Run executes ffmpeg with the given arguments. Failures carry the tail of
// ffmpeg's stderr.
func (s *FFmpegService) Run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)

	cmd := exec.CommandContext(ctx, s.binary, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg timed out: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), stderrTailBytes))
	}

	return nil
}

// MuxRequest describes one clip encode from captured frames plus narration.
type MuxRequest struct {
	FrameList       string // ffconcat list of captured frames with per-frame durations
	AudioPath       string
	OutputPath      string
	DurationSeconds float64
	Width           int
	Height          int
	FrameRate       int
}

// MuxClip encodes captured frames and narration into one clip of exactly
// DurationSeconds using the fixed clip profile. Narration shorter than the
// clip is padded with silence.
func (s *FFmpegService) MuxClip(ctx context.Context, req MuxRequest) error {
	filter := fmt.Sprintf(
		"[0:v]%s[v];[1:a]aresample=48000,aformat=channel_layouts=stereo,apad[a]",
		NormalizeVideoChain(req.Width, req.Height, req.FrameRate),
	)

	args := []string{
		"-f", "concat", "-safe", "0", "-i", req.FrameList,
		"-i", req.AudioPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-t", formatSeconds(req.DurationSeconds),
	}
	args = append(args, ClipProfileArgs()...)
	args = append(args, req.OutputPath)

	if err := s.Run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg mux clip failed: %w", err)
	}
	return nil
}

// PlaceholderRequest describes a synthetic clip: a solid card with a caption
// over the narration.
type PlaceholderRequest struct {
	Caption         string
	AudioPath       string
	OutputPath      string
	DurationSeconds float64
	Width           int
	Height          int
}

// RenderPlaceholder encodes a plain title card for a segment whose animation
// could not be rendered. The output carries the same clip profile.
func (s *FFmpegService) RenderPlaceholder(ctx context.Context, req PlaceholderRequest) error {
	filter := fmt.Sprintf(
		"[0:v]drawtext=text='%s':fontsize=60:fontcolor=white:x=(w-text_w)/2:y=(h-text_h)/2,format=yuv420p[v];[1:a]aresample=48000,aformat=channel_layouts=stereo,apad[a]",
		escapeDrawText(req.Caption),
	)

	args := []string{
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=0x111827:s=%dx%d:r=30:d=%s", req.Width, req.Height, formatSeconds(req.DurationSeconds)),
		"-i", req.AudioPath,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "[a]",
		"-t", formatSeconds(req.DurationSeconds),
	}
	args = append(args, ClipProfileArgs()...)
	args = append(args, req.OutputPath)

	if err := s.Run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg placeholder failed: %w", err)
	}
	return nil
}

// MusicMix configures the background bed under the narration.
type MusicMix struct {
	Path         string
	Volume       float64
	FadeSeconds  float64
	TotalSeconds float64
}

// MusicFilter builds the filter that loops, trims, fades and mixes the music
// input under the narration. amix halves each input, so the mix is scaled
// back up to keep narration at its original level.
func MusicFilter(narration, music, out string, mix MusicMix) string {
	fade := mix.FadeSeconds
	if fade*2 > mix.TotalSeconds {
		fade = mix.TotalSeconds / 2
	}

	chain := fmt.Sprintf("[%s]atrim=0:%s,asetpts=PTS-STARTPTS,aresample=48000,aformat=channel_layouts=stereo,volume=%s",
		music, formatSeconds(mix.TotalSeconds), formatFloat(mix.Volume))
	if fade > 0 {
		chain += fmt.Sprintf(",afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
			formatSeconds(fade), formatSeconds(mix.TotalSeconds-fade), formatSeconds(fade))
	}

	return fmt.Sprintf("%s[music];[%s][music]amix=inputs=2:duration=first:dropout_transition=0,volume=2[%s]",
		chain, narration, out)
}

// MixBackgroundMusic lays a looping music bed under the narration of an
// existing video. The video stream is copied.
func (s *FFmpegService) MixBackgroundMusic(ctx context.Context, videoPath, outputPath string, mix MusicMix) error {
	if !MusicAvailable(mix.Path) {
		return fmt.Errorf("background music not found at %q", mix.Path)
	}

	log.Debug().Str("music", mix.Path).Float64("total", mix.TotalSeconds).Msg("mixing background music")

	args := []string{
		"-i", videoPath, // Input 0: video with narration
		"-stream_loop", "-1", // Loop the music infinitely
		"-i", mix.Path, // Input 1: background music
		"-filter_complex", MusicFilter("0:a", "1:a", "aout", mix),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-movflags", "+faststart",
		"-t", formatSeconds(mix.TotalSeconds),
		outputPath,
	}

	if err := s.Run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg mix background music failed: %w", err)
	}
	return nil
}

// MusicAvailable reports whether a music bed is configured and present.
func MusicAvailable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ConcatenateClips joins clips by stream copy via the concat demuxer. Only
// valid when every clip shares the clip profile.
func (s *FFmpegService) ConcatenateClips(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	listPath := outputPath + ".concat.txt"
	var list strings.Builder
	for _, path := range clipPaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		fmt.Fprintf(&list, "file '%s'\n", escapeConcatPath(abs))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy", // Copy without re-encoding
		"-movflags", "+faststart",
		outputPath,
	}

	if err := s.Run(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}
	return nil
}

// ProbeDuration returns a media file's duration in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	result, err := ffprobe.Inspect(ctx, s.probeBinary, path)
	if err != nil {
		return 0, err
	}
	d := result.DurationSeconds()
	if d <= 0 {
		return 0, errors.New("ffprobe reported no duration")
	}
	return d, nil
}

// NormalizeVideoChain scales and pads any input onto the fixed canvas at a
// constant frame rate.
func NormalizeVideoChain(width, height, fps int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p",
		width, height, width, height, fps,
	)
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// escapeDrawText keeps only characters that need no quoting inside a
// drawtext value.
func escapeDrawText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '!', r == '?', r == '-':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
