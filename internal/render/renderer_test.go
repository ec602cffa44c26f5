package render

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/media/ffprobe"
	"github.com/bobarin/explainer/internal/models"
	"github.com/bobarin/explainer/internal/services"
)

// silentWAV returns a 48 kHz mono 16-bit WAV of the given length.
func silentWAV(seconds float64) []byte {
	const rate = 48000
	size := int(rate * 2 * seconds)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+size))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(size))
	buf.Write(make([]byte, size))
	return buf.Bytes()
}

// fakeSurface writes solid-color JPEG frames instead of driving a browser.
type fakeSurface struct {
	frames int
	err    error
	got    CaptureRequest
}

func (f *fakeSurface) Capture(ctx context.Context, req CaptureRequest) ([]Frame, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(req.HTMLPath); err != nil {
		return nil, err
	}

	var frames []Frame
	step := float64(req.DurationMs) / 1000 / float64(f.frames)
	for i := 0; i < f.frames; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 36))
		for x := 0; x < 64; x++ {
			for y := 0; y < 36; y++ {
				img.Set(x, y, color.RGBA{uint8(i * 40), 80, 160, 255})
			}
		}
		path := filepath.Join(req.FrameDir, fmt.Sprintf("frame_%03d.jpg", i))
		file, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		jpeg.Encode(file, img, nil)
		file.Close()
		frames = append(frames, Frame{Path: path, Timestamp: float64(i) * step})
	}
	return frames, nil
}

// fakeEncoder writes an output file of a fixed size.
type fakeEncoder struct {
	size int
	err  error
	mux  services.MuxRequest
}

func (f *fakeEncoder) MuxClip(ctx context.Context, req services.MuxRequest) error {
	f.mux = req
	if f.err != nil {
		return f.err
	}
	if _, err := os.Stat(req.FrameList); err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, make([]byte, f.size), 0644)
}

func (f *fakeEncoder) RenderPlaceholder(ctx context.Context, req services.PlaceholderRequest) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(req.OutputPath, make([]byte, f.size), 0644)
}

func testPipeline() config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.ClipEncodeTimeout = 30 * time.Second
	return cfg
}

func fallbackDoc() models.AnimationDocument {
	return models.AnimationDocument{HTML: "<html><body><canvas></canvas></body></html>", Source: models.AnimationSourceFallback}
}

func TestRenderProducesClip(t *testing.T) {
	dir := t.TempDir()
	surface := &fakeSurface{frames: 3}
	encoder := &fakeEncoder{size: 20000}
	r := NewRenderer(surface, encoder, testPipeline(), dir)

	clip, err := r.Render(context.Background(), models.Segment{Index: 4}, silentWAV(0.5), 14.2, fallbackDoc())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if clip.SegmentIndex != 4 || clip.FilePath != filepath.Join(dir, "clip_004.mp4") {
		t.Errorf("unexpected clip %+v", clip)
	}
	if clip.Profile != models.ClipProfile || clip.SizeBytes != 20000 {
		t.Errorf("unexpected profile/size %+v", clip)
	}
	if math.Abs(clip.NominalDurationSeconds-15.2) > 1e-9 {
		t.Errorf("expected target 15.2s, got %v", clip.NominalDurationSeconds)
	}
	if encoder.mux.DurationSeconds != clip.NominalDurationSeconds {
		t.Errorf("mux duration %v != nominal %v", encoder.mux.DurationSeconds, clip.NominalDurationSeconds)
	}
	if surface.got.DurationMs != 15200 || surface.got.Timeout != 25200*time.Millisecond {
		t.Errorf("unexpected capture timing %+v", surface.got)
	}
	if surface.got.ReadyGrace != 5*time.Second {
		t.Errorf("expected 5s ready grace, got %v", surface.got.ReadyGrace)
	}

	if _, err := os.Stat(filepath.Join(dir, "segment_004")); !os.IsNotExist(err) {
		t.Error("work dir should be removed")
	}
}

func TestRenderShortNarrationUsesMinimum(t *testing.T) {
	surface := &fakeSurface{frames: 1}
	r := NewRenderer(surface, &fakeEncoder{size: 20000}, testPipeline(), t.TempDir())

	clip, err := r.Render(context.Background(), models.Segment{Index: 0}, silentWAV(0.5), 3, fallbackDoc())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if clip.NominalDurationSeconds != 12 {
		t.Errorf("expected 12s floor, got %v", clip.NominalDurationSeconds)
	}
}

func TestRenderFailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		audio   []byte
		surface *fakeSurface
		encoder *fakeEncoder
		kind    models.ErrorKind
	}{
		{"undersized audio", make([]byte, 999), &fakeSurface{frames: 1}, &fakeEncoder{size: 20000}, models.KindResource},
		{"audio at minimum", make([]byte, 1000), &fakeSurface{frames: 1}, &fakeEncoder{size: 20000}, models.KindResource},
		{"not ready", silentWAV(0.5), &fakeSurface{err: ErrNotReady}, &fakeEncoder{size: 20000}, models.KindContent},
		{"capture timeout", silentWAV(0.5), &fakeSurface{err: ErrCaptureTimeout}, &fakeEncoder{size: 20000}, models.KindResource},
		{"no frames", silentWAV(0.5), &fakeSurface{frames: 0}, &fakeEncoder{size: 20000}, models.KindResource},
		{"encoder failure", silentWAV(0.5), &fakeSurface{frames: 2}, &fakeEncoder{err: errors.New("exit status 1")}, models.KindEncoding},
		{"undersized clip", silentWAV(0.5), &fakeSurface{frames: 2}, &fakeEncoder{size: 9999}, models.KindResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			r := NewRenderer(tt.surface, tt.encoder, testPipeline(), dir)

			_, err := r.Render(context.Background(), models.Segment{Index: 9}, tt.audio, 10, fallbackDoc())
			if err == nil {
				t.Fatal("expected error")
			}

			var segErr *models.SegmentError
			if !errors.As(err, &segErr) || segErr.Index != 9 {
				t.Fatalf("expected segment 9 error, got %v", err)
			}
			if segErr.Kind != tt.kind {
				t.Errorf("expected %s error, got %s (%v)", tt.kind, segErr.Kind, err)
			}
			if _, err := os.Stat(filepath.Join(dir, "clip_009.mp4")); !os.IsNotExist(err) {
				t.Error("partial clip left behind")
			}
		})
	}
}

func TestRenderPlaceholder(t *testing.T) {
	r := NewRenderer(&fakeSurface{}, &fakeEncoder{size: 15000}, testPipeline(), t.TempDir())

	clip, err := r.RenderPlaceholder(context.Background(), models.Segment{Index: 2, VisualHint: "Moon"}, silentWAV(0.5), 20)
	if err != nil {
		t.Fatalf("RenderPlaceholder: %v", err)
	}
	if clip.NominalDurationSeconds != 21 || clip.SegmentIndex != 2 {
		t.Errorf("unexpected placeholder clip %+v", clip)
	}
}

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping encoder test in short mode")
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
}

func TestRenderRoundTripWithFFmpeg(t *testing.T) {
	requireTools(t, "ffmpeg", "ffprobe")

	tests := []struct {
		name   string
		audio  float64
		target float64
	}{
		{"minimum clip", 4, 12},
		{"short narration", 19, 20},
		{"medium narration", 34, 35},
		{"long narration", 59, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := testPipeline()
			cfg.Width, cfg.Height = 640, 360
			cfg.ClipEncodeTimeout = 2 * time.Minute

			r := NewRenderer(&fakeSurface{frames: 4}, services.NewFFmpegService(dir), cfg, dir)

			clip, err := r.Render(context.Background(), models.Segment{Index: 1}, silentWAV(tt.audio), tt.audio, fallbackDoc())
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if clip.NominalDurationSeconds != tt.target {
				t.Fatalf("expected nominal %vs, got %v", tt.target, clip.NominalDurationSeconds)
			}

			result, err := ffprobe.Inspect(context.Background(), "ffprobe", clip.FilePath)
			if err != nil {
				t.Fatalf("ffprobe: %v", err)
			}

			if d := result.DurationSeconds(); d < tt.target-1 || d > tt.target+2 {
				t.Errorf("duration %.3f outside [%v, %v]", d, tt.target-1, tt.target+2)
			}

			video, ok := result.VideoStream()
			if !ok || video.PixFmt != "yuv420p" || video.FrameRate() != 30 {
				t.Errorf("video stream off profile: %+v", video)
			}
			audioStream, ok := result.AudioStream()
			if !ok || audioStream.SampleRate != "48000" || audioStream.Channels != 2 {
				t.Errorf("audio stream off profile: %+v", audioStream)
			}
		})
	}
}

func findChrome() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func TestRenderRoundTripWithChrome(t *testing.T) {
	requireTools(t, "ffmpeg", "ffprobe")
	chrome := findChrome()
	if chrome == "" {
		t.Skip("chrome not installed")
	}

	dir := t.TempDir()
	cfg := testPipeline()
	cfg.MinClipDuration = 3
	cfg.ClipPad = 0.5

	r := NewRenderer(NewChromeSurface(chrome, cfg.Width, cfg.Height), services.NewFFmpegService(dir), cfg, dir)

	seg := models.Segment{Index: 0, NarrationText: "Short test narration.", VisualHint: "Test card"}
	doc := services.FallbackAnimation(seg, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	clip, err := r.Render(ctx, seg, silentWAV(2.5), 2.5, doc)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	d, err := services.NewFFmpegService(dir).ProbeDuration(ctx, clip.FilePath)
	if err != nil {
		t.Fatalf("ProbeDuration: %v", err)
	}
	if d < clip.NominalDurationSeconds-1 || d > clip.NominalDurationSeconds+2 {
		t.Errorf("duration %.3f outside tolerance of %v", d, clip.NominalDurationSeconds)
	}
}
