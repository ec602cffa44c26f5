package services

import (
	"context"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestClipProfileArgs(t *testing.T) {
	args := strings.Join(ClipProfileArgs(), " ")

	required := []string{
		"-c:v libx264",
		"-profile:v high",
		"-level 4.0",
		"-pix_fmt yuv420p",
		"-r 30",
		"-video_track_timescale 30000",
		"-g 30",
		"-keyint_min 30",
		"-sc_threshold 0",
		"-b:v 5000k",
		"-maxrate 5500k",
		"-bufsize 10000k",
		"-movflags +faststart",
		"-c:a aac",
		"-b:a 128k",
		"-ar 48000",
		"-ac 2",
	}
	for _, want := range required {
		if !strings.Contains(args, want) {
			t.Errorf("clip profile missing %q", want)
		}
	}
}

func TestClipProfileArgsReturnsCopy(t *testing.T) {
	a := ClipProfileArgs()
	a[1] = "libx265"
	if ClipProfileArgs()[1] != "libx264" {
		t.Fatal("ClipProfileArgs shares its backing array")
	}
}

func TestMusicFilter(t *testing.T) {
	filter := MusicFilter("narr", "2:a", "aout", MusicMix{Volume: 0.12, FadeSeconds: 2, TotalSeconds: 37})

	for _, want := range []string{
		"[2:a]atrim=0:37.000",
		"volume=0.12",
		"afade=t=in:st=0:d=2.000",
		"afade=t=out:st=35.000:d=2.000",
		"[narr][music]amix=inputs=2:duration=first",
		"volume=2[aout]",
	} {
		if !strings.Contains(filter, want) {
			t.Errorf("filter missing %q:\n%s", want, filter)
		}
	}
}

func TestMusicFilterShortTimelineClampsFade(t *testing.T) {
	filter := MusicFilter("0:a", "1:a", "aout", MusicMix{Volume: 0.1, FadeSeconds: 5, TotalSeconds: 6})
	if !strings.Contains(filter, "afade=t=out:st=3.000:d=3.000") {
		t.Errorf("expected fade clamped to half the timeline:\n%s", filter)
	}
}

func TestEscapeDrawText(t *testing.T) {
	got := escapeDrawText("Segment 3: it's 100% done, ok?")
	if got != "Segment 3 its 100 done ok?" {
		t.Errorf("unexpected escape result %q", got)
	}
}

func TestTail(t *testing.T) {
	if got := tail("  short  ", 10); got != "short" {
		t.Errorf("expected trimmed string, got %q", got)
	}
	if got := tail("abcdefghij", 4); got != "...ghij" {
		t.Errorf("expected tail, got %q", got)
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{0.12: "0.12", 1: "1", 0.5: "0.5", 0.125: "0.125"}
	for in, want := range tests {
		if got := formatFloat(in); got != want {
			t.Errorf("formatFloat(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestMusicAvailable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "music.mp3")
	if MusicAvailable(path) {
		t.Error("missing file reported available")
	}
	if err := os.WriteFile(path, []byte("id3"), 0644); err != nil {
		t.Fatal(err)
	}
	if !MusicAvailable(path) {
		t.Error("existing file reported unavailable")
	}
	if MusicAvailable(dir) {
		t.Error("directory reported available")
	}
	if MusicAvailable("") {
		t.Error("empty path reported available")
	}
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping ffmpeg test in short mode")
	}
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}
}

func TestConcatenateClipsStreamCopy(t *testing.T) {
	requireFFmpeg(t)

	dir := t.TempDir()
	svc := NewFFmpegService(dir)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var clips []string
	for i, seconds := range []string{"2", "3"} {
		out := filepath.Join(dir, "clip_"+seconds+".mp4")
		args := []string{
			"-f", "lavfi", "-i", "testsrc2=s=320x180:r=30:d=" + seconds,
			"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=48000:d=" + seconds,
			"-shortest",
		}
		args = append(args, ClipProfileArgs()...)
		args = append(args, out)
		if err := svc.Run(ctx, args...); err != nil {
			t.Fatalf("clip %d: %v", i, err)
		}
		clips = append(clips, out)
	}

	out := filepath.Join(dir, "joined.mp4")
	if err := svc.ConcatenateClips(ctx, clips, out); err != nil {
		t.Fatalf("ConcatenateClips: %v", err)
	}

	got, err := svc.ProbeDuration(ctx, out)
	if err != nil {
		t.Fatalf("ProbeDuration: %v", err)
	}
	if math.Abs(got-5) > 0.3 {
		t.Errorf("expected ~5s joined duration, got %.3f", got)
	}

	if _, err := os.Stat(out + ".concat.txt"); !os.IsNotExist(err) {
		t.Error("concat list should be removed")
	}
}

func TestRunReportsStderr(t *testing.T) {
	requireFFmpeg(t)

	svc := NewFFmpegService(t.TempDir())
	err := svc.Run(context.Background(), "-i", filepath.Join(t.TempDir(), "missing.mp4"), "out.mp4")
	if err == nil {
		t.Fatal("expected error for missing input")
	}
	if !strings.Contains(err.Error(), "missing.mp4") {
		t.Errorf("expected stderr tail in error, got %v", err)
	}
}
