package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/models"
)

// fakeRenderer returns clips after an optional per-segment delay.
type fakeRenderer struct {
	cfg   config.Pipeline
	delay func(index int) time.Duration
	fail  map[int]error
	// failGenerated rejects generated documents with a content error.
	failGenerated bool
	block         map[int]bool

	mu           sync.Mutex
	docs         map[int][]models.AnimationSource
	placeholders []int

	active    int32
	maxActive int32
}

func (f *fakeRenderer) Render(ctx context.Context, seg models.Segment, audio []byte, duration float64, doc models.AnimationDocument) (models.RenderedClip, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, n) {
			break
		}
	}

	f.mu.Lock()
	if f.docs == nil {
		f.docs = map[int][]models.AnimationSource{}
	}
	f.docs[seg.Index] = append(f.docs[seg.Index], doc.Source)
	f.mu.Unlock()

	if f.block[seg.Index] {
		<-ctx.Done()
		return models.RenderedClip{}, models.NewSegmentError(seg.Index, models.KindResource, ctx.Err())
	}
	if f.delay != nil {
		time.Sleep(f.delay(seg.Index))
	}
	if f.failGenerated && doc.Source == models.AnimationSourceGenerated {
		return models.RenderedClip{}, models.NewSegmentError(seg.Index, models.KindContent, errors.New("not ready"))
	}
	if err := f.fail[seg.Index]; err != nil {
		return models.RenderedClip{}, err
	}
	return f.clip(seg, duration), nil
}

func (f *fakeRenderer) RenderPlaceholder(ctx context.Context, seg models.Segment, audio []byte, duration float64) (models.RenderedClip, error) {
	f.mu.Lock()
	f.placeholders = append(f.placeholders, seg.Index)
	f.mu.Unlock()
	return f.clip(seg, duration), nil
}

func (f *fakeRenderer) clip(seg models.Segment, duration float64) models.RenderedClip {
	return models.RenderedClip{
		SegmentIndex:           seg.Index,
		FilePath:               fmt.Sprintf("clip_%03d.mp4", seg.Index),
		SizeBytes:              20000,
		Profile:                models.ClipProfile,
		NominalDurationSeconds: f.cfg.ClipTargetSeconds(duration),
	}
}

type fakeAnimations struct {
	err   error
	calls int32
}

func (f *fakeAnimations) Generate(ctx context.Context, seg models.Segment, duration float64) (models.AnimationDocument, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return models.AnimationDocument{}, f.err
	}
	return models.AnimationDocument{HTML: "<html></html>", Source: models.AnimationSourceGenerated}, nil
}

func voicedSegments(durations ...float64) []models.Segment {
	segs := make([]models.Segment, len(durations))
	for i, d := range durations {
		segs[i] = models.Segment{
			Index:                i,
			NarrationText:        fmt.Sprintf("narration %d", i),
			VisualHint:           fmt.Sprintf("hint %d", i),
			Audio:                make([]byte, 50000),
			AudioDurationSeconds: d,
		}
	}
	return segs
}

func testSchedulerConfig() config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.BatchPause = 0
	return cfg
}

func TestRenderAllOrdersByIndex(t *testing.T) {
	cfg := testSchedulerConfig()
	renderer := &fakeRenderer{cfg: cfg, delay: func(i int) time.Duration {
		return time.Duration(8-i) * 5 * time.Millisecond
	}}
	s := NewScheduler(&fakeAnimations{}, renderer, cfg)

	clips, err := s.RenderAll(context.Background(), voicedSegments(10, 10, 10, 10, 10, 10, 10, 10))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	for i, c := range clips {
		if c.SegmentIndex != i {
			t.Fatalf("clip %d has index %d; completion order leaked into output", i, c.SegmentIndex)
		}
	}
}

func TestRenderAllSkipsFailedSegments(t *testing.T) {
	cfg := testSchedulerConfig()
	renderer := &fakeRenderer{cfg: cfg, fail: map[int]error{
		1: models.NewSegmentError(1, models.KindResource, errors.New("clip too small")),
	}}
	s := NewScheduler(nil, renderer, cfg)

	clips, err := s.RenderAll(context.Background(), voicedSegments(10, 14, 9))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(clips) != 2 || clips[0].SegmentIndex != 0 || clips[1].SegmentIndex != 2 {
		t.Errorf("expected segments 0 and 2, got %+v", clips)
	}
}

func TestRenderAllFailsWithoutClips(t *testing.T) {
	cfg := testSchedulerConfig()
	boom := models.NewSegmentError(0, models.KindEncoding, errors.New("exit status 1"))
	renderer := &fakeRenderer{cfg: cfg, fail: map[int]error{0: boom, 1: boom}}

	_, err := NewScheduler(nil, renderer, cfg).RenderAll(context.Background(), voicedSegments(10, 10))
	if models.KindOf(err) != models.KindPipeline {
		t.Fatalf("expected pipeline error, got %v", err)
	}
}

func TestRenderAllBatches(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.BatchSize = 2
	cfg.BatchPause = 2 * time.Second
	renderer := &fakeRenderer{cfg: cfg, delay: func(int) time.Duration { return 10 * time.Millisecond }}
	s := NewScheduler(nil, renderer, cfg)

	var pauses []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	clips, err := s.RenderAll(context.Background(), voicedSegments(10, 10, 10, 10, 10))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(clips) != 5 {
		t.Errorf("expected 5 clips, got %d", len(clips))
	}
	if len(pauses) != 2 || pauses[0] != 2*time.Second {
		t.Errorf("expected a pause between each of 3 batches, got %v", pauses)
	}
	if max := atomic.LoadInt32(&renderer.maxActive); max > 2 {
		t.Errorf("batch of 2 ran %d renders at once", max)
	}
}

func TestRenderAllTimeoutDropsOnlyThatSegment(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.RenderTimeout = 50 * time.Millisecond
	renderer := &fakeRenderer{cfg: cfg, block: map[int]bool{1: true}}

	clips, err := NewScheduler(nil, renderer, cfg).RenderAll(context.Background(), voicedSegments(10, 10, 10))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(clips) != 2 {
		t.Errorf("expected siblings to survive a timed-out segment, got %+v", clips)
	}
}

func TestRenderAllAnimationFallbacks(t *testing.T) {
	tests := []struct {
		name          string
		animations    *fakeAnimations
		useAI         bool
		failGenerated bool
		wantSources   []models.AnimationSource
		wantCalls     int32
	}{
		{"generated", &fakeAnimations{}, true, false, []models.AnimationSource{models.AnimationSourceGenerated}, 1},
		{"generator error", &fakeAnimations{err: errors.New("timeout")}, true, false, []models.AnimationSource{models.AnimationSourceFallback}, 1},
		{"disabled", &fakeAnimations{}, false, false, []models.AnimationSource{models.AnimationSourceFallback}, 0},
		{"content error retried", &fakeAnimations{}, true, true, []models.AnimationSource{models.AnimationSourceGenerated, models.AnimationSourceFallback}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSchedulerConfig()
			cfg.UseAIAnimations = tt.useAI
			renderer := &fakeRenderer{cfg: cfg, failGenerated: tt.failGenerated}

			clips, err := NewScheduler(tt.animations, renderer, cfg).RenderAll(context.Background(), voicedSegments(10))
			if err != nil {
				t.Fatalf("RenderAll: %v", err)
			}
			if len(clips) != 1 {
				t.Fatalf("expected one clip, got %d", len(clips))
			}

			got := renderer.docs[0]
			if fmt.Sprint(got) != fmt.Sprint(tt.wantSources) {
				t.Errorf("rendered with %v, want %v", got, tt.wantSources)
			}
			if tt.animations.calls != tt.wantCalls {
				t.Errorf("generator called %d times, want %d", tt.animations.calls, tt.wantCalls)
			}
		})
	}
}

func TestRenderAllPlaceholder(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.PlaceholderOnFailure = true
	renderer := &fakeRenderer{cfg: cfg, fail: map[int]error{
		0: models.NewSegmentError(0, models.KindEncoding, errors.New("exit status 1")),
		1: models.NewSegmentError(1, models.KindResource, errors.New("audio payload too small")),
	}}

	clips, err := NewScheduler(nil, renderer, cfg).RenderAll(context.Background(), voicedSegments(10, 10))
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(clips) != 1 || clips[0].SegmentIndex != 0 {
		t.Errorf("expected a placeholder for segment 0 only, got %+v", clips)
	}
	if len(renderer.placeholders) != 1 || renderer.placeholders[0] != 0 {
		t.Errorf("unexpected placeholders %v", renderer.placeholders)
	}
}

func TestBatches(t *testing.T) {
	segs := voicedSegments(1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	batches := Batches(segs, 10)
	if len(batches) != 3 || len(batches[0]) != 10 || len(batches[2]) != 3 {
		t.Fatalf("unexpected batch shape")
	}
	next := 0
	for _, b := range batches {
		for _, s := range b {
			if s.Index != next {
				t.Fatalf("batches reorder segments: got %d, want %d", s.Index, next)
			}
			next++
		}
	}

	if got := Batches(nil, 10); len(got) != 0 {
		t.Errorf("expected no batches for no segments, got %d", len(got))
	}
}
