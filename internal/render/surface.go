package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotReady means the document never satisfied its readiness predicate.
	ErrNotReady = errors.New("animation document not ready")
	// ErrCaptureTimeout means the recording-complete signal never fired.
	ErrCaptureTimeout = errors.New("recording did not complete in time")
)

const (
	pollInterval      = 100 * time.Millisecond
	navigationTimeout = 30 * time.Second
	screencastQuality = 90
)

// CaptureRequest describes one full-surface recording of a local document.
type CaptureRequest struct {
	HTMLPath   string
	Width      int
	Height     int
	ReadyExpr  string
	ReadyGrace time.Duration
	DurationMs int64
	Timeout    time.Duration // wait for the completion signal, measured from recording start
	FrameDir   string
}

// Surface loads a document and records everything it paints.
type Surface interface {
	Capture(ctx context.Context, req CaptureRequest) ([]Frame, error)
}

// ChromeSurface records through the DevTools screencast of a headless
// Chromium, so DOM, SVG and canvas content all end up in the frames. Each
// capture runs in its own browser process.
type ChromeSurface struct {
	opts []chromedp.ExecAllocatorOption
}

// NewChromeSurface configures the browser. An empty execPath lets chromedp
// find Chrome on the host.
func NewChromeSurface(execPath string, width, height int) *ChromeSurface {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("allow-file-access-from-files", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(width, height),
	)
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return &ChromeSurface{opts: opts}
}

// Capture implements Surface.
func (s *ChromeSurface) Capture(ctx context.Context, req CaptureRequest) ([]Frame, error) {
	abs, err := filepath.Abs(req.HTMLPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document path: %w", err)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, s.opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	navCtx, cancelNav := context.WithTimeout(tabCtx, navigationTimeout)
	err = chromedp.Run(navCtx,
		emulation.SetDeviceMetricsOverride(int64(req.Width), int64(req.Height), 1, false),
		chromedp.Navigate("file://"+abs),
	)
	cancelNav()
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	if err := waitFor(tabCtx, req.ReadyExpr, req.ReadyGrace); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrNotReady
		}
		return nil, err
	}

	rec := newFrameRecorder(req.FrameDir)
	defer rec.wait()
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventScreencastFrame); ok {
			rec.handle(tabCtx, e)
		}
	})

	err = chromedp.Run(tabCtx,
		page.StartScreencast().
			WithFormat(page.ScreencastFormatJpeg).
			WithQuality(screencastQuality).
			WithMaxWidth(int64(req.Width)).
			WithMaxHeight(int64(req.Height)).
			WithEveryNthFrame(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start screencast: %w", err)
	}

	var started bool
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(StartRecordingExpression(req.DurationMs), &started)); err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}
	begin := time.Now()

	if err := waitFor(tabCtx, recordingCompleteExpression, req.Timeout); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrCaptureTimeout
		}
		return nil, err
	}

	if err := chromedp.Run(tabCtx, page.StopScreencast()); err != nil {
		log.Warn().Err(err).Msg("failed to stop screencast")
	}

	frames, err := rec.wait()
	if err != nil {
		return nil, err
	}

	log.Debug().
		Int("frames", len(frames)).
		Dur("recorded", time.Since(begin)).
		Msg("screencast captured")

	return frames, nil
}

// waitFor polls a boolean expression until it is true or timeout elapses.
// Evaluation errors count as "not yet".
func waitFor(tabCtx context.Context, expr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var ok bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &ok)); err == nil && ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// frameRecorder acknowledges screencast frames and writes them to disk off
// the event loop.
type frameRecorder struct {
	dir    string
	mu     sync.Mutex
	wg     sync.WaitGroup
	seq    int
	closed bool
	frames []Frame
	err    error
}

func newFrameRecorder(dir string) *frameRecorder {
	return &frameRecorder{dir: dir}
}

func (r *frameRecorder) handle(tabCtx context.Context, e *page.EventScreencastFrame) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.seq++
	seq := r.seq
	r.wg.Add(1)
	r.mu.Unlock()

	ts := float64(time.Now().UnixNano()) / 1e9
	if e.Metadata != nil && e.Metadata.Timestamp != nil {
		ts = float64(e.Metadata.Timestamp.Time().UnixNano()) / 1e9
	}

	go func() {
		defer r.wg.Done()

		if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
			_ = page.ScreencastFrameAck(e.SessionID).Do(cdp.WithExecutor(tabCtx, c.Target))
		}

		data, err := base64.StdEncoding.DecodeString(e.Data)
		if err == nil {
			path := filepath.Join(r.dir, fmt.Sprintf("frame_%06d.jpg", seq))
			if err = os.WriteFile(path, data, 0644); err == nil {
				r.mu.Lock()
				r.frames = append(r.frames, Frame{Path: path, Timestamp: ts})
				r.mu.Unlock()
				return
			}
		}

		r.mu.Lock()
		if r.err == nil {
			r.err = fmt.Errorf("failed to store frame %d: %w", seq, err)
		}
		r.mu.Unlock()
	}()
}

// wait blocks until every frame is on disk and returns them in capture order.
func (r *frameRecorder) wait() ([]Frame, error) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	frames := append([]Frame(nil), r.frames...)
	sort.Slice(frames, func(i, j int) bool { return frames[i].Timestamp < frames[j].Timestamp })
	return frames, nil
}
