package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func writeVideo(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "final.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPublish(t *testing.T) {
	videoID := uuid.New()
	var got struct {
		method, path, auth, upsert, contentType string
		length                                  int64
		body                                    int
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.method, got.path = r.Method, r.URL.Path
		got.auth, got.upsert = r.Header.Get("Authorization"), r.Header.Get("x-upsert")
		got.contentType, got.length, got.body = r.Header.Get("Content-Type"), r.ContentLength, len(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(srv.URL+"/", "service-key", "videos")
	video, err := s.Publish(context.Background(), videoID, writeVideo(t, 4096), "Tides")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got.method != http.MethodPut || got.path != "/storage/v1/object/videos/videos/"+videoID.String()+".mp4" {
		t.Errorf("unexpected request %s %s", got.method, got.path)
	}
	if got.auth != "Bearer service-key" || got.upsert != "true" || got.contentType != "video/mp4" {
		t.Errorf("unexpected headers %+v", got)
	}
	if got.length != 4096 || got.body != 4096 {
		t.Errorf("expected 4096 bytes streamed, got length=%d body=%d", got.length, got.body)
	}

	want := srv.URL + "/storage/v1/object/public/videos/videos/" + videoID.String() + ".mp4"
	if video.URL != want || video.StreamUID != "" {
		t.Errorf("unexpected published video %+v, want URL %s", video, want)
	}
}

func TestUploadRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := New(srv.URL, "key", "videos")
	s.retryBase = time.Millisecond

	if err := s.UploadFile(context.Background(), "videos/a.mp4", writeVideo(t, 100), "video/mp4"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestUploadStopsOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"Payload too large"}`, http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	s := New(srv.URL, "key", "videos")
	s.retryBase = time.Millisecond

	err := s.UploadFile(context.Background(), "videos/a.mp4", writeVideo(t, 100), "video/mp4")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable status should not be retried, got %d attempts", calls)
	}
}

func TestUploadMissingFile(t *testing.T) {
	s := New("http://127.0.0.1:0", "key", "videos")
	if err := s.UploadFile(context.Background(), "a", filepath.Join(t.TempDir(), "missing.mp4"), "video/mp4"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("x509: certificate signed by unknown authority"), false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	for status, want := range map[int]bool{429: true, 408: true, 502: true, 503: true, 504: true, 400: false, 401: false, 500: false} {
		if got := isRetryableStatus(status); got != want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestRetryDelayBounds(t *testing.T) {
	s := New("http://x", "k", "b")
	for attempt := 1; attempt <= 10; attempt++ {
		d := s.retryDelay(attempt)
		if d < baseRetryDelay || d > maxRetryDelay+maxRetryDelay/4 {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
