package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStream(t *testing.T, handler http.Handler) *CloudflareStream {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewCloudflareStream("acct123", "token")
	c.baseURL = srv.URL + "/stream"
	c.pollInterval = 10 * time.Millisecond
	c.maxWait = 2 * time.Second
	return c
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "final.mp4")
	if err := os.WriteFile(path, []byte(strings.Repeat("v", 4096)), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCloudflareStreamPublish(t *testing.T) {
	var polls int32
	var uploaded int64
	var srvURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/stream/direct_upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing auth header")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		meta, _ := body["meta"].(map[string]any)
		if meta["name"] != "Tides Explained" {
			t.Errorf("expected title in meta, got %v", meta)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]string{"uploadURL": srvURL + "/upload/abc", "uid": "abc"},
		})
	})
	mux.HandleFunc("/upload/abc", func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("expected multipart file: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		n, _ := io.Copy(io.Discard, file)
		atomic.StoreInt64(&uploaded, n)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stream/abc", func(w http.ResponseWriter, r *http.Request) {
		state := "inprogress"
		if atomic.AddInt32(&polls, 1) >= 3 {
			state = "ready"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": map[string]any{
				"uid":      "abc",
				"duration": 37.2,
				"preview":  "https://customer-xyz.cloudflarestream.com/abc/watch",
				"status":   map[string]string{"state": state},
			},
		})
	})

	c := newTestStream(t, mux)
	srvURL = strings.TrimSuffix(c.baseURL, "/stream")

	published, err := c.Publish(context.Background(), uuid.New(), writeVideo(t), "Tides Explained")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if atomic.LoadInt64(&uploaded) != 4096 {
		t.Errorf("expected 4096 uploaded bytes, got %d", uploaded)
	}
	if published.StreamUID != "abc" {
		t.Errorf("expected uid abc, got %q", published.StreamUID)
	}
	if published.URL != "https://customer-xyz.cloudflarestream.com/abc/manifest/video.m3u8" {
		t.Errorf("unexpected URL %q", published.URL)
	}
}

func TestCloudflareStreamProcessingError(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/stream/direct_upload", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]string{"uploadURL": srvURL + "/upload/bad", "uid": "bad"},
		})
	})
	mux.HandleFunc("/upload/bad", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
	})
	mux.HandleFunc("/stream/bad", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"uid": "bad", "status": map[string]string{"state": "error", "errorReasonText": "codec unsupported"}},
		})
	})

	c := newTestStream(t, mux)
	srvURL = strings.TrimSuffix(c.baseURL, "/stream")

	_, err := c.Publish(context.Background(), uuid.New(), writeVideo(t), "")
	if err == nil || !strings.Contains(err.Error(), "codec unsupported") {
		t.Fatalf("expected processing error, got %v", err)
	}
}

func TestCloudflareStreamUploadURLFailure(t *testing.T) {
	c := newTestStream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"success":false}`, http.StatusForbidden)
	}))

	if _, err := c.Publish(context.Background(), uuid.New(), writeVideo(t), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlaybackURLs(t *testing.T) {
	c := NewCloudflareStream("acct123", "token")

	var v streamVideo
	v.UID = "u1"
	v.Playback.HLS = "https://customer-q.cloudflarestream.com/u1/manifest/video.m3u8"
	hls, mp4 := c.playbackURLs(v)
	if hls != v.Playback.HLS || mp4 != "https://customer-q.cloudflarestream.com/u1/downloads/default.mp4" {
		t.Errorf("unexpected urls %q %q", hls, mp4)
	}

	hls, _ = c.playbackURLs(streamVideo{UID: "u2"})
	if hls != "https://customer-acct123.cloudflarestream.com/u2/manifest/video.m3u8" {
		t.Errorf("unexpected account fallback %q", hls)
	}
}
