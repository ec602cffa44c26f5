package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bobarin/explainer/internal/models"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Cloudflare Stream publisher
// Direct creator upload: request an upload URL → POST the file → poll the
// video until Cloudflare has transcoded it → read the playback URLs.
// ---------------------------------------------------------------------------

const (
	cloudflareAPIBase      = "https://api.cloudflare.com/client/v4"
	streamMaxVideoSeconds  = 3600
	streamUploadTimeout    = 10 * time.Minute
	streamPollInterval     = 10 * time.Second
	streamMaxProcessWait   = 5 * time.Minute
	streamRequestTimeout   = 30 * time.Second
	streamHLSManifestPath  = "/manifest/video.m3u8"
	streamMP4DownloadsPath = "/downloads/default.mp4"
)

type CloudflareStream struct {
	accountID    string
	apiToken     string
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewCloudflareStream(accountID, apiToken string) *CloudflareStream {
	return &CloudflareStream{
		accountID:    accountID,
		apiToken:     apiToken,
		baseURL:      fmt.Sprintf("%s/accounts/%s/stream", cloudflareAPIBase, accountID),
		client:       &http.Client{Timeout: streamUploadTimeout},
		pollInterval: streamPollInterval,
		maxWait:      streamMaxProcessWait,
	}
}

type streamEnvelope[T any] struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result T `json:"result"`
}

type directUploadResult struct {
	UploadURL string `json:"uploadURL"`
	UID       string `json:"uid"`
}

type streamVideo struct {
	UID      string  `json:"uid"`
	Duration float64 `json:"duration"`
	Preview  string  `json:"preview"`
	Status   struct {
		State           string `json:"state"`
		ErrorReasonText string `json:"errorReasonText"`
	} `json:"status"`
	Playback struct {
		HLS  string `json:"hls"`
		Dash string `json:"dash"`
	} `json:"playback"`
}

// Publish uploads the final video and waits until it is playable. The
// returned URL is the HLS manifest.
func (c *CloudflareStream) Publish(ctx context.Context, videoID uuid.UUID, path, title string) (models.PublishedVideo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.PublishedVideo{}, fmt.Errorf("failed to stat video: %w", err)
	}
	log.Info().
		Str("job_id", videoID.String()).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Msg("uploading to cloudflare stream")

	upload, err := c.createDirectUpload(ctx, videoID, title)
	if err != nil {
		return models.PublishedVideo{}, err
	}

	if err := c.uploadFile(ctx, upload.UploadURL, path); err != nil {
		return models.PublishedVideo{}, err
	}

	video, err := c.waitReady(ctx, upload.UID)
	if err != nil {
		return models.PublishedVideo{}, err
	}

	hls, mp4 := c.playbackURLs(video)
	log.Info().Str("job_id", videoID.String()).Str("stream_uid", video.UID).Str("hls", hls).Str("mp4", mp4).Msg("video ready on cloudflare stream")

	return models.PublishedVideo{URL: hls, StreamUID: video.UID}, nil
}

func (c *CloudflareStream) createDirectUpload(ctx context.Context, videoID uuid.UUID, title string) (directUploadResult, error) {
	name := title
	if name == "" {
		name = videoID.String()
	}

	body, err := json.Marshal(map[string]any{
		"maxDurationSeconds": streamMaxVideoSeconds,
		"requireSignedURLs":  false,
		"allowedOrigins":     []string{"*"},
		"meta": map[string]string{
			"name":        name,
			"internal_id": videoID.String(),
		},
	})
	if err != nil {
		return directUploadResult{}, fmt.Errorf("failed to marshal upload request: %w", err)
	}

	var env streamEnvelope[directUploadResult]
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/direct_upload", body, &env); err != nil {
		return directUploadResult{}, fmt.Errorf("failed to create upload URL: %w", err)
	}
	if env.Result.UploadURL == "" || env.Result.UID == "" {
		return directUploadResult{}, fmt.Errorf("failed to create upload URL: empty result")
	}
	return env.Result, nil
}

// uploadFile streams the file as multipart form data so large videos are
// never held in memory.
func (c *CloudflareStream) uploadFile(ctx context.Context, uploadURL, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}
	return nil
}

func (c *CloudflareStream) waitReady(ctx context.Context, uid string) (streamVideo, error) {
	deadline := time.Now().Add(c.maxWait)
	lastState := ""

	for {
		video, err := c.getVideo(ctx, uid)
		if err != nil {
			log.Warn().Err(err).Str("stream_uid", uid).Msg("stream status check failed, retrying")
		} else {
			if video.Status.State != lastState {
				log.Debug().Str("stream_uid", uid).Str("state", video.Status.State).Msg("stream processing")
				lastState = video.Status.State
			}
			switch video.Status.State {
			case "ready":
				return video, nil
			case "error":
				reason := video.Status.ErrorReasonText
				if reason == "" {
					reason = "unknown error"
				}
				return streamVideo{}, fmt.Errorf("cloudflare processing failed: %s", reason)
			}
		}

		if time.Now().After(deadline) {
			return streamVideo{}, fmt.Errorf("video processing timeout (%s)", c.maxWait)
		}

		select {
		case <-ctx.Done():
			return streamVideo{}, fmt.Errorf("stream processing wait cancelled: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *CloudflareStream) getVideo(ctx context.Context, uid string) (streamVideo, error) {
	var env streamEnvelope[streamVideo]
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/"+uid, nil, &env); err != nil {
		return streamVideo{}, err
	}
	return env.Result, nil
}

var customerDomain = regexp.MustCompile(`https://customer-[^/]+\.cloudflarestream\.com`)

// playbackURLs prefers the URLs Cloudflare reports, then the customer
// subdomain from the preview URL, then the account-based subdomain.
func (c *CloudflareStream) playbackURLs(video streamVideo) (hls, mp4 string) {
	if video.Playback.HLS != "" {
		hls = video.Playback.HLS
		return hls, strings.Replace(hls, streamHLSManifestPath, streamMP4DownloadsPath, 1)
	}

	base := customerDomain.FindString(video.Preview)
	if base == "" {
		base = fmt.Sprintf("https://customer-%s.cloudflarestream.com", c.accountID)
	}
	return base + "/" + video.UID + streamHLSManifestPath, base + "/" + video.UID + streamMP4DownloadsPath
}

func (c *CloudflareStream) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, streamRequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cloudflare returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
