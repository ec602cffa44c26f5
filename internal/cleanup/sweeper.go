package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Sweeper removes job scratch directories left behind by crashed runs.
type Sweeper struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
}

// SweepResult is the outcome of one pass.
type SweepResult struct {
	Removed    []string
	FreedBytes int64
	Errors     []error
}

func NewSweeper(dir string, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{dir: dir, interval: interval, maxAge: maxAge}
}

// EnsureDir creates the scratch root if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// Run sweeps once on startup and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep()
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Str("dir", s.dir).
		Dur("interval", s.interval).
		Dur("max_age", s.maxAge).
		Msg("scratch sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes top-level directories not modified within maxAge. Files in
// the root are left alone.
func (s *Sweeper) Sweep() SweepResult {
	var result SweepResult

	dir := strings.TrimSpace(s.dir)
	if dir == "" {
		return result
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, err)
		}
		return result
	}

	cutoff := time.Now().Add(-s.maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		size := dirSize(path)
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to remove stale scratch directory")
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Removed = append(result.Removed, path)
		result.FreedBytes += size
	}

	if len(result.Removed) > 0 {
		log.Info().
			Int("removed", len(result.Removed)).
			Str("freed", humanize.Bytes(uint64(result.FreedBytes))).
			Msg("scratch sweep complete")
	}
	return result
}

func dirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
