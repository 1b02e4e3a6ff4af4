// Package ytdlp fetches source videos with the yt-dlp command line tool.
package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"clip-worker/entities"
	"clip-worker/pipeline"
	"clip-worker/pkg/execx"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	Binary      string
	Format      string
	MaxDuration time.Duration
	WorkDir     string
}

type Downloader struct {
	runner execx.Runner
	opts   Options
}

func NewDownloader(runner execx.Runner, opts Options) *Downloader {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = "best[ext=mp4]/best"
	}
	return &Downloader{runner: runner, opts: opts}
}

type metadata struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

var progressLine = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// Markers in yt-dlp stderr that no retry will change.
var terminalMarkers = []string{
	"Unsupported URL",
	"is not a valid URL",
	"Video unavailable",
	"Private video",
	"This video is not available",
	"Sign in to confirm your age",
}

// Path returns where the media of jobID is stored.
func (d *Downloader) Path(jobID uuid.UUID) string {
	return filepath.Join(d.opts.WorkDir, jobID.String()+".mp4")
}

func (d *Downloader) Fetch(ctx context.Context, jobID uuid.UUID, sourceRef string, progress func(float64)) (entities.Media, error) {
	logger := zerolog.Ctx(ctx).With().Str("source", sourceRef).Logger()

	meta, err := d.probe(ctx, sourceRef)
	if err != nil {
		return entities.Media{}, err
	}
	if limit := d.opts.MaxDuration.Seconds(); limit > 0 && meta.Duration > limit {
		return entities.Media{}, pipeline.Terminalf("Video too long: %.0fs. Maximum allowed: %.0fs (%d minutes)",
			meta.Duration, limit, int(limit)/60)
	}

	media := entities.Media{Path: d.Path(jobID), Title: meta.Title, Duration: meta.Duration}

	if info, err := os.Stat(media.Path); err == nil && info.Size() > 0 {
		logger.Info().Str("path", media.Path).Msg("reusing downloaded media")
		report(progress, 1)
		return media, nil
	}

	if err := os.MkdirAll(d.opts.WorkDir, 0o755); err != nil {
		return entities.Media{}, fmt.Errorf("create work dir: %w", err)
	}

	logger.Info().Float64("duration", meta.Duration).Msg("starting download")
	_, err = d.runner.Stream(ctx, func(line string) {
		if m := progressLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				report(progress, pct/100)
			}
		}
	}, d.opts.Binary,
		"--newline",
		"--no-playlist",
		"-f", d.opts.Format,
		"--merge-output-format", "mp4",
		"-o", media.Path,
		sourceRef,
	)
	if err != nil {
		return entities.Media{}, classify(fmt.Errorf("download: %w", err))
	}

	info, err := os.Stat(media.Path)
	if err != nil {
		return entities.Media{}, fmt.Errorf("downloaded file not found: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(media.Path)
		return entities.Media{}, errors.New("the downloaded file is empty")
	}

	logger.Info().Int64("bytes", info.Size()).Msg("download complete")
	return media, nil
}

func (d *Downloader) probe(ctx context.Context, sourceRef string) (metadata, error) {
	res, err := d.runner.Run(ctx, d.opts.Binary, "--dump-single-json", "--no-download", "--no-playlist", sourceRef)
	if err != nil {
		return metadata{}, classify(fmt.Errorf("probe: %w", err))
	}

	var meta metadata
	if err := json.Unmarshal([]byte(res.Stdout), &meta); err != nil {
		return metadata{}, pipeline.Terminal(fmt.Errorf("unreadable metadata for %q: %w", sourceRef, err))
	}
	return meta, nil
}

func classify(err error) error {
	var cmdErr *execx.CommandError
	if !errors.As(err, &cmdErr) {
		return err
	}
	for _, marker := range terminalMarkers {
		if strings.Contains(cmdErr.Result.Stderr, marker) {
			return pipeline.Terminal(err)
		}
	}
	return err
}

func report(progress func(float64), fraction float64) {
	if progress == nil {
		return
	}
	progress(min(max(fraction, 0), 1))
}
