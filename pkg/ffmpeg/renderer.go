// Package ffmpeg cuts selected segments out of a source video.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"clip-worker/entities"
	"clip-worker/pkg/execx"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Uploader publishes a local file under key.
type Uploader interface {
	Upload(ctx context.Context, key, path, contentType string) error
}

type Renderer struct {
	runner  execx.Runner
	binary  string
	workDir string
	store   Uploader
}

// NewRenderer returns a Renderer writing clips below workDir. With a nil store
// the local file path is used as the output locator.
func NewRenderer(runner execx.Runner, binary, workDir string, store Uploader) *Renderer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Renderer{runner: runner, binary: binary, workDir: workDir, store: store}
}

// ClipKey is the object key of the n-th clip (1-based) of a job.
func ClipKey(jobID uuid.UUID, n int) string {
	return fmt.Sprintf("clips/%s/clip_%d.mp4", jobID, n)
}

func (r *Renderer) Cut(ctx context.Context, jobID uuid.UUID, media entities.Media, segments []entities.Segment) ([]entities.Output, error) {
	logger := zerolog.Ctx(ctx)

	dir := filepath.Join(r.workDir, "clips", jobID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}

	outputs := make([]entities.Output, 0, len(segments))
	for i, seg := range segments {
		n := i + 1
		path := filepath.Join(dir, fmt.Sprintf("clip_%d.mp4", n))

		if err := r.cut(ctx, media.Path, path, seg); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			logger.Warn().Err(err).Int("clip", n).Msg("failed to create clip, skipping")
			continue
		}

		locator := path
		if r.store != nil {
			key := ClipKey(jobID, n)
			if err := r.store.Upload(ctx, key, path, "video/mp4"); err != nil {
				return nil, err
			}
			_ = os.Remove(path)
			locator = key
		}

		logger.Info().
			Int("clip", n).
			Float64("start", seg.Start).
			Float64("end", seg.End).
			Str("locator", locator).
			Msg("clip created")
		outputs = append(outputs, entities.NewOutput(jobID, seg.Title, seg.Start, seg.End, locator))
	}
	return outputs, nil
}

func (r *Renderer) cut(ctx context.Context, src, dst string, seg entities.Segment) error {
	if seg.Duration() <= 0 {
		return fmt.Errorf("empty segment %.1fs-%.1fs", seg.Start, seg.End)
	}
	_, err := r.runner.Run(ctx, r.binary,
		"-y",
		"-ss", seconds(seg.Start),
		"-i", src,
		"-t", seconds(seg.Duration()),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		dst,
	)
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("ffmpeg cut: %w", err)
	}
	return nil
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
