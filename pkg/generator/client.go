// Package generator calls an external video generation service.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clip-worker/entities"
	"clip-worker/pipeline"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultNumFrames = 14
	DefaultFPS       = 7
)

// Uploader publishes a local file under key.
type Uploader interface {
	Upload(ctx context.Context, key, path, contentType string) error
}

type Client struct {
	baseURL string
	http    *http.Client
	store   Uploader
}

func NewClient(baseURL string, timeout time.Duration, store Uploader) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		store:   store,
	}
}

// GeneratedKey is the object key of a job's generated video.
func GeneratedKey(jobID uuid.UUID) string {
	return fmt.Sprintf("generated/%s.mp4", jobID)
}

type request struct {
	JobID      uuid.UUID `json:"jobId"`
	SourcePath string    `json:"sourcePath"`
	Prompt     string    `json:"prompt"`
	NumFrames  int       `json:"numFrames"`
	FPS        int       `json:"fps"`
}

type response struct {
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
}

func (c *Client) Produce(ctx context.Context, jobID uuid.UUID, media entities.Media, intent string) (entities.Media, error) {
	logger := zerolog.Ctx(ctx)
	if c.baseURL == "" {
		return entities.Media{}, pipeline.Terminalf("generation service is not configured")
	}

	body, err := json.Marshal(request{
		JobID:      jobID,
		SourcePath: media.Path,
		Prompt:     intent,
		NumFrames:  DefaultNumFrames,
		FPS:        DefaultFPS,
	})
	if err != nil {
		return entities.Media{}, pipeline.Terminal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return entities.Media{}, pipeline.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Info().Str("source", media.Path).Msg("requesting generation")
	resp, err := c.http.Do(req)
	if err != nil {
		return entities.Media{}, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return entities.Media{}, fmt.Errorf("read generation response: %w", err)
	}

	var out response
	decodeErr := json.Unmarshal(payload, &out)

	if resp.StatusCode != http.StatusOK {
		detail := out.Error
		if detail == "" {
			detail = strings.TrimSpace(string(payload))
		}
		err := fmt.Errorf("generation service returned %d: %s", resp.StatusCode, detail)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return entities.Media{}, pipeline.Terminal(err)
		}
		return entities.Media{}, err
	}
	if decodeErr != nil {
		return entities.Media{}, pipeline.Terminalf("decode generation response: %v: %.200s", decodeErr, strings.TrimSpace(string(payload)))
	}
	if out.Path == "" || out.Duration <= 0 {
		return entities.Media{}, pipeline.Terminalf("generation service returned no video")
	}

	generated := entities.Media{Path: out.Path, Duration: out.Duration}
	if c.store != nil {
		key := GeneratedKey(jobID)
		if err := c.store.Upload(ctx, key, out.Path, "video/mp4"); err != nil {
			return entities.Media{}, err
		}
		generated.Locator = key
	} else {
		generated.Locator = out.Path
	}

	logger.Info().
		Float64("duration", generated.Duration).
		Str("locator", generated.Locator).
		Msg("generation complete")
	return generated, nil
}
