// Package whisper transcribes media with ffmpeg and the whisper.cpp CLI.
package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clip-worker/entities"
	"clip-worker/pipeline"
	"clip-worker/pkg/execx"

	"github.com/rs/zerolog"
)

type Options struct {
	Binary   string
	Model    string
	Language string
	FFmpeg   string
}

type Transcriber struct {
	runner execx.Runner
	opts   Options
}

func NewTranscriber(runner execx.Runner, opts Options) *Transcriber {
	if opts.Binary == "" {
		opts.Binary = "whisper-cli"
	}
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.Language == "" {
		opts.Language = "auto"
	}
	return &Transcriber{runner: runner, opts: opts}
}

// output is the document whisper.cpp writes with -oj.
type output struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (t *Transcriber) Transcribe(ctx context.Context, media entities.Media) (entities.Transcript, error) {
	logger := zerolog.Ctx(ctx)
	if media.Path == "" {
		return entities.Transcript{}, pipeline.Terminalf("no media to transcribe")
	}

	base := strings.TrimSuffix(media.Path, filepath.Ext(media.Path)) + ".transcript"
	wav := base + ".wav"
	jsonPath := base + ".json"
	defer os.Remove(wav)
	defer os.Remove(jsonPath)

	logger.Info().Str("path", media.Path).Msg("extracting audio")
	if _, err := t.runner.Run(ctx, t.opts.FFmpeg,
		"-hide_banner", "-nostdin", "-y",
		"-i", media.Path,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le",
		wav,
	); err != nil {
		return entities.Transcript{}, classify(fmt.Errorf("extract audio: %w", err))
	}

	args := []string{"-m", t.opts.Model, "-f", wav, "-of", base, "-oj", "-np"}
	if t.opts.Language != "" {
		args = append(args, "-l", t.opts.Language)
	}
	logger.Info().Str("model", t.opts.Model).Msg("transcribing audio")
	if _, err := t.runner.Run(ctx, t.opts.Binary, args...); err != nil {
		return entities.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return entities.Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	var doc output
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entities.Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}

	transcript := entities.Transcript{
		Language: doc.Result.Language,
		Duration: media.Duration,
		Segments: make([]entities.TranscriptSegment, 0, len(doc.Transcription)),
	}
	texts := make([]string, 0, len(doc.Transcription))
	for _, seg := range doc.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		transcript.Segments = append(transcript.Segments, entities.TranscriptSegment{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  text,
		})
		texts = append(texts, text)
	}
	transcript.Text = strings.Join(texts, " ")

	if transcript.Duration <= 0 && len(transcript.Segments) > 0 {
		transcript.Duration = transcript.Segments[len(transcript.Segments)-1].End
	}

	logger.Info().
		Str("language", transcript.Language).
		Int("segments", len(transcript.Segments)).
		Msg("transcription complete")
	return transcript, nil
}

// ffmpeg reports these for inputs that will never decode.
var terminalMarkers = []string{
	"Invalid data found when processing input",
	"does not contain any stream",
	"Output file #0 does not contain any stream",
	"No such file or directory",
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
