// Package ollama selects clip segments from a transcript with a local Ollama model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"clip-worker/entities"
	"clip-worker/pipeline"

	"github.com/rs/zerolog"
)

const (
	// DefaultDuration is assumed when the transcript does not report one.
	DefaultDuration = 300.0

	minClipLength     = 15.0
	maxClipLength     = 60.0
	fallbackLength    = 30.0
	trimmedLength     = 45.0
	defaultClipTitle  = "Interesting Moment"
	defaultClipReason = "Engaging content"
	maxTitleLength    = 50
	maxReasonLength   = 100
)

type Analyzer struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewAnalyzer(baseURL, model string, timeout time.Duration) *Analyzer {
	return &Analyzer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// rawClip mirrors one entry of the model's "clips" array. Numbers are decoded
// loosely because models sometimes quote them.
type rawClip struct {
	Title  string          `json:"title"`
	Start  json.RawMessage `json:"start"`
	End    json.RawMessage `json:"end"`
	Reason string          `json:"reason"`
}

func (a *Analyzer) SelectSegments(ctx context.Context, transcript entities.Transcript, intent string) ([]entities.Segment, error) {
	logger := zerolog.Ctx(ctx)
	duration := transcript.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}

	text, err := a.generate(ctx, BuildPrompt(transcript, intent, duration))
	if err != nil {
		return nil, err
	}

	clips, err := parseClips(text)
	if err != nil {
		logger.Warn().Err(err).Msg("model response carried no usable clips")
	}

	segments := normalize(clips, duration)
	if len(segments) == 0 {
		logger.Info().Msg("falling back to default highlights")
		segments = defaultSegments(transcript, duration)
	}
	logger.Info().Int("segments", len(segments)).Msg("segments selected")
	return segments, nil
}

func (a *Analyzer) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  a.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.3,
			NumPredict:  1024,
		},
	})
	if err != nil {
		return "", pipeline.Terminal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", pipeline.Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama returned %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(payload)), 200))
		// 4xx means the request itself is wrong, such as an unknown model.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", pipeline.Terminal(err)
		}
		return "", err
	}

	var out generateResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Response, nil
}

// BuildPrompt renders the clip-selection prompt for the transcript.
func BuildPrompt(transcript entities.Transcript, intent string, duration float64) string {
	var lines strings.Builder
	for i, seg := range transcript.Segments {
		if i > 0 {
			lines.WriteByte('\n')
		}
		fmt.Fprintf(&lines, "[%.1fs - %.1fs] %s", seg.Start, seg.End, strings.TrimSpace(seg.Text))
	}

	return fmt.Sprintf(`You are a video clip extraction assistant. Your job is to find the best moments for short viral clips.

VIDEO DURATION: %.1f seconds total

USER REQUEST: %s

TRANSCRIPT (with timestamps in seconds):
%s

INSTRUCTIONS:
1. Find 3-5 engaging moments that would make good short clips
2. Each clip should be 15-45 seconds long
3. Use the EXACT timestamps from the transcript above
4. The "start" and "end" values must be numbers in SECONDS (not minutes)
5. Make sure clips don't overlap
6. Pick moments with: humor, drama, key insights, emotional peaks, or memorable quotes

RESPOND WITH ONLY THIS JSON FORMAT (no other text before or after):
{"clips": [
  {"title": "Short catchy title", "start": 45.0, "end": 75.0, "reason": "Brief reason why this is engaging"},
  {"title": "Another title", "start": 120.0, "end": 150.0, "reason": "Why this moment stands out"}
]}

IMPORTANT: start and end MUST be numbers in seconds, matching timestamps from the transcript.`,
		duration, intent, lines.String())
}

// parseClips extracts the "clips" array from text, tolerating prose around
// the JSON object.
func parseClips(text string) ([]rawClip, error) {
	var envelope struct {
		Clips []rawClip `json:"clips"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err == nil {
		return envelope.Clips, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &envelope); err != nil {
		return nil, fmt.Errorf("decode clips: %w", err)
	}
	return envelope.Clips, nil
}

// normalize turns model suggestions into segments inside [0, duration],
// sorted by start with overlapping entries dropped.
func normalize(clips []rawClip, duration float64) []entities.Segment {
	segments := make([]entities.Segment, 0, len(clips))
	for _, c := range clips {
		start, ok := number(c.Start)
		if !ok {
			start = 0
		}
		end, ok := number(c.End)
		if !ok {
			end = start + fallbackLength
		}

		// Small values on a long video are most likely minutes.
		if start < 10 && end < 10 && duration > 60 {
			start *= 60
			end *= 60
		}

		start = math.Max(0, math.Min(start, duration-minClipLength))
		end = math.Max(start+minClipLength, math.Min(end, duration))

		switch length := end - start; {
		case length < minClipLength:
			end = math.Min(start+fallbackLength, duration)
		case length > maxClipLength:
			end = start + trimmedLength
		}
		end = math.Min(end, duration)

		start, end = round1(start), round1(end)
		if end <= start {
			continue
		}

		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = defaultClipTitle
		}
		reason := strings.TrimSpace(c.Reason)
		if reason == "" {
			reason = defaultClipReason
		}
		segments = append(segments, entities.Segment{
			Start:  start,
			End:    end,
			Title:  truncate(title, maxTitleLength),
			Reason: truncate(reason, maxReasonLength),
		})
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})

	kept := segments[:0]
	for _, seg := range segments {
		if len(kept) > 0 && seg.Start < kept[len(kept)-1].End {
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}

// defaultSegments spreads three highlights across the video: around early,
// middle and late transcript segments, or at fixed intervals without enough
// transcript.
func defaultSegments(transcript entities.Transcript, duration float64) []entities.Segment {
	segs := transcript.Segments
	out := make([]entities.Segment, 0, 3)

	if len(segs) >= 3 {
		n := len(segs)
		for i, idx := range []int{n / 6, n / 2, n * 5 / 6} {
			start := math.Max(0, segs[idx].Start-5)
			end := math.Min(start+fallbackLength, duration)
			if end <= start {
				continue
			}
			out = append(out, entities.Segment{
				Start:  round1(start),
				End:    round1(end),
				Title:  fmt.Sprintf("Highlight %d", i+1),
				Reason: "Key moment from the video",
			})
		}
	} else {
		interval := duration / 4
		for i := range 3 {
			start := round1(interval * (float64(i) + 0.5))
			end := math.Min(start+fallbackLength, duration)
			if end <= start {
				continue
			}
			out = append(out, entities.Segment{
				Start:  start,
				End:    round1(end),
				Title:  fmt.Sprintf("Highlight %d", i+1),
				Reason: "Selected moment from the video",
			})
		}
	}

	kept := out[:0]
	for _, seg := range out {
		if len(kept) > 0 && seg.Start < kept[len(kept)-1].End {
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "s")
	var parsed float64
	if _, err := fmt.Sscanf(s, "%g", &parsed); err != nil {
		return 0, false
	}
	return parsed, true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
