package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clip-worker/entities"
	"clip-worker/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelServer(t *testing.T, response string, seen *generateRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if seen != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: response})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSelectSegmentsParsesAndNormalizes(t *testing.T) {
	var seen generateRequest
	srv := modelServer(t, `Sure! Here you go:
{"clips": [
  {"title": "Big reveal", "start": 130, "end": 170, "reason": "twist"},
  {"title": "", "start": "40", "end": 20},
  {"title": "Overlap", "start": 140, "end": 160}
]}
Hope that helps.`, &seen)

	a := NewAnalyzer(srv.URL+"/", "llama3.2", 5*time.Second)
	transcript := entities.Transcript{
		Duration: 300,
		Segments: []entities.TranscriptSegment{{Start: 0, End: 4.5, Text: " hello "}},
	}

	segments, err := a.SelectSegments(context.Background(), transcript, "find jokes")
	require.NoError(t, err)

	assert.Equal(t, []entities.Segment{
		{Start: 40, End: 55, Title: "Interesting Moment", Reason: "Engaging content"},
		{Start: 130, End: 170, Title: "Big reveal", Reason: "twist"},
	}, segments)

	assert.Equal(t, "llama3.2", seen.Model)
	assert.False(t, seen.Stream)
	assert.InDelta(t, 0.3, seen.Options.Temperature, 1e-9)
	assert.Equal(t, 1024, seen.Options.NumPredict)
	assert.Contains(t, seen.Prompt, "USER REQUEST: find jokes")
	assert.Contains(t, seen.Prompt, "[0.0s - 4.5s] hello")
	assert.Contains(t, seen.Prompt, "VIDEO DURATION: 300.0 seconds total")
}

func TestNormalizeClampsSuggestions(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		duration   float64
		want       [2]float64
	}{
		{name: "minutes converted to seconds", start: "2", end: "2.5", duration: 300, want: [2]float64{120, 150}},
		{name: "long clip trimmed", start: "10", end: "200", duration: 300, want: [2]float64{10, 55}},
		{name: "start pulled back from the end", start: "295", end: "320", duration: 300, want: [2]float64{285, 300}},
		{name: "missing end", start: "100", end: "null", duration: 300, want: [2]float64{100, 130}},
		{name: "rounded to a tenth", start: "12.34", end: "40.06", duration: 300, want: [2]float64{12.3, 40.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize([]rawClip{{Title: "x", Start: json.RawMessage(tt.start), End: json.RawMessage(tt.end)}}, tt.duration)
			require.Len(t, got, 1)
			assert.InDelta(t, tt.want[0], got[0].Start, 1e-9)
			assert.InDelta(t, tt.want[1], got[0].End, 1e-9)
		})
	}
}

func TestNormalizeTruncatesTitle(t *testing.T) {
	long := "An extremely long clip title that keeps on going well past fifty characters"
	got := normalize([]rawClip{{Title: long, Start: json.RawMessage("0"), End: json.RawMessage("30")}}, 300)
	require.Len(t, got, 1)
	assert.Len(t, []rune(got[0].Title), 50)
}

func TestSelectSegmentsFallsBackToTranscriptHighlights(t *testing.T) {
	srv := modelServer(t, "I could not find anything good.", nil)
	a := NewAnalyzer(srv.URL, "llama3.2", 5*time.Second)

	var segs []entities.TranscriptSegment
	for i := range 6 {
		start := float64(i * 60)
		segs = append(segs, entities.TranscriptSegment{Start: start, End: start + 8, Text: "line"})
	}
	segments, err := a.SelectSegments(context.Background(), entities.Transcript{Duration: 400, Segments: segs}, "anything")
	require.NoError(t, err)

	require.Len(t, segments, 3)
	assert.Equal(t, entities.Segment{Start: 55, End: 85, Title: "Highlight 1", Reason: "Key moment from the video"}, segments[0])
	assert.Equal(t, 175.0, segments[1].Start)
	assert.Equal(t, 295.0, segments[2].Start)
	assert.Equal(t, 325.0, segments[2].End)
}

func TestSelectSegmentsFallsBackToIntervals(t *testing.T) {
	srv := modelServer(t, `{"clips": []}`, nil)
	a := NewAnalyzer(srv.URL, "llama3.2", 5*time.Second)

	segments, err := a.SelectSegments(context.Background(), entities.Transcript{}, "anything")
	require.NoError(t, err)

	require.Len(t, segments, 3)
	for i, want := range []float64{37.5, 112.5, 187.5} {
		assert.InDelta(t, want, segments[i].Start, 1e-9)
		assert.InDelta(t, want+30, segments[i].End, 1e-9)
	}
}

func TestSelectSegmentsClassifiesHTTPErrors(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model crashed", status)
	}))
	defer srv.Close()
	a := NewAnalyzer(srv.URL, "llama3.2", 5*time.Second)

	_, err := a.SelectSegments(context.Background(), entities.Transcript{}, "x")
	require.Error(t, err)
	assert.False(t, pipeline.IsTerminal(err))
	assert.Contains(t, err.Error(), "model crashed")

	status = http.StatusNotFound
	_, err = a.SelectSegments(context.Background(), entities.Transcript{}, "x")
	require.Error(t, err)
	assert.True(t, pipeline.IsTerminal(err))
}
