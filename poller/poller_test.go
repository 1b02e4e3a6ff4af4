package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"clip-worker/constant"
	"clip-worker/entities"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func job(kind constant.JobKind, status constant.JobStatus, progress int) *entities.Job {
	j := entities.NewJob("https://example.com/v", kind.DefaultIntent(), kind, time.Now())
	j.Status = status
	j.Progress = progress
	return j
}

func TestPolicyInterval(t *testing.T) {
	p := Policy{Active: 3 * time.Second, Idle: 10 * time.Second}

	assert.Equal(t, 10*time.Second, p.Interval(nil))
	assert.Equal(t, 10*time.Second, p.Interval([]*entities.Job{
		job(constant.JobKindExtract, constant.JobStatusCompleted, 100),
		job(constant.JobKindGenerate, constant.JobStatusFailed, 50),
	}))
	assert.Equal(t, 3*time.Second, p.Interval([]*entities.Job{
		job(constant.JobKindExtract, constant.JobStatusCompleted, 100),
		job(constant.JobKindExtract, constant.JobStatusPending, 0),
	}))
	assert.Equal(t, DefaultActive, Policy{}.Interval([]*entities.Job{job(constant.JobKindExtract, constant.JobStatusAnalyzing, 50)}))
	assert.Equal(t, DefaultIdle, Policy{}.Interval(nil))
}

func TestLine(t *testing.T) {
	tests := []struct {
		job  *entities.Job
		want string
	}{
		{job(constant.JobKindExtract, constant.JobStatusPending, 0), "[0/5] PENDING 0%"},
		{job(constant.JobKindExtract, constant.JobStatusTranscribing, 37), "[2/5] TRANSCRIBING 37%"},
		{job(constant.JobKindExtract, constant.JobStatusCompleted, 100), "[5/5] COMPLETED 100%"},
		{job(constant.JobKindGenerate, constant.JobStatusGenerating, 50), "[2/3] GENERATING 50%"},
	}
	for _, tt := range tests {
		assert.True(t, strings.HasSuffix(Line(tt.job), tt.want), "%q does not end with %q", Line(tt.job), tt.want)
	}

	failed := job(constant.JobKindExtract, constant.JobStatusFailed, 50)
	msg := "ANALYZING: collaborator timed out"
	failed.ErrorMessage = &msg
	assert.True(t, strings.HasSuffix(Line(failed), "[-/5] FAILED ANALYZING: collaborator timed out"))
}

func TestClientList(t *testing.T) {
	want := []*entities.Job{job(constant.JobKindExtract, constant.JobStatusDownloading, 12)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	jobs, err := NewClient(srv.URL+"/", time.Second).List(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, want[0].ID, jobs[0].ID)
	assert.Equal(t, constant.JobStatusDownloading, jobs[0].Status)
	assert.Equal(t, 12, jobs[0].Progress)
}

func TestClientListReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// scripted returns one snapshot per call and repeats the last one.
type scripted struct {
	mu    sync.Mutex
	steps [][]*entities.Job
	calls int
}

func (s *scripted) List(context.Context) ([]*entities.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.steps)-1)
	s.calls++
	return s.steps[i], nil
}

func TestWatchPrintsChangesUntilIdle(t *testing.T) {
	id := uuid.New()
	at := func(status constant.JobStatus, progress int) []*entities.Job {
		j := job(constant.JobKindGenerate, status, progress)
		j.ID = id
		return []*entities.Job{j}
	}
	lister := &scripted{steps: [][]*entities.Job{
		at(constant.JobStatusDownloading, 12),
		at(constant.JobStatusDownloading, 12),
		at(constant.JobStatusGenerating, 50),
		at(constant.JobStatusCompleted, 100),
	}}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Watch(ctx, lister, Policy{Active: time.Millisecond, Idle: time.Millisecond}, &out, true)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "unchanged snapshots are not printed again")
	assert.True(t, strings.HasSuffix(lines[0], "[1/3] DOWNLOADING 12%"))
	assert.True(t, strings.HasSuffix(lines[1], "[2/3] GENERATING 50%"))
	assert.True(t, strings.HasSuffix(lines[2], "[3/3] COMPLETED 100%"))
	assert.Equal(t, 4, lister.calls)
}

func TestWatchStopsWithContext(t *testing.T) {
	lister := &scripted{steps: [][]*entities.Job{{job(constant.JobKindExtract, constant.JobStatusAnalyzing, 50)}}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Watch(ctx, lister, Policy{Active: 5 * time.Millisecond}, &bytes.Buffer{}, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
